package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// OrderKind identifies the marketplace protocol (and version) an order
// belongs to. Every decoder owns exactly one kind.
type OrderKind string

const (
	OrderKindWyvernV23       OrderKind = "wyvern-v2.3"
	OrderKindLooksRare       OrderKind = "looks-rare"
	OrderKindSeaport         OrderKind = "seaport"
	OrderKindZeroExV4ERC721  OrderKind = "zeroex-v4-erc721"
	OrderKindZeroExV4ERC1155 OrderKind = "zeroex-v4-erc1155"
	OrderKindX2Y2            OrderKind = "x2y2"
	OrderKindFoundation      OrderKind = "foundation"
	OrderKindElementERC721   OrderKind = "element-erc721"
	OrderKindElementERC1155  OrderKind = "element-erc1155"
	OrderKindCryptoPunks     OrderKind = "cryptopunks"
	OrderKindZora            OrderKind = "zora"
	OrderKindSudoswap        OrderKind = "sudoswap"
	OrderKindNftx            OrderKind = "nftx"
	OrderKindBlur            OrderKind = "blur"
	OrderKindRarible         OrderKind = "rarible"
	OrderKindMint            OrderKind = "mint"
)

// OrderSide is the side of the order that got created/filled/cancelled
type OrderSide string

const (
	OrderSideSell OrderSide = "sell"
	OrderSideBuy  OrderSide = "buy"
)

// Flip returns the opposite side
func (s OrderSide) Flip() OrderSide {
	if s == OrderSideSell {
		return OrderSideBuy
	}
	return OrderSideSell
}

// TokenStandard represents the NFT contract standard a transfer came from
type TokenStandard string

const (
	StandardERC721  TokenStandard = "erc721"
	StandardERC1155 TokenStandard = "erc1155"
)

// BaseEventParams identifies a log's on-chain provenance. The tuple
// (TxHash, LogIndex, BatchIndex) is the natural idempotency key for any
// record derived from the log: replays of the same block range must be
// no-ops at the persistence layer.
type BaseEventParams struct {
	// Address is the contract that emitted the log (lowercase hex)
	Address string
	// Block is the block number the log was included in
	Block uint64
	// BlockHash is the hash of that block (lowercase hex)
	BlockHash string
	// TxHash is the transaction hash (lowercase hex)
	TxHash string
	// TxIndex is the transaction's index within the block
	TxIndex uint64
	// LogIndex is the log's index within the block
	LogIndex uint64
	// BatchIndex disambiguates multiple logical events packed into a single
	// log (e.g. ERC1155 batch transfers, two-sided order matches). 1-based.
	BatchIndex uint64
	// Timestamp is the block's unix timestamp
	Timestamp int64
}

// WithBatchIndex returns a copy with the batch index replaced. Used by
// decoders that fan a single log out into multiple canonical events.
func (p BaseEventParams) WithBatchIndex(i uint64) BaseEventParams {
	p.BatchIndex = i
	return p
}

// EventKey returns the content-addressed identity of the event
func (p BaseEventParams) EventKey() string {
	return fmt.Sprintf("%s:%d:%d", p.TxHash, p.LogIndex, p.BatchIndex)
}

// Royalty is a single recipient's share of a sale, in basis points
type Royalty struct {
	Recipient string `json:"recipient"`
	Bps       int    `json:"bps"`
}

// TotalBps sums the bps across a royalty breakdown
func TotalBps(royalties []Royalty) int {
	total := 0
	for _, r := range royalties {
		total += r.Bps
	}
	return total
}

// FillEvent is the canonical record of an on-chain order execution.
// Immutable once persisted except for the royalty/marketplace enrichment
// fields, which a later best-effort pass fills in.
type FillEvent struct {
	OrderKind OrderKind
	OrderID   string
	OrderSide OrderSide
	Maker     string
	Taker     string
	Contract  string
	// TokenID is the token number as a decimal string (up to 78 digits)
	TokenID string
	// Amount is the number of editions filled (1 for ERC721)
	Amount string
	// Currency is the settlement currency contract (ZeroAddress for native)
	Currency string
	// CurrencyPrice is the per-unit price in the settlement currency (wei string)
	CurrencyPrice string
	// Price is the per-unit price converted to the native currency (wei string).
	// Load-bearing for every downstream aggregate: events that cannot be
	// priced natively are dropped before they ever reach here.
	Price string
	// UsdPrice is the per-unit USD price at the block timestamp, if known
	UsdPrice *string

	// Analytics attribution (filled by the attribution resolver)
	OrderSourceID      *string
	AggregatorSourceID *string
	FillSourceID       *string

	// Royalty enrichment (filled by the balance-diff extractor)
	RoyaltyFeeBps           *int
	MarketplaceFeeBps       *int
	RoyaltyFeeBreakdown     []Royalty
	MarketplaceFeeBreakdown []Royalty
	PaidFullRoyalty         *bool
	WashTradingScore        *float64

	BaseEventParams BaseEventParams
}

// PriceBig returns Price as a big.Int (zero on malformed input)
func (e *FillEvent) PriceBig() *big.Int {
	v, ok := new(big.Int).SetString(e.Price, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// AmountBig returns Amount as a big.Int (zero on malformed input)
func (e *FillEvent) AmountBig() *big.Int {
	v, ok := new(big.Int).SetString(e.Amount, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// CancelEvent invalidates a single order by id
type CancelEvent struct {
	OrderKind       OrderKind
	OrderID         string
	BaseEventParams BaseEventParams
}

// BulkCancelEvent invalidates every order of a kind/maker whose nonce is
// below MinNonce, or all of them when AcrossAll is set. Side narrows the
// invalidation for protocols that keep separate ask/bid nonce spaces.
type BulkCancelEvent struct {
	OrderKind       OrderKind
	Maker           string
	MinNonce        string
	Side            *OrderSide
	AcrossAll       bool
	BaseEventParams BaseEventParams
}

// NonceCancelEvent invalidates orders whose nonce matches exactly
type NonceCancelEvent struct {
	OrderKind       OrderKind
	Maker           string
	Nonce           string
	BaseEventParams BaseEventParams
}

// NftTransferEvent is a canonical ERC721/ERC1155 transfer. Decoders keep
// these around for adjacency-based fill association (protocols whose fill
// logs omit the traded token).
type NftTransferEvent struct {
	Kind            TokenStandard
	From            string
	To              string
	TokenID         string
	Amount          string
	BaseEventParams BaseEventParams
}

// IsMint reports whether the transfer originated from the zero address
func (e *NftTransferEvent) IsMint() bool {
	return e.From == ZeroAddress
}

// NftApprovalEvent is a canonical ApprovalForAll event
type NftApprovalEvent struct {
	Owner           string
	Operator        string
	Approved        bool
	BaseEventParams BaseEventParams
}

// FtTransferEvent is a canonical ERC20 transfer (wrapped-native deposits
// and withdrawals are normalized into these with the zero address on the
// minted/burned side)
type FtTransferEvent struct {
	From            string
	To              string
	Amount          string
	BaseEventParams BaseEventParams
}

// TriggerKind tags what caused a follow-up recomputation
type TriggerKind string

const (
	TriggerKindNewOrder       TriggerKind = "new-order"
	TriggerKindSale           TriggerKind = "sale"
	TriggerKindCancel         TriggerKind = "cancel"
	TriggerKindBalanceChange  TriggerKind = "balance-change"
	TriggerKindApprovalChange TriggerKind = "approval-change"
	TriggerKindExpiry         TriggerKind = "expiry"
	TriggerKindRevalidation   TriggerKind = "revalidation"
)

// Trigger carries the provenance of a follow-up recomputation so the
// resulting aggregate change events can reference the causing transaction
type Trigger struct {
	Kind        TriggerKind `json:"kind"`
	TxHash      string      `json:"tx_hash,omitempty"`
	TxTimestamp int64       `json:"tx_timestamp,omitempty"`
	LogIndex    *uint64     `json:"log_index,omitempty"`
	BatchIndex  *uint64     `json:"batch_index,omitempty"`
	BlockHash   string      `json:"block_hash,omitempty"`
}

// OrderInfo asks for an order's derived state (and the aggregates of the
// tokens it references) to be recomputed. Context is a deterministic
// dedupe key: the queue processes each context at most once while it is
// still holding past jobs with the same context.
type OrderInfo struct {
	Context string  `json:"context"`
	OrderID string  `json:"order_id"`
	Trigger Trigger `json:"trigger"`
}

// FillInfo drives post-fill bookkeeping (quantity accounting, last-sale
// caches) for a single order execution
type FillInfo struct {
	Context   string    `json:"context"`
	OrderID   string    `json:"order_id"`
	OrderSide OrderSide `json:"order_side"`
	Contract  string    `json:"contract"`
	TokenID   string    `json:"token_id"`
	Amount    string    `json:"amount"`
	Price     string    `json:"price"`
	Timestamp int64     `json:"timestamp"`
}

// MakerInfoKind narrows which of the maker's order prerequisites changed
type MakerInfoKind string

const (
	MakerInfoSellBalance  MakerInfoKind = "sell-balance"
	MakerInfoSellApproval MakerInfoKind = "sell-approval"
	MakerInfoBuyBalance   MakerInfoKind = "buy-balance"
	MakerInfoBuyApproval  MakerInfoKind = "buy-approval"
)

// MakerInfo asks for revalidation of a maker's open orders after a
// balance or approval change observed on-chain
type MakerInfo struct {
	Context  string        `json:"context"`
	Maker    string        `json:"maker"`
	Kind     MakerInfoKind `json:"kind"`
	Contract string        `json:"contract"`
	TokenID  string        `json:"token_id,omitempty"`
	Operator string        `json:"operator,omitempty"`
	Approved bool          `json:"approved,omitempty"`
	Trigger  Trigger       `json:"trigger"`
}

// MintInfo records a token observed for the first time (transfer from the
// zero address)
type MintInfo struct {
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
	TxHash   string `json:"tx_hash"`
}

// OnChainData accumulates everything the decoders derive from one batch
// of logs. The decode phase only appends here; the apply phase persists
// and fans out. Keeping the two phases separate keeps decoding pure.
type OnChainData struct {
	FillEvents        []FillEvent
	CancelEvents      []CancelEvent
	BulkCancelEvents  []BulkCancelEvent
	NonceCancelEvents []NonceCancelEvent
	NftTransferEvents []NftTransferEvent
	NftApprovalEvents []NftApprovalEvent
	FtTransferEvents  []FtTransferEvent

	FillInfos  []FillInfo
	OrderInfos []OrderInfo
	MakerInfos []MakerInfo
	MintInfos  []MintInfo
}

// Merge appends all of other's records onto d
func (d *OnChainData) Merge(other *OnChainData) {
	d.FillEvents = append(d.FillEvents, other.FillEvents...)
	d.CancelEvents = append(d.CancelEvents, other.CancelEvents...)
	d.BulkCancelEvents = append(d.BulkCancelEvents, other.BulkCancelEvents...)
	d.NonceCancelEvents = append(d.NonceCancelEvents, other.NonceCancelEvents...)
	d.NftTransferEvents = append(d.NftTransferEvents, other.NftTransferEvents...)
	d.NftApprovalEvents = append(d.NftApprovalEvents, other.NftApprovalEvents...)
	d.FtTransferEvents = append(d.FtTransferEvents, other.FtTransferEvents...)
	d.FillInfos = append(d.FillInfos, other.FillInfos...)
	d.OrderInfos = append(d.OrderInfos, other.OrderInfos...)
	d.MakerInfos = append(d.MakerInfos, other.MakerInfos...)
	d.MintInfos = append(d.MintInfos, other.MintInfos...)
}

// Empty reports whether no canonical events were decoded
func (d *OnChainData) Empty() bool {
	return len(d.FillEvents) == 0 &&
		len(d.CancelEvents) == 0 &&
		len(d.BulkCancelEvents) == 0 &&
		len(d.NonceCancelEvents) == 0 &&
		len(d.NftTransferEvents) == 0 &&
		len(d.NftApprovalEvents) == 0 &&
		len(d.FtTransferEvents) == 0
}

// NormalizeAddress lowercases a hex address
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}
