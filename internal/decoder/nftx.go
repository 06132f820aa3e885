package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindNftxMinted   = "nftx-minted"
	SubKindNftxRedeemed = "nftx-redeemed"
)

var (
	topicNftxMinted   = eventTopic("Minted(uint256[],uint256[],address)")
	topicNftxRedeemed = eventTopic("Redeemed(uint256[],uint256[],address)")
)

// One vault token mints/redeems exactly one NFT
var nftxUnitPrice = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type nftxHandler struct{}

// NewNftxHandler decodes NFTX v2 vault mints and redeems. The vault is
// both the pool and the ERC20, so trades are quoted in the vault token at
// its fixed one-token-per-NFT rate; the swap leg against an AMM happens in
// separate logs and is deliberately not folded in here.
func NewNftxHandler() Handler {
	return &nftxHandler{}
}

func (h *nftxHandler) Kind() Kind {
	return KindNftx
}

func (h *nftxHandler) Events() []EventData {
	return []EventData{
		{Kind: KindNftx, SubKind: SubKindNftxMinted, Topic: topicNftxMinted, NumTopics: 1},
		{Kind: KindNftx, SubKind: SubKindNftxRedeemed, Topic: topicNftxRedeemed, NumTopics: 1},
	}
}

func (h *nftxHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		idsOffset, ok := dataBig(ev.Log.Data, 0)
		if !ok {
			continue
		}
		ids, ok := decodeBigArray(ev.Log.Data, idsOffset)
		if !ok || len(ids) == 0 {
			continue
		}
		trader, ok := dataAddress(ev.Log.Data, 2)
		if !ok {
			continue
		}

		vault := ev.Base.Address

		// Minting deposits NFTs into the vault (the vault's standing bid);
		// redeeming pulls them out (its standing ask)
		side := domain.OrderSideBuy
		if ev.SubKind == SubKindNftxRedeemed {
			side = domain.OrderSideSell
		}

		contract := nftxCollection(data, vault, side)
		if contract == "" {
			continue
		}

		for i, id := range ids {
			appendFill(data, domain.FillEvent{
				OrderKind:       domain.OrderKindNftx,
				OrderID:         nftxOrderID(vault),
				OrderSide:       side,
				Maker:           vault,
				Taker:           trader,
				Contract:        contract,
				TokenID:         id.String(),
				Amount:          "1",
				Currency:        vault,
				CurrencyPrice:   nftxUnitPrice.String(),
				BaseEventParams: ev.Base.WithBatchIndex(uint64(i + 1)),
			})
		}
	}
	return nil
}

// nftxCollection resolves the vault's underlying collection from the
// transfers that moved the NFTs in or out
func nftxCollection(data *domain.OnChainData, vault string, side domain.OrderSide) string {
	for i := len(data.NftTransferEvents) - 1; i >= 0; i-- {
		t := &data.NftTransferEvents[i]
		if side == domain.OrderSideBuy && t.To == vault {
			return t.BaseEventParams.Address
		}
		if side == domain.OrderSideSell && t.From == vault {
			return t.BaseEventParams.Address
		}
	}
	return ""
}

func nftxOrderID(vault string) string {
	return crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("%s-%s", domain.OrderKindNftx, vault)),
	).Hex()
}
