package decoder

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindRaribleMatch  = "rarible-match"
	SubKindRaribleCancel = "rarible-cancel"
)

var (
	topicRaribleMatch  = eventTopic("Match(bytes32,bytes32,address,address,uint256,uint256,(bytes4,bytes),(bytes4,bytes))")
	topicRaribleCancel = eventTopic("Cancel(bytes32)")
)

// Rarible asset class tags (first four bytes of keccak over the class name)
var (
	raribleAssetETH     = crypto.Keccak256([]byte("ETH"))[:4]
	raribleAssetERC20   = crypto.Keccak256([]byte("ERC20"))[:4]
	raribleAssetERC721  = crypto.Keccak256([]byte("ERC721"))[:4]
	raribleAssetERC1155 = crypto.Keccak256([]byte("ERC1155"))[:4]
)

type raribleAsset struct {
	class    []byte
	contract string
	tokenID  *big.Int
}

func (a *raribleAsset) isNFT() bool {
	return bytes.Equal(a.class, raribleAssetERC721) || bytes.Equal(a.class, raribleAssetERC1155)
}

func (a *raribleAsset) isCurrency() bool {
	return bytes.Equal(a.class, raribleAssetETH) || bytes.Equal(a.class, raribleAssetERC20)
}

func (a *raribleAsset) currency() string {
	if bytes.Equal(a.class, raribleAssetETH) {
		return domain.NativeCurrency
	}
	return a.contract
}

type raribleHandler struct{}

// NewRaribleHandler decodes exchange-v2 matches. An order's fill is
// recorded in its take-side units, so the NFT amount and the payment read
// from opposite fill counters depending on which side held the NFT.
func NewRaribleHandler() Handler {
	return &raribleHandler{}
}

func (h *raribleHandler) Kind() Kind {
	return KindRarible
}

func (h *raribleHandler) Events() []EventData {
	return []EventData{
		{Kind: KindRarible, SubKind: SubKindRaribleMatch, Topic: topicRaribleMatch, NumTopics: 1},
		{Kind: KindRarible, SubKind: SubKindRaribleCancel, Topic: topicRaribleCancel, NumTopics: 1},
	}
}

func (h *raribleHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindRaribleMatch:
			h.handleMatch(ev, data)

		case SubKindRaribleCancel:
			orderHash, ok := dataWord(ev.Log.Data, 0)
			if !ok {
				continue
			}
			appendCancel(data, domain.CancelEvent{
				OrderKind:       domain.OrderKindRarible,
				OrderID:         "0x" + hexEncode(orderHash),
				BaseEventParams: ev.Base,
			})
		}
	}
	return nil
}

func (h *raribleHandler) handleMatch(ev EnhancedEvent, data *domain.OnChainData) {
	leftHash, ok1 := dataWord(ev.Log.Data, 0)
	_, ok2 := dataWord(ev.Log.Data, 1)
	leftMaker, ok3 := dataAddress(ev.Log.Data, 2)
	rightMaker, ok4 := dataAddress(ev.Log.Data, 3)
	newLeftFill, ok5 := dataBig(ev.Log.Data, 4)
	newRightFill, ok6 := dataBig(ev.Log.Data, 5)
	leftOffset, ok7 := dataBig(ev.Log.Data, 6)
	rightOffset, ok8 := dataBig(ev.Log.Data, 7)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || !ok7 || !ok8 {
		return
	}

	left, ok := decodeRaribleAsset(ev.Log.Data, leftOffset)
	if !ok {
		return
	}
	right, ok := decodeRaribleAsset(ev.Log.Data, rightOffset)
	if !ok {
		return
	}

	// The left order is the stored one in matchOrders, so its hash is the
	// order id on both sides
	var (
		side    domain.OrderSide
		nft     *raribleAsset
		payment *raribleAsset
		amount  *big.Int
		price   *big.Int
	)
	orderID := "0x" + hexEncode(leftHash)
	maker, taker := leftMaker, rightMaker
	switch {
	case left.isNFT() && right.isCurrency():
		side = domain.OrderSideSell
		nft, payment = left, right
		amount, price = newRightFill, newLeftFill
	case left.isCurrency() && right.isNFT():
		side = domain.OrderSideBuy
		nft, payment = right, left
		amount, price = newLeftFill, newRightFill
	default:
		return
	}

	if amount.Sign() == 0 {
		return
	}

	appendFill(data, domain.FillEvent{
		OrderKind:       domain.OrderKindRarible,
		OrderID:         orderID,
		OrderSide:       side,
		Maker:           maker,
		Taker:           taker,
		Contract:        nft.contract,
		TokenID:         nft.tokenID.String(),
		Amount:          amount.String(),
		Currency:        payment.currency(),
		CurrencyPrice:   new(big.Int).Div(price, amount).String(),
		BaseEventParams: ev.Base,
	})
}

// decodeRaribleAsset unpacks a (bytes4 assetClass, bytes data) tuple; the
// nested bytes hold the class-specific encoding (token address, token id)
func decodeRaribleAsset(data []byte, offset *big.Int) (*raribleAsset, bool) {
	if !offset.IsInt64() || offset.Int64()%32 != 0 {
		return nil, false
	}
	base := int(offset.Int64() / 32)

	classWord, ok := dataWord(data, base)
	if !ok {
		return nil, false
	}
	asset := &raribleAsset{class: classWord[:4]}

	bytesOffset, ok := dataBig(data, base+1)
	if !ok || !bytesOffset.IsInt64() || bytesOffset.Int64()%32 != 0 {
		return nil, false
	}
	lengthPos := base + int(bytesOffset.Int64()/32)
	length, ok := dataBig(data, lengthPos)
	if !ok || !length.IsInt64() || length.Int64() > int64(len(data)) {
		return nil, false
	}
	start := (lengthPos + 1) * 32
	end := start + int(length.Int64())
	if end > len(data) {
		return nil, false
	}
	inner := data[start:end]

	switch {
	case bytes.Equal(asset.class, raribleAssetERC20):
		contract, ok := dataAddress(inner, 0)
		if !ok {
			return nil, false
		}
		asset.contract = contract
	case bytes.Equal(asset.class, raribleAssetERC721), bytes.Equal(asset.class, raribleAssetERC1155):
		contract, ok1 := dataAddress(inner, 0)
		tokenID, ok2 := dataBig(inner, 1)
		if !ok1 || !ok2 {
			return nil, false
		}
		asset.contract = contract
		asset.tokenID = tokenID
	}
	return asset, true
}
