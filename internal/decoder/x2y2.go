package decoder

import (
	"math/big"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindX2Y2OrderInventory = "x2y2-order-inventory"
	SubKindX2Y2OrderCancelled = "x2y2-order-cancelled"
)

var (
	topicX2Y2Inventory = eventTopic("EvInventory(bytes32,address,address,uint256,uint256,uint256,uint256,uint256,address,bytes,(uint256,bytes),(uint8,uint256,uint256,uint256,bytes32,address,bytes,uint256,uint256,uint256,(address,uint256)[]))")
	topicX2Y2Cancel    = eventTopic("EvCancel(bytes32)")
)

// X2Y2 order intents
const (
	x2y2IntentSell = 1
	x2y2IntentBuy  = 3
)

// X2Y2 delegate types (what the settlement delegate moves)
const (
	x2y2DelegateERC721  = 1
	x2y2DelegateERC1155 = 2
)

type x2y2Handler struct{}

// NewX2Y2Handler decodes x2y2 settlements. The traded token lives inside
// the nested item payload (delegate calldata); when that payload cannot be
// decoded the adjacent transfer is used instead.
func NewX2Y2Handler() Handler {
	return &x2y2Handler{}
}

func (h *x2y2Handler) Kind() Kind {
	return KindX2Y2
}

func (h *x2y2Handler) Events() []EventData {
	return []EventData{
		{Kind: KindX2Y2, SubKind: SubKindX2Y2OrderInventory, Topic: topicX2Y2Inventory, NumTopics: 2},
		{Kind: KindX2Y2, SubKind: SubKindX2Y2OrderCancelled, Topic: topicX2Y2Cancel, NumTopics: 2},
	}
}

func (h *x2y2Handler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindX2Y2OrderInventory:
			h.handleInventory(ev, data)

		case SubKindX2Y2OrderCancelled:
			appendCancel(data, domain.CancelEvent{
				OrderKind:       domain.OrderKindX2Y2,
				OrderID:         ev.Log.Topics[1].Hex(),
				BaseEventParams: ev.Base,
			})
		}
	}
	return nil
}

func (h *x2y2Handler) handleInventory(ev EnhancedEvent, data *domain.OnChainData) {
	maker, ok1 := dataAddress(ev.Log.Data, 0)
	taker, ok2 := dataAddress(ev.Log.Data, 1)
	intent, ok3 := dataBig(ev.Log.Data, 4)
	delegateType, ok4 := dataBig(ev.Log.Data, 5)
	currency, ok5 := dataAddress(ev.Log.Data, 7)
	itemOffset, ok6 := dataBig(ev.Log.Data, 9)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || !intent.IsInt64() {
		return
	}

	var side domain.OrderSide
	switch intent.Int64() {
	case x2y2IntentSell:
		side = domain.OrderSideSell
	case x2y2IntentBuy:
		side = domain.OrderSideBuy
	default:
		return
	}

	price, tokens := decodeX2Y2Item(ev.Log.Data, itemOffset, delegateType.Int64() == x2y2DelegateERC1155)
	if price == nil {
		return
	}

	if len(tokens) == 0 {
		// Fall back to the transfer the delegate emitted just before
		if t := lastNftTransferBefore(data, ev.Base.LogIndex); t != nil {
			amount, _ := new(big.Int).SetString(t.Amount, 10)
			tokens = []x2y2Token{{
				Contract: t.BaseEventParams.Address,
				TokenID:  t.TokenID,
				Amount:   amount,
			}}
		}
	}
	if len(tokens) == 0 {
		return
	}

	perItem := new(big.Int).Div(price, big.NewInt(int64(len(tokens))))
	for i, token := range tokens {
		if token.Amount == nil || token.Amount.Sign() == 0 {
			continue
		}
		appendFill(data, domain.FillEvent{
			OrderKind:       domain.OrderKindX2Y2,
			OrderID:         ev.Log.Topics[1].Hex(),
			OrderSide:       side,
			Maker:           maker,
			Taker:           taker,
			Contract:        token.Contract,
			TokenID:         token.TokenID,
			Amount:          token.Amount.String(),
			Currency:        currency,
			CurrencyPrice:   new(big.Int).Div(perItem, token.Amount).String(),
			BaseEventParams: ev.Base.WithBatchIndex(uint64(i + 1)),
		})
	}
}

type x2y2Token struct {
	Contract string
	TokenID  string
	Amount   *big.Int
}

// decodeX2Y2Item unpacks the (price, bytes) item tuple; the bytes payload
// is itself an ABI-encoded array of (token, tokenId[, amount]) entries
func decodeX2Y2Item(data []byte, offset *big.Int, erc1155 bool) (*big.Int, []x2y2Token) {
	if !offset.IsInt64() || offset.Int64()%32 != 0 {
		return nil, nil
	}
	base := int(offset.Int64() / 32)

	price, ok := dataBig(data, base)
	if !ok {
		return nil, nil
	}
	bytesOffset, ok := dataBig(data, base+1)
	if !ok || !bytesOffset.IsInt64() || bytesOffset.Int64()%32 != 0 {
		return price, nil
	}

	lengthPos := base + int(bytesOffset.Int64()/32)
	length, ok := dataBig(data, lengthPos)
	if !ok || !length.IsInt64() || length.Int64() > int64(len(data)) {
		return price, nil
	}
	start := (lengthPos + 1) * 32
	end := start + int(length.Int64())
	if end > len(data) {
		return price, nil
	}
	inner := data[start:end]

	count, ok := dataBig(inner, 1)
	if !ok || !count.IsInt64() {
		return price, nil
	}

	words := 2
	if erc1155 {
		words = 3
	}

	var tokens []x2y2Token
	for i := 0; i < int(count.Int64()); i++ {
		pos := 2 + i*words
		contract, ok1 := dataAddress(inner, pos)
		tokenID, ok2 := dataBig(inner, pos+1)
		if !ok1 || !ok2 {
			return price, nil
		}
		amount := big.NewInt(1)
		if erc1155 {
			v, ok := dataBig(inner, pos+2)
			if !ok {
				return price, nil
			}
			amount = v
		}
		tokens = append(tokens, x2y2Token{
			Contract: contract,
			TokenID:  tokenID.String(),
			Amount:   amount,
		})
	}
	return price, tokens
}
