package decoder

import (
	"math/big"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindBlurOrdersMatched    = "blur-orders-matched"
	SubKindBlurOrderCancelled   = "blur-order-cancelled"
	SubKindBlurNonceIncremented = "blur-nonce-incremented"
)

var (
	topicBlurOrdersMatched = eventTopic("OrdersMatched(address,address,(address,uint8,address,address,uint256,uint256,address,uint256,uint256,uint256,(uint16,address)[],uint256,bytes),bytes32,(address,uint8,address,address,uint256,uint256,address,uint256,uint256,uint256,(uint16,address)[],uint256,bytes),bytes32)")
)

var blurExchange = addresses(
	"0x000000000000ad05ccc4f10045630fb830b95127",
)

type blurHandler struct{}

// NewBlurHandler decodes blur exchange matches. Both matched orders ride
// in the log as dynamic tuples; the sell order carries the traded token
// and the agreed price.
func NewBlurHandler() Handler {
	return &blurHandler{}
}

func (h *blurHandler) Kind() Kind {
	return KindBlur
}

func (h *blurHandler) Events() []EventData {
	return []EventData{
		{Kind: KindBlur, SubKind: SubKindBlurOrdersMatched, Topic: topicBlurOrdersMatched, NumTopics: 3, Addresses: blurExchange},
		// Shares wyvern's cancel topics but with non-indexed arguments
		{Kind: KindBlur, SubKind: SubKindBlurOrderCancelled, Topic: topicWyvernOrderCancelled, NumTopics: 1, Addresses: blurExchange},
		{Kind: KindBlur, SubKind: SubKindBlurNonceIncremented, Topic: topicWyvernNonceIncremented, NumTopics: 2, Addresses: blurExchange},
	}
}

func (h *blurHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindBlurOrdersMatched:
			h.handleOrdersMatched(ev, data)

		case SubKindBlurOrderCancelled:
			orderHash, ok := dataWord(ev.Log.Data, 0)
			if !ok {
				continue
			}
			appendCancel(data, domain.CancelEvent{
				OrderKind:       domain.OrderKindBlur,
				OrderID:         "0x" + hexEncode(orderHash),
				BaseEventParams: ev.Base,
			})

		case SubKindBlurNonceIncremented:
			data.BulkCancelEvents = append(data.BulkCancelEvents, domain.BulkCancelEvent{
				OrderKind:       domain.OrderKindBlur,
				Maker:           topicAddress(ev.Log.Topics[1]),
				MinNonce:        mustDataBig(ev.Log.Data, 0).String(),
				BaseEventParams: ev.Base,
			})
		}
	}
	return nil
}

func (h *blurHandler) handleOrdersMatched(ev EnhancedEvent, data *domain.OnChainData) {
	maker := topicAddress(ev.Log.Topics[1])
	taker := topicAddress(ev.Log.Topics[2])

	sellOffset, ok1 := dataBig(ev.Log.Data, 0)
	sellHash, ok2 := dataWord(ev.Log.Data, 1)
	buyHash, ok3 := dataWord(ev.Log.Data, 3)
	if !ok1 || !ok2 || !ok3 || !sellOffset.IsInt64() || sellOffset.Int64()%32 != 0 {
		return
	}

	base := int(sellOffset.Int64() / 32)
	sellTrader, ok1 := dataAddress(ev.Log.Data, base)
	collection, ok2 := dataAddress(ev.Log.Data, base+3)
	tokenID, ok3 := dataBig(ev.Log.Data, base+4)
	amount, ok4 := dataBig(ev.Log.Data, base+5)
	paymentToken, ok5 := dataAddress(ev.Log.Data, base+6)
	price, ok6 := dataBig(ev.Log.Data, base+7)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || amount.Sign() == 0 {
		return
	}

	// The maker topic tells which of the two matched orders was the
	// stored one
	side := domain.OrderSideSell
	orderID := "0x" + hexEncode(sellHash)
	if sellTrader != maker {
		side = domain.OrderSideBuy
		orderID = "0x" + hexEncode(buyHash)
	}

	appendFill(data, domain.FillEvent{
		OrderKind:       domain.OrderKindBlur,
		OrderID:         orderID,
		OrderSide:       side,
		Maker:           maker,
		Taker:           taker,
		Contract:        collection,
		TokenID:         tokenID.String(),
		Amount:          amount.String(),
		Currency:        paymentToken,
		CurrencyPrice:   new(big.Int).Div(price, amount).String(),
		BaseEventParams: ev.Base,
	})
}
