package decoder

import (
	"math/big"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindLooksRareTakerAsk             = "looks-rare-taker-ask"
	SubKindLooksRareTakerBid             = "looks-rare-taker-bid"
	SubKindLooksRareCancelAllOrders      = "looks-rare-cancel-all-orders"
	SubKindLooksRareCancelMultipleOrders = "looks-rare-cancel-multiple-orders"
)

var (
	topicLooksRareTakerAsk             = eventTopic("TakerAsk(bytes32,uint256,address,address,address,address,address,uint256,uint256,uint256)")
	topicLooksRareTakerBid             = eventTopic("TakerBid(bytes32,uint256,address,address,address,address,address,uint256,uint256,uint256)")
	topicLooksRareCancelAllOrders      = eventTopic("CancelAllOrders(address,uint256)")
	topicLooksRareCancelMultipleOrders = eventTopic("CancelMultipleOrders(address,uint256[])")
)

type looksRareHandler struct{}

// NewLooksRareHandler decodes looks-rare taker fills plus the protocol's
// two cancellation flavors (min-nonce bulk and explicit nonce list)
func NewLooksRareHandler() Handler {
	return &looksRareHandler{}
}

func (h *looksRareHandler) Kind() Kind {
	return KindLooksRare
}

func (h *looksRareHandler) Events() []EventData {
	return []EventData{
		{Kind: KindLooksRare, SubKind: SubKindLooksRareTakerAsk, Topic: topicLooksRareTakerAsk, NumTopics: 4},
		{Kind: KindLooksRare, SubKind: SubKindLooksRareTakerBid, Topic: topicLooksRareTakerBid, NumTopics: 4},
		{Kind: KindLooksRare, SubKind: SubKindLooksRareCancelAllOrders, Topic: topicLooksRareCancelAllOrders, NumTopics: 2},
		{Kind: KindLooksRare, SubKind: SubKindLooksRareCancelMultipleOrders, Topic: topicLooksRareCancelMultipleOrders, NumTopics: 2},
	}
}

func (h *looksRareHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindLooksRareTakerAsk:
			// The taker sold into a stored bid
			h.handleFill(ev, data, domain.OrderSideBuy)

		case SubKindLooksRareTakerBid:
			// The taker bought a stored listing
			h.handleFill(ev, data, domain.OrderSideSell)

		case SubKindLooksRareCancelAllOrders:
			data.BulkCancelEvents = append(data.BulkCancelEvents, domain.BulkCancelEvent{
				OrderKind:       domain.OrderKindLooksRare,
				Maker:           topicAddress(ev.Log.Topics[1]),
				MinNonce:        mustDataBig(ev.Log.Data, 0).String(),
				BaseEventParams: ev.Base,
			})

		case SubKindLooksRareCancelMultipleOrders:
			offset, ok := dataBig(ev.Log.Data, 0)
			if !ok {
				continue
			}
			nonces, ok := decodeBigArray(ev.Log.Data, offset)
			if !ok {
				continue
			}
			maker := topicAddress(ev.Log.Topics[1])
			for i, nonce := range nonces {
				data.NonceCancelEvents = append(data.NonceCancelEvents, domain.NonceCancelEvent{
					OrderKind:       domain.OrderKindLooksRare,
					Maker:           maker,
					Nonce:           nonce.String(),
					BaseEventParams: ev.Base.WithBatchIndex(uint64(i + 1)),
				})
			}
		}
	}
	return nil
}

func (h *looksRareHandler) handleFill(ev EnhancedEvent, data *domain.OnChainData, side domain.OrderSide) {
	orderHash, ok := dataWord(ev.Log.Data, 0)
	if !ok {
		return
	}
	currency, ok1 := dataAddress(ev.Log.Data, 2)
	collection, ok2 := dataAddress(ev.Log.Data, 3)
	tokenID, ok3 := dataBig(ev.Log.Data, 4)
	amount, ok4 := dataBig(ev.Log.Data, 5)
	price, ok5 := dataBig(ev.Log.Data, 6)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || amount.Sign() == 0 {
		return
	}

	appendFill(data, domain.FillEvent{
		OrderKind:       domain.OrderKindLooksRare,
		OrderID:         "0x" + hexEncode(orderHash),
		OrderSide:       side,
		Maker:           topicAddress(ev.Log.Topics[2]),
		Taker:           topicAddress(ev.Log.Topics[1]),
		Contract:        collection,
		TokenID:         tokenID.String(),
		Amount:          amount.String(),
		Currency:        currency,
		CurrencyPrice:   new(big.Int).Div(price, amount).String(),
		BaseEventParams: ev.Base,
	})
}
