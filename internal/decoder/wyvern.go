package decoder

import (
	"math/big"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	SubKindWyvernOrdersMatched    = "wyvern-v2.3-orders-matched"
	SubKindWyvernOrderCancelled   = "wyvern-v2.3-order-cancelled"
	SubKindWyvernNonceIncremented = "wyvern-v2.3-nonce-incremented"
)

var (
	topicWyvernOrdersMatched    = eventTopic("OrdersMatched(bytes32,bytes32,address,address,uint256,bytes32)")
	topicWyvernOrderCancelled   = eventTopic("OrderCancelled(bytes32)")
	topicWyvernNonceIncremented = eventTopic("NonceIncremented(address,uint256)")
)

// Known exchange deployments; the shared cancel topics would otherwise
// collide with other protocols
var wyvernExchanges = addresses(
	"0x7be8076f4ea4a4ad08075c2508e481d6c946d12b",
	"0x7f268357a8c2552623316e2562d90e642bb538e5",
)

type wyvernHandler struct {
	wrappedNative string
}

// NewWyvernHandler decodes wyvern-v2.3 matches and cancellations. The
// OrdersMatched log does not carry the traded token, so fills are
// reconstructed from the run of transfers immediately preceding the log;
// bundles become one fill per transfer with synthetic batch indices.
func NewWyvernHandler(wrappedNative string) Handler {
	return &wyvernHandler{wrappedNative: domain.NormalizeAddress(wrappedNative)}
}

func (h *wyvernHandler) Kind() Kind {
	return KindWyvern
}

func (h *wyvernHandler) Events() []EventData {
	return []EventData{
		{
			Kind:      KindWyvern,
			SubKind:   SubKindWyvernOrdersMatched,
			Topic:     topicWyvernOrdersMatched,
			NumTopics: 4,
			Addresses: wyvernExchanges,
		},
		{
			Kind:      KindWyvern,
			SubKind:   SubKindWyvernOrderCancelled,
			Topic:     topicWyvernOrderCancelled,
			NumTopics: 2,
			Addresses: wyvernExchanges,
		},
		{
			Kind:      KindWyvern,
			SubKind:   SubKindWyvernNonceIncremented,
			Topic:     topicWyvernNonceIncremented,
			NumTopics: 2,
			Addresses: wyvernExchanges,
		},
	}
}

func (h *wyvernHandler) HandleTx(events []EnhancedEvent, data *domain.OnChainData) error {
	for _, ev := range events {
		switch ev.SubKind {
		case SubKindWyvernOrdersMatched:
			h.handleOrdersMatched(ev, data)

		case SubKindWyvernOrderCancelled:
			appendCancel(data, domain.CancelEvent{
				OrderKind:       domain.OrderKindWyvernV23,
				OrderID:         ev.Log.Topics[1].Hex(),
				BaseEventParams: ev.Base,
			})

		case SubKindWyvernNonceIncremented:
			data.BulkCancelEvents = append(data.BulkCancelEvents, domain.BulkCancelEvent{
				OrderKind:       domain.OrderKindWyvernV23,
				Maker:           topicAddress(ev.Log.Topics[1]),
				MinNonce:        mustDataBig(ev.Log.Data, 0).String(),
				BaseEventParams: ev.Base,
			})
		}
	}
	return nil
}

func (h *wyvernHandler) handleOrdersMatched(ev EnhancedEvent, data *domain.OnChainData) {
	buyHash, ok1 := dataWord(ev.Log.Data, 0)
	sellHash, ok2 := dataWord(ev.Log.Data, 1)
	price, ok3 := dataBig(ev.Log.Data, 2)
	if !ok1 || !ok2 || !ok3 {
		return
	}

	// A zero buy hash means the taker submitted a one-off buy against a
	// stored listing; a zero sell hash means a stored bid got accepted
	side := domain.OrderSideSell
	orderID := "0x" + hexEncode(sellHash)
	if isZeroWord(sellHash) {
		side = domain.OrderSideBuy
		orderID = "0x" + hexEncode(buyHash)
	}

	transfers := transferRunBefore(data, ev.Base.LogIndex)
	if len(transfers) == 0 {
		return
	}

	currency := domain.NativeCurrency
	if side == domain.OrderSideBuy {
		// Accepted bids settle in the wrapped native token
		currency = h.wrappedNative
	}

	// Split a bundle's total price evenly across its items
	perItem := new(big.Int).Div(price, big.NewInt(int64(len(transfers))))

	for i, t := range transfers {
		seller, buyer := t.From, t.To
		maker, taker := seller, buyer
		if side == domain.OrderSideBuy {
			maker, taker = buyer, seller
		}

		amount, ok := new(big.Int).SetString(t.Amount, 10)
		if !ok || amount.Sign() == 0 {
			continue
		}

		appendFill(data, domain.FillEvent{
			OrderKind:       domain.OrderKindWyvernV23,
			OrderID:         orderID,
			OrderSide:       side,
			Maker:           maker,
			Taker:           taker,
			Contract:        t.BaseEventParams.Address,
			TokenID:         t.TokenID,
			Amount:          t.Amount,
			Currency:        currency,
			CurrencyPrice:   new(big.Int).Div(perItem, amount).String(),
			BaseEventParams: ev.Base.WithBatchIndex(uint64(i + 1)),
		})
	}
}

// transferRunBefore collects the contiguous run of same-party transfers
// directly preceding a fill log, newest last. A single-item sale yields a
// one-element run; a bundle yields the whole bundle.
func transferRunBefore(data *domain.OnChainData, logIndex uint64) []domain.NftTransferEvent {
	last := lastNftTransferBefore(data, logIndex)
	if last == nil {
		return nil
	}

	var run []domain.NftTransferEvent
	for i := range data.NftTransferEvents {
		t := data.NftTransferEvents[i]
		if t.BaseEventParams.LogIndex < logIndex &&
			t.From == last.From && t.To == last.To {
			run = append(run, t)
		}
	}
	return run
}
