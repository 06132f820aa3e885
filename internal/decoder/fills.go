package decoder

import (
	"fmt"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// appendFill records a decoded fill together with the follow-up work it
// implies: quantity bookkeeping for the order and a derived-state
// recomputation for the order id (when the protocol exposes one)
func appendFill(data *domain.OnChainData, fill domain.FillEvent) {
	data.FillEvents = append(data.FillEvents, fill)

	trigger := domain.Trigger{
		Kind:        domain.TriggerKindSale,
		TxHash:      fill.BaseEventParams.TxHash,
		TxTimestamp: fill.BaseEventParams.Timestamp,
		LogIndex:    &fill.BaseEventParams.LogIndex,
		BatchIndex:  &fill.BaseEventParams.BatchIndex,
		BlockHash:   fill.BaseEventParams.BlockHash,
	}

	data.FillInfos = append(data.FillInfos, domain.FillInfo{
		Context:   fmt.Sprintf("filled-%s-%s", fillContextID(&fill), fill.BaseEventParams.TxHash),
		OrderID:   fill.OrderID,
		OrderSide: fill.OrderSide,
		Contract:  fill.Contract,
		TokenID:   fill.TokenID,
		Amount:    fill.Amount,
		Price:     fill.CurrencyPrice,
		Timestamp: fill.BaseEventParams.Timestamp,
	})

	if fill.OrderID != "" && fill.OrderID != domain.ZeroHash {
		data.OrderInfos = append(data.OrderInfos, domain.OrderInfo{
			Context: fmt.Sprintf("filled-%s-%s", fill.OrderID, fill.BaseEventParams.TxHash),
			OrderID: fill.OrderID,
			Trigger: trigger,
		})
	}
}

func fillContextID(fill *domain.FillEvent) string {
	if fill.OrderID != "" && fill.OrderID != domain.ZeroHash {
		return fill.OrderID
	}
	return fill.BaseEventParams.EventKey()
}

// appendCancel records a single-order cancellation and its follow-up
// recomputation
func appendCancel(data *domain.OnChainData, cancel domain.CancelEvent) {
	data.CancelEvents = append(data.CancelEvents, cancel)
	data.OrderInfos = append(data.OrderInfos, domain.OrderInfo{
		Context: fmt.Sprintf("cancelled-%s-%s", cancel.OrderID, cancel.BaseEventParams.TxHash),
		OrderID: cancel.OrderID,
		Trigger: domain.Trigger{
			Kind:        domain.TriggerKindCancel,
			TxHash:      cancel.BaseEventParams.TxHash,
			TxTimestamp: cancel.BaseEventParams.Timestamp,
			LogIndex:    &cancel.BaseEventParams.LogIndex,
			BatchIndex:  &cancel.BaseEventParams.BatchIndex,
			BlockHash:   cancel.BaseEventParams.BlockHash,
		},
	})
}

// lastNftTransferBefore finds the most recent transfer already decoded in
// this transaction with a log index strictly below logIndex. Protocols
// whose fill logs omit the traded token (wyvern) rely on the adjacent
// transfer to recover contract/token/amount.
func lastNftTransferBefore(data *domain.OnChainData, logIndex uint64) *domain.NftTransferEvent {
	var found *domain.NftTransferEvent
	for i := range data.NftTransferEvents {
		t := &data.NftTransferEvents[i]
		if t.BaseEventParams.LogIndex < logIndex {
			if found == nil || t.BaseEventParams.LogIndex > found.BaseEventParams.LogIndex {
				found = t
			}
		}
	}
	return found
}
