package store

import (
	"encoding/json"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/store/schema"
)

func fillEventRow(e *domain.FillEvent) schema.FillEvent {
	row := schema.FillEvent{
		OrderKind:          e.OrderKind,
		OrderID:            e.OrderID,
		OrderSide:          e.OrderSide,
		Maker:              e.Maker,
		Taker:              e.Taker,
		Contract:           e.Contract,
		TokenID:            e.TokenID,
		Amount:             e.Amount,
		Currency:           e.Currency,
		CurrencyPrice:      e.CurrencyPrice,
		Price:              e.Price,
		UsdPrice:           e.UsdPrice,
		OrderSourceID:      e.OrderSourceID,
		AggregatorSourceID: e.AggregatorSourceID,
		FillSourceID:       e.FillSourceID,
		RoyaltyFeeBps:      e.RoyaltyFeeBps,
		MarketplaceFeeBps:  e.MarketplaceFeeBps,
		PaidFullRoyalty:    e.PaidFullRoyalty,
		WashTradingScore:   e.WashTradingScore,
		Address:            e.BaseEventParams.Address,
		Block:              e.BaseEventParams.Block,
		BlockHash:          e.BaseEventParams.BlockHash,
		TxHash:             e.BaseEventParams.TxHash,
		TxIndex:            e.BaseEventParams.TxIndex,
		LogIndex:           e.BaseEventParams.LogIndex,
		BatchIndex:         e.BaseEventParams.BatchIndex,
		Timestamp:          e.BaseEventParams.Timestamp,
	}
	if len(e.RoyaltyFeeBreakdown) > 0 {
		if raw, err := json.Marshal(e.RoyaltyFeeBreakdown); err == nil {
			row.RoyaltyFeeBreakdown = raw
		}
	}
	if len(e.MarketplaceFeeBreakdown) > 0 {
		if raw, err := json.Marshal(e.MarketplaceFeeBreakdown); err == nil {
			row.MarketplaceFeeBreakdown = raw
		}
	}
	return row
}

func fillEventFromRow(row *schema.FillEvent) domain.FillEvent {
	e := domain.FillEvent{
		OrderKind:          row.OrderKind,
		OrderID:            row.OrderID,
		OrderSide:          row.OrderSide,
		Maker:              row.Maker,
		Taker:              row.Taker,
		Contract:           row.Contract,
		TokenID:            row.TokenID,
		Amount:             row.Amount,
		Currency:           row.Currency,
		CurrencyPrice:      row.CurrencyPrice,
		Price:              row.Price,
		UsdPrice:           row.UsdPrice,
		OrderSourceID:      row.OrderSourceID,
		AggregatorSourceID: row.AggregatorSourceID,
		FillSourceID:       row.FillSourceID,
		RoyaltyFeeBps:      row.RoyaltyFeeBps,
		MarketplaceFeeBps:  row.MarketplaceFeeBps,
		PaidFullRoyalty:    row.PaidFullRoyalty,
		WashTradingScore:   row.WashTradingScore,
		BaseEventParams: domain.BaseEventParams{
			Address:    row.Address,
			Block:      row.Block,
			BlockHash:  row.BlockHash,
			TxHash:     row.TxHash,
			TxIndex:    row.TxIndex,
			LogIndex:   row.LogIndex,
			BatchIndex: row.BatchIndex,
			Timestamp:  row.Timestamp,
		},
	}
	if len(row.RoyaltyFeeBreakdown) > 0 {
		_ = json.Unmarshal(row.RoyaltyFeeBreakdown, &e.RoyaltyFeeBreakdown)
	}
	if len(row.MarketplaceFeeBreakdown) > 0 {
		_ = json.Unmarshal(row.MarketplaceFeeBreakdown, &e.MarketplaceFeeBreakdown)
	}
	return e
}

func cancelEventRow(e *domain.CancelEvent) schema.CancelEvent {
	return schema.CancelEvent{
		OrderKind:  e.OrderKind,
		OrderID:    e.OrderID,
		Address:    e.BaseEventParams.Address,
		Block:      e.BaseEventParams.Block,
		BlockHash:  e.BaseEventParams.BlockHash,
		TxHash:     e.BaseEventParams.TxHash,
		TxIndex:    e.BaseEventParams.TxIndex,
		LogIndex:   e.BaseEventParams.LogIndex,
		BatchIndex: e.BaseEventParams.BatchIndex,
		Timestamp:  e.BaseEventParams.Timestamp,
	}
}

func bulkCancelEventRow(e *domain.BulkCancelEvent) schema.BulkCancelEvent {
	return schema.BulkCancelEvent{
		OrderKind:  e.OrderKind,
		Maker:      e.Maker,
		MinNonce:   e.MinNonce,
		Side:       e.Side,
		AcrossAll:  e.AcrossAll,
		Address:    e.BaseEventParams.Address,
		Block:      e.BaseEventParams.Block,
		BlockHash:  e.BaseEventParams.BlockHash,
		TxHash:     e.BaseEventParams.TxHash,
		TxIndex:    e.BaseEventParams.TxIndex,
		LogIndex:   e.BaseEventParams.LogIndex,
		BatchIndex: e.BaseEventParams.BatchIndex,
		Timestamp:  e.BaseEventParams.Timestamp,
	}
}

func nonceCancelEventRow(e *domain.NonceCancelEvent) schema.NonceCancelEvent {
	return schema.NonceCancelEvent{
		OrderKind:  e.OrderKind,
		Maker:      e.Maker,
		Nonce:      e.Nonce,
		Address:    e.BaseEventParams.Address,
		Block:      e.BaseEventParams.Block,
		BlockHash:  e.BaseEventParams.BlockHash,
		TxHash:     e.BaseEventParams.TxHash,
		TxIndex:    e.BaseEventParams.TxIndex,
		LogIndex:   e.BaseEventParams.LogIndex,
		BatchIndex: e.BaseEventParams.BatchIndex,
		Timestamp:  e.BaseEventParams.Timestamp,
	}
}

func nftTransferEventRow(e *domain.NftTransferEvent) schema.NftTransferEvent {
	return schema.NftTransferEvent{
		Kind:       e.Kind,
		FromAddr:   e.From,
		ToAddr:     e.To,
		Contract:   e.BaseEventParams.Address,
		TokenID:    e.TokenID,
		Amount:     e.Amount,
		Block:      e.BaseEventParams.Block,
		BlockHash:  e.BaseEventParams.BlockHash,
		TxHash:     e.BaseEventParams.TxHash,
		TxIndex:    e.BaseEventParams.TxIndex,
		LogIndex:   e.BaseEventParams.LogIndex,
		BatchIndex: e.BaseEventParams.BatchIndex,
		Timestamp:  e.BaseEventParams.Timestamp,
	}
}

func nftApprovalEventRow(e *domain.NftApprovalEvent) schema.NftApprovalEvent {
	return schema.NftApprovalEvent{
		Owner:      e.Owner,
		Operator:   e.Operator,
		Approved:   e.Approved,
		Contract:   e.BaseEventParams.Address,
		Block:      e.BaseEventParams.Block,
		BlockHash:  e.BaseEventParams.BlockHash,
		TxHash:     e.BaseEventParams.TxHash,
		TxIndex:    e.BaseEventParams.TxIndex,
		LogIndex:   e.BaseEventParams.LogIndex,
		BatchIndex: e.BaseEventParams.BatchIndex,
		Timestamp:  e.BaseEventParams.Timestamp,
	}
}

func ftTransferEventRow(e *domain.FtTransferEvent) schema.FtTransferEvent {
	return schema.FtTransferEvent{
		FromAddr:   e.From,
		ToAddr:     e.To,
		Contract:   e.BaseEventParams.Address,
		Amount:     e.Amount,
		Block:      e.BaseEventParams.Block,
		BlockHash:  e.BaseEventParams.BlockHash,
		TxHash:     e.BaseEventParams.TxHash,
		TxIndex:    e.BaseEventParams.TxIndex,
		LogIndex:   e.BaseEventParams.LogIndex,
		BatchIndex: e.BaseEventParams.BatchIndex,
		Timestamp:  e.BaseEventParams.Timestamp,
	}
}
