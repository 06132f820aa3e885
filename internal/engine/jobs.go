package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/fanout"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/store/schema"
)

// HandleJob dispatches a queued follow-up to its processor. Bound to
// the events worker's consumer; enrichment jobs run in their own worker.
func (e *Engine) HandleJob(ctx context.Context, job *fanout.Job) error {
	switch job.Kind {
	case fanout.JobKindOrderUpdate:
		var info domain.OrderInfo
		if err := json.Unmarshal(job.Payload, &info); err != nil {
			return fmt.Errorf("malformed order update payload: %w", err)
		}
		return e.handleOrderUpdate(ctx, info)
	case fanout.JobKindFillUpdate:
		var info domain.FillInfo
		if err := json.Unmarshal(job.Payload, &info); err != nil {
			return fmt.Errorf("malformed fill update payload: %w", err)
		}
		return e.handleFillUpdate(ctx, info)
	case fanout.JobKindMakerRevalidation:
		var info domain.MakerInfo
		if err := json.Unmarshal(job.Payload, &info); err != nil {
			return fmt.Errorf("malformed maker revalidation payload: %w", err)
		}
		return e.handleMakerRevalidation(ctx, info)
	case fanout.JobKindAggregateRefresh:
		var refresh fanout.AggregateRefresh
		if err := json.Unmarshal(job.Payload, &refresh); err != nil {
			return fmt.Errorf("malformed aggregate refresh payload: %w", err)
		}
		return e.handleAggregateRefresh(ctx, refresh)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// handleOrderUpdate refreshes the aggregates an order participates in.
// The order may have been trimmed or never materialized; that still
// means its token's aggregates deserve a look, the decoder would not
// have queued the update otherwise.
func (e *Engine) handleOrderUpdate(ctx context.Context, info domain.OrderInfo) error {
	order, err := e.store.GetOrderByID(ctx, info.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		logger.DebugCtx(ctx, "Order update for unknown order", zap.String("order_id", info.OrderID))
		return nil
	}
	return e.refreshOrderAggregates(ctx, order, info.Trigger)
}

// handleFillUpdate applies post-fill bookkeeping for a requeued fill
func (e *Engine) handleFillUpdate(ctx context.Context, info domain.FillInfo) error {
	if info.OrderID != "" {
		if _, _, err := e.store.ApplyOrderFill(ctx, info.OrderID, info.Amount); err != nil {
			return err
		}
	}
	if info.TokenID != "" {
		if err := e.store.UpdateTokenLastSale(ctx, info.Contract, info.TokenID, info.Price, info.Timestamp); err != nil {
			return err
		}
		trigger := domain.Trigger{Kind: domain.TriggerKindSale, TxTimestamp: info.Timestamp}
		if err := e.reconciler.RefreshTokenFloorAsk(ctx, info.Contract, info.TokenID, trigger); err != nil {
			return err
		}
		return e.reconciler.RefreshCollectionTopBid(ctx, info.Contract, trigger)
	}
	return nil
}

// handleMakerRevalidation re-derives fillability for a maker's open
// orders after an observed balance or approval change. Balance checks
// probe the chain directly; the event that queued this job only proves
// something moved, not what the resulting balance is.
func (e *Engine) handleMakerRevalidation(ctx context.Context, info domain.MakerInfo) error {
	side := domain.OrderSideSell
	contract := info.Contract
	switch info.Kind {
	case domain.MakerInfoBuyBalance, domain.MakerInfoBuyApproval:
		side = domain.OrderSideBuy
		// Buy-side prerequisites live on the currency contract, which is
		// not the contract orders are stored under
		contract = ""
	}

	orders, err := e.store.GetOrdersByMaker(ctx, info.Maker, side, contract)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	for i := range orders {
		order := &orders[i]
		switch info.Kind {
		case domain.MakerInfoSellApproval, domain.MakerInfoBuyApproval:
			approval := schema.ApprovalApproved
			if !info.Approved {
				approval = schema.ApprovalDisabled
			}
			if err := e.store.RevalidateOrder(ctx, order.ID, order.FillabilityStatus, &approval); err != nil {
				return err
			}
		case domain.MakerInfoSellBalance:
			tokenID := info.TokenID
			if order.TokenID != nil {
				tokenID = *order.TokenID
			}
			if tokenID == "" {
				continue
			}
			owns, err := e.ownsToken(ctx, order.Contract, info.Maker, tokenID)
			if err != nil {
				return err
			}
			if err := e.store.RevalidateOrder(ctx, order.ID, fillabilityFor(owns), nil); err != nil {
				return err
			}
		case domain.MakerInfoBuyBalance:
			balance, err := e.ftBalance(ctx, order.Currency, info.Maker)
			if err != nil {
				return err
			}
			value, ok := new(big.Int).SetString(order.Value, 10)
			if !ok {
				continue
			}
			funded := balance.Cmp(value) >= 0
			if err := e.store.RevalidateOrder(ctx, order.ID, fillabilityFor(funded), nil); err != nil {
				return err
			}
		}

		if err := e.refreshOrderAggregates(ctx, order, info.Trigger); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handleAggregateRefresh(ctx context.Context, refresh fanout.AggregateRefresh) error {
	if refresh.TokenID != "" {
		return e.reconciler.RefreshTokenFloorAsk(ctx, refresh.Contract, refresh.TokenID, refresh.Trigger)
	}
	return e.reconciler.RefreshCollectionTopBid(ctx, refresh.CollectionID, refresh.Trigger)
}

// refreshOrderAggregates reconciles the aggregates an order's state
// feeds into: the floor ask of the token it asks for, or the top bid
// of the collection it bids on
func (e *Engine) refreshOrderAggregates(ctx context.Context, order *schema.Order, trigger domain.Trigger) error {
	if order.Side == domain.OrderSideSell && order.TokenID != nil {
		return e.reconciler.RefreshTokenFloorAsk(ctx, order.Contract, *order.TokenID, trigger)
	}
	collectionID := order.Contract
	if order.CollectionID != nil {
		collectionID = *order.CollectionID
	}
	return e.reconciler.RefreshCollectionTopBid(ctx, collectionID, trigger)
}

func fillabilityFor(satisfied bool) schema.FillabilityStatus {
	if satisfied {
		return schema.FillabilityFillable
	}
	return schema.FillabilityNoBalance
}
