package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/fanout"
	"github.com/openfloor/marketplace-indexer/internal/logger"
)

// txMeta is the transaction-level context attribution and mint pricing
// need, fetched lazily once per transaction
type txMeta struct {
	from  string
	to    string
	data  []byte
	value *big.Int
}

// applyOnChainData persists one transaction's canonical data and fans
// out the follow-up work. The sequence matters: fills are priced (and
// unpriceable ones dropped) before anything touches the store, so no
// downstream aggregate ever sees an event it cannot denominate.
func (e *Engine) applyOnChainData(ctx context.Context, decoded *decodedTx) error {
	data := decoded.data

	meta := e.fetchTxMeta(ctx, decoded.txHash)

	if err := e.priceFills(ctx, data); err != nil {
		return err
	}
	e.attributeFills(data, meta)
	if err := e.synthesizeMintFills(ctx, data, meta); err != nil {
		return err
	}

	if err := e.persistEvents(ctx, data); err != nil {
		return err
	}
	if err := e.updateTokens(ctx, data); err != nil {
		return err
	}
	cancelled, err := e.applyOrderTransitions(ctx, data)
	if err != nil {
		return err
	}
	if err := e.fanOut(ctx, decoded, data); err != nil {
		return err
	}
	return e.refreshAggregates(ctx, decoded, data, cancelled)
}

// fetchTxMeta resolves the transaction's sender, target and calldata.
// Best effort: attribution and mint pricing degrade gracefully when the
// node cannot serve the transaction anymore.
func (e *Engine) fetchTxMeta(ctx context.Context, txHash string) *txMeta {
	tx, pending, err := e.eth.TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil || pending || tx == nil {
		if err != nil {
			logger.WarnCtx(ctx, "Failed to fetch transaction, skipping attribution",
				zap.String("tx_hash", txHash), zap.Error(err))
		}
		return nil
	}

	meta := &txMeta{
		data:  tx.Data(),
		value: tx.Value(),
	}
	if to := tx.To(); to != nil {
		meta.to = domain.NormalizeAddress(to.Hex())
	}
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		meta.from = domain.NormalizeAddress(from.Hex())
	}
	return meta
}

// priceFills converts every fill's settlement amount into native and
// USD terms. Fills with no native conversion are dropped along with
// their bookkeeping infos: an unpriceable fill would poison every
// aggregate downstream.
func (e *Engine) priceFills(ctx context.Context, data *domain.OnChainData) error {
	kept := data.FillEvents[:0]
	dropped := make(map[string]struct{})

	for i := range data.FillEvents {
		fill := data.FillEvents[i]
		prices, err := e.oracle.GetUSDAndNativePrices(ctx, fill.Currency, fill.CurrencyPrice, fill.BaseEventParams.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to price fill %s: %w", fill.BaseEventParams.EventKey(), err)
		}
		if prices.NativePrice == nil {
			logger.DebugCtx(ctx, "Dropping fill with no native price",
				zap.String("event", fill.BaseEventParams.EventKey()),
				zap.String("currency", fill.Currency))
			if fill.OrderID != "" {
				dropped[fill.OrderID] = struct{}{}
			}
			continue
		}
		fill.Price = *prices.NativePrice
		fill.UsdPrice = prices.UsdPrice
		kept = append(kept, fill)
	}
	data.FillEvents = kept

	if len(dropped) > 0 {
		infos := data.FillInfos[:0]
		for _, info := range data.FillInfos {
			if _, gone := dropped[info.OrderID]; !gone {
				infos = append(infos, info)
			}
		}
		data.FillInfos = infos
	}
	return nil
}

// attributeFills resolves marketplace and aggregator sources from the
// transaction's calldata and applies the taker override for routed fills
func (e *Engine) attributeFills(data *domain.OnChainData, meta *txMeta) {
	if meta == nil {
		return
	}
	for i := range data.FillEvents {
		fill := &data.FillEvents[i]
		attr := e.sources.Resolve(fill.OrderKind, meta.from, meta.to, meta.data)
		fill.OrderSourceID = attr.OrderSource
		fill.FillSourceID = attr.FillSource
		fill.AggregatorSourceID = attr.AggregatorSource
		if attr.Taker != nil {
			fill.Taker = *attr.Taker
		}
	}
}

// synthesizeMintFills turns zero-address transfers into mint fills so
// primary sales flow through the same pipeline as secondary ones. The
// transaction's value is spread evenly over the minted editions; a
// free mint prices at zero, which is natively denominated by definition.
func (e *Engine) synthesizeMintFills(ctx context.Context, data *domain.OnChainData, meta *txMeta) error {
	var mints []*domain.NftTransferEvent
	total := new(big.Int)
	for i := range data.NftTransferEvents {
		transfer := &data.NftTransferEvents[i]
		if !transfer.IsMint() {
			continue
		}
		amount, ok := new(big.Int).SetString(transfer.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			continue
		}
		mints = append(mints, transfer)
		total.Add(total, amount)
	}
	if len(mints) == 0 || total.Sign() == 0 {
		return nil
	}

	perUnit := new(big.Int)
	if meta != nil && meta.value != nil && meta.value.Sign() > 0 {
		perUnit.Div(meta.value, total)
	}
	price := perUnit.String()

	var usdPrice *string
	if perUnit.Sign() > 0 {
		prices, err := e.oracle.GetUSDAndNativePrices(ctx, domain.NativeCurrency, price, mints[0].BaseEventParams.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to price mint: %w", err)
		}
		usdPrice = prices.UsdPrice
	}

	for _, mint := range mints {
		data.FillEvents = append(data.FillEvents, domain.FillEvent{
			OrderKind:       domain.OrderKindMint,
			OrderSide:       domain.OrderSideSell,
			Maker:           mint.From,
			Taker:           mint.To,
			Contract:        mint.BaseEventParams.Address,
			TokenID:         mint.TokenID,
			Amount:          mint.Amount,
			Currency:        domain.NativeCurrency,
			CurrencyPrice:   price,
			Price:           price,
			UsdPrice:        usdPrice,
			BaseEventParams: mint.BaseEventParams,
		})
	}
	return nil
}

func (e *Engine) persistEvents(ctx context.Context, data *domain.OnChainData) error {
	if err := e.store.SaveFillEvents(ctx, data.FillEvents); err != nil {
		return err
	}
	if err := e.store.SaveCancelEvents(ctx, data.CancelEvents); err != nil {
		return err
	}
	if err := e.store.SaveBulkCancelEvents(ctx, data.BulkCancelEvents); err != nil {
		return err
	}
	if err := e.store.SaveNonceCancelEvents(ctx, data.NonceCancelEvents); err != nil {
		return err
	}
	if err := e.store.SaveNftTransferEvents(ctx, data.NftTransferEvents); err != nil {
		return err
	}
	if err := e.store.SaveNftApprovalEvents(ctx, data.NftApprovalEvents); err != nil {
		return err
	}
	return e.store.SaveFtTransferEvents(ctx, data.FtTransferEvents)
}

// updateTokens makes sure every traded or minted token has a row for
// aggregates to hang off, and refreshes last-sale caches for sales
func (e *Engine) updateTokens(ctx context.Context, data *domain.OnChainData) error {
	for i := range data.FillEvents {
		fill := &data.FillEvents[i]
		if fill.TokenID == "" {
			continue
		}
		if err := e.store.EnsureToken(ctx, fill.Contract, fill.TokenID, fill.Contract); err != nil {
			return err
		}
		if err := e.store.UpdateTokenLastSale(ctx, fill.Contract, fill.TokenID, fill.Price, fill.BaseEventParams.Timestamp); err != nil {
			return err
		}
	}
	for _, mint := range data.MintInfos {
		if err := e.store.EnsureToken(ctx, mint.Contract, mint.TokenID, mint.Contract); err != nil {
			return err
		}
	}
	return nil
}

// applyOrderTransitions runs the state machine over cancels and fills.
// Returns the ids of orders cancelled here so aggregate refreshes can
// target the tokens they referenced.
func (e *Engine) applyOrderTransitions(ctx context.Context, data *domain.OnChainData) ([]string, error) {
	var cancelled []string

	for _, ev := range data.CancelEvents {
		if ev.OrderID == "" {
			continue
		}
		ids, err := e.store.CancelOrder(ctx, ev.OrderID)
		if err != nil {
			return nil, err
		}
		cancelled = append(cancelled, ids...)
	}
	for _, ev := range data.BulkCancelEvents {
		ids, err := e.store.BulkCancelOrders(ctx, ev)
		if err != nil {
			return nil, err
		}
		cancelled = append(cancelled, ids...)
	}
	for _, ev := range data.NonceCancelEvents {
		ids, err := e.store.NonceCancelOrders(ctx, ev)
		if err != nil {
			return nil, err
		}
		cancelled = append(cancelled, ids...)
	}

	for _, info := range data.FillInfos {
		if info.OrderID == "" {
			continue
		}
		touched, filled, err := e.store.ApplyOrderFill(ctx, info.OrderID, info.Amount)
		if err != nil {
			return nil, err
		}
		if touched && filled {
			logger.DebugCtx(ctx, "Order fully filled", zap.String("order_id", info.OrderID))
		}
	}
	return cancelled, nil
}

// fanOut publishes activities and follow-up jobs for one transaction
func (e *Engine) fanOut(ctx context.Context, decoded *decodedTx, data *domain.OnChainData) error {
	for i := range data.FillEvents {
		fill := &data.FillEvents[i]

		kind := fanout.ActivityKindSale
		if fill.OrderKind == domain.OrderKindMint {
			kind = fanout.ActivityKindMint
		}
		if err := e.publisher.PublishActivity(ctx, &fanout.Activity{
			Kind:      kind,
			OrderKind: fill.OrderKind,
			OrderID:   fill.OrderID,
			Contract:  fill.Contract,
			TokenID:   fill.TokenID,
			From:      fill.Maker,
			To:        fill.Taker,
			Amount:    fill.Amount,
			Price:     fill.Price,
			Currency:  fill.Currency,
			TxHash:    fill.BaseEventParams.TxHash,
			LogIndex:  fill.BaseEventParams.LogIndex,
			Timestamp: fill.BaseEventParams.Timestamp,
		}); err != nil {
			return err
		}

		// Royalty classification is deferred: it replays the call trace,
		// which is far too slow for the hot ingest path
		if fill.OrderKind != domain.OrderKindMint {
			if err := e.publishFillEnrichment(ctx, fill); err != nil {
				return err
			}
		}
	}

	for _, ev := range data.CancelEvents {
		if err := e.publisher.PublishActivity(ctx, &fanout.Activity{
			Kind:      fanout.ActivityKindCancel,
			OrderKind: ev.OrderKind,
			OrderID:   ev.OrderID,
			TxHash:    ev.BaseEventParams.TxHash,
			LogIndex:  ev.BaseEventParams.LogIndex,
			Timestamp: ev.BaseEventParams.Timestamp,
		}); err != nil {
			return err
		}
	}

	for i := range data.NftTransferEvents {
		transfer := &data.NftTransferEvents[i]
		kind := fanout.ActivityKindTransfer
		if transfer.IsMint() {
			kind = fanout.ActivityKindMint
		}
		if err := e.publisher.PublishActivity(ctx, &fanout.Activity{
			Kind:      kind,
			Contract:  transfer.BaseEventParams.Address,
			TokenID:   transfer.TokenID,
			From:      transfer.From,
			To:        transfer.To,
			Amount:    transfer.Amount,
			TxHash:    transfer.BaseEventParams.TxHash,
			LogIndex:  transfer.BaseEventParams.LogIndex,
			Timestamp: transfer.BaseEventParams.Timestamp,
		}); err != nil {
			return err
		}
	}

	for _, info := range data.OrderInfos {
		if err := e.publishJob(ctx, fanout.JobKindOrderUpdate, info.Context, info); err != nil {
			return err
		}
	}
	for _, info := range data.MakerInfos {
		if err := e.publishJob(ctx, fanout.JobKindMakerRevalidation, info.Context, info); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) publishFillEnrichment(ctx context.Context, fill *domain.FillEvent) error {
	ref := fanout.FillRef{
		OrderKind:  fill.OrderKind,
		Contract:   fill.Contract,
		TokenID:    fill.TokenID,
		TxHash:     fill.BaseEventParams.TxHash,
		LogIndex:   fill.BaseEventParams.LogIndex,
		BatchIndex: fill.BaseEventParams.BatchIndex,
	}
	jobContext := fmt.Sprintf("fill-enrichment:%s", fill.BaseEventParams.EventKey())
	return e.publishJob(ctx, fanout.JobKindFillEnrichment, jobContext, ref)
}

func (e *Engine) publishJob(ctx context.Context, kind fanout.JobKind, jobContext string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return e.publisher.PublishJob(ctx, &fanout.Job{
		Kind:    kind,
		Context: jobContext,
		Payload: body,
	})
}

// refreshAggregates reconciles the floor ask and top bid of everything
// this transaction touched. The CAS in the store makes repeats cheap,
// so over-triggering is preferred to missing a transition.
func (e *Engine) refreshAggregates(ctx context.Context, decoded *decodedTx, data *domain.OnChainData, cancelled []string) error {
	base := domain.Trigger{
		TxHash:      decoded.txHash,
		TxTimestamp: decoded.timestamp,
		BlockHash:   decoded.blockHash,
	}
	saleTrigger := base
	saleTrigger.Kind = domain.TriggerKindSale
	cancelTrigger := base
	cancelTrigger.Kind = domain.TriggerKindCancel

	type target struct {
		contract string
		tokenID  string
	}
	tokens := make(map[target]domain.Trigger)
	collections := make(map[string]domain.Trigger)

	for i := range data.FillEvents {
		fill := &data.FillEvents[i]
		if fill.TokenID == "" {
			continue
		}
		tokens[target{fill.Contract, fill.TokenID}] = saleTrigger
		collections[fill.Contract] = saleTrigger
	}

	for _, orderID := range cancelled {
		order, err := e.store.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			continue
		}
		if order.TokenID != nil {
			t := target{order.Contract, *order.TokenID}
			if _, seen := tokens[t]; !seen {
				tokens[t] = cancelTrigger
			}
		}
		collectionID := order.Contract
		if order.CollectionID != nil {
			collectionID = *order.CollectionID
		}
		if _, seen := collections[collectionID]; !seen {
			collections[collectionID] = cancelTrigger
		}
	}

	for t, trigger := range tokens {
		if err := e.reconciler.RefreshTokenFloorAsk(ctx, t.contract, t.tokenID, trigger); err != nil {
			return err
		}
	}
	for c, trigger := range collections {
		if err := e.reconciler.RefreshCollectionTopBid(ctx, c, trigger); err != nil {
			return err
		}
	}
	return nil
}
