package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/royalty"
	"github.com/openfloor/marketplace-indexer/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a
// GORM database connection
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool
// settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// calculateSafeBatchSize computes the batch size for bulk inserts that
// stays under PostgreSQL's 65535-parameter limit on the extended
// protocol. Each record consumes one parameter per inserted field, and a
// fixed headroom covers batch-level overhead (timestamps added by GORM
// and ON CONFLICT parameters).
func calculateSafeBatchSize(totalRecords int, fieldsPerRecord int) int {
	const maxParams = 65535
	const totalHeadroom = 1000

	availableParams := maxParams - totalHeadroom
	safeBatchSize := max(availableParams/fieldsPerRecord, 1)

	if safeBatchSize > totalRecords {
		return totalRecords
	}

	return safeBatchSize
}

// eventKeyColumns is the idempotency key every event table carries
var eventKeyColumns = []clause.Column{
	{Name: "tx_hash"}, {Name: "log_index"}, {Name: "batch_index"},
}

func insertEvents[T any](ctx context.Context, db *gorm.DB, rows []T, fieldsPerRecord int) error {
	if len(rows) == 0 {
		return nil
	}
	batchSize := calculateSafeBatchSize(len(rows), fieldsPerRecord)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: eventKeyColumns, DoNothing: true}).
		CreateInBatches(rows, batchSize).Error
}

// SaveFillEvents persists fill events idempotently
func (s *pgStore) SaveFillEvents(ctx context.Context, events []domain.FillEvent) error {
	rows := make([]schema.FillEvent, len(events))
	for i := range events {
		rows[i] = fillEventRow(&events[i])
	}
	if err := insertEvents(ctx, s.db, rows, 26); err != nil {
		return fmt.Errorf("failed to save fill events: %w", err)
	}
	return nil
}

// SaveCancelEvents persists single-order cancel events idempotently
func (s *pgStore) SaveCancelEvents(ctx context.Context, events []domain.CancelEvent) error {
	rows := make([]schema.CancelEvent, len(events))
	for i := range events {
		rows[i] = cancelEventRow(&events[i])
	}
	if err := insertEvents(ctx, s.db, rows, 10); err != nil {
		return fmt.Errorf("failed to save cancel events: %w", err)
	}
	return nil
}

// SaveBulkCancelEvents persists nonce-floor cancel events idempotently
func (s *pgStore) SaveBulkCancelEvents(ctx context.Context, events []domain.BulkCancelEvent) error {
	rows := make([]schema.BulkCancelEvent, len(events))
	for i := range events {
		rows[i] = bulkCancelEventRow(&events[i])
	}
	if err := insertEvents(ctx, s.db, rows, 13); err != nil {
		return fmt.Errorf("failed to save bulk cancel events: %w", err)
	}
	return nil
}

// SaveNonceCancelEvents persists exact-nonce cancel events idempotently
func (s *pgStore) SaveNonceCancelEvents(ctx context.Context, events []domain.NonceCancelEvent) error {
	rows := make([]schema.NonceCancelEvent, len(events))
	for i := range events {
		rows[i] = nonceCancelEventRow(&events[i])
	}
	if err := insertEvents(ctx, s.db, rows, 11); err != nil {
		return fmt.Errorf("failed to save nonce cancel events: %w", err)
	}
	return nil
}

// SaveNftTransferEvents persists NFT transfer events idempotently
func (s *pgStore) SaveNftTransferEvents(ctx context.Context, events []domain.NftTransferEvent) error {
	rows := make([]schema.NftTransferEvent, len(events))
	for i := range events {
		rows[i] = nftTransferEventRow(&events[i])
	}
	if err := insertEvents(ctx, s.db, rows, 13); err != nil {
		return fmt.Errorf("failed to save nft transfer events: %w", err)
	}
	return nil
}

// SaveNftApprovalEvents persists operator approval events idempotently
func (s *pgStore) SaveNftApprovalEvents(ctx context.Context, events []domain.NftApprovalEvent) error {
	rows := make([]schema.NftApprovalEvent, len(events))
	for i := range events {
		rows[i] = nftApprovalEventRow(&events[i])
	}
	if err := insertEvents(ctx, s.db, rows, 12); err != nil {
		return fmt.Errorf("failed to save nft approval events: %w", err)
	}
	return nil
}

// SaveFtTransferEvents persists ERC20 transfer events idempotently
func (s *pgStore) SaveFtTransferEvents(ctx context.Context, events []domain.FtTransferEvent) error {
	rows := make([]schema.FtTransferEvent, len(events))
	for i := range events {
		rows[i] = ftTransferEventRow(&events[i])
	}
	if err := insertEvents(ctx, s.db, rows, 12); err != nil {
		return fmt.Errorf("failed to save ft transfer events: %w", err)
	}
	return nil
}

// UpsertOrder creates or refreshes an order row. A refresh never touches
// quantity bookkeeping or a terminal status.
func (s *pgStore) UpsertOrder(ctx context.Context, order schema.Order) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"price":       order.Price,
				"value":       order.Value,
				"currency":    order.Currency,
				"valid_until": order.ValidUntil,
				"updated_at":  gorm.Expr("now()"),
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("orders.fillability_status IN ?", []schema.FillabilityStatus{
					schema.FillabilityFillable, schema.FillabilityNoBalance,
				}),
			}},
		}).
		Create(&order).Error
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by its protocol-level id
func (s *pgStore) GetOrderByID(ctx context.Context, orderID string) (*schema.Order, error) {
	var order schema.Order
	err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// GetOrdersByMaker retrieves a maker's open orders on a side
func (s *pgStore) GetOrdersByMaker(ctx context.Context, maker string, side domain.OrderSide, contract string) ([]schema.Order, error) {
	query := s.db.WithContext(ctx).
		Where("maker = ? AND side = ?", maker, side).
		Where("fillability_status IN ?", []schema.FillabilityStatus{
			schema.FillabilityFillable, schema.FillabilityNoBalance,
		})
	if contract != "" {
		query = query.Where("contract = ?", contract)
	}

	var orders []schema.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to get orders by maker: %w", err)
	}
	return orders, nil
}

// openStatuses is the set of non-terminal fillability states; every
// cancel-family transition is guarded on it so replays and late events
// cannot resurrect a terminal order
const openStatuses = "('fillable', 'no-balance')"

// CancelOrder transitions a single order to cancelled
func (s *pgStore) CancelOrder(ctx context.Context, orderID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Raw(`
		UPDATE orders
		SET fillability_status = 'cancelled', updated_at = now()
		WHERE id = ? AND fillability_status IN `+openStatuses+`
		RETURNING id
	`, orderID).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	return ids, nil
}

// BulkCancelOrders cancels every open order of the maker/kind whose
// nonce is below the event's floor
func (s *pgStore) BulkCancelOrders(ctx context.Context, event domain.BulkCancelEvent) ([]string, error) {
	sql := `
		UPDATE orders
		SET fillability_status = 'cancelled', updated_at = now()
		WHERE maker = ? AND kind = ? AND fillability_status IN ` + openStatuses
	args := []interface{}{event.Maker, event.OrderKind}

	if !event.AcrossAll {
		sql += ` AND nonce IS NOT NULL AND nonce < ?::numeric`
		args = append(args, event.MinNonce)
	}
	if event.Side != nil {
		sql += ` AND side = ?`
		args = append(args, *event.Side)
	}
	sql += ` RETURNING id`

	var ids []string
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&ids).Error; err != nil {
		return nil, fmt.Errorf("failed to bulk cancel orders: %w", err)
	}
	return ids, nil
}

// NonceCancelOrders cancels open orders whose nonce matches exactly
func (s *pgStore) NonceCancelOrders(ctx context.Context, event domain.NonceCancelEvent) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Raw(`
		UPDATE orders
		SET fillability_status = 'cancelled', updated_at = now()
		WHERE maker = ? AND kind = ? AND nonce = ?::numeric
			AND fillability_status IN `+openStatuses+`
		RETURNING id
	`, event.Maker, event.OrderKind, event.Nonce).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to nonce cancel orders: %w", err)
	}
	return ids, nil
}

// ApplyOrderFill decrements an order's remaining quantity, marking it
// filled when it reaches zero
func (s *pgStore) ApplyOrderFill(ctx context.Context, orderID string, amount string) (bool, bool, error) {
	var rows []struct {
		QuantityRemaining string `gorm:"column:quantity_remaining"`
	}
	err := s.db.WithContext(ctx).Raw(`
		UPDATE orders
		SET quantity_filled = quantity_filled + ?::numeric,
			quantity_remaining = GREATEST(quantity_remaining - ?::numeric, 0),
			fillability_status = CASE
				WHEN quantity_remaining - ?::numeric <= 0 THEN 'filled'
				ELSE fillability_status
			END,
			updated_at = now()
		WHERE id = ? AND fillability_status IN `+openStatuses+`
		RETURNING quantity_remaining
	`, amount, amount, amount, orderID).Scan(&rows).Error
	if err != nil {
		return false, false, fmt.Errorf("failed to apply order fill: %w", err)
	}
	if len(rows) == 0 {
		return false, false, nil
	}
	return true, rows[0].QuantityRemaining == "0", nil
}

// RevalidateOrder moves an order between fillable and no-balance, or
// flips its approval status
func (s *pgStore) RevalidateOrder(ctx context.Context, orderID string, fillability schema.FillabilityStatus, approval *schema.ApprovalStatus) error {
	if fillability != schema.FillabilityFillable && fillability != schema.FillabilityNoBalance {
		return fmt.Errorf("revalidation cannot move an order to %q", fillability)
	}

	updates := map[string]interface{}{
		"fillability_status": fillability,
		"updated_at":         gorm.Expr("now()"),
	}
	if approval != nil {
		updates["approval_status"] = *approval
	}

	err := s.db.WithContext(ctx).Model(&schema.Order{}).
		Where("id = ? AND fillability_status IN ?", orderID, []schema.FillabilityStatus{
			schema.FillabilityFillable, schema.FillabilityNoBalance,
		}).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to revalidate order: %w", err)
	}
	return nil
}

// SweepExpiredOrders expires open orders whose validity window passed
func (s *pgStore) SweepExpiredOrders(ctx context.Context, now int64, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Raw(`
		UPDATE orders
		SET fillability_status = 'expired', updated_at = now()
		WHERE id IN (
			SELECT id FROM orders
			WHERE fillability_status IN `+openStatuses+`
				AND valid_until > 0 AND valid_until <= ?
			ORDER BY valid_until ASC
			LIMIT ?
		)
		RETURNING id
	`, now, limit).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired orders: %w", err)
	}
	return ids, nil
}

// EnsureToken creates the token row aggregates hang off, if missing
func (s *pgStore) EnsureToken(ctx context.Context, contract string, tokenID string, collectionID string) error {
	if collectionID == "" {
		collectionID = contract
	}
	token := schema.Token{
		Contract:     contract,
		TokenID:      tokenID,
		CollectionID: collectionID,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contract"}, {Name: "token_id"}},
			DoNothing: true,
		}).
		Create(&token).Error
	if err != nil {
		return fmt.Errorf("failed to ensure token: %w", err)
	}
	return nil
}

// UpdateTokenLastSale refreshes the token's last-sale cache, keeping the
// newest fill even when blocks replay out of order
func (s *pgStore) UpdateTokenLastSale(ctx context.Context, contract string, tokenID string, value string, timestamp int64) error {
	err := s.db.WithContext(ctx).Model(&schema.Token{}).
		Where("contract = ? AND token_id = ?", contract, tokenID).
		Where("last_sale_timestamp IS NULL OR last_sale_timestamp <= ?", timestamp).
		Updates(map[string]interface{}{
			"last_sale_value":     value,
			"last_sale_timestamp": timestamp,
			"updated_at":          gorm.Expr("now()"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update token last sale: %w", err)
	}
	return nil
}

// GetFillEventsByTxHash retrieves all fills of a transaction in log order
func (s *pgStore) GetFillEventsByTxHash(ctx context.Context, txHash string) ([]domain.FillEvent, error) {
	var rows []schema.FillEvent
	err := s.db.WithContext(ctx).
		Where("tx_hash = ?", txHash).
		Order("log_index ASC, batch_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get fill events by tx hash: %w", err)
	}

	events := make([]domain.FillEvent, len(rows))
	for i := range rows {
		events[i] = fillEventFromRow(&rows[i])
	}
	return events, nil
}

// GetCollectionRoyalties retrieves the configured creator royalties for
// a contract's collections
func (s *pgStore) GetCollectionRoyalties(ctx context.Context, contract string) ([]domain.Royalty, error) {
	var collections []schema.Collection
	err := s.db.WithContext(ctx).
		Where("contract = ?", contract).
		Find(&collections).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get collection royalties: %w", err)
	}

	var royalties []domain.Royalty
	for i := range collections {
		if len(collections[i].Royalties) == 0 {
			continue
		}
		var parsed []domain.Royalty
		if err := json.Unmarshal(collections[i].Royalties, &parsed); err != nil {
			return nil, fmt.Errorf("malformed royalties for collection %s: %w", collections[i].ID, err)
		}
		royalties = append(royalties, parsed...)
	}
	return royalties, nil
}

// UpdateFillRoyaltyEnrichment attaches royalty classification results to
// an already persisted fill
func (s *pgStore) UpdateFillRoyaltyEnrichment(ctx context.Context, params domain.BaseEventParams, result *royalty.Result) error {
	royaltyBreakdown, err := json.Marshal(result.RoyaltyFeeBreakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal royalty breakdown: %w", err)
	}
	marketplaceBreakdown, err := json.Marshal(result.MarketplaceFeeBreakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal marketplace breakdown: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&schema.FillEvent{}).
		Where("tx_hash = ? AND log_index = ? AND batch_index = ?",
			params.TxHash, params.LogIndex, params.BatchIndex).
		Updates(map[string]interface{}{
			"royalty_fee_bps":           result.RoyaltyFeeBps,
			"marketplace_fee_bps":       result.MarketplaceFeeBps,
			"royalty_fee_breakdown":     royaltyBreakdown,
			"marketplace_fee_breakdown": marketplaceBreakdown,
			"paid_full_royalty":         result.PaidFullRoyalty,
			"updated_at":                gorm.Expr("now()"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update fill royalty enrichment: %w", err)
	}
	return nil
}

// UpdateFillWashTradingScore attaches the wash-trading heuristic score
// to an already persisted fill
func (s *pgStore) UpdateFillWashTradingScore(ctx context.Context, params domain.BaseEventParams, score float64) error {
	err := s.db.WithContext(ctx).Model(&schema.FillEvent{}).
		Where("tx_hash = ? AND log_index = ? AND batch_index = ?",
			params.TxHash, params.LogIndex, params.BatchIndex).
		Updates(map[string]interface{}{
			"wash_trading_score": score,
			"updated_at":         gorm.Expr("now()"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update fill wash trading score: %w", err)
	}
	return nil
}

// GetPriorTradeCount counts earlier fills of a token between the same two
// parties in either direction, for the wash-trading heuristic
func (s *pgStore) GetPriorTradeCount(ctx context.Context, contract string, tokenID string, partyA string, partyB string, before int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&schema.FillEvent{}).
		Where("contract = ? AND token_id = ?::numeric AND timestamp < ?", contract, tokenID, before).
		Where("(maker = ? AND taker = ?) OR (maker = ? AND taker = ?)", partyA, partyB, partyB, partyA).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count prior trades: %w", err)
	}
	return count, nil
}

type floorAskRow struct {
	PrevOrderID   *string `gorm:"column:prev_order_id"`
	PrevPrice     *string `gorm:"column:prev_price"`
	NewOrderID    *string `gorm:"column:new_order_id"`
	NewPrice      *string `gorm:"column:new_price"`
	NewMaker      *string `gorm:"column:new_maker"`
	NewValidUntil *int64  `gorm:"column:new_valid_until"`
}

// ReconcileTokenFloorAsk recomputes a token's floor ask from open orders
// and swaps the cached aggregate in one compare-and-swap statement. The
// IS DISTINCT FROM guard makes concurrent reconciliations converge: only
// the statement that actually changes the winner touches the row and
// writes a journal entry.
func (s *pgStore) ReconcileTokenFloorAsk(ctx context.Context, contract string, tokenID string, trigger domain.Trigger) (*FloorAskChange, error) {
	var change *FloorAskChange

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []floorAskRow
		err := tx.Raw(`
			WITH x AS (
				SELECT contract, token_id, floor_sell_id, floor_sell_value
				FROM tokens
				WHERE contract = ? AND token_id = ?::numeric
			), y AS (
				SELECT id, maker, value, valid_until
				FROM orders
				WHERE side = 'sell'
					AND contract = ? AND token_id = ?::numeric
					AND fillability_status = 'fillable'
					AND approval_status = 'approved'
					AND (valid_until = 0 OR valid_until > extract(epoch FROM now()))
				ORDER BY value ASC, id ASC
				LIMIT 1
			)
			UPDATE tokens SET
				floor_sell_id = y.id,
				floor_sell_value = y.value,
				floor_sell_maker = y.maker,
				floor_sell_valid_until = y.valid_until,
				updated_at = now()
			FROM x LEFT JOIN y ON TRUE
			WHERE tokens.contract = x.contract
				AND tokens.token_id = x.token_id
				AND tokens.floor_sell_id IS DISTINCT FROM y.id
			RETURNING
				x.floor_sell_id AS prev_order_id,
				x.floor_sell_value::text AS prev_price,
				y.id AS new_order_id,
				y.value::text AS new_price,
				y.maker AS new_maker,
				y.valid_until AS new_valid_until
		`, contract, tokenID, contract, tokenID).Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to reconcile token floor ask: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		row := rows[0]
		change = &FloorAskChange{
			Contract:      contract,
			TokenID:       tokenID,
			PrevOrderID:   row.PrevOrderID,
			PrevPrice:     row.PrevPrice,
			NewOrderID:    row.NewOrderID,
			NewPrice:      row.NewPrice,
			NewMaker:      row.NewMaker,
			NewValidUntil: row.NewValidUntil,
		}

		journal := schema.TokenFloorSellEvent{
			Contract:      contract,
			TokenID:       tokenID,
			OrderID:       row.NewOrderID,
			Maker:         row.NewMaker,
			Price:         row.NewPrice,
			PreviousPrice: row.PrevPrice,
			ValidUntil:    row.NewValidUntil,
			Kind:          string(trigger.Kind),
		}
		if trigger.TxHash != "" {
			txHash := trigger.TxHash
			journal.TxHash = &txHash
		}
		if raw, err := json.Marshal(trigger); err == nil {
			journal.TxTrigger = raw
		}
		if err := tx.Create(&journal).Error; err != nil {
			return fmt.Errorf("failed to record floor ask change: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

type topBidRow struct {
	PrevOrderID *string `gorm:"column:prev_order_id"`
	PrevPrice   *string `gorm:"column:prev_price"`
	NewOrderID  *string `gorm:"column:new_order_id"`
	NewPrice    *string `gorm:"column:new_price"`
	NewMaker    *string `gorm:"column:new_maker"`
}

// ReconcileCollectionTopBid is the bid-side counterpart of the token
// floor reconciliation, over collection-wide buy orders
func (s *pgStore) ReconcileCollectionTopBid(ctx context.Context, collectionID string, trigger domain.Trigger) (*TopBidChange, error) {
	var change *TopBidChange

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []topBidRow
		err := tx.Raw(`
			WITH x AS (
				SELECT id, top_buy_id, top_buy_value
				FROM collections
				WHERE id = ?
			), y AS (
				SELECT id, maker, value
				FROM orders
				WHERE side = 'buy'
					AND collection_id = ?
					AND fillability_status = 'fillable'
					AND approval_status = 'approved'
					AND (valid_until = 0 OR valid_until > extract(epoch FROM now()))
				ORDER BY value DESC, id ASC
				LIMIT 1
			)
			UPDATE collections SET
				top_buy_id = y.id,
				top_buy_value = y.value,
				top_buy_maker = y.maker,
				updated_at = now()
			FROM x LEFT JOIN y ON TRUE
			WHERE collections.id = x.id
				AND collections.top_buy_id IS DISTINCT FROM y.id
			RETURNING
				x.top_buy_id AS prev_order_id,
				x.top_buy_value::text AS prev_price,
				y.id AS new_order_id,
				y.value::text AS new_price,
				y.maker AS new_maker
		`, collectionID, collectionID).Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to reconcile collection top bid: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		row := rows[0]
		change = &TopBidChange{
			CollectionID: collectionID,
			PrevOrderID:  row.PrevOrderID,
			PrevPrice:    row.PrevPrice,
			NewOrderID:   row.NewOrderID,
			NewPrice:     row.NewPrice,
			NewMaker:     row.NewMaker,
		}

		journal := schema.CollectionTopBidEvent{
			CollectionID:  collectionID,
			OrderID:       row.NewOrderID,
			Maker:         row.NewMaker,
			Price:         row.NewPrice,
			PreviousPrice: row.PrevPrice,
			Kind:          string(trigger.Kind),
		}
		if trigger.TxHash != "" {
			txHash := trigger.TxHash
			journal.TxHash = &txHash
		}
		if raw, err := json.Marshal(trigger); err == nil {
			journal.TxTrigger = raw
		}
		if err := tx.Create(&journal).Error; err != nil {
			return fmt.Errorf("failed to record top bid change: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// usdRateScale is the fixed-point scale usd_prices.value is stored at
const usdRateScale = 6

// GetUsdRate returns the USD rate for a currency at a timestamp's day
// bucket, falling back to the most recent earlier bucket
func (s *pgStore) GetUsdRate(ctx context.Context, currency string, timestamp int64) (decimal.Decimal, int32, bool, error) {
	day := timestamp - timestamp%86400

	var row schema.UsdPrice
	err := s.db.WithContext(ctx).
		Where("currency = ? AND day <= ?", currency, day).
		Order("day DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, 0, false, nil
		}
		return decimal.Zero, 0, false, fmt.Errorf("failed to get usd rate: %w", err)
	}

	value, err := decimal.NewFromString(row.Value)
	if err != nil {
		return decimal.Zero, 0, false, fmt.Errorf("malformed usd rate for %s: %w", currency, err)
	}
	return value.Shift(-usdRateScale), row.Decimals, true, nil
}

// SaveUsdRate records a currency's USD rate for a day bucket
func (s *pgStore) SaveUsdRate(ctx context.Context, rate schema.UsdPrice) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "currency"}, {Name: "day"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "decimals", "provider"}),
		}).
		Create(&rate).Error
	if err != nil {
		return fmt.Errorf("failed to save usd rate: %w", err)
	}
	return nil
}

// RemoveBlockEvents deletes every event row written for a block under a
// hash that is no longer canonical. Derived order state is intentionally
// left alone: replaying the canonical block through the same handlers
// settles it.
func (s *pgStore) RemoveBlockEvents(ctx context.Context, block uint64, canonicalHash string) error {
	models := []interface{}{
		&schema.FillEvent{},
		&schema.CancelEvent{},
		&schema.BulkCancelEvent{},
		&schema.NonceCancelEvent{},
		&schema.NftTransferEvent{},
		&schema.NftApprovalEvent{},
		&schema.FtTransferEvent{},
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range models {
			if err := tx.Where("block = ? AND block_hash <> ?", block, canonicalHash).
				Delete(model).Error; err != nil {
				return fmt.Errorf("failed to remove block events: %w", err)
			}
		}
		return nil
	})
}
