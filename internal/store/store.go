package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/royalty"
	"github.com/openfloor/marketplace-indexer/internal/store/schema"
)

// FloorAskChange is the result of a token floor reconciliation that
// actually swapped the cached aggregate. Nil result means the cache
// already pointed at the winning order.
type FloorAskChange struct {
	Contract      string
	TokenID       string
	PrevOrderID   *string
	PrevPrice     *string
	NewOrderID    *string
	NewPrice      *string
	NewMaker      *string
	NewValidUntil *int64
}

// TopBidChange is the collection-bid counterpart of FloorAskChange
type TopBidChange struct {
	CollectionID string
	PrevOrderID  *string
	PrevPrice    *string
	NewOrderID   *string
	NewPrice     *string
	NewMaker     *string
}

// Store defines the interface for database operations
type Store interface {
	royalty.FillReader

	// SaveFillEvents persists fill events idempotently on the
	// (tx_hash, log_index, batch_index) key
	SaveFillEvents(ctx context.Context, events []domain.FillEvent) error
	// SaveCancelEvents persists single-order cancel events idempotently
	SaveCancelEvents(ctx context.Context, events []domain.CancelEvent) error
	// SaveBulkCancelEvents persists nonce-floor cancel events idempotently
	SaveBulkCancelEvents(ctx context.Context, events []domain.BulkCancelEvent) error
	// SaveNonceCancelEvents persists exact-nonce cancel events idempotently
	SaveNonceCancelEvents(ctx context.Context, events []domain.NonceCancelEvent) error
	// SaveNftTransferEvents persists NFT transfer events idempotently
	SaveNftTransferEvents(ctx context.Context, events []domain.NftTransferEvent) error
	// SaveNftApprovalEvents persists operator approval events idempotently
	SaveNftApprovalEvents(ctx context.Context, events []domain.NftApprovalEvent) error
	// SaveFtTransferEvents persists ERC20 transfer events idempotently
	SaveFtTransferEvents(ctx context.Context, events []domain.FtTransferEvent) error

	// UpsertOrder creates or refreshes an order row
	UpsertOrder(ctx context.Context, order schema.Order) error
	// GetOrderByID retrieves an order by its protocol-level id
	GetOrderByID(ctx context.Context, orderID string) (*schema.Order, error)
	// GetOrdersByMaker retrieves a maker's open orders on a side,
	// optionally narrowed to one contract
	GetOrdersByMaker(ctx context.Context, maker string, side domain.OrderSide, contract string) ([]schema.Order, error)
	// CancelOrder transitions a single order to cancelled and returns the
	// ids actually transitioned (empty when the order was already terminal)
	CancelOrder(ctx context.Context, orderID string) ([]string, error)
	// BulkCancelOrders cancels every open order of the event's maker/kind
	// whose nonce is below the floor and returns the affected ids
	BulkCancelOrders(ctx context.Context, event domain.BulkCancelEvent) ([]string, error)
	// NonceCancelOrders cancels open orders whose nonce matches exactly
	// and returns the affected ids
	NonceCancelOrders(ctx context.Context, event domain.NonceCancelEvent) ([]string, error)
	// ApplyOrderFill decrements an order's remaining quantity and marks it
	// filled when the quantity reaches zero. Reports whether an open order
	// row was touched and whether it is now fully filled.
	ApplyOrderFill(ctx context.Context, orderID string, amount string) (touched bool, filled bool, err error)
	// RevalidateOrder moves an order between fillable and no-balance, or
	// flips its approval status, without touching terminal states
	RevalidateOrder(ctx context.Context, orderID string, fillability schema.FillabilityStatus, approval *schema.ApprovalStatus) error
	// SweepExpiredOrders expires open orders whose validity window has
	// passed and returns the affected ids, at most limit per call
	SweepExpiredOrders(ctx context.Context, now int64, limit int) ([]string, error)

	// EnsureToken creates the token row aggregates hang off, if missing
	EnsureToken(ctx context.Context, contract string, tokenID string, collectionID string) error
	// UpdateTokenLastSale refreshes the token's last-sale cache
	UpdateTokenLastSale(ctx context.Context, contract string, tokenID string, value string, timestamp int64) error

	// UpdateFillRoyaltyEnrichment attaches royalty classification results
	// to an already persisted fill
	UpdateFillRoyaltyEnrichment(ctx context.Context, params domain.BaseEventParams, result *royalty.Result) error
	// UpdateFillWashTradingScore attaches the wash-trading heuristic score
	// to an already persisted fill
	UpdateFillWashTradingScore(ctx context.Context, params domain.BaseEventParams, score float64) error

	// ReconcileTokenFloorAsk recomputes a token's floor ask from open
	// orders and swaps the cached aggregate in a single compare-and-swap
	// statement. Returns nil when the cache was already current.
	ReconcileTokenFloorAsk(ctx context.Context, contract string, tokenID string, trigger domain.Trigger) (*FloorAskChange, error)
	// ReconcileCollectionTopBid is the bid-side counterpart over
	// collection-wide buy orders
	ReconcileCollectionTopBid(ctx context.Context, collectionID string, trigger domain.Trigger) (*TopBidChange, error)

	// GetPriorTradeCount counts earlier fills of a token between the same
	// two parties in either direction, for the wash-trading heuristic
	GetPriorTradeCount(ctx context.Context, contract string, tokenID string, partyA string, partyB string, before int64) (int64, error)

	// GetUsdRate returns the USD rate for a currency at a timestamp's day
	// bucket (the most recent bucket at or before it)
	GetUsdRate(ctx context.Context, currency string, timestamp int64) (rate decimal.Decimal, decimals int32, found bool, err error)
	// SaveUsdRate records a currency's USD rate for a day bucket
	SaveUsdRate(ctx context.Context, rate schema.UsdPrice) error

	// RemoveBlockEvents deletes every event row written for a block under
	// a hash other than the canonical one. Derived order state is left
	// alone; replaying the canonical block restores it.
	RemoveBlockEvents(ctx context.Context, block uint64, canonicalHash string) error

	// GetBlockCursor retrieves the last processed block for a chain
	GetBlockCursor(ctx context.Context, chain string) (BlockCursor, error)
	// SetBlockCursor stores the last processed block for a chain
	SetBlockCursor(ctx context.Context, chain string, cursor BlockCursor) error
}
