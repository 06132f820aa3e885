package schema

import (
	"time"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// FillabilityStatus tracks whether an order can currently be executed
type FillabilityStatus string

const (
	// FillabilityFillable means the order is live and executable
	FillabilityFillable FillabilityStatus = "fillable"
	// FillabilityNoBalance means the maker's balance or approval is
	// currently insufficient; the order revives if it is restored
	FillabilityNoBalance FillabilityStatus = "no-balance"
	// FillabilityFilled means quantity_remaining reached zero (terminal)
	FillabilityFilled FillabilityStatus = "filled"
	// FillabilityCancelled means the order was invalidated (terminal)
	FillabilityCancelled FillabilityStatus = "cancelled"
	// FillabilityExpired means the order's validity window passed
	FillabilityExpired FillabilityStatus = "expired"
)

// ApprovalStatus tracks whether the exchange is approved to move the
// maker's assets
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDisabled ApprovalStatus = "disabled"
)

// Order represents the orders table - derived order state driven by the
// canonical event stream. Status transitions are enforced by conditional
// SQL predicates, not application checks.
type Order struct {
	// ID is the protocol-level order identifier (hash or derived id)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Kind identifies the protocol the order belongs to
	Kind domain.OrderKind `gorm:"column:kind;not null;type:text;index:idx_orders_maker_kind"`
	// Side is sell (ask) or buy (bid)
	Side domain.OrderSide `gorm:"column:side;not null;type:text"`
	// Maker is the order creator's address
	Maker string `gorm:"column:maker;not null;type:text;index:idx_orders_maker_kind"`
	// Contract is the NFT collection the order references
	Contract string `gorm:"column:contract;not null;type:text;index:idx_orders_token"`
	// TokenID is the token the order references (empty for collection bids)
	TokenID *string `gorm:"column:token_id;type:numeric(78,0);index:idx_orders_token"`
	// CollectionID scopes collection-wide bids
	CollectionID *string `gorm:"column:collection_id;type:text;index:idx_orders_collection"`
	// Price is the per-unit price in native wei
	Price string `gorm:"column:price;not null;type:numeric(78,0)"`
	// Value is the maker-received (sell) or maker-paid (buy) net value,
	// the quantity aggregates order on
	Value string `gorm:"column:value;not null;type:numeric(78,0)"`
	// Currency is the settlement currency contract
	Currency string `gorm:"column:currency;not null;type:text"`
	// QuantityRemaining is how many editions are still fillable
	QuantityRemaining string `gorm:"column:quantity_remaining;not null;type:numeric(78,0);default:1"`
	// QuantityFilled is how many editions have been filled so far
	QuantityFilled string `gorm:"column:quantity_filled;not null;type:numeric(78,0);default:0"`
	// Nonce is the protocol-level order nonce, for nonce-family cancels
	Nonce *string `gorm:"column:nonce;type:numeric(78,0)"`
	// FillabilityStatus is the order's lifecycle state
	FillabilityStatus FillabilityStatus `gorm:"column:fillability_status;not null;type:text;index:idx_orders_fillability"`
	// ApprovalStatus gates aggregate eligibility alongside fillability
	ApprovalStatus ApprovalStatus `gorm:"column:approval_status;not null;type:text"`
	// ValidUntil is the unix timestamp the order expires at (0 = open)
	ValidUntil int64 `gorm:"column:valid_until;not null;default:0;index:idx_orders_valid_until"`
	// SourceID is the marketplace the order was created on
	SourceID *string `gorm:"column:source_id;type:text"`
	// CreatedAt is when this record was indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}
