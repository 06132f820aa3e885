package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// FillEvent represents the fill_events table - canonical record of order
// executions. The (tx_hash, log_index, batch_index) unique index is the
// idempotency key: replaying a block range must be a no-op.
type FillEvent struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// OrderKind identifies the protocol the filled order belongs to
	OrderKind domain.OrderKind `gorm:"column:order_kind;not null;type:text"`
	// OrderID is the protocol-level order identifier (hash or derived id)
	OrderID string `gorm:"column:order_id;not null;type:text;index:idx_fill_events_order_id"`
	// OrderSide is the side of the filled order (sell or buy)
	OrderSide domain.OrderSide `gorm:"column:order_side;not null;type:text"`
	// Maker is the order creator's address
	Maker string `gorm:"column:maker;not null;type:text;index:idx_fill_events_maker"`
	// Taker is the counterparty address (post attribution override)
	Taker string `gorm:"column:taker;not null;type:text"`
	// Contract is the NFT collection address
	Contract string `gorm:"column:contract;not null;type:text;index:idx_fill_events_contract_token"`
	// TokenID is the token number (up to 78 digits, stored as numeric)
	TokenID string `gorm:"column:token_id;not null;type:numeric(78,0);index:idx_fill_events_contract_token"`
	// Amount is the number of editions filled
	Amount string `gorm:"column:amount;not null;type:numeric(78,0)"`
	// Currency is the settlement currency contract (zero address = native)
	Currency string `gorm:"column:currency;not null;type:text"`
	// CurrencyPrice is the per-unit price in the settlement currency
	CurrencyPrice string `gorm:"column:currency_price;not null;type:numeric(78,0)"`
	// Price is the per-unit price converted to native wei
	Price string `gorm:"column:price;not null;type:numeric(78,0)"`
	// UsdPrice is the per-unit USD price at the block timestamp, if known
	UsdPrice *string `gorm:"column:usd_price;type:numeric"`
	// OrderSourceID is the marketplace the order lives on
	OrderSourceID *string `gorm:"column:order_source_id;type:text"`
	// AggregatorSourceID is the aggregator that routed the fill, if any
	AggregatorSourceID *string `gorm:"column:aggregator_source_id;type:text"`
	// FillSourceID is the frontend that produced the fill
	FillSourceID *string `gorm:"column:fill_source_id;type:text"`
	// RoyaltyFeeBps is the total creator royalty actually paid, in bps
	RoyaltyFeeBps *int `gorm:"column:royalty_fee_bps"`
	// MarketplaceFeeBps is the total operator fee actually paid, in bps
	MarketplaceFeeBps *int `gorm:"column:marketplace_fee_bps"`
	// RoyaltyFeeBreakdown is the per-recipient royalty attribution
	RoyaltyFeeBreakdown datatypes.JSON `gorm:"column:royalty_fee_breakdown;type:jsonb"`
	// MarketplaceFeeBreakdown is the per-recipient operator fee attribution
	MarketplaceFeeBreakdown datatypes.JSON `gorm:"column:marketplace_fee_breakdown;type:jsonb"`
	// PaidFullRoyalty reports whether the paid royalty met the configured entitlement
	PaidFullRoyalty *bool `gorm:"column:paid_full_royalty"`
	// WashTradingScore is the heuristic wash-trading likelihood of this fill
	WashTradingScore *float64 `gorm:"column:wash_trading_score"`
	// Address is the contract that emitted the fill log
	Address string `gorm:"column:address;not null;type:text"`
	// Block is the block number the log was included in
	Block uint64 `gorm:"column:block;not null;index:idx_fill_events_block"`
	// BlockHash is the hash of that block
	BlockHash string `gorm:"column:block_hash;not null;type:text;index:idx_fill_events_block_hash"`
	// TxHash is the transaction hash
	TxHash string `gorm:"column:tx_hash;not null;type:text;uniqueIndex:idx_fill_events_event_key"`
	// TxIndex is the transaction's index within the block
	TxIndex uint64 `gorm:"column:tx_index;not null"`
	// LogIndex is the log's index within the block
	LogIndex uint64 `gorm:"column:log_index;not null;uniqueIndex:idx_fill_events_event_key"`
	// BatchIndex disambiguates multiple fills packed into one log
	BatchIndex uint64 `gorm:"column:batch_index;not null;uniqueIndex:idx_fill_events_event_key"`
	// Timestamp is the block's unix timestamp
	Timestamp int64 `gorm:"column:timestamp;not null"`
	// CreatedAt is when this record was indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is when this record was last updated (enrichment only)
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the FillEvent model
func (FillEvent) TableName() string {
	return "fill_events"
}
