package schema

import "time"

// Token represents the tokens table - per-token derived aggregates. The
// floor_sell_* columns are a denormalized cache maintained by a
// compare-and-swap reconciliation, never by event handlers directly.
type Token struct {
	// Contract is the collection address
	Contract string `gorm:"column:contract;primaryKey;type:text"`
	// TokenID is the token number within the collection
	TokenID string `gorm:"column:token_id;primaryKey;type:numeric(78,0)"`
	// CollectionID groups the token for collection-level aggregates
	CollectionID string `gorm:"column:collection_id;not null;type:text;index:idx_tokens_collection"`
	// FloorSellID is the id of the cheapest fillable sell order, if any
	FloorSellID *string `gorm:"column:floor_sell_id;type:text"`
	// FloorSellValue is that order's value in native wei
	FloorSellValue *string `gorm:"column:floor_sell_value;type:numeric(78,0);index:idx_tokens_floor_sell_value"`
	// FloorSellMaker is that order's maker
	FloorSellMaker *string `gorm:"column:floor_sell_maker;type:text"`
	// FloorSellValidUntil is that order's expiry, for sweeping
	FloorSellValidUntil *int64 `gorm:"column:floor_sell_valid_until"`
	// TopBuyID is the id of the highest fillable buy order, if any
	TopBuyID *string `gorm:"column:top_buy_id;type:text"`
	// TopBuyValue is that order's value in native wei
	TopBuyValue *string `gorm:"column:top_buy_value;type:numeric(78,0)"`
	// TopBuyMaker is that order's maker
	TopBuyMaker *string `gorm:"column:top_buy_maker;type:text"`
	// LastSaleValue is the per-unit native price of the most recent fill
	LastSaleValue *string `gorm:"column:last_sale_value;type:numeric(78,0)"`
	// LastSaleTimestamp is when that fill happened
	LastSaleTimestamp *int64 `gorm:"column:last_sale_timestamp"`
	// CreatedAt is when this record was indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Token model
func (Token) TableName() string {
	return "tokens"
}
