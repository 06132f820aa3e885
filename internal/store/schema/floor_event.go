package schema

import (
	"time"

	"gorm.io/datatypes"
)

// TokenFloorSellEvent represents the token_floor_sell_events table - an
// append-only journal of token floor ask changes, one row per observed
// transition, written in the same statement flow that swaps the cached
// aggregate
type TokenFloorSellEvent struct {
	ID       uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	Contract string `gorm:"column:contract;not null;type:text;index:idx_token_floor_sell_events_token"`
	TokenID  string `gorm:"column:token_id;not null;type:numeric(78,0);index:idx_token_floor_sell_events_token"`
	// OrderID is the new floor order, null when the floor cleared
	OrderID *string `gorm:"column:order_id;type:text"`
	Maker   *string `gorm:"column:maker;type:text"`
	// Price is the new floor value in native wei, null when cleared
	Price *string `gorm:"column:price;type:numeric(78,0)"`
	// PreviousPrice is the displaced floor value, null when none existed
	PreviousPrice *string `gorm:"column:previous_price;type:numeric(78,0)"`
	ValidUntil    *int64  `gorm:"column:valid_until"`
	// Kind names what caused the transition (new-order, expiry, sale,
	// cancel, balance-change, approval-change, revalidation, reorg)
	Kind string `gorm:"column:kind;not null;type:text"`
	// TxHash anchors the change to its on-chain trigger when one exists
	TxHash    *string        `gorm:"column:tx_hash;type:text"`
	TxTrigger datatypes.JSON `gorm:"column:tx_trigger;type:jsonb"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;default:now();type:timestamptz;index:idx_token_floor_sell_events_created"`
}

// TableName specifies the table name for the TokenFloorSellEvent model
func (TokenFloorSellEvent) TableName() string {
	return "token_floor_sell_events"
}

// CollectionTopBidEvent represents the collection_top_bid_events table -
// the bid-side counterpart of the token floor journal
type CollectionTopBidEvent struct {
	ID           uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	CollectionID string  `gorm:"column:collection_id;not null;type:text;index:idx_collection_top_bid_events_collection"`
	OrderID      *string `gorm:"column:order_id;type:text"`
	Maker        *string `gorm:"column:maker;type:text"`
	// Price is the new top bid value in native wei, null when cleared
	Price *string `gorm:"column:price;type:numeric(78,0)"`
	// PreviousPrice is the displaced top bid value, null when none existed
	PreviousPrice *string        `gorm:"column:previous_price;type:numeric(78,0)"`
	Kind          string         `gorm:"column:kind;not null;type:text"`
	TxHash        *string        `gorm:"column:tx_hash;type:text"`
	TxTrigger     datatypes.JSON `gorm:"column:tx_trigger;type:jsonb"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null;default:now();type:timestamptz;index:idx_collection_top_bid_events_created"`
}

// TableName specifies the table name for the CollectionTopBidEvent model
func (CollectionTopBidEvent) TableName() string {
	return "collection_top_bid_events"
}
