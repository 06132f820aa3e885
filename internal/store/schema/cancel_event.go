package schema

import (
	"time"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// CancelEvent represents the cancel_events table - explicit single-order
// cancellations observed on-chain
type CancelEvent struct {
	ID         uint64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderKind  domain.OrderKind `gorm:"column:order_kind;not null;type:text"`
	OrderID    string           `gorm:"column:order_id;not null;type:text;index:idx_cancel_events_order_id"`
	Address    string           `gorm:"column:address;not null;type:text"`
	Block      uint64           `gorm:"column:block;not null;index:idx_cancel_events_block"`
	BlockHash  string           `gorm:"column:block_hash;not null;type:text"`
	TxHash     string           `gorm:"column:tx_hash;not null;type:text;uniqueIndex:idx_cancel_events_event_key"`
	TxIndex    uint64           `gorm:"column:tx_index;not null"`
	LogIndex   uint64           `gorm:"column:log_index;not null;uniqueIndex:idx_cancel_events_event_key"`
	BatchIndex uint64           `gorm:"column:batch_index;not null;uniqueIndex:idx_cancel_events_event_key"`
	Timestamp  int64            `gorm:"column:timestamp;not null"`
	CreatedAt  time.Time        `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the CancelEvent model
func (CancelEvent) TableName() string {
	return "cancel_events"
}

// BulkCancelEvent represents the bulk_cancel_events table - nonce-floor
// cancellations that invalidate every order below a threshold
type BulkCancelEvent struct {
	ID        uint64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderKind domain.OrderKind `gorm:"column:order_kind;not null;type:text"`
	Maker     string           `gorm:"column:maker;not null;type:text;index:idx_bulk_cancel_events_maker"`
	MinNonce  string           `gorm:"column:min_nonce;not null;type:numeric(78,0)"`
	// Side narrows the invalidation for protocols with split nonce spaces
	Side *domain.OrderSide `gorm:"column:side;type:text"`
	// AcrossAll drops the nonce comparison entirely
	AcrossAll  bool      `gorm:"column:across_all;not null;default:false"`
	Address    string    `gorm:"column:address;not null;type:text"`
	Block      uint64    `gorm:"column:block;not null;index:idx_bulk_cancel_events_block"`
	BlockHash  string    `gorm:"column:block_hash;not null;type:text"`
	TxHash     string    `gorm:"column:tx_hash;not null;type:text;uniqueIndex:idx_bulk_cancel_events_event_key"`
	TxIndex    uint64    `gorm:"column:tx_index;not null"`
	LogIndex   uint64    `gorm:"column:log_index;not null;uniqueIndex:idx_bulk_cancel_events_event_key"`
	BatchIndex uint64    `gorm:"column:batch_index;not null;uniqueIndex:idx_bulk_cancel_events_event_key"`
	Timestamp  int64     `gorm:"column:timestamp;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the BulkCancelEvent model
func (BulkCancelEvent) TableName() string {
	return "bulk_cancel_events"
}

// NonceCancelEvent represents the nonce_cancel_events table - exact-nonce
// cancellations
type NonceCancelEvent struct {
	ID         uint64           `gorm:"column:id;primaryKey;autoIncrement"`
	OrderKind  domain.OrderKind `gorm:"column:order_kind;not null;type:text"`
	Maker      string           `gorm:"column:maker;not null;type:text;index:idx_nonce_cancel_events_maker"`
	Nonce      string           `gorm:"column:nonce;not null;type:numeric(78,0)"`
	Address    string           `gorm:"column:address;not null;type:text"`
	Block      uint64           `gorm:"column:block;not null;index:idx_nonce_cancel_events_block"`
	BlockHash  string           `gorm:"column:block_hash;not null;type:text"`
	TxHash     string           `gorm:"column:tx_hash;not null;type:text;uniqueIndex:idx_nonce_cancel_events_event_key"`
	TxIndex    uint64           `gorm:"column:tx_index;not null"`
	LogIndex   uint64           `gorm:"column:log_index;not null;uniqueIndex:idx_nonce_cancel_events_event_key"`
	BatchIndex uint64           `gorm:"column:batch_index;not null;uniqueIndex:idx_nonce_cancel_events_event_key"`
	Timestamp  int64            `gorm:"column:timestamp;not null"`
	CreatedAt  time.Time        `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the NonceCancelEvent model
func (NonceCancelEvent) TableName() string {
	return "nonce_cancel_events"
}
