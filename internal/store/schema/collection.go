package schema

import (
	"time"

	"gorm.io/datatypes"
)

// Collection represents the collections table - per-collection config and
// derived aggregates. Royalties holds the configured creator entitlements
// used by royalty classification; the top_buy_* columns are a denormalized
// cache maintained by compare-and-swap reconciliation.
type Collection struct {
	// ID is the collection identifier (contract address for full
	// collections, contract:start:end for ranges)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Contract is the collection's token contract
	Contract string `gorm:"column:contract;not null;type:text;index:idx_collections_contract"`
	// Name is the collection's display name
	Name *string `gorm:"column:name;type:text"`
	// Royalties is the configured creator royalty entitlements, a JSON
	// array of {recipient, bps}
	Royalties datatypes.JSON `gorm:"column:royalties;type:jsonb"`
	// RoyaltyBps is the total configured creator royalty, in bps
	RoyaltyBps int `gorm:"column:royalty_bps;not null;default:0"`
	// TopBuyID is the id of the highest fillable collection-wide bid
	TopBuyID *string `gorm:"column:top_buy_id;type:text"`
	// TopBuyValue is that order's value in native wei
	TopBuyValue *string `gorm:"column:top_buy_value;type:numeric(78,0)"`
	// TopBuyMaker is that order's maker
	TopBuyMaker *string `gorm:"column:top_buy_maker;type:text"`
	// CreatedAt is when this record was indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Collection model
func (Collection) TableName() string {
	return "collections"
}
