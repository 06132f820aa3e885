package schema

import "time"

// UsdPrice represents the usd_prices table - daily USD rates per
// settlement currency, keyed by the UTC day bucket so historical fills
// price against the rate of their own day
type UsdPrice struct {
	// Currency is the currency contract address (zero address = native)
	Currency string `gorm:"column:currency;primaryKey;type:text"`
	// Day is the UTC day bucket (unix timestamp truncated to 86400)
	Day int64 `gorm:"column:day;primaryKey"`
	// Value is the USD rate scaled to 6 decimals
	Value string `gorm:"column:value;not null;type:numeric(78,0)"`
	// Decimals is the currency's on-chain decimal count
	Decimals int32 `gorm:"column:decimals;not null"`
	// Provider names the rate source
	Provider string `gorm:"column:provider;not null;type:text"`
	// CreatedAt is when this rate was recorded
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the UsdPrice model
func (UsdPrice) TableName() string {
	return "usd_prices"
}
