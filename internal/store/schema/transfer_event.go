package schema

import (
	"time"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// NftTransferEvent represents the nft_transfer_events table - canonical
// ERC721/ERC1155 ownership movements (including mints and burns)
type NftTransferEvent struct {
	ID         uint64               `gorm:"column:id;primaryKey;autoIncrement"`
	Kind       domain.TokenStandard `gorm:"column:kind;not null;type:text"`
	FromAddr   string               `gorm:"column:from_address;not null;type:text;index:idx_nft_transfer_events_from"`
	ToAddr     string               `gorm:"column:to_address;not null;type:text;index:idx_nft_transfer_events_to"`
	Contract   string               `gorm:"column:contract;not null;type:text;index:idx_nft_transfer_events_token"`
	TokenID    string               `gorm:"column:token_id;not null;type:numeric(78,0);index:idx_nft_transfer_events_token"`
	Amount     string               `gorm:"column:amount;not null;type:numeric(78,0)"`
	Block      uint64               `gorm:"column:block;not null;index:idx_nft_transfer_events_block"`
	BlockHash  string               `gorm:"column:block_hash;not null;type:text"`
	TxHash     string               `gorm:"column:tx_hash;not null;type:text;uniqueIndex:idx_nft_transfer_events_event_key"`
	TxIndex    uint64               `gorm:"column:tx_index;not null"`
	LogIndex   uint64               `gorm:"column:log_index;not null;uniqueIndex:idx_nft_transfer_events_event_key"`
	BatchIndex uint64               `gorm:"column:batch_index;not null;uniqueIndex:idx_nft_transfer_events_event_key"`
	Timestamp  int64                `gorm:"column:timestamp;not null"`
	CreatedAt  time.Time            `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the NftTransferEvent model
func (NftTransferEvent) TableName() string {
	return "nft_transfer_events"
}

// NftApprovalEvent represents the nft_approval_events table - operator
// approvals that gate whether a maker's sell orders stay fillable
type NftApprovalEvent struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Owner      string    `gorm:"column:owner;not null;type:text;index:idx_nft_approval_events_owner"`
	Operator   string    `gorm:"column:operator;not null;type:text"`
	Approved   bool      `gorm:"column:approved;not null"`
	Contract   string    `gorm:"column:contract;not null;type:text"`
	Block      uint64    `gorm:"column:block;not null;index:idx_nft_approval_events_block"`
	BlockHash  string    `gorm:"column:block_hash;not null;type:text"`
	TxHash     string    `gorm:"column:tx_hash;not null;type:text;uniqueIndex:idx_nft_approval_events_event_key"`
	TxIndex    uint64    `gorm:"column:tx_index;not null"`
	LogIndex   uint64    `gorm:"column:log_index;not null;uniqueIndex:idx_nft_approval_events_event_key"`
	BatchIndex uint64    `gorm:"column:batch_index;not null;uniqueIndex:idx_nft_approval_events_event_key"`
	Timestamp  int64     `gorm:"column:timestamp;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the NftApprovalEvent model
func (NftApprovalEvent) TableName() string {
	return "nft_approval_events"
}

// FtTransferEvent represents the ft_transfer_events table - ERC20
// movements (wrapped-native mints/burns normalized in), kept for buy-side
// maker balance revalidation
type FtTransferEvent struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	FromAddr   string    `gorm:"column:from_address;not null;type:text;index:idx_ft_transfer_events_from"`
	ToAddr     string    `gorm:"column:to_address;not null;type:text;index:idx_ft_transfer_events_to"`
	Contract   string    `gorm:"column:contract;not null;type:text"`
	Amount     string    `gorm:"column:amount;not null;type:numeric(78,0)"`
	Block      uint64    `gorm:"column:block;not null;index:idx_ft_transfer_events_block"`
	BlockHash  string    `gorm:"column:block_hash;not null;type:text"`
	TxHash     string    `gorm:"column:tx_hash;not null;type:text;uniqueIndex:idx_ft_transfer_events_event_key"`
	TxIndex    uint64    `gorm:"column:tx_index;not null"`
	LogIndex   uint64    `gorm:"column:log_index;not null;uniqueIndex:idx_ft_transfer_events_event_key"`
	BatchIndex uint64    `gorm:"column:batch_index;not null;uniqueIndex:idx_ft_transfer_events_event_key"`
	Timestamp  int64     `gorm:"column:timestamp;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the FtTransferEvent model
func (FtTransferEvent) TableName() string {
	return "ft_transfer_events"
}
