package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/openfloor/marketplace-indexer/internal/store/schema"
)

// BlockCursor is the last fully processed block, with its hash kept for
// reorg detection on the next iteration
type BlockCursor struct {
	Number uint64
	Hash   string
}

// GetBlockCursor retrieves the last processed block for a chain.
// Returns a zero cursor if none exists yet.
func (s *pgStore) GetBlockCursor(ctx context.Context, chain string) (BlockCursor, error) {
	key := fmt.Sprintf("block_cursor:%s", chain)

	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BlockCursor{}, nil
		}
		return BlockCursor{}, fmt.Errorf("failed to get block cursor: %w", err)
	}

	number, hash, _ := strings.Cut(kv.Value, ":")
	blockNumber, err := strconv.ParseUint(number, 10, 64)
	if err != nil {
		return BlockCursor{}, fmt.Errorf("failed to parse block cursor: %w", err)
	}

	return BlockCursor{Number: blockNumber, Hash: hash}, nil
}

// SetBlockCursor stores the last processed block for a chain
func (s *pgStore) SetBlockCursor(ctx context.Context, chain string, cursor BlockCursor) error {
	key := fmt.Sprintf("block_cursor:%s", chain)
	value := strconv.FormatUint(cursor.Number, 10) + ":" + cursor.Hash

	kv := schema.KeyValueStore{
		Key:   key,
		Value: value,
	}

	err := s.db.WithContext(ctx).Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set block cursor: %w", err)
	}

	return nil
}
