package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/aggregate"
	"github.com/openfloor/marketplace-indexer/internal/attribution"
	"github.com/openfloor/marketplace-indexer/internal/decoder"
	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/fanout"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/price"
	"github.com/openfloor/marketplace-indexer/internal/store"
)

const (
	defaultMaxBlockRange = 200
	defaultPollInterval  = 12 * time.Second
	defaultDecodeWorkers = 8
	defaultReorgDepth    = 32
)

// Config holds the engine's chain-facing settings
type Config struct {
	// Chain names the network, used to key the block cursor
	Chain string
	// WrappedNative is the chain's wrapped-native token address
	WrappedNative string
	// StartBlock is where a fresh deployment begins indexing
	StartBlock uint64
	// Confirmations is how many blocks behind the head the engine stays
	Confirmations uint64
	// MaxBlockRange caps how many blocks one log query spans
	MaxBlockRange uint64
	// PollInterval is how long to wait when the chain has no new blocks
	PollInterval time.Duration
	// DecodeWorkers bounds the parallel per-transaction decode fanout
	DecodeWorkers int
	// ReorgDepth is how far the engine rewinds when the cursor's block
	// hash no longer matches the canonical chain
	ReorgDepth uint64
}

func (c *Config) applyDefaults() {
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = defaultMaxBlockRange
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.DecodeWorkers == 0 {
		c.DecodeWorkers = defaultDecodeWorkers
	}
	if c.ReorgDepth == 0 {
		c.ReorgDepth = defaultReorgDepth
	}
}

// Engine drives the ingest pipeline: poll the chain, decode recognized
// logs per transaction, apply the canonical data to the store and fan
// out follow-up work. Decoding is parallel and pure; applying is
// sequential in block and transaction order so derived state sees
// events in chain order.
type Engine struct {
	cfg        Config
	eth        adapter.EthClient
	registry   *decoder.Registry
	store      store.Store
	oracle     price.Oracle
	sources    *attribution.Resolver
	publisher  fanout.Publisher
	reconciler *aggregate.Reconciler
	clock      adapter.Clock
	pool       pond.ResultPool[*decodedTx]
}

// New creates an ingest engine
func New(
	cfg Config,
	eth adapter.EthClient,
	registry *decoder.Registry,
	st store.Store,
	oracle price.Oracle,
	sources *attribution.Resolver,
	publisher fanout.Publisher,
	reconciler *aggregate.Reconciler,
	clock adapter.Clock,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:        cfg,
		eth:        eth,
		registry:   registry,
		store:      st,
		oracle:     oracle,
		sources:    sources,
		publisher:  publisher,
		reconciler: reconciler,
		clock:      clock,
		pool:       pond.NewResultPool[*decodedTx](cfg.DecodeWorkers),
	}
}

// Run polls the chain until the context is cancelled. Errors are logged
// and retried on the next poll; the cursor only advances past fully
// applied ranges, so a crash at any point replays idempotently.
func (e *Engine) Run(ctx context.Context) error {
	logger.Info("Starting ingest engine",
		zap.String("chain", e.cfg.Chain),
		zap.Uint64("start_block", e.cfg.StartBlock),
		zap.Uint64("confirmations", e.cfg.Confirmations))

	for {
		processed, err := e.syncOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.ErrorCtx(ctx, err, zap.String("message", "Sync iteration failed"))
		}
		if processed && err == nil {
			// More blocks may be waiting; keep going without sleeping
			continue
		}
		select {
		case <-ctx.Done():
			logger.Info("Shutting down ingest engine")
			return ctx.Err()
		case <-e.clock.After(e.cfg.PollInterval):
		}
	}
}

// syncOnce processes at most one block range. Reports whether any
// blocks were consumed so the caller knows to poll again immediately.
func (e *Engine) syncOnce(ctx context.Context) (bool, error) {
	head, err := e.eth.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get chain head: %w", err)
	}
	if head < e.cfg.Confirmations {
		return false, nil
	}
	safeHead := head - e.cfg.Confirmations

	cursor, err := e.store.GetBlockCursor(ctx, e.cfg.Chain)
	if err != nil {
		return false, fmt.Errorf("failed to get block cursor: %w", err)
	}

	var from uint64
	if cursor.Number == 0 && cursor.Hash == "" {
		from = e.cfg.StartBlock
	} else {
		if err := e.checkReorg(ctx, &cursor); err != nil {
			return false, err
		}
		from = cursor.Number + 1
	}

	if from > safeHead {
		return false, nil
	}
	to := from + e.cfg.MaxBlockRange - 1
	if to > safeHead {
		to = safeHead
	}

	if err := e.ProcessBlockRange(ctx, from, to); err != nil {
		return false, err
	}

	header, err := e.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(to))
	if err != nil {
		return false, fmt.Errorf("failed to get header %d: %w", to, err)
	}
	if err := e.store.SetBlockCursor(ctx, e.cfg.Chain, store.BlockCursor{
		Number: to,
		Hash:   domain.NormalizeAddress(header.Hash().Hex()),
	}); err != nil {
		return false, fmt.Errorf("failed to save block cursor: %w", err)
	}

	logger.InfoCtx(ctx, "Processed block range",
		zap.String("chain", e.cfg.Chain),
		zap.Uint64("from", from),
		zap.Uint64("to", to))
	return true, nil
}

// checkReorg compares the cursor's stored hash against the canonical
// chain. On a mismatch the engine purges non-canonical event rows over
// the rewind window and steps the cursor back; replaying the window
// restores derived state because every write is keyed on the event's
// identity.
func (e *Engine) checkReorg(ctx context.Context, cursor *store.BlockCursor) error {
	header, err := e.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(cursor.Number))
	if err != nil {
		return fmt.Errorf("failed to get header %d: %w", cursor.Number, err)
	}
	canonical := domain.NormalizeAddress(header.Hash().Hex())
	if cursor.Hash == "" || cursor.Hash == canonical {
		return nil
	}

	logger.WarnCtx(ctx, "Reorg detected, rewinding",
		zap.Uint64("block", cursor.Number),
		zap.String("stored_hash", cursor.Hash),
		zap.String("canonical_hash", canonical),
		zap.Uint64("depth", e.cfg.ReorgDepth))

	rewindTo := e.cfg.StartBlock
	if cursor.Number > e.cfg.ReorgDepth && cursor.Number-e.cfg.ReorgDepth > rewindTo {
		rewindTo = cursor.Number - e.cfg.ReorgDepth
	}
	for b := cursor.Number; b > rewindTo; b-- {
		h, err := e.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(b))
		if err != nil {
			return fmt.Errorf("failed to get header %d: %w", b, err)
		}
		if err := e.store.RemoveBlockEvents(ctx, b, domain.NormalizeAddress(h.Hash().Hex())); err != nil {
			return fmt.Errorf("failed to purge block %d: %w", b, err)
		}
	}

	anchor, err := e.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(rewindTo))
	if err != nil {
		return fmt.Errorf("failed to get header %d: %w", rewindTo, err)
	}
	*cursor = store.BlockCursor{Number: rewindTo, Hash: domain.NormalizeAddress(anchor.Hash().Hex())}
	return e.store.SetBlockCursor(ctx, e.cfg.Chain, *cursor)
}

// decodedTx is one transaction's recognized logs reduced to canonical
// data, still in block/tx order relative to its siblings
type decodedTx struct {
	txHash    string
	block     uint64
	blockHash string
	timestamp int64
	data      *domain.OnChainData
}

// ProcessBlockRange fetches, decodes and applies every recognized log
// in [from, to]. Safe to call repeatedly over the same range.
func (e *Engine) ProcessBlockRange(ctx context.Context, from uint64, to uint64) error {
	logs, err := e.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{e.registry.Topics()},
	})
	if err != nil {
		return fmt.Errorf("failed to filter logs [%d, %d]: %w", from, to, err)
	}
	if len(logs) == 0 {
		return nil
	}

	timestamps, err := e.blockTimestamps(ctx, logs)
	if err != nil {
		return err
	}

	groups := groupByTx(logs)

	// Decode fans out per transaction; parsing and handler dispatch are
	// pure so order between transactions does not matter here
	tasks := make([]pond.Result[*decodedTx], len(groups))
	for i, group := range groups {
		group := group
		tasks[i] = e.pool.SubmitErr(func() (*decodedTx, error) {
			return e.decodeTx(group, timestamps[group.block])
		})
	}

	// Apply stays sequential in chain order
	for _, task := range tasks {
		decoded, err := task.Wait()
		if err != nil {
			return err
		}
		if decoded == nil || decoded.data.Empty() {
			continue
		}
		if err := e.applyOnChainData(ctx, decoded); err != nil {
			return fmt.Errorf("failed to apply tx %s: %w", decoded.txHash, err)
		}
	}
	return nil
}

func (e *Engine) blockTimestamps(ctx context.Context, logs []types.Log) (map[uint64]int64, error) {
	blocks := make(map[uint64]struct{})
	for _, log := range logs {
		blocks[log.BlockNumber] = struct{}{}
	}

	var mu sync.Mutex
	timestamps := make(map[uint64]int64, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.DecodeWorkers)
	for block := range blocks {
		block := block
		g.Go(func() error {
			header, err := e.eth.HeaderByNumber(gctx, new(big.Int).SetUint64(block))
			if err != nil {
				return fmt.Errorf("failed to get header %d: %w", block, err)
			}
			mu.Lock()
			timestamps[block] = int64(header.Time)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return timestamps, nil
}

// txGroup is one transaction's logs in ascending log index order
type txGroup struct {
	txHash    string
	block     uint64
	blockHash string
	logs      []types.Log
}

// groupByTx splits a log batch into per-transaction groups, preserving
// the node's block/log ordering
func groupByTx(logs []types.Log) []txGroup {
	var groups []txGroup
	index := make(map[string]int)
	for _, log := range logs {
		key := log.TxHash.Hex()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, txGroup{
				txHash:    domain.NormalizeAddress(log.TxHash.Hex()),
				block:     log.BlockNumber,
				blockHash: domain.NormalizeAddress(log.BlockHash.Hex()),
			})
		}
		groups[i].logs = append(groups[i].logs, log)
	}
	return groups
}

// decodeTx parses one transaction's logs and runs the handler chain.
// Handler failures are contained to the transaction: the canonical
// model of one malformed protocol interaction must not stall ingest.
func (e *Engine) decodeTx(group txGroup, timestamp int64) (*decodedTx, error) {
	events := make([]decoder.EnhancedEvent, 0, len(group.logs))
	for _, log := range group.logs {
		if log.Removed {
			continue
		}
		if ev, ok := e.registry.Parse(log, timestamp); ok {
			events = append(events, ev)
		}
	}
	if len(events) == 0 {
		return nil, nil
	}

	data, err := e.registry.ProcessTx(events)
	if err != nil {
		logger.Warn("Failed to decode transaction, skipping",
			zap.String("tx_hash", group.txHash),
			zap.Error(err))
		return nil, nil
	}
	return &decodedTx{
		txHash:    group.txHash,
		block:     group.block,
		blockHash: group.blockHash,
		timestamp: timestamp,
		data:      data,
	}, nil
}
