package sweeper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/aggregate"
	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/store"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 500
)

// Sweeper is a long-running maintenance loop over derived order state.
// Start blocks until the context is cancelled or Stop is called; Stop
// waits for the in-flight sweep to finish.
type Sweeper interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ExpirySweeperConfig holds configuration for the order expiry sweeper
type ExpirySweeperConfig struct {
	// Interval is how long to sleep when a sweep finds nothing to expire
	Interval time.Duration
	// BatchSize caps how many orders one sweep statement expires
	BatchSize int
}

// expirySweeper walks open orders past their validity window and
// transitions them to expired. Expiry is time-driven rather than
// event-driven, so it cannot piggyback on the ingest pipeline; this is
// the only component that generates state transitions without a log.
type expirySweeper struct {
	config     *ExpirySweeperConfig
	store      store.Store
	reconciler *aggregate.Reconciler
	clock      adapter.Clock
	running    atomic.Bool
	stopChan   chan struct{}
	stoppedCh  chan struct{}
}

// NewExpirySweeper creates an order expiry sweeper
func NewExpirySweeper(
	config *ExpirySweeperConfig,
	st store.Store,
	reconciler *aggregate.Reconciler,
	clock adapter.Clock,
) Sweeper {
	if config.Interval == 0 {
		config.Interval = defaultSweepInterval
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaultSweepBatch
	}
	return &expirySweeper{
		config:     config,
		store:      st,
		reconciler: reconciler,
		clock:      clock,
		stopChan:   make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *expirySweeper) Name() string {
	return "order-expiry-sweeper"
}

// Start begins the sweeper's main loop. A full batch means a backlog,
// in which case the next sweep runs immediately instead of sleeping.
func (s *expirySweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting order expiry sweeper",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize))

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Order expiry sweeper stopping due to context cancellation", zap.Error(ctx.Err()))
			return nil
		case <-s.stopChan:
			logger.InfoCtx(ctx, "Order expiry sweeper stop requested")
			return nil
		default:
		}

		expired, err := s.sweepOnce(ctx)
		if err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Sweep cycle failed"))
		}
		if err == nil && expired == s.config.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
		case <-s.stopChan:
		case <-s.clock.After(s.config.Interval):
		}
	}
}

// Stop gracefully stops the sweeper
func (s *expirySweeper) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	close(s.stopChan)

	select {
	case <-s.stoppedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for sweeper to stop: %w", ctx.Err())
	}
}

// sweepOnce expires one batch of stale orders and reconciles the
// aggregates they were holding up
func (s *expirySweeper) sweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now().Unix()
	ids, err := s.store.SweepExpiredOrders(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired orders: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	logger.InfoCtx(ctx, "Expired orders", zap.Int("count", len(ids)))

	trigger := domain.Trigger{Kind: domain.TriggerKindExpiry, TxTimestamp: now}
	for _, id := range ids {
		order, err := s.store.GetOrderByID(ctx, id)
		if err != nil {
			return len(ids), err
		}
		if order == nil {
			continue
		}
		if order.Side == domain.OrderSideSell && order.TokenID != nil {
			if err := s.reconciler.RefreshTokenFloorAsk(ctx, order.Contract, *order.TokenID, trigger); err != nil {
				return len(ids), err
			}
			continue
		}
		collectionID := order.Contract
		if order.CollectionID != nil {
			collectionID = *order.CollectionID
		}
		if err := s.reconciler.RefreshCollectionTopBid(ctx, collectionID, trigger); err != nil {
			return len(ids), err
		}
	}
	return len(ids), nil
}
