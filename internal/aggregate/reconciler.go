package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/fanout"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/store"
)

// lockTTL bounds how long one reconciliation may hold an aggregate's
// advisory lock. Holders that die take at most this long to unblock the
// aggregate again.
const lockTTL = time.Minute

const lockPrefix = "aggregate:lock:"

// releaseScript deletes the lock only when the caller still owns it, so
// a reconciliation that outlived its TTL cannot release a successor's lock
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Reconciler serializes aggregate recomputations per token/collection.
// The database CAS already makes concurrent reconciliations converge;
// the advisory lock exists to avoid burning transactions on work another
// worker is already doing, and to spread retries out via the job queue
// instead of spinning.
type Reconciler struct {
	store     store.Store
	redis     adapter.RedisClient
	publisher fanout.Publisher
	clock     adapter.Clock
}

// NewReconciler creates an aggregate reconciler
func NewReconciler(st store.Store, redisClient adapter.RedisClient, publisher fanout.Publisher, clock adapter.Clock) *Reconciler {
	return &Reconciler{
		store:     st,
		redis:     redisClient,
		publisher: publisher,
		clock:     clock,
	}
}

// RefreshTokenFloorAsk reconciles one token's floor ask under the
// advisory lock. When the lock is held elsewhere the refresh is
// rescheduled for after the holder's TTL instead of blocking.
func (r *Reconciler) RefreshTokenFloorAsk(ctx context.Context, contract string, tokenID string, trigger domain.Trigger) error {
	lockKey := fmt.Sprintf("%sfloor-ask:%s:%s", lockPrefix, contract, tokenID)

	acquired, token, err := r.acquire(ctx, lockKey)
	if err != nil {
		return err
	}
	if !acquired {
		return r.reschedule(ctx, lockKey, fanout.AggregateRefresh{
			Contract: contract,
			TokenID:  tokenID,
			Trigger:  trigger,
		})
	}
	defer r.release(ctx, lockKey, token)

	change, err := r.store.ReconcileTokenFloorAsk(ctx, contract, tokenID, trigger)
	if err != nil {
		return fmt.Errorf("failed to reconcile floor ask for %s:%s: %w", contract, tokenID, err)
	}
	if change == nil {
		return nil
	}

	logger.InfoCtx(ctx, "Token floor ask changed",
		zap.String("contract", contract),
		zap.String("token_id", tokenID),
		zap.String("kind", string(trigger.Kind)))

	return r.publisher.PublishFloorAskChange(ctx, &fanout.FloorAskChange{
		Contract:      change.Contract,
		TokenID:       change.TokenID,
		OrderID:       change.NewOrderID,
		Maker:         change.NewMaker,
		Price:         change.NewPrice,
		PreviousPrice: change.PrevPrice,
		Trigger:       trigger,
	})
}

// RefreshCollectionTopBid reconciles one collection's top bid under the
// advisory lock, rescheduling when the lock is held elsewhere
func (r *Reconciler) RefreshCollectionTopBid(ctx context.Context, collectionID string, trigger domain.Trigger) error {
	lockKey := fmt.Sprintf("%stop-bid:%s", lockPrefix, collectionID)

	acquired, token, err := r.acquire(ctx, lockKey)
	if err != nil {
		return err
	}
	if !acquired {
		return r.reschedule(ctx, lockKey, fanout.AggregateRefresh{
			CollectionID: collectionID,
			Trigger:      trigger,
		})
	}
	defer r.release(ctx, lockKey, token)

	change, err := r.store.ReconcileCollectionTopBid(ctx, collectionID, trigger)
	if err != nil {
		return fmt.Errorf("failed to reconcile top bid for %s: %w", collectionID, err)
	}
	if change == nil {
		return nil
	}

	logger.InfoCtx(ctx, "Collection top bid changed",
		zap.String("collection_id", collectionID),
		zap.String("kind", string(trigger.Kind)))

	return r.publisher.PublishTopBidChange(ctx, &fanout.TopBidChange{
		CollectionID:  change.CollectionID,
		OrderID:       change.NewOrderID,
		Maker:         change.NewMaker,
		Price:         change.NewPrice,
		PreviousPrice: change.PrevPrice,
		Trigger:       trigger,
	})
}

func (r *Reconciler) acquire(ctx context.Context, lockKey string) (bool, string, error) {
	token := ulid.MustNewDefault(r.clock.Now()).String()
	acquired, err := r.redis.SetNX(ctx, lockKey, token, lockTTL)
	if err != nil {
		return false, "", fmt.Errorf("failed to acquire aggregate lock %s: %w", lockKey, err)
	}
	return acquired, token, nil
}

func (r *Reconciler) release(ctx context.Context, lockKey string, token string) {
	if _, err := r.redis.Eval(ctx, releaseScript, []string{lockKey}, token); err != nil {
		logger.WarnCtx(ctx, "Failed to release aggregate lock", zap.String("key", lockKey), zap.Error(err))
	}
}

// reschedule queues the refresh for after the current holder's remaining
// TTL. The holder's own reconciliation may land a newer winner first; the
// rescheduled run then degenerates into a no-op CAS.
func (r *Reconciler) reschedule(ctx context.Context, lockKey string, refresh fanout.AggregateRefresh) error {
	remaining, err := r.redis.PTTL(ctx, lockKey)
	if err != nil || remaining < 0 {
		remaining = lockTTL
	}

	payload, err := json.Marshal(refresh)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate refresh: %w", err)
	}

	job := &fanout.Job{
		Kind:      fanout.JobKindAggregateRefresh,
		Context:   lockKey,
		NotBefore: r.clock.Now().Add(remaining).Unix() + 1,
		Payload:   payload,
	}
	if err := r.publisher.PublishJob(ctx, job); err != nil {
		return fmt.Errorf("failed to reschedule aggregate refresh: %w", err)
	}

	logger.DebugCtx(ctx, "Aggregate lock held, refresh rescheduled",
		zap.String("key", lockKey),
		zap.Duration("delay", remaining))
	return nil
}
