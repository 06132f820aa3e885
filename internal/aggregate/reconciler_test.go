package aggregate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/fanout"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/store"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeStore struct {
	store.Store

	floorChange    *store.FloorAskChange
	topBidChange   *store.TopBidChange
	floorRefreshes int
	topBidRefreshes int
}

func (f *fakeStore) ReconcileTokenFloorAsk(context.Context, string, string, domain.Trigger) (*store.FloorAskChange, error) {
	f.floorRefreshes++
	return f.floorChange, nil
}

func (f *fakeStore) ReconcileCollectionTopBid(context.Context, string, domain.Trigger) (*store.TopBidChange, error) {
	f.topBidRefreshes++
	return f.topBidChange, nil
}

type fakePublisher struct {
	jobs         []*fanout.Job
	floorChanges []*fanout.FloorAskChange
	topBids      []*fanout.TopBidChange
}

func (f *fakePublisher) PublishJob(_ context.Context, job *fanout.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakePublisher) PublishActivity(context.Context, *fanout.Activity) error { return nil }

func (f *fakePublisher) PublishFloorAskChange(_ context.Context, change *fanout.FloorAskChange) error {
	f.floorChanges = append(f.floorChanges, change)
	return nil
}

func (f *fakePublisher) PublishTopBidChange(_ context.Context, change *fanout.TopBidChange) error {
	f.topBids = append(f.topBids, change)
	return nil
}

func (f *fakePublisher) Close() {}

type fakeRedis struct {
	values map[string]string
	pttl   time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) Ping(context.Context) error { return nil }

func (f *fakeRedis) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeRedis) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.values[key] = value
	return nil
}

func (f *fakeRedis) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func (f *fakeRedis) PTTL(context.Context, string) (time.Duration, error) {
	return f.pttl, nil
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) (interface{}, error) {
	if len(keys) == 1 && len(args) == 1 {
		if f.values[keys[0]] == args[0] {
			delete(f.values, keys[0])
			return int64(1), nil
		}
	}
	return int64(0), nil
}

func (f *fakeRedis) NewRateLimiter() adapter.RedisRateLimiter { return nil }

func (f *fakeRedis) Close() error { return nil }

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time                       { return f.now }
func (f *fakeClock) Since(t time.Time) time.Duration      { return f.now.Sub(t) }
func (f *fakeClock) Sleep(time.Duration)                  {}
func (f *fakeClock) Unix(sec, nsec int64) time.Time       { return time.Unix(sec, nsec) }
func (f *fakeClock) After(time.Duration) <-chan time.Time { return nil }

func strPtr(s string) *string { return &s }

func TestRefreshTokenFloorAskPublishesChange(t *testing.T) {
	st := &fakeStore{floorChange: &store.FloorAskChange{
		Contract:   "0xc011",
		TokenID:    "1",
		NewOrderID: strPtr("order-1"),
		NewPrice:   strPtr("1000"),
		PrevPrice:  strPtr("2000"),
	}}
	pub := &fakePublisher{}
	redis := newFakeRedis()
	r := NewReconciler(st, redis, pub, &fakeClock{now: time.Unix(1700000000, 0)})

	trigger := domain.Trigger{Kind: domain.TriggerKindSale, TxHash: "0xabc"}
	err := r.RefreshTokenFloorAsk(context.Background(), "0xc011", "1", trigger)
	require.NoError(t, err)

	assert.Equal(t, 1, st.floorRefreshes)
	require.Len(t, pub.floorChanges, 1)
	change := pub.floorChanges[0]
	assert.Equal(t, "0xc011", change.Contract)
	assert.Equal(t, "order-1", *change.OrderID)
	assert.Equal(t, "1000", *change.Price)
	assert.Equal(t, "2000", *change.PreviousPrice)
	assert.Equal(t, trigger, change.Trigger)

	// The advisory lock is released after the reconciliation
	_, held := redis.values["aggregate:lock:floor-ask:0xc011:1"]
	assert.False(t, held)
}

func TestRefreshTokenFloorAskNoChangePublishesNothing(t *testing.T) {
	st := &fakeStore{floorChange: nil}
	pub := &fakePublisher{}
	r := NewReconciler(st, newFakeRedis(), pub, &fakeClock{now: time.Unix(1700000000, 0)})

	err := r.RefreshTokenFloorAsk(context.Background(), "0xc011", "1", domain.Trigger{Kind: domain.TriggerKindRevalidation})
	require.NoError(t, err)

	assert.Equal(t, 1, st.floorRefreshes)
	assert.Empty(t, pub.floorChanges)
}

func TestRefreshTokenFloorAskLockHeldReschedules(t *testing.T) {
	st := &fakeStore{}
	pub := &fakePublisher{}
	redis := newFakeRedis()
	redis.values["aggregate:lock:floor-ask:0xc011:1"] = "someone-else"
	redis.pttl = 30 * time.Second
	now := time.Unix(1700000000, 0)
	r := NewReconciler(st, redis, pub, &fakeClock{now: now})

	err := r.RefreshTokenFloorAsk(context.Background(), "0xc011", "1", domain.Trigger{Kind: domain.TriggerKindSale})
	require.NoError(t, err)

	// No reconciliation ran; a deferred retry was queued past the holder's TTL
	assert.Zero(t, st.floorRefreshes)
	require.Len(t, pub.jobs, 1)
	job := pub.jobs[0]
	assert.Equal(t, fanout.JobKindAggregateRefresh, job.Kind)
	assert.Equal(t, "aggregate:lock:floor-ask:0xc011:1", job.Context)
	assert.Equal(t, now.Add(30*time.Second).Unix()+1, job.NotBefore)
}

func TestRefreshCollectionTopBidPublishesChange(t *testing.T) {
	st := &fakeStore{topBidChange: &store.TopBidChange{
		CollectionID: "0xc011",
		NewOrderID:   strPtr("bid-1"),
		NewPrice:     strPtr("5000"),
	}}
	pub := &fakePublisher{}
	r := NewReconciler(st, newFakeRedis(), pub, &fakeClock{now: time.Unix(1700000000, 0)})

	err := r.RefreshCollectionTopBid(context.Background(), "0xc011", domain.Trigger{Kind: domain.TriggerKindNewOrder})
	require.NoError(t, err)

	assert.Equal(t, 1, st.topBidRefreshes)
	require.Len(t, pub.topBids, 1)
	assert.Equal(t, "0xc011", pub.topBids[0].CollectionID)
	assert.Equal(t, "bid-1", *pub.topBids[0].OrderID)
}

func TestRefreshCollectionTopBidLockHeldReschedules(t *testing.T) {
	st := &fakeStore{}
	pub := &fakePublisher{}
	redis := newFakeRedis()
	redis.values["aggregate:lock:top-bid:0xc011"] = "someone-else"
	redis.pttl = time.Second
	r := NewReconciler(st, redis, pub, &fakeClock{now: time.Unix(1700000000, 0)})

	err := r.RefreshCollectionTopBid(context.Background(), "0xc011", domain.Trigger{Kind: domain.TriggerKindCancel})
	require.NoError(t, err)

	assert.Zero(t, st.topBidRefreshes)
	require.Len(t, pub.jobs, 1)
}
