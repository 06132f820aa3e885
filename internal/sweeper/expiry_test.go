package sweeper

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/aggregate"
	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/fanout"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/store"
	"github.com/openfloor/marketplace-indexer/internal/store/schema"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeStore struct {
	store.Store

	expiredIDs []string
	orders     map[string]*schema.Order

	sweepCalls      int
	floorRefreshes  []string
	topBidRefreshes []string
	lastTrigger     domain.Trigger
}

func (f *fakeStore) SweepExpiredOrders(context.Context, int64, int) ([]string, error) {
	f.sweepCalls++
	return f.expiredIDs, nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, orderID string) (*schema.Order, error) {
	return f.orders[orderID], nil
}

func (f *fakeStore) ReconcileTokenFloorAsk(_ context.Context, contract string, tokenID string, trigger domain.Trigger) (*store.FloorAskChange, error) {
	f.floorRefreshes = append(f.floorRefreshes, contract+":"+tokenID)
	f.lastTrigger = trigger
	return nil, nil
}

func (f *fakeStore) ReconcileCollectionTopBid(_ context.Context, collectionID string, trigger domain.Trigger) (*store.TopBidChange, error) {
	f.topBidRefreshes = append(f.topBidRefreshes, collectionID)
	f.lastTrigger = trigger
	return nil, nil
}

type fakePublisher struct{}

func (fakePublisher) PublishJob(context.Context, *fanout.Job) error                   { return nil }
func (fakePublisher) PublishActivity(context.Context, *fanout.Activity) error         { return nil }
func (fakePublisher) PublishFloorAskChange(context.Context, *fanout.FloorAskChange) error { return nil }
func (fakePublisher) PublishTopBidChange(context.Context, *fanout.TopBidChange) error { return nil }
func (fakePublisher) Close()                                                          {}

type fakeRedis struct {
	values map[string]string
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

func (f *fakeRedis) PTTL(context.Context, string) (time.Duration, error) { return 0, nil }

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, _ ...interface{}) (interface{}, error) {
	for _, k := range keys {
		delete(f.values, k)
	}
	return int64(1), nil
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

func newTestSweeper(st *fakeStore) *expirySweeper {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reconciler := aggregate.NewReconciler(st, newFakeRedis(), fakePublisher{}, clock)
	return NewExpirySweeper(&ExpirySweeperConfig{}, st, reconciler, clock).(*expirySweeper)
}

func TestSweepOnceNothingToExpire(t *testing.T) {
	st := &fakeStore{}
	s := newTestSweeper(st)

	expired, err := s.sweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Equal(t, 1, st.sweepCalls)
	assert.Empty(t, st.floorRefreshes)
}

func TestSweepOnceRefreshesExpiredAskAggregates(t *testing.T) {
	st := &fakeStore{
		expiredIDs: []string{"ask-1"},
		orders: map[string]*schema.Order{
			"ask-1": {
				ID:       "ask-1",
				Side:     domain.OrderSideSell,
				Contract: "0xc0113c7",
				TokenID:  strPtr("42"),
			},
		},
	}
	s := newTestSweeper(st)

	expired, err := s.sweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	require.Len(t, st.floorRefreshes, 1)
	assert.Equal(t, "0xc0113c7:42", st.floorRefreshes[0])
	assert.Equal(t, domain.TriggerKindExpiry, st.lastTrigger.Kind)
	assert.Equal(t, int64(1700000000), st.lastTrigger.TxTimestamp)
	assert.Empty(t, st.topBidRefreshes)
}

func TestSweepOnceRefreshesExpiredBidAggregates(t *testing.T) {
	st := &fakeStore{
		expiredIDs: []string{"bid-1", "bid-2"},
		orders: map[string]*schema.Order{
			"bid-1": {
				ID:       "bid-1",
				Side:     domain.OrderSideBuy,
				Contract: "0xc0113c7",
			},
			"bid-2": {
				ID:           "bid-2",
				Side:         domain.OrderSideBuy,
				Contract:     "0xc0113c7",
				CollectionID: strPtr("custom-collection"),
			},
		},
	}
	s := newTestSweeper(st)

	expired, err := s.sweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, expired)
	require.Len(t, st.topBidRefreshes, 2)
	assert.Equal(t, "0xc0113c7", st.topBidRefreshes[0])
	assert.Equal(t, "custom-collection", st.topBidRefreshes[1])
}

func TestSweepOnceSkipsVanishedOrders(t *testing.T) {
	st := &fakeStore{expiredIDs: []string{"gone"}}
	s := newTestSweeper(st)

	expired, err := s.sweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Empty(t, st.floorRefreshes)
	assert.Empty(t, st.topBidRefreshes)
}

func TestStopBeforeStart(t *testing.T) {
	s := newTestSweeper(&fakeStore{})
	assert.NoError(t, s.Stop(context.Background()))
}
