package fanout

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type publishedMessage struct {
	subject string
	data    []byte
}

type fakeJetStream struct {
	published []publishedMessage
	err       error
	consumer  adapter.Consumer
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, publishedMessage{subject: subject, data: data})
	return &jetstream.PubAck{}, nil
}

func (f *fakeJetStream) CreateOrUpdateConsumer(context.Context, string, jetstream.ConsumerConfig) (adapter.Consumer, error) {
	if f.consumer != nil {
		return f.consumer, nil
	}
	return nil, errors.New("not implemented")
}

func (f *fakeJetStream) Consumer(context.Context, string, string) (adapter.Consumer, error) {
	return nil, errors.New("not implemented")
}

type fakeRedis struct {
	values   map[string]string
	setNXErr error
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
	if f.setNXErr != nil {
		return false, f.setNXErr
	}
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

func (f *fakeRedis) Eval(context.Context, string, []string, ...interface{}) (interface{}, error) {
	return int64(0), nil
}

func (f *fakeRedis) NewRateLimiter() adapter.RedisRateLimiter { return nil }

func (f *fakeRedis) Close() error { return nil }

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time                         { return f.now }
func (f *fakeClock) Since(t time.Time) time.Duration        { return f.now.Sub(t) }
func (f *fakeClock) Sleep(time.Duration)                    {}
func (f *fakeClock) Unix(sec, nsec int64) time.Time         { return time.Unix(sec, nsec) }
func (f *fakeClock) After(time.Duration) <-chan time.Time   { return nil }

type fakeMessage struct {
	data []byte

	acked    bool
	naked    bool
	termed   bool
	nakDelay time.Duration
}

func (f *fakeMessage) Data() []byte                             { return f.data }
func (f *fakeMessage) Metadata() (*jetstream.MsgMetadata, error) { return nil, nil }
func (f *fakeMessage) Ack() error                               { f.acked = true; return nil }
func (f *fakeMessage) Nak() error                               { f.naked = true; return nil }
func (f *fakeMessage) NakWithDelay(d time.Duration) error       { f.naked = true; f.nakDelay = d; return nil }
func (f *fakeMessage) InProgress() error                        { return nil }
func (f *fakeMessage) Term() error                              { f.termed = true; return nil }

func newTestPublisher(js *fakeJetStream, redis *fakeRedis) *publisher {
	return &publisher{
		js:            js,
		redis:         redis,
		json:          adapter.NewJSON(),
		clock:         &fakeClock{now: time.Unix(1700000000, 0)},
		subjectPrefix: "marketplace",
	}
}

func TestPublishJobRoutesBySubject(t *testing.T) {
	js := &fakeJetStream{}
	p := newTestPublisher(js, newFakeRedis())

	job := &Job{Kind: JobKindOrderUpdate}
	require.NoError(t, p.PublishJob(context.Background(), job))

	require.Len(t, js.published, 1)
	assert.Equal(t, "marketplace.jobs.order-update", js.published[0].subject)
	assert.NotEmpty(t, job.ID)
}

func TestPublishJobDedupesOnContext(t *testing.T) {
	js := &fakeJetStream{}
	p := newTestPublisher(js, newFakeRedis())

	first := &Job{Kind: JobKindMakerRevalidation, Context: "maker-reval-0xabc"}
	require.NoError(t, p.PublishJob(context.Background(), first))

	duplicate := &Job{Kind: JobKindMakerRevalidation, Context: "maker-reval-0xabc"}
	require.NoError(t, p.PublishJob(context.Background(), duplicate))

	assert.Len(t, js.published, 1)
}

func TestPublishJobRedisFailurePublishesAnyway(t *testing.T) {
	js := &fakeJetStream{}
	redis := newFakeRedis()
	redis.setNXErr = errors.New("redis down")
	p := newTestPublisher(js, redis)

	job := &Job{Kind: JobKindFillUpdate, Context: "fill-0xabc:1:1"}
	require.NoError(t, p.PublishJob(context.Background(), job))

	assert.Len(t, js.published, 1)
}

func TestPublishJobWithoutContextNeverDedupes(t *testing.T) {
	js := &fakeJetStream{}
	p := newTestPublisher(js, newFakeRedis())

	require.NoError(t, p.PublishJob(context.Background(), &Job{Kind: JobKindOrderUpdate}))
	require.NoError(t, p.PublishJob(context.Background(), &Job{Kind: JobKindOrderUpdate}))

	assert.Len(t, js.published, 2)
}

func TestPublishActivity(t *testing.T) {
	js := &fakeJetStream{}
	p := newTestPublisher(js, newFakeRedis())

	activity := &Activity{Kind: ActivityKindSale, TxHash: "0xabc"}
	require.NoError(t, p.PublishActivity(context.Background(), activity))

	require.Len(t, js.published, 1)
	assert.Equal(t, "marketplace.activities.sale", js.published[0].subject)
	assert.NotEmpty(t, activity.ID)
}

func TestPublishAggregateChanges(t *testing.T) {
	js := &fakeJetStream{}
	p := newTestPublisher(js, newFakeRedis())

	require.NoError(t, p.PublishFloorAskChange(context.Background(), &FloorAskChange{Contract: "0x1", TokenID: "1"}))
	require.NoError(t, p.PublishTopBidChange(context.Background(), &TopBidChange{CollectionID: "0x1"}))

	require.Len(t, js.published, 2)
	assert.Equal(t, "marketplace.aggregates.floor-ask", js.published[0].subject)
	assert.Equal(t, "marketplace.aggregates.top-bid", js.published[1].subject)
}

type fakeConsumeContext struct{}

func (f *fakeConsumeContext) Stop()                   {}
func (f *fakeConsumeContext) Drain()                  {}
func (f *fakeConsumeContext) Closed() <-chan struct{} { return nil }

type fakeNatsConsumer struct {
	mu      sync.Mutex
	handler adapter.MessageHandler
}

func (f *fakeNatsConsumer) Consume(h adapter.MessageHandler, _ ...jetstream.PullConsumeOpt) (adapter.ConsumeContext, error) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return &fakeConsumeContext{}, nil
}

func (f *fakeNatsConsumer) Info(context.Context) (*jetstream.ConsumerInfo, error) {
	return nil, nil
}

func (f *fakeNatsConsumer) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

func (f *fakeNatsConsumer) deliver(msg adapter.Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(msg)
}

func TestRunReleasesDeliveriesAfterShutdown(t *testing.T) {
	fc := &fakeNatsConsumer{}
	js := &fakeJetStream{consumer: fc}
	c := NewConsumer(ConsumerConfig{StreamName: "jobs", ConsumerName: "worker"},
		js, newFakeRedis(), adapter.NewJSON(), &fakeClock{now: time.Unix(1700000000, 0)})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- c.Run(ctx, func(context.Context, *Job) error { return nil })
	}()

	require.Eventually(t, fc.subscribed, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-runDone:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Deliveries still in flight when Run returns must complete instead of
	// blocking forever on the dispatch channel, even past its buffer
	delivered := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			fc.deliver(&fakeMessage{data: []byte(`{"kind":"order-update","payload":{}}`)})
		}
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("delivery callback blocked after shutdown")
	}
}

func newTestConsumer(redis *fakeRedis, clock adapter.Clock) *consumer {
	return &consumer{
		redis:  redis,
		json:   adapter.NewJSON(),
		clock:  clock,
		config: ConsumerConfig{SubjectPrefix: "marketplace"},
	}
}

func TestHandleMessageTerminatesUnparseablePayload(t *testing.T) {
	c := newTestConsumer(newFakeRedis(), &fakeClock{now: time.Unix(1700000000, 0)})
	msg := &fakeMessage{data: []byte("not json")}

	c.handleMessage(context.Background(), msg, func(context.Context, *Job) error {
		t.Fatal("handler must not run for unparseable payloads")
		return nil
	})

	assert.True(t, msg.termed)
	assert.False(t, msg.acked)
	assert.False(t, msg.naked)
}

func TestHandleMessageDefersNotBefore(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newTestConsumer(newFakeRedis(), &fakeClock{now: now})

	msg := &fakeMessage{data: []byte(`{"kind":"order-update","not_before":1700000060,"payload":{}}`)}

	c.handleMessage(context.Background(), msg, func(context.Context, *Job) error {
		t.Fatal("handler must not run before not_before")
		return nil
	})

	assert.True(t, msg.naked)
	assert.Equal(t, 60*time.Second, msg.nakDelay)
	assert.False(t, msg.acked)
}

func TestHandleMessageElapsedNotBeforeRuns(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newTestConsumer(newFakeRedis(), &fakeClock{now: now})

	msg := &fakeMessage{data: []byte(`{"kind":"order-update","not_before":1699999999,"payload":{}}`)}

	ran := false
	c.handleMessage(context.Background(), msg, func(context.Context, *Job) error {
		ran = true
		return nil
	})

	assert.True(t, ran)
	assert.True(t, msg.acked)
}

func TestHandleMessageNaksOnHandlerError(t *testing.T) {
	c := newTestConsumer(newFakeRedis(), &fakeClock{now: time.Unix(1700000000, 0)})
	msg := &fakeMessage{data: []byte(`{"kind":"fill-update","payload":{}}`)}

	c.handleMessage(context.Background(), msg, func(context.Context, *Job) error {
		return errors.New("transient failure")
	})

	assert.True(t, msg.naked)
	assert.False(t, msg.acked)
	assert.Zero(t, msg.nakDelay)
}

func TestHandleMessageAcksAndReleasesContext(t *testing.T) {
	redis := newFakeRedis()
	redis.values[dedupePrefix+"fill-0xabc:1:1"] = "job-id"
	c := newTestConsumer(redis, &fakeClock{now: time.Unix(1700000000, 0)})

	msg := &fakeMessage{data: []byte(`{"kind":"fill-update","context":"fill-0xabc:1:1","payload":{}}`)}

	c.handleMessage(context.Background(), msg, func(context.Context, *Job) error {
		return nil
	})

	assert.True(t, msg.acked)
	// The dedupe key is released so the next identical context publishes
	_, held := redis.values[dedupePrefix+"fill-0xabc:1:1"]
	assert.False(t, held)
}
