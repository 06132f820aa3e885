package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/logger"
)

// ConsumerConfig holds the configuration for a durable job consumer
type ConsumerConfig struct {
	StreamName     string
	ConsumerName   string
	SubjectPrefix  string
	AckWaitTimeout time.Duration
	MaxDeliver     int
	// Kinds narrows the consumer to specific job kinds. Empty consumes
	// every kind, which is almost never what two cooperating workers want.
	Kinds []JobKind
}

// JobHandler processes a single queued job. A returned error requeues
// the job for redelivery.
type JobHandler func(ctx context.Context, job *Job) error

// Consumer pulls follow-up jobs from the queue and dispatches them
type Consumer interface {
	// Run consumes jobs until the context is cancelled
	Run(ctx context.Context, handler JobHandler) error
}

type consumer struct {
	js     adapter.JetStream
	redis  adapter.RedisClient
	json   adapter.JSON
	clock  adapter.Clock
	config ConsumerConfig
}

// NewConsumer creates a durable job queue consumer
func NewConsumer(
	cfg ConsumerConfig,
	js adapter.JetStream,
	redisClient adapter.RedisClient,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
) Consumer {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "marketplace"
	}
	return &consumer{
		js:     js,
		redis:  redisClient,
		json:   jsonAdapter,
		clock:  clock,
		config: cfg,
	}
}

// Run consumes jobs until the context is cancelled
func (c *consumer) Run(ctx context.Context, handler JobHandler) error {
	consumerConfig := jetstream.ConsumerConfig{
		Durable:    c.config.ConsumerName,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    c.config.AckWaitTimeout,
		MaxDeliver: c.config.MaxDeliver,
	}
	if len(c.config.Kinds) > 0 {
		for _, kind := range c.config.Kinds {
			consumerConfig.FilterSubjects = append(consumerConfig.FilterSubjects,
				fmt.Sprintf("%s.jobs.%s", c.config.SubjectPrefix, kind))
		}
	} else {
		consumerConfig.FilterSubject = fmt.Sprintf("%s.jobs.>", c.config.SubjectPrefix)
	}

	jsConsumer, err := c.js.CreateOrUpdateConsumer(ctx, c.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	// done releases delivery callbacks still blocked on msgChan once Run
	// returns; Stop alone does not unblock callbacks already in flight
	done := make(chan struct{})
	defer close(done)

	msgChan := make(chan adapter.Message, 100)
	sub, err := jsConsumer.Consume(func(msg adapter.Message) {
		select {
		case msgChan <- msg:
		case <-done:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.Info("Started consuming jobs",
		zap.String("stream", c.config.StreamName),
		zap.String("consumer", c.config.ConsumerName))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down job consumer")
			return ctx.Err()
		case msg := <-msgChan:
			c.handleMessage(ctx, msg, handler)
		}
	}
}

func (c *consumer) handleMessage(ctx context.Context, msg adapter.Message, handler JobHandler) {
	var job Job
	if err := c.json.Unmarshal(msg.Data(), &job); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to unmarshal job"))
		// Unparseable payloads never succeed on redelivery
		if err := msg.Term(); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	// Deferred jobs go back to the queue without counting as failures
	if job.NotBefore > 0 {
		if remaining := job.NotBefore - c.clock.Now().Unix(); remaining > 0 {
			if err := msg.NakWithDelay(time.Duration(remaining) * time.Second); err != nil {
				logger.ErrorCtx(ctx, err, zap.String("message", "Failed to defer job"))
			}
			return
		}
	}

	if err := handler(ctx, &job); err != nil {
		logger.ErrorCtx(ctx, err,
			zap.String("message", "Job failed"),
			zap.String("kind", string(job.Kind)),
			zap.String("job_id", job.ID))
		if err := msg.Nak(); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to NAK message"))
		}
		return
	}

	ReleaseJobContext(ctx, c.redis, job.Context)

	if err := msg.Ack(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to ACK message"))
	}
}
