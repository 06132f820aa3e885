package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/logger"
)

// dedupeTTL bounds how long a job context suppresses duplicates. Long
// enough to cover a queue backlog, short enough that a lost ack does not
// wedge the context forever.
const dedupeTTL = 10 * time.Minute

const dedupePrefix = "fanout:dedupe:"

// Config holds the configuration for the NATS JetStream publisher
type Config struct {
	URL            string
	StreamName     string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

// Publisher fans processed on-chain data out to the job queue and the
// outward activity stream
type Publisher interface {
	// PublishJob enqueues a follow-up job, deduplicating on its context
	PublishJob(ctx context.Context, job *Job) error
	// PublishActivity publishes an outward-facing activity record
	PublishActivity(ctx context.Context, activity *Activity) error
	// PublishFloorAskChange publishes a token floor ask transition
	PublishFloorAskChange(ctx context.Context, change *FloorAskChange) error
	// PublishTopBidChange publishes a collection top bid transition
	PublishTopBidChange(ctx context.Context, change *TopBidChange) error
	// Close closes the connection
	Close()
}

type publisher struct {
	nc            adapter.NatsConn
	js            adapter.JetStream
	redis         adapter.RedisClient
	json          adapter.JSON
	clock         adapter.Clock
	subjectPrefix string
}

// NewPublisher creates a new NATS JetStream publisher
func NewPublisher(
	cfg Config,
	natsJS adapter.NatsJetStream,
	redisClient adapter.RedisClient,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
) (Publisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "marketplace"
	}

	return &publisher{
		nc:            nc,
		js:            js,
		redis:         redisClient,
		json:          jsonAdapter,
		clock:         clock,
		subjectPrefix: prefix,
	}, nil
}

// PublishJob enqueues a follow-up job, deduplicating on its context
func (p *publisher) PublishJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = ulid.MustNewDefault(p.clock.Now()).String()
	}

	if job.Context != "" {
		acquired, err := p.redis.SetNX(ctx, dedupePrefix+job.Context, job.ID, dedupeTTL)
		if err != nil {
			// Dedupe is an optimization; a redis hiccup must not drop work
			logger.WarnCtx(ctx, "Job dedupe check failed, publishing anyway",
				zap.String("context", job.Context), zap.Error(err))
		} else if !acquired {
			logger.DebugCtx(ctx, "Skipping duplicate job",
				zap.String("kind", string(job.Kind)), zap.String("context", job.Context))
			return nil
		}
	}

	subject := fmt.Sprintf("%s.jobs.%s", p.subjectPrefix, job.Kind)
	return p.publish(ctx, subject, job)
}

// PublishActivity publishes an outward-facing activity record
func (p *publisher) PublishActivity(ctx context.Context, activity *Activity) error {
	if activity.ID == "" {
		activity.ID = ulid.MustNewDefault(p.clock.Now()).String()
	}
	subject := fmt.Sprintf("%s.activities.%s", p.subjectPrefix, activity.Kind)
	return p.publish(ctx, subject, activity)
}

// PublishFloorAskChange publishes a token floor ask transition
func (p *publisher) PublishFloorAskChange(ctx context.Context, change *FloorAskChange) error {
	if change.ID == "" {
		change.ID = ulid.MustNewDefault(p.clock.Now()).String()
	}
	subject := fmt.Sprintf("%s.aggregates.floor-ask", p.subjectPrefix)
	return p.publish(ctx, subject, change)
}

// PublishTopBidChange publishes a collection top bid transition
func (p *publisher) PublishTopBidChange(ctx context.Context, change *TopBidChange) error {
	if change.ID == "" {
		change.ID = ulid.MustNewDefault(p.clock.Now()).String()
	}
	subject := fmt.Sprintf("%s.aggregates.top-bid", p.subjectPrefix)
	return p.publish(ctx, subject, change)
}

func (p *publisher) publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := p.json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// ReleaseJobContext clears a job's dedupe key so the next publish with
// the same context goes through. Consumers call this after processing.
func ReleaseJobContext(ctx context.Context, redisClient adapter.RedisClient, jobContext string) {
	if jobContext == "" {
		return
	}
	if err := redisClient.Del(ctx, dedupePrefix+jobContext); err != nil {
		logger.WarnCtx(ctx, "Failed to release job context", zap.String("context", jobContext), zap.Error(err))
	}
}

// Close closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}

	p.nc.Close()
}
