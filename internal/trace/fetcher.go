package trace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/logger"
)

const (
	traceCacheTTL    = 10 * time.Minute
	traceCachePrefix = "trace:calltrace:"

	rateLimitKey = "trace:rpc"
)

// Fetcher retrieves transaction-level data needed by fill enrichment
type Fetcher interface {
	// TransactionTrace returns the full callTracer tree for a transaction
	TransactionTrace(ctx context.Context, txHash string) (*CallTrace, error)

	// Transaction returns the raw transaction (for value/calldata inspection)
	Transaction(ctx context.Context, txHash string) (*types.Transaction, error)
}

type rpcFetcher struct {
	eth       adapter.EthClient
	redis     adapter.RedisClient
	limiter   adapter.RedisRateLimiter
	json      adapter.JSON
	clock     adapter.Clock
	rateLimit redis_rate.Limit
}

// NewFetcher creates a trace fetcher over a raw-RPC-capable Ethereum client.
// Traces are cached in redis for a short window since every fill in a
// transaction asks for the same trace, and RPC calls are rate limited
// per-second across all workers.
func NewFetcher(
	eth adapter.EthClient,
	redisClient adapter.RedisClient,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
	requestsPerSecond int,
) Fetcher {
	return &rpcFetcher{
		eth:       eth,
		redis:     redisClient,
		limiter:   redisClient.NewRateLimiter(),
		json:      jsonAdapter,
		clock:     clock,
		rateLimit: redis_rate.PerSecond(requestsPerSecond),
	}
}

func (f *rpcFetcher) TransactionTrace(ctx context.Context, txHash string) (*CallTrace, error) {
	txHash = strings.ToLower(txHash)
	cacheKey := traceCachePrefix + txHash

	if cached, found, err := f.redis.Get(ctx, cacheKey); err != nil {
		logger.WarnCtx(ctx, "trace cache read failed", zap.Error(err), zap.String("txHash", txHash))
	} else if found {
		var trace CallTrace
		if err := f.json.Unmarshal([]byte(cached), &trace); err == nil {
			return &trace, nil
		}
	}

	if err := f.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	var trace CallTrace
	operation := func() error {
		return f.eth.CallContext(ctx, &trace, "debug_traceTransaction", txHash, map[string]interface{}{
			"tracer": "callTracer",
		})
	}
	if err := backoff.Retry(operation, f.retryPolicy(ctx)); err != nil {
		return nil, fmt.Errorf("failed to trace transaction %s: %w", txHash, err)
	}

	if raw, err := f.json.Marshal(&trace); err == nil {
		if err := f.redis.Set(ctx, cacheKey, string(raw), traceCacheTTL); err != nil {
			logger.WarnCtx(ctx, "trace cache write failed", zap.Error(err), zap.String("txHash", txHash))
		}
	}

	return &trace, nil
}

func (f *rpcFetcher) Transaction(ctx context.Context, txHash string) (*types.Transaction, error) {
	if err := f.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	var tx *types.Transaction
	operation := func() error {
		var err error
		tx, _, err = f.eth.TransactionByHash(ctx, common.HexToHash(txHash))
		return err
	}
	if err := backoff.Retry(operation, f.retryPolicy(ctx)); err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", txHash, err)
	}
	return tx, nil
}

// waitForRateLimit blocks until the shared RPC budget admits one request
func (f *rpcFetcher) waitForRateLimit(ctx context.Context) error {
	for {
		res, err := f.limiter.Allow(ctx, rateLimitKey, f.rateLimit)
		if err != nil {
			// A broken limiter should not stall enrichment entirely
			logger.WarnCtx(ctx, "rate limiter unavailable, proceeding", zap.Error(err))
			return nil
		}
		if res.Allowed > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.clock.After(res.RetryAfter):
		}
	}
}

func (f *rpcFetcher) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(policy, ctx)
}
