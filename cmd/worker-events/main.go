package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/aggregate"
	"github.com/openfloor/marketplace-indexer/internal/attribution"
	"github.com/openfloor/marketplace-indexer/internal/config"
	"github.com/openfloor/marketplace-indexer/internal/decoder"
	"github.com/openfloor/marketplace-indexer/internal/engine"
	"github.com/openfloor/marketplace-indexer/internal/fanout"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/price"
	"github.com/openfloor/marketplace-indexer/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadWorkerEventsConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "worker-events",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Events Worker")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
		cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()
	redisClient := adapter.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	// Initialize ethereum client
	ethDialer := adapter.NewEthClientDialer()
	ethClient, err := ethDialer.Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err), zap.String("rpc_url", cfg.Ethereum.RPCURL))
	}
	defer ethClient.Close()

	// Initialize decoder registry
	registry, err := decoder.DefaultRegistry(cfg.Ethereum.WrappedNative)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to build decoder registry", zap.Error(err))
	}

	// Initialize NATS publisher
	publisher, err := fanout.NewPublisher(fanout.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		SubjectPrefix:  cfg.NATS.SubjectPrefix,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
	}, natsJS, redisClient, jsonAdapter, clockAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer publisher.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Initialize pipeline components
	oracle := price.NewOracle(dataStore, redisClient, cfg.Ethereum.WrappedNative)
	reconciler := aggregate.NewReconciler(dataStore, redisClient, publisher, clockAdapter)

	ingestEngine := engine.New(engine.Config{
		Chain:         cfg.Ethereum.Chain,
		WrappedNative: cfg.Ethereum.WrappedNative,
		StartBlock:    cfg.Ethereum.StartBlock,
		Confirmations: cfg.Ethereum.Confirmations,
		MaxBlockRange: cfg.Ethereum.MaxBlockRange,
		PollInterval:  cfg.Ethereum.PollInterval,
		DecodeWorkers: cfg.Worker.WorkerPoolSize,
		ReorgDepth:    cfg.Ethereum.ReorgDepth,
	}, ethClient, registry, dataStore, oracle, attribution.NewResolver(), publisher, reconciler, clockAdapter)

	// The events worker also consumes its own follow-up jobs (order
	// updates, maker revalidations, deferred aggregate refreshes) over a
	// dedicated connection
	nc, js, err := natsJS.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.ConnectionName),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait))
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer nc.Close()

	consumer := fanout.NewConsumer(fanout.ConsumerConfig{
		StreamName:     cfg.NATS.StreamName,
		ConsumerName:   cfg.NATS.ConsumerName,
		SubjectPrefix:  cfg.NATS.SubjectPrefix,
		AckWaitTimeout: cfg.NATS.AckWait,
		MaxDeliver:     cfg.NATS.MaxDeliver,
		Kinds: []fanout.JobKind{
			fanout.JobKindOrderUpdate,
			fanout.JobKindFillUpdate,
			fanout.JobKindMakerRevalidation,
			fanout.JobKindAggregateRefresh,
		},
	}, js, redisClient, jsonAdapter, clockAdapter)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel for component errors
	errCh := make(chan error, 2)

	// Start the ingest loop and the job consumer
	go func() {
		if err := ingestEngine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	go func() {
		if err := consumer.Run(ctx, ingestEngine.HandleJob); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "worker-events"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	// Use non-context logger for final shutdown message since context is already canceled
	logger.Info("Events Worker stopped")
}
