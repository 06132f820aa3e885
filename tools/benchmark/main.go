package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/decoder"
	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const (
	defaultBatchSize     = 200
	defaultWrappedNative = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

type Config struct {
	RPCURL        string
	WrappedNative string
	FromBlock     uint64
	ToBlock       uint64
	BatchSize     uint64
	Concurrency   int
	Debug         bool
	OutputFile    string // Output markdown file path (optional)
}

// scanStats accumulates decode results across concurrently scanned batches
type scanStats struct {
	mu sync.Mutex

	Blocks     uint64
	Logs       int
	Recognized int
	DecodeErrs int
	BySubKind  map[string]int

	Fills     int
	Transfers int
	Cancels   int
	Approvals int
	Mints     int
}

func newScanStats() *scanStats {
	return &scanStats{BySubKind: make(map[string]int)}
}

func (s *scanStats) recordBatch(blocks uint64, logs int, events []decoder.EnhancedEvent, data *domain.OnChainData, decodeErrs int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Blocks += blocks
	s.Logs += logs
	s.Recognized += len(events)
	s.DecodeErrs += decodeErrs
	for _, ev := range events {
		s.BySubKind[ev.SubKind]++
	}
	if data != nil {
		s.Fills += len(data.FillEvents)
		s.Transfers += len(data.NftTransferEvents)
		s.Cancels += len(data.CancelEvents) + len(data.BulkCancelEvents) + len(data.NonceCancelEvents)
		s.Approvals += len(data.NftApprovalEvents)
		s.Mints += len(data.MintInfos)
	}
}

// subKindCount is one row of the per-shape breakdown, sorted by volume
type subKindCount struct {
	SubKind string
	Count   int
}

func (s *scanStats) sortedSubKinds() []subKindCount {
	rows := make([]subKindCount, 0, len(s.BySubKind))
	for sk, n := range s.BySubKind {
		rows = append(rows, subKindCount{SubKind: sk, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].SubKind < rows[j].SubKind
	})
	return rows
}

func main() {
	cfg := parseFlags()

	if cfg.RPCURL == "" {
		fmt.Println("Error: rpc is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	eth, err := adapter.NewEthClientDialer().Dial(ctx, cfg.RPCURL)
	if err != nil {
		fmt.Printf("Error connecting to RPC node: %v\n", err)
		os.Exit(1)
	}
	defer eth.Close()

	registry, err := decoder.DefaultRegistry(cfg.WrappedNative)
	if err != nil {
		fmt.Printf("Error building decoder registry: %v\n", err)
		os.Exit(1)
	}

	if cfg.ToBlock == 0 {
		head, err := eth.BlockNumber(ctx)
		if err != nil {
			fmt.Printf("Error fetching chain head: %v\n", err)
			os.Exit(1)
		}
		cfg.ToBlock = head
	}
	if cfg.FromBlock > cfg.ToBlock {
		fmt.Printf("Error: from block %d is past to block %d\n", cfg.FromBlock, cfg.ToBlock)
		os.Exit(1)
	}

	fmt.Printf("Connected to %s\n", cfg.RPCURL)
	fmt.Printf("Scanning blocks %d..%d (batch: %d, concurrency: %d)\n\n",
		cfg.FromBlock, cfg.ToBlock, cfg.BatchSize, cfg.Concurrency)

	stats := newScanStats()
	start := time.Now()
	totalBatches := int((cfg.ToBlock-cfg.FromBlock)/cfg.BatchSize) + 1
	var doneBatches int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for from := cfg.FromBlock; from <= cfg.ToBlock; from += cfg.BatchSize {
		from := from
		to := from + cfg.BatchSize - 1
		if to > cfg.ToBlock {
			to = cfg.ToBlock
		}
		g.Go(func() error {
			if err := scanBatch(gctx, eth, registry, stats, from, to, cfg.Debug); err != nil {
				return err
			}
			stats.mu.Lock()
			doneBatches++
			done, logs, recognized := doneBatches, stats.Logs, stats.Recognized
			stats.mu.Unlock()
			if !cfg.Debug {
				fmt.Printf("\r⏳ Scanning... (batches: %d/%d, logs: %d, recognized: %d)    ",
					done, totalBatches, logs, recognized)
			}
			return nil
		})
	}

	scanErr := g.Wait()
	elapsed := time.Since(start)

	fmt.Println("\n\n" + strings.Repeat("=", 80))
	if scanErr != nil {
		fmt.Println("INTERRUPTED - PARTIAL RESULTS")
	} else {
		fmt.Println("BENCHMARK RESULTS")
	}
	fmt.Println(strings.Repeat("=", 80))
	printScanStats(cfg, stats, elapsed)

	if cfg.OutputFile != "" {
		if err := writeMarkdownReport(cfg.OutputFile, cfg, stats, elapsed); err != nil {
			fmt.Printf("\n⚠️  Warning: Failed to write markdown file: %v\n", err)
		} else {
			fmt.Printf("\n✓ Report written to: %s\n", cfg.OutputFile)
		}
	}

	if scanErr != nil && !errors.Is(scanErr, context.Canceled) {
		fmt.Printf("\nScan error: %v\n", scanErr)
		os.Exit(1)
	}
}

// scanBatch filters one block range, decodes every recognized log and
// folds the result into stats. Decoding only; nothing is persisted.
func scanBatch(ctx context.Context, eth adapter.EthClient, registry *decoder.Registry, stats *scanStats, from, to uint64, debug bool) error {
	logs, err := eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{registry.Topics()},
	})
	if err != nil {
		return fmt.Errorf("failed to filter logs [%d, %d]: %w", from, to, err)
	}

	blocks := to - from + 1
	if len(logs) == 0 {
		stats.recordBatch(blocks, 0, nil, nil, 0)
		return nil
	}

	timestamps, err := batchTimestamps(ctx, eth, logs)
	if err != nil {
		return err
	}

	var (
		events     []decoder.EnhancedEvent
		order      []string
		byTx       = make(map[string][]decoder.EnhancedEvent)
		data       domain.OnChainData
		decodeErrs int
	)
	for _, log := range logs {
		ev, ok := registry.Parse(log, timestamps[log.BlockNumber])
		if !ok {
			continue
		}
		events = append(events, ev)
		txHash := ev.Base.TxHash
		if _, seen := byTx[txHash]; !seen {
			order = append(order, txHash)
		}
		byTx[txHash] = append(byTx[txHash], ev)
	}
	for _, txHash := range order {
		txData, err := registry.ProcessTx(byTx[txHash])
		if err != nil {
			if debug {
				fmt.Printf("[DEBUG] decode failed for tx %s: %v\n", txHash, err)
			}
			decodeErrs++
			continue
		}
		data.Merge(txData)
	}

	stats.recordBatch(blocks, len(logs), events, &data, decodeErrs)
	return nil
}

func batchTimestamps(ctx context.Context, eth adapter.EthClient, logs []types.Log) (map[uint64]int64, error) {
	blocks := make(map[uint64]struct{})
	for _, log := range logs {
		blocks[log.BlockNumber] = struct{}{}
	}

	timestamps := make(map[uint64]int64, len(blocks))
	for block := range blocks {
		header, err := eth.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return nil, fmt.Errorf("failed to get header %d: %w", block, err)
		}
		timestamps[block] = int64(header.Time)
	}
	return timestamps, nil
}

func printScanStats(cfg *Config, stats *scanStats, elapsed time.Duration) {
	fmt.Printf("\nRange:          %d..%d (%d blocks)\n", cfg.FromBlock, cfg.ToBlock, stats.Blocks)
	fmt.Printf("Duration:       %s\n", formatDuration(elapsed))
	fmt.Printf("Throughput:     %s blocks, %s logs\n",
		formatRate(int(stats.Blocks), elapsed), formatRate(stats.Logs, elapsed))
	fmt.Printf("Logs fetched:   %d\n", stats.Logs)
	fmt.Printf("Recognized:     %d (%s)\n", stats.Recognized, percentageString(stats.Recognized, stats.Logs))
	fmt.Printf("Decode errors:  %d\n\n", stats.DecodeErrs)

	fmt.Printf("Derived events: %d fills, %d transfers, %d cancels, %d approvals, %d mints\n\n",
		stats.Fills, stats.Transfers, stats.Cancels, stats.Approvals, stats.Mints)

	rows := stats.sortedSubKinds()
	if len(rows) == 0 {
		return
	}
	fmt.Println("Events by shape:")
	for _, row := range rows {
		fmt.Printf("  %-40s %8d  (%s)\n", row.SubKind, row.Count, percentageString(row.Count, stats.Recognized))
	}
}

func writeMarkdownReport(path string, cfg *Config, stats *scanStats, elapsed time.Duration) error {
	var b strings.Builder

	b.WriteString("# Decode Benchmark\n\n")
	b.WriteString(fmt.Sprintf("- **Range:** %d..%d (%d blocks)\n", cfg.FromBlock, cfg.ToBlock, stats.Blocks))
	b.WriteString(fmt.Sprintf("- **Duration:** %s\n", formatDuration(elapsed)))
	b.WriteString(fmt.Sprintf("- **Throughput:** %s blocks, %s logs\n", formatRate(int(stats.Blocks), elapsed), formatRate(stats.Logs, elapsed)))
	b.WriteString(fmt.Sprintf("- **Logs:** %d fetched, %d recognized (%s), %d decode errors\n",
		stats.Logs, stats.Recognized, percentageString(stats.Recognized, stats.Logs), stats.DecodeErrs))
	b.WriteString(fmt.Sprintf("- **Derived:** %d fills, %d transfers, %d cancels, %d approvals, %d mints\n\n",
		stats.Fills, stats.Transfers, stats.Cancels, stats.Approvals, stats.Mints))

	rows := stats.sortedSubKinds()
	if len(rows) > 0 {
		b.WriteString("| Shape | Count | Share |\n")
		b.WriteString("|-------|-------|-------|\n")
		for _, row := range rows {
			b.WriteString(fmt.Sprintf("| %s | %d | %s |\n", row.SubKind, row.Count, percentageString(row.Count, stats.Recognized)))
		}
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.RPCURL, "rpc", "", "Ethereum RPC endpoint (required)")
	flag.StringVar(&cfg.WrappedNative, "wrapped-native", defaultWrappedNative, "Wrapped native token address")
	flag.Uint64Var(&cfg.FromBlock, "from", 0, "First block of the range (required)")
	flag.Uint64Var(&cfg.ToBlock, "to", 0, "Last block of the range (default: chain head)")
	flag.Uint64Var(&cfg.BatchSize, "batch", defaultBatchSize, "Blocks per eth_getLogs request")
	flag.IntVar(&cfg.Concurrency, "concurrency", 4, "Number of concurrent batches (default: 4)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.StringVar(&cfg.OutputFile, "output", "", "Output markdown file path (optional)")

	configFile := flag.String("config", "", "Path to config file (optional)")

	flag.Parse()

	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Concurrency > 16 {
		cfg.Concurrency = 16 // Cap to avoid overwhelming the node
	}

	// Load from config file if specified
	if *configFile != "" {
		fileCfg, err := LoadConfig(*configFile)
		if err != nil {
			fmt.Printf("Warning: failed to load config file: %v\n", err)
		} else {
			if cfg.RPCURL == "" && fileCfg.RPCURL != "" {
				cfg.RPCURL = fileCfg.RPCURL
			}
			if cfg.WrappedNative == defaultWrappedNative && fileCfg.WrappedNative != "" {
				cfg.WrappedNative = fileCfg.WrappedNative
			}
		}
	}

	return cfg
}
