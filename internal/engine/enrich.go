package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/fanout"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/royalty"
	"github.com/openfloor/marketplace-indexer/internal/store"
)

// Enricher runs the deferred best-effort pass over persisted fills:
// royalty classification from the call trace, and the wash-trading
// heuristic from trade history. Failures here never touch the
// canonical event, only the nullable enrichment columns stay empty.
type Enricher struct {
	store     store.Store
	extractor *royalty.Extractor
}

// NewEnricher creates a fill enricher
func NewEnricher(st store.Store, extractor *royalty.Extractor) *Enricher {
	return &Enricher{
		store:     st,
		extractor: extractor,
	}
}

// HandleJob processes one fill-enrichment job
func (en *Enricher) HandleJob(ctx context.Context, job *fanout.Job) error {
	if job.Kind != fanout.JobKindFillEnrichment {
		return fmt.Errorf("unexpected job kind %q", job.Kind)
	}
	var ref fanout.FillRef
	if err := json.Unmarshal(job.Payload, &ref); err != nil {
		return fmt.Errorf("malformed fill enrichment payload: %w", err)
	}
	return en.EnrichFill(ctx, ref)
}

// EnrichFill classifies one fill's royalties and scores it for wash
// trading. The fill must already be persisted; a replayed job for a
// purged (reorged) fill is a no-op.
func (en *Enricher) EnrichFill(ctx context.Context, ref fanout.FillRef) error {
	fills, err := en.store.GetFillEventsByTxHash(ctx, ref.TxHash)
	if err != nil {
		return err
	}
	var fill *domain.FillEvent
	for i := range fills {
		if fills[i].BaseEventParams.LogIndex == ref.LogIndex &&
			fills[i].BaseEventParams.BatchIndex == ref.BatchIndex {
			fill = &fills[i]
			break
		}
	}
	if fill == nil {
		logger.DebugCtx(ctx, "Enrichment target fill not found",
			zap.String("tx_hash", ref.TxHash),
			zap.Uint64("log_index", ref.LogIndex))
		return nil
	}

	result, err := en.extractor.ExtractRoyalties(ctx, *fill)
	if err != nil {
		// Trace availability varies by node; the fill stays unclassified
		// rather than blocking the queue forever
		logger.WarnCtx(ctx, "Royalty extraction failed",
			zap.String("event", fill.BaseEventParams.EventKey()),
			zap.Error(err))
	} else if result != nil {
		if err := en.store.UpdateFillRoyaltyEnrichment(ctx, fill.BaseEventParams, result); err != nil {
			return err
		}
	}

	score, err := en.washScore(ctx, fill)
	if err != nil {
		return err
	}
	return en.store.UpdateFillWashTradingScore(ctx, fill.BaseEventParams, score)
}

// washScore estimates how likely a fill is wash trading. Self-dealing
// scores 1; repeat trades of the same token between the same two
// wallets ramp the score up with each round trip.
func (en *Enricher) washScore(ctx context.Context, fill *domain.FillEvent) (float64, error) {
	if fill.Maker == fill.Taker {
		return 1, nil
	}
	count, err := en.store.GetPriorTradeCount(ctx, fill.Contract, fill.TokenID,
		fill.Maker, fill.Taker, fill.BaseEventParams.Timestamp)
	if err != nil {
		return 0, err
	}
	switch {
	case count == 0:
		return 0, nil
	case count == 1:
		return 0.5, nil
	default:
		return 1, nil
	}
}
