package royalty

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/price"
	"github.com/openfloor/marketplace-indexer/internal/trace"
)

// Payments below this share of the sale price that land on unknown
// addresses are recorded as possible missing royalties; anything larger
// is assumed to be sale proceeds
const missingRoyaltyNoiseBps = 1000

// FillReader provides the sibling fills and collection royalty
// configuration the classifier needs. Implemented by the store.
type FillReader interface {
	GetFillEventsByTxHash(ctx context.Context, txHash string) ([]domain.FillEvent, error)
	GetCollectionRoyalties(ctx context.Context, contract string) ([]domain.Royalty, error)
}

// Result is the enrichment attached to a fill after classification
type Result struct {
	RoyaltyFeeBps           int
	MarketplaceFeeBps       int
	RoyaltyFeeBreakdown     []domain.Royalty
	MarketplaceFeeBreakdown []domain.Royalty
	// PossibleMissingRoyalties are positive deltas on unknown addresses
	// under the noise threshold; informational only, never applied
	PossibleMissingRoyalties []domain.Royalty
	PaidFullRoyalty          bool
	SameCollectionSales      int
	TotalTransfers           int
}

// Extractor classifies a transaction's balance movements into creator
// royalties and marketplace fees by replaying the call trace. Everything
// here is best effort: a nil result means the fill keeps its base record
// with no enrichment.
type Extractor struct {
	traces        trace.Fetcher
	fills         FillReader
	platformFees  map[domain.OrderKind]map[string]struct{}
	wrappedNative string
}

// NewExtractor creates a royalty extractor. The platform-fee registry is
// immutable per-protocol configuration injected at startup.
func NewExtractor(
	traces trace.Fetcher,
	fills FillReader,
	platformFees map[domain.OrderKind][]string,
	wrappedNative string,
) *Extractor {
	normalized := make(map[domain.OrderKind]map[string]struct{}, len(platformFees))
	for kind, recipients := range platformFees {
		set := make(map[string]struct{}, len(recipients))
		for _, r := range recipients {
			set[domain.NormalizeAddress(r)] = struct{}{}
		}
		normalized[kind] = set
	}
	return &Extractor{
		traces:        traces,
		fills:         fills,
		platformFees:  normalized,
		wrappedNative: domain.NormalizeAddress(wrappedNative),
	}
}

// ExtractRoyalties runs the balance-diff classification for one fill.
// A nil result (with nil error) means the trace was unavailable or the
// fill cannot be classified; the caller skips enrichment.
func (e *Extractor) ExtractRoyalties(ctx context.Context, fill domain.FillEvent) (*Result, error) {
	callTrace, err := e.traces.TransactionTrace(ctx, fill.BaseEventParams.TxHash)
	if err != nil || callTrace == nil {
		// Enrichment never blocks fill persistence
		logger.WarnCtx(ctx, "trace unavailable, skipping royalty enrichment",
			zap.String("txHash", fill.BaseEventParams.TxHash), zap.Error(err))
		return nil, nil
	}

	fillValue := totalValue(&fill)
	if fillValue.Sign() == 0 {
		return nil, nil
	}

	siblings, err := e.fills.GetFillEventsByTxHash(ctx, fill.BaseEventParams.TxHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load sibling fills: %w", err)
	}

	// Partition the transaction's fills by collection and by protocol;
	// bundled sales pay shared fees once, so classified amounts are
	// apportioned over the partition totals rather than this fill alone
	collectionAmount := new(big.Int)
	protocolAmount := new(big.Int)
	sameCollectionSales := 0
	excluded := make(map[string]struct{})
	otherRecipients := make(map[string]struct{})

	for i := range siblings {
		s := &siblings[i]
		value := totalValue(s)
		if s.Contract == fill.Contract {
			collectionAmount.Add(collectionAmount, value)
			sameCollectionSales++
		} else {
			// Royalties paid to another collection in the same bundle
			// belong to that collection's fills, not this one
			royalties, err := e.fills.GetCollectionRoyalties(ctx, s.Contract)
			if err != nil {
				return nil, fmt.Errorf("failed to load royalties for %s: %w", s.Contract, err)
			}
			for _, r := range royalties {
				otherRecipients[domain.NormalizeAddress(r.Recipient)] = struct{}{}
			}
		}
		if s.OrderKind == fill.OrderKind {
			protocolAmount.Add(protocolAmount, value)
		}
		excluded[domain.NormalizeAddress(s.Maker)] = struct{}{}
		excluded[domain.NormalizeAddress(s.Taker)] = struct{}{}
		excluded[domain.NormalizeAddress(s.Contract)] = struct{}{}
	}
	excluded[e.wrappedNative] = struct{}{}
	excluded[domain.NormalizeAddress(price.BlurPool)] = struct{}{}
	excluded[domain.ZeroAddress] = struct{}{}

	configured, err := e.fills.GetCollectionRoyalties(ctx, fill.Contract)
	if err != nil {
		return nil, fmt.Errorf("failed to load royalties for %s: %w", fill.Contract, err)
	}
	royaltyRecipients := make(map[string]struct{}, len(configured))
	for _, r := range configured {
		royaltyRecipients[domain.NormalizeAddress(r.Recipient)] = struct{}{}
	}

	changes := trace.GetStateChange(callTrace)
	asset := e.settlementAsset(fill.Currency)
	feeRecipients := e.platformFees[fill.OrderKind]

	result := &Result{
		SameCollectionSales: sameCollectionSales,
		TotalTransfers:      len(siblings),
	}

	for address, assets := range changes {
		delta, ok := assets[asset]
		if !ok || delta.Sign() <= 0 {
			continue
		}
		if _, skip := excluded[address]; skip {
			continue
		}
		if _, other := otherRecipients[address]; other {
			continue
		}

		// First-pass classifier only; applied bps are recomputed over the
		// matching partition total below
		bps := bpsOf(delta, fillValue)

		if _, isFee := feeRecipients[address]; isFee {
			applied := bpsOf(delta, protocolAmount)
			result.MarketplaceFeeBps += applied
			result.MarketplaceFeeBreakdown = append(result.MarketplaceFeeBreakdown, domain.Royalty{
				Recipient: address,
				Bps:       applied,
			})
			continue
		}
		if _, isRoyalty := royaltyRecipients[address]; isRoyalty {
			applied := bpsOf(delta, collectionAmount)
			result.RoyaltyFeeBps += applied
			result.RoyaltyFeeBreakdown = append(result.RoyaltyFeeBreakdown, domain.Royalty{
				Recipient: address,
				Bps:       applied,
			})
			continue
		}
		if bps < missingRoyaltyNoiseBps {
			result.PossibleMissingRoyalties = append(result.PossibleMissingRoyalties, domain.Royalty{
				Recipient: address,
				Bps:       bps,
			})
		}
	}

	creatorBps := domain.TotalBps(configured)
	result.PaidFullRoyalty = result.RoyaltyFeeBps >= creatorBps

	return result, nil
}

// settlementAsset maps a fill's currency onto the balance-change asset
// key, folding wrapped-native wormholes into the native asset
func (e *Extractor) settlementAsset(currency string) string {
	if price.IsNativeFill(currency, e.wrappedNative) {
		return trace.NativeAsset
	}
	return trace.ERC20Asset(currency)
}

func totalValue(fill *domain.FillEvent) *big.Int {
	return new(big.Int).Mul(fill.PriceBig(), fill.AmountBig())
}

func bpsOf(part, whole *big.Int) int {
	if whole.Sign() == 0 {
		return 0
	}
	bps := new(big.Int).Mul(part, big.NewInt(domain.BpsDenominator))
	bps.Div(bps, whole)
	if !bps.IsInt64() {
		return 0
	}
	return int(bps.Int64())
}
