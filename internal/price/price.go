package price

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// BlurPool is the wormhole-wrapped native token blur settles bids in;
// it redeems 1:1 against the native currency
const BlurPool = "0x0000000000a39bb272e79075ade125fd351887ac"

const (
	nativeDecimals = 18

	rateCacheTTL    = 5 * time.Minute
	rateCachePrefix = "price:usd:"
)

// Price is a settlement amount converted into the two reference units
// every aggregate is denominated in
type Price struct {
	// NativePrice is the amount in native wei (nil when no conversion
	// rate exists for the currency)
	NativePrice *string
	// UsdPrice is the amount in USD (nil when no USD rate exists)
	UsdPrice *string
}

// RateSource provides historical USD rates for currencies. Rates are
// day-granular; the store keeps them in the usd_prices table.
type RateSource interface {
	GetUsdRate(ctx context.Context, currency string, timestamp int64) (rate decimal.Decimal, decimals int32, found bool, err error)
}

// Oracle converts settlement-currency amounts into native and USD terms
// at a historical block timestamp
type Oracle interface {
	GetUSDAndNativePrices(ctx context.Context, currency string, amount string, timestamp int64) (Price, error)
}

type oracle struct {
	rates         RateSource
	redis         adapter.RedisClient
	wrappedNative string
}

// NewOracle creates a store-backed price oracle. The wrapped-native token
// (and the blur pool token) alias to the native currency, so amounts in
// them need no rate lookup at all.
func NewOracle(rates RateSource, redisClient adapter.RedisClient, wrappedNative string) Oracle {
	return &oracle{
		rates:         rates,
		redis:         redisClient,
		wrappedNative: domain.NormalizeAddress(wrappedNative),
	}
}

func (o *oracle) GetUSDAndNativePrices(ctx context.Context, currency string, amount string, timestamp int64) (Price, error) {
	currency = domain.NormalizeAddress(currency)
	if o.isNativeAlias(currency) {
		currency = domain.NativeCurrency
	}

	value, ok := decimal.NewFromString(amount)
	if ok != nil {
		return Price{}, fmt.Errorf("malformed amount %q", amount)
	}

	var out Price

	if currency == domain.NativeCurrency {
		native := amount
		out.NativePrice = &native

		if rate, found, err := o.usdRate(ctx, domain.NativeCurrency, timestamp); err != nil {
			return Price{}, err
		} else if found {
			usd := value.Shift(-nativeDecimals).Mul(rate).String()
			out.UsdPrice = &usd
		}
		return out, nil
	}

	rate, decimals, found, err := o.rates.GetUsdRate(ctx, currency, timestamp)
	if err != nil {
		return Price{}, fmt.Errorf("failed to get usd rate for %s: %w", currency, err)
	}
	if !found {
		return out, nil
	}

	usdValue := value.Shift(-decimals).Mul(rate)
	usd := usdValue.String()
	out.UsdPrice = &usd

	nativeRate, found, err := o.usdRate(ctx, domain.NativeCurrency, timestamp)
	if err != nil {
		return Price{}, err
	}
	if found && nativeRate.IsPositive() {
		native := usdValue.Div(nativeRate).Shift(nativeDecimals).Truncate(0).String()
		out.NativePrice = &native
	}
	return out, nil
}

func (o *oracle) isNativeAlias(currency string) bool {
	return currency == domain.NativeCurrency ||
		currency == o.wrappedNative ||
		currency == BlurPool
}

// usdRate reads a currency's USD rate with a short redis cache in front,
// since every fill in a block window hits the same day buckets
func (o *oracle) usdRate(ctx context.Context, currency string, timestamp int64) (decimal.Decimal, bool, error) {
	day := timestamp - timestamp%86400
	cacheKey := fmt.Sprintf("%s%s:%d", rateCachePrefix, currency, day)

	if cached, found, err := o.redis.Get(ctx, cacheKey); err == nil && found {
		if cached == "" {
			return decimal.Zero, false, nil
		}
		if rate, err := decimal.NewFromString(cached); err == nil {
			return rate, true, nil
		}
	}

	rate, _, found, err := o.rates.GetUsdRate(ctx, currency, timestamp)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to get usd rate for %s: %w", currency, err)
	}

	cached := ""
	if found {
		cached = rate.String()
	}
	// Negative lookups are cached too, an unknown currency stays unknown
	// for the whole window
	_ = o.redis.Set(ctx, cacheKey, cached, rateCacheTTL)

	return rate, found, nil
}

// IsNativeFill reports whether a fill settled in a currency the engine
// can price natively without an oracle round-trip
func IsNativeFill(currency, wrappedNative string) bool {
	currency = domain.NormalizeAddress(currency)
	return currency == domain.NativeCurrency ||
		currency == strings.ToLower(wrappedNative) ||
		currency == BlurPool
}
