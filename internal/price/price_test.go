package price

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/marketplace-indexer/internal/adapter"
	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const wrappedNative = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"

type rateEntry struct {
	rate     decimal.Decimal
	decimals int32
}

type fakeRateSource struct {
	rates map[string]rateEntry
	calls int
}

func (f *fakeRateSource) GetUsdRate(_ context.Context, currency string, _ int64) (decimal.Decimal, int32, bool, error) {
	f.calls++
	entry, ok := f.rates[currency]
	if !ok {
		return decimal.Zero, 0, false, nil
	}
	return entry.rate, entry.decimals, true, nil
}

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

func (f *fakeRedis) Eval(context.Context, string, []string, ...interface{}) (interface{}, error) {
	return int64(0), nil
}

func (f *fakeRedis) NewRateLimiter() adapter.RedisRateLimiter { return nil }

func (f *fakeRedis) Close() error { return nil }

func TestNativeCurrencyPricing(t *testing.T) {
	rates := &fakeRateSource{rates: map[string]rateEntry{
		domain.NativeCurrency: {rate: decimal.NewFromInt(2000), decimals: 18},
	}}
	oracle := NewOracle(rates, newFakeRedis(), wrappedNative)

	// 1.5 ether
	price, err := oracle.GetUSDAndNativePrices(context.Background(), domain.NativeCurrency, "1500000000000000000", 1700000000)
	require.NoError(t, err)

	require.NotNil(t, price.NativePrice)
	assert.Equal(t, "1500000000000000000", *price.NativePrice)
	require.NotNil(t, price.UsdPrice)
	assert.Equal(t, "3000", *price.UsdPrice)
}

func TestWrappedNativeAliasesToNative(t *testing.T) {
	rates := &fakeRateSource{rates: map[string]rateEntry{
		domain.NativeCurrency: {rate: decimal.NewFromInt(2000), decimals: 18},
	}}
	oracle := NewOracle(rates, newFakeRedis(), wrappedNative)

	price, err := oracle.GetUSDAndNativePrices(context.Background(), wrappedNative, "1000000000000000000", 1700000000)
	require.NoError(t, err)

	require.NotNil(t, price.NativePrice)
	assert.Equal(t, "1000000000000000000", *price.NativePrice)
	require.NotNil(t, price.UsdPrice)
	assert.Equal(t, "2000", *price.UsdPrice)
}

func TestBlurPoolAliasesToNative(t *testing.T) {
	oracle := NewOracle(&fakeRateSource{}, newFakeRedis(), wrappedNative)

	price, err := oracle.GetUSDAndNativePrices(context.Background(), BlurPool, "5", 1700000000)
	require.NoError(t, err)

	require.NotNil(t, price.NativePrice)
	assert.Equal(t, "5", *price.NativePrice)
	// No USD rate known; the native leg still prices
	assert.Nil(t, price.UsdPrice)
}

func TestERC20Conversion(t *testing.T) {
	usdc := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	rates := &fakeRateSource{rates: map[string]rateEntry{
		usdc:                  {rate: decimal.NewFromInt(1), decimals: 6},
		domain.NativeCurrency: {rate: decimal.NewFromInt(2000), decimals: 18},
	}}
	oracle := NewOracle(rates, newFakeRedis(), wrappedNative)

	// 3000 USDC at 2000 USD per native unit is 1.5 ether
	price, err := oracle.GetUSDAndNativePrices(context.Background(), usdc, "3000000000", 1700000000)
	require.NoError(t, err)

	require.NotNil(t, price.UsdPrice)
	assert.Equal(t, "3000", *price.UsdPrice)
	require.NotNil(t, price.NativePrice)
	assert.Equal(t, "1500000000000000000", *price.NativePrice)
}

func TestUnknownCurrencyStaysUnpriced(t *testing.T) {
	oracle := NewOracle(&fakeRateSource{}, newFakeRedis(), wrappedNative)

	price, err := oracle.GetUSDAndNativePrices(context.Background(), "0xdeadbeef", "100", 1700000000)
	require.NoError(t, err)

	assert.Nil(t, price.NativePrice)
	assert.Nil(t, price.UsdPrice)
}

func TestMalformedAmount(t *testing.T) {
	oracle := NewOracle(&fakeRateSource{}, newFakeRedis(), wrappedNative)

	_, err := oracle.GetUSDAndNativePrices(context.Background(), domain.NativeCurrency, "not-a-number", 1700000000)
	assert.Error(t, err)
}

func TestUsdRateCaching(t *testing.T) {
	rates := &fakeRateSource{rates: map[string]rateEntry{
		domain.NativeCurrency: {rate: decimal.NewFromInt(2000), decimals: 18},
	}}
	redisClient := newFakeRedis()
	oracle := NewOracle(rates, redisClient, wrappedNative)

	_, err := oracle.GetUSDAndNativePrices(context.Background(), domain.NativeCurrency, "1", 1700000000)
	require.NoError(t, err)
	firstCalls := rates.calls

	// Same day bucket hits the cache, not the rate source
	_, err = oracle.GetUSDAndNativePrices(context.Background(), domain.NativeCurrency, "1", 1700000500)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, rates.calls)
}

func TestNegativeLookupCaching(t *testing.T) {
	rates := &fakeRateSource{rates: map[string]rateEntry{}}
	redisClient := newFakeRedis()
	oracle := NewOracle(rates, redisClient, wrappedNative)

	_, err := oracle.GetUSDAndNativePrices(context.Background(), domain.NativeCurrency, "1", 1700000000)
	require.NoError(t, err)
	firstCalls := rates.calls

	price, err := oracle.GetUSDAndNativePrices(context.Background(), domain.NativeCurrency, "1", 1700000000)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, rates.calls)
	assert.Nil(t, price.UsdPrice)
}

func TestIsNativeFill(t *testing.T) {
	assert.True(t, IsNativeFill(domain.NativeCurrency, wrappedNative))
	assert.True(t, IsNativeFill(wrappedNative, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"))
	assert.True(t, IsNativeFill(BlurPool, wrappedNative))
	assert.False(t, IsNativeFill("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", wrappedNative))
}
