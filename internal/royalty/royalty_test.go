package royalty

import (
	"context"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/trace"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

const testWrappedNative = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"

type fakeTraceFetcher struct {
	trace *trace.CallTrace
}

func (f *fakeTraceFetcher) TransactionTrace(context.Context, string) (*trace.CallTrace, error) {
	return f.trace, nil
}

func (f *fakeTraceFetcher) Transaction(context.Context, string) (*types.Transaction, error) {
	return nil, nil
}

type fakeFillReader struct {
	fills     []domain.FillEvent
	royalties map[string][]domain.Royalty
}

func (f *fakeFillReader) GetFillEventsByTxHash(context.Context, string) ([]domain.FillEvent, error) {
	return f.fills, nil
}

func (f *fakeFillReader) GetCollectionRoyalties(_ context.Context, contract string) ([]domain.Royalty, error) {
	return f.royalties[contract], nil
}

func transferFrame(from, to string, value int64) trace.CallTrace {
	return trace.CallTrace{
		Type:  "CALL",
		From:  from,
		To:    to,
		Value: hexValue(value),
	}
}

func hexValue(v int64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0x0"
	}
	var out []byte
	for v > 0 {
		out = append([]byte{digits[v%16]}, out...)
		v /= 16
	}
	return "0x" + string(out)
}

func testFill() domain.FillEvent {
	return domain.FillEvent{
		OrderKind: domain.OrderKindSeaport,
		OrderID:   "order-1",
		Maker:     "0x0000000000000000000000000000000000005e11",
		Taker:     "0x000000000000000000000000000000000000b4e7",
		Contract:  "0x000000000000000000000000000000000c0113c7",
		TokenID:   "1",
		Amount:    "1",
		Currency:  domain.ZeroAddress,
		Price:     "10000",
		BaseEventParams: domain.BaseEventParams{
			TxHash:   "0xfeedface",
			LogIndex: 1,
		},
	}
}

func TestExtractRoyaltiesClassifiesPayments(t *testing.T) {
	fill := testFill()
	feeWallet := "0x0000a26b00c1f0df003000390027140000faa719"
	royaltyWallet := "0x000000000000000000000000000000000007a1ee"
	strayWallet := "0x0000000000000000000000000000000000057a1e"
	exchange := "0x000000000000000000000000000000000000dec5"

	root := trace.CallTrace{
		Type:  "CALL",
		From:  fill.Taker,
		To:    exchange,
		Value: hexValue(10000),
		Calls: []trace.CallTrace{
			transferFrame(exchange, fill.Maker, 9200),
			transferFrame(exchange, feeWallet, 250),
			transferFrame(exchange, royaltyWallet, 500),
			transferFrame(exchange, strayWallet, 50),
		},
	}

	reader := &fakeFillReader{
		fills: []domain.FillEvent{fill},
		royalties: map[string][]domain.Royalty{
			fill.Contract: {{Recipient: royaltyWallet, Bps: 500}},
		},
	}
	extractor := NewExtractor(&fakeTraceFetcher{trace: &root}, reader, DefaultPlatformFees(), testWrappedNative)

	result, err := extractor.ExtractRoyalties(context.Background(), fill)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 250, result.MarketplaceFeeBps)
	require.Len(t, result.MarketplaceFeeBreakdown, 1)
	assert.Equal(t, feeWallet, result.MarketplaceFeeBreakdown[0].Recipient)

	assert.Equal(t, 500, result.RoyaltyFeeBps)
	require.Len(t, result.RoyaltyFeeBreakdown, 1)
	assert.Equal(t, royaltyWallet, result.RoyaltyFeeBreakdown[0].Recipient)

	assert.True(t, result.PaidFullRoyalty)
	assert.Equal(t, 1, result.SameCollectionSales)
	assert.Equal(t, 1, result.TotalTransfers)

	require.Len(t, result.PossibleMissingRoyalties, 1)
	assert.Equal(t, strayWallet, result.PossibleMissingRoyalties[0].Recipient)
	assert.Equal(t, 50, result.PossibleMissingRoyalties[0].Bps)
}

func TestExtractRoyaltiesLargePaymentsAreNotMissingRoyalties(t *testing.T) {
	fill := testFill()
	bigWallet := "0x0000000000000000000000000000000000001a26"
	exchange := "0x000000000000000000000000000000000000dec5"

	root := trace.CallTrace{
		Type:  "CALL",
		From:  fill.Taker,
		To:    exchange,
		Value: hexValue(10000),
		Calls: []trace.CallTrace{
			transferFrame(exchange, fill.Maker, 8000),
			// 20% of the sale lands on an unknown address: sale proceeds,
			// not a royalty
			transferFrame(exchange, bigWallet, 2000),
		},
	}

	reader := &fakeFillReader{fills: []domain.FillEvent{fill}, royalties: map[string][]domain.Royalty{}}
	extractor := NewExtractor(&fakeTraceFetcher{trace: &root}, reader, DefaultPlatformFees(), testWrappedNative)

	result, err := extractor.ExtractRoyalties(context.Background(), fill)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Empty(t, result.PossibleMissingRoyalties)
	assert.Zero(t, result.RoyaltyFeeBps)
	assert.Zero(t, result.MarketplaceFeeBps)
	assert.False(t, result.PaidFullRoyalty)
}

func TestExtractRoyaltiesPartialRoyalty(t *testing.T) {
	fill := testFill()
	royaltyWallet := "0x000000000000000000000000000000000007a1ee"
	exchange := "0x000000000000000000000000000000000000dec5"

	root := trace.CallTrace{
		Type:  "CALL",
		From:  fill.Taker,
		To:    exchange,
		Value: hexValue(10000),
		Calls: []trace.CallTrace{
			transferFrame(exchange, fill.Maker, 9750),
			transferFrame(exchange, royaltyWallet, 250),
		},
	}

	reader := &fakeFillReader{
		fills: []domain.FillEvent{fill},
		royalties: map[string][]domain.Royalty{
			fill.Contract: {{Recipient: royaltyWallet, Bps: 500}},
		},
	}
	extractor := NewExtractor(&fakeTraceFetcher{trace: &root}, reader, DefaultPlatformFees(), testWrappedNative)

	result, err := extractor.ExtractRoyalties(context.Background(), fill)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 250, result.RoyaltyFeeBps)
	assert.False(t, result.PaidFullRoyalty)
}

func TestExtractRoyaltiesBundleApportionsOverCollectionTotal(t *testing.T) {
	// Two same-collection fills priced 1:3 sharing one royalty payment
	// of 2.5% of the bundle total. Each fill is assigned 250 bps, not
	// the payment measured against its own price alone.
	fill1 := testFill()
	fill2 := testFill()
	fill2.OrderID = "order-2"
	fill2.Maker = "0x0000000000000000000000000000000000005e12"
	fill2.Price = "30000"
	fill2.BaseEventParams.LogIndex = 2

	royaltyWallet := "0x000000000000000000000000000000000007a1ee"
	exchange := "0x000000000000000000000000000000000000dec5"

	root := trace.CallTrace{
		Type:  "CALL",
		From:  fill1.Taker,
		To:    exchange,
		Value: hexValue(40000),
		Calls: []trace.CallTrace{
			transferFrame(exchange, fill1.Maker, 9750),
			transferFrame(exchange, fill2.Maker, 29250),
			transferFrame(exchange, royaltyWallet, 1000),
		},
	}

	reader := &fakeFillReader{
		fills: []domain.FillEvent{fill1, fill2},
		royalties: map[string][]domain.Royalty{
			fill1.Contract: {{Recipient: royaltyWallet, Bps: 250}},
		},
	}
	extractor := NewExtractor(&fakeTraceFetcher{trace: &root}, reader, DefaultPlatformFees(), testWrappedNative)

	for _, fill := range []domain.FillEvent{fill1, fill2} {
		result, err := extractor.ExtractRoyalties(context.Background(), fill)
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, 250, result.RoyaltyFeeBps, "fill %s", fill.OrderID)
		require.Len(t, result.RoyaltyFeeBreakdown, 1)
		assert.Equal(t, royaltyWallet, result.RoyaltyFeeBreakdown[0].Recipient)
		assert.True(t, result.PaidFullRoyalty)
		assert.Equal(t, 2, result.SameCollectionSales)
	}
}

func TestExtractRoyaltiesOtherCollectionRecipientsAreSkipped(t *testing.T) {
	fill := testFill()
	otherRoyaltyWallet := "0x00000000000000000000000000000000000d07e6"
	otherContract := "0x0000000000000000000000000000000000c01200"
	exchange := "0x000000000000000000000000000000000000dec5"

	sibling := testFill()
	sibling.Contract = otherContract
	sibling.OrderID = "order-2"
	sibling.BaseEventParams.LogIndex = 2

	root := trace.CallTrace{
		Type:  "CALL",
		From:  fill.Taker,
		To:    exchange,
		Value: hexValue(20000),
		Calls: []trace.CallTrace{
			transferFrame(exchange, fill.Maker, 19500),
			transferFrame(exchange, otherRoyaltyWallet, 500),
		},
	}

	reader := &fakeFillReader{
		fills: []domain.FillEvent{fill, sibling},
		royalties: map[string][]domain.Royalty{
			otherContract: {{Recipient: otherRoyaltyWallet, Bps: 500}},
		},
	}
	extractor := NewExtractor(&fakeTraceFetcher{trace: &root}, reader, DefaultPlatformFees(), testWrappedNative)

	result, err := extractor.ExtractRoyalties(context.Background(), fill)
	require.NoError(t, err)
	require.NotNil(t, result)

	// The payment belongs to the sibling collection's fill
	assert.Zero(t, result.RoyaltyFeeBps)
	assert.Empty(t, result.PossibleMissingRoyalties)
	assert.Equal(t, 2, result.TotalTransfers)
	assert.Equal(t, 1, result.SameCollectionSales)
}

func TestExtractRoyaltiesTraceUnavailable(t *testing.T) {
	extractor := NewExtractor(&fakeTraceFetcher{trace: nil}, &fakeFillReader{}, DefaultPlatformFees(), testWrappedNative)

	result, err := extractor.ExtractRoyalties(context.Background(), testFill())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestExtractRoyaltiesZeroValueFill(t *testing.T) {
	fill := testFill()
	fill.Price = "0"

	extractor := NewExtractor(&fakeTraceFetcher{trace: &trace.CallTrace{}}, &fakeFillReader{}, DefaultPlatformFees(), testWrappedNative)

	result, err := extractor.ExtractRoyalties(context.Background(), fill)
	require.NoError(t, err)
	assert.Nil(t, result)
}
