package engine

import (
	"context"
	"errors"
	"math/big"
	"os"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/marketplace-indexer/internal/domain"
	"github.com/openfloor/marketplace-indexer/internal/fanout"
	"github.com/openfloor/marketplace-indexer/internal/logger"
	"github.com/openfloor/marketplace-indexer/internal/price"
	"github.com/openfloor/marketplace-indexer/internal/royalty"
	"github.com/openfloor/marketplace-indexer/internal/store"
	"github.com/openfloor/marketplace-indexer/internal/store/schema"
	"github.com/openfloor/marketplace-indexer/internal/trace"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeOracle struct {
	// unpriceable currencies get no native conversion
	unpriceable map[string]struct{}
}

func (f *fakeOracle) GetUSDAndNativePrices(_ context.Context, currency string, amount string, _ int64) (price.Price, error) {
	if _, ok := f.unpriceable[strings.ToLower(currency)]; ok {
		return price.Price{}, nil
	}
	native := amount
	usd := "1"
	return price.Price{NativePrice: &native, UsdPrice: &usd}, nil
}

type fakeEngineStore struct {
	store.Store

	fills           []domain.FillEvent
	priorTradeCount int64
	washScores      map[string]float64
	revalidated     []schema.Order
	makerOrders     []schema.Order
}

func (f *fakeEngineStore) GetFillEventsByTxHash(context.Context, string) ([]domain.FillEvent, error) {
	return f.fills, nil
}

func (f *fakeEngineStore) GetCollectionRoyalties(context.Context, string) ([]domain.Royalty, error) {
	return nil, nil
}

func (f *fakeEngineStore) GetPriorTradeCount(context.Context, string, string, string, string, int64) (int64, error) {
	return f.priorTradeCount, nil
}

func (f *fakeEngineStore) UpdateFillWashTradingScore(_ context.Context, params domain.BaseEventParams, score float64) error {
	if f.washScores == nil {
		f.washScores = make(map[string]float64)
	}
	f.washScores[params.EventKey()] = score
	return nil
}

func (f *fakeEngineStore) GetOrdersByMaker(context.Context, string, domain.OrderSide, string) ([]schema.Order, error) {
	return f.makerOrders, nil
}

func (f *fakeEngineStore) RevalidateOrder(_ context.Context, orderID string, fillability schema.FillabilityStatus, approval *schema.ApprovalStatus) error {
	order := schema.Order{ID: orderID, FillabilityStatus: fillability}
	if approval != nil {
		order.ApprovalStatus = *approval
	}
	f.revalidated = append(f.revalidated, order)
	return nil
}

type fakeEthClient struct {
	// call answers an eth_call given the hex-encoded calldata
	call func(to string, data string) (hexutil.Bytes, error)
}

func (f *fakeEthClient) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeEthClient) BlockByNumber(context.Context, *big.Int) (*types.Block, error) {
	return nil, nil
}

func (f *fakeEthClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return nil, nil
}

func (f *fakeEthClient) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func (f *fakeEthClient) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, false, errors.New("not found")
}

func (f *fakeEthClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, nil
}

func (f *fakeEthClient) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	if method != "eth_call" || f.call == nil {
		return errors.New("unexpected call")
	}
	params, ok := args[0].(map[string]interface{})
	if !ok {
		return errors.New("malformed call args")
	}
	out, err := f.call(params["to"].(string), params["data"].(string))
	if err != nil {
		return err
	}
	*(result.(*hexutil.Bytes)) = out
	return nil
}

func (f *fakeEthClient) Close() {}

func makeTestLog(txHash string, block uint64, index uint) types.Log {
	return types.Log{
		TxHash:      common.HexToHash(txHash),
		BlockNumber: block,
		BlockHash:   common.HexToHash("0xb10c"),
		Index:       index,
	}
}

func TestGroupByTxPreservesChainOrder(t *testing.T) {
	logs := []types.Log{
		makeTestLog("0xaa", 100, 0),
		makeTestLog("0xbb", 100, 1),
		makeTestLog("0xaa", 100, 2),
		makeTestLog("0xcc", 101, 0),
	}

	groups := groupByTx(logs)

	require.Len(t, groups, 3)
	assert.Len(t, groups[0].logs, 2)
	assert.Equal(t, uint(0), groups[0].logs[0].Index)
	assert.Equal(t, uint(2), groups[0].logs[1].Index)
	assert.Len(t, groups[1].logs, 1)
	assert.Equal(t, uint64(100), groups[1].block)
	assert.Equal(t, uint64(101), groups[2].block)
}

func TestPriceFillsDropsUnpriceable(t *testing.T) {
	unknown := "0x000000000000000000000000000000000000dead"
	e := &Engine{oracle: &fakeOracle{unpriceable: map[string]struct{}{unknown: {}}}}

	data := &domain.OnChainData{
		FillEvents: []domain.FillEvent{
			{
				OrderID:       "priced",
				Currency:      domain.ZeroAddress,
				CurrencyPrice: "1000",
				BaseEventParams: domain.BaseEventParams{TxHash: "0x1", LogIndex: 1, BatchIndex: 1},
			},
			{
				OrderID:       "unpriced",
				Currency:      unknown,
				CurrencyPrice: "5",
				BaseEventParams: domain.BaseEventParams{TxHash: "0x1", LogIndex: 2, BatchIndex: 1},
			},
		},
		FillInfos: []domain.FillInfo{
			{OrderID: "priced", Amount: "1"},
			{OrderID: "unpriced", Amount: "1"},
		},
	}

	require.NoError(t, e.priceFills(context.Background(), data))

	require.Len(t, data.FillEvents, 1)
	assert.Equal(t, "priced", data.FillEvents[0].OrderID)
	assert.Equal(t, "1000", data.FillEvents[0].Price)
	require.NotNil(t, data.FillEvents[0].UsdPrice)

	// Bookkeeping for the dropped fill goes with it
	require.Len(t, data.FillInfos, 1)
	assert.Equal(t, "priced", data.FillInfos[0].OrderID)
}

func TestSynthesizeMintFillsSpreadsValue(t *testing.T) {
	e := &Engine{oracle: &fakeOracle{}}

	base := domain.BaseEventParams{
		Address:    "0x000000000000000000000000000000000c0113c7",
		TxHash:     "0x1",
		Timestamp:  1700000000,
		BatchIndex: 1,
	}
	minter := "0x000000000000000000000000000000000000b4e7"

	data := &domain.OnChainData{
		NftTransferEvents: []domain.NftTransferEvent{
			{From: domain.ZeroAddress, To: minter, TokenID: "1", Amount: "2", BaseEventParams: base},
			{From: domain.ZeroAddress, To: minter, TokenID: "2", Amount: "3", BaseEventParams: base},
			{From: minter, To: "0x0000000000000000000000000000000000000abc", TokenID: "9", Amount: "1", BaseEventParams: base},
		},
	}
	meta := &txMeta{from: minter, value: big.NewInt(500)}

	require.NoError(t, e.synthesizeMintFills(context.Background(), data, meta))

	require.Len(t, data.FillEvents, 2)
	for _, fill := range data.FillEvents {
		assert.Equal(t, domain.OrderKindMint, fill.OrderKind)
		assert.Equal(t, domain.OrderSideSell, fill.OrderSide)
		assert.Equal(t, domain.ZeroAddress, fill.Maker)
		assert.Equal(t, minter, fill.Taker)
		assert.Equal(t, "100", fill.Price)
		assert.Equal(t, domain.NativeCurrency, fill.Currency)
	}
	assert.Equal(t, "1", data.FillEvents[0].TokenID)
	assert.Equal(t, "2", data.FillEvents[1].TokenID)
}

func TestSynthesizeMintFillsFreeMint(t *testing.T) {
	e := &Engine{oracle: &fakeOracle{}}

	data := &domain.OnChainData{
		NftTransferEvents: []domain.NftTransferEvent{
			{From: domain.ZeroAddress, To: "0xabc", TokenID: "1", Amount: "1",
				BaseEventParams: domain.BaseEventParams{TxHash: "0x1", BatchIndex: 1}},
		},
	}

	require.NoError(t, e.synthesizeMintFills(context.Background(), data, nil))

	require.Len(t, data.FillEvents, 1)
	assert.Equal(t, "0", data.FillEvents[0].Price)
	assert.Nil(t, data.FillEvents[0].UsdPrice)
}

func TestSynthesizeMintFillsNoMints(t *testing.T) {
	e := &Engine{oracle: &fakeOracle{}}

	data := &domain.OnChainData{
		NftTransferEvents: []domain.NftTransferEvent{
			{From: "0xabc", To: "0xdef", TokenID: "1", Amount: "1"},
		},
	}

	require.NoError(t, e.synthesizeMintFills(context.Background(), data, &txMeta{value: big.NewInt(100)}))
	assert.Empty(t, data.FillEvents)
}

func TestFillabilityFor(t *testing.T) {
	assert.Equal(t, schema.FillabilityFillable, fillabilityFor(true))
	assert.Equal(t, schema.FillabilityNoBalance, fillabilityFor(false))
}

func TestWashScore(t *testing.T) {
	cases := []struct {
		name       string
		maker      string
		taker      string
		priorCount int64
		want       float64
	}{
		{"self dealing", "0xsame", "0xsame", 0, 1},
		{"first trade", "0xa", "0xb", 0, 0},
		{"one prior round trip", "0xa", "0xb", 1, 0.5},
		{"repeat round trips", "0xa", "0xb", 2, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			en := NewEnricher(&fakeEngineStore{priorTradeCount: tc.priorCount}, nil)
			score, err := en.washScore(context.Background(), &domain.FillEvent{
				Maker: tc.maker, Taker: tc.taker, Contract: "0xc", TokenID: "1",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, score)
		})
	}
}

func TestOwnsTokenERC1155(t *testing.T) {
	owner := "0x000000000000000000000000000000000000b4e7"
	e := &Engine{eth: &fakeEthClient{call: func(_ string, data string) (hexutil.Bytes, error) {
		if strings.HasPrefix(data, "0x00fdd58e") {
			return common.LeftPadBytes(big.NewInt(3).Bytes(), 32), nil
		}
		return nil, errors.New("execution reverted")
	}}}

	owns, err := e.ownsToken(context.Background(), "0xc0113c7", owner, "42")
	require.NoError(t, err)
	assert.True(t, owns)
}

func TestOwnsTokenERC721Fallback(t *testing.T) {
	owner := "0x000000000000000000000000000000000000b4e7"
	e := &Engine{eth: &fakeEthClient{call: func(_ string, data string) (hexutil.Bytes, error) {
		if strings.HasPrefix(data, "0x00fdd58e") {
			return nil, errors.New("execution reverted")
		}
		if strings.HasPrefix(data, "0x6352211e") {
			return common.LeftPadBytes(common.HexToAddress(owner).Bytes(), 32), nil
		}
		return nil, errors.New("unexpected selector")
	}}}

	owns, err := e.ownsToken(context.Background(), "0xc0113c7", owner, "42")
	require.NoError(t, err)
	assert.True(t, owns)

	// A different holder means the maker sold or transferred it
	other := "0x0000000000000000000000000000000000000abc"
	e.eth = &fakeEthClient{call: func(_ string, data string) (hexutil.Bytes, error) {
		if strings.HasPrefix(data, "0x6352211e") {
			return common.LeftPadBytes(common.HexToAddress(other).Bytes(), 32), nil
		}
		return nil, errors.New("execution reverted")
	}}
	owns, err = e.ownsToken(context.Background(), "0xc0113c7", owner, "42")
	require.NoError(t, err)
	assert.False(t, owns)
}

func TestOwnsTokenBurned(t *testing.T) {
	e := &Engine{eth: &fakeEthClient{call: func(string, string) (hexutil.Bytes, error) {
		return nil, errors.New("execution reverted")
	}}}

	owns, err := e.ownsToken(context.Background(), "0xc0113c7", "0xb4e7", "42")
	require.NoError(t, err)
	assert.False(t, owns)
}

func TestFtBalance(t *testing.T) {
	e := &Engine{eth: &fakeEthClient{call: func(_ string, data string) (hexutil.Bytes, error) {
		require.True(t, strings.HasPrefix(data, "0x70a08231"))
		return common.LeftPadBytes(big.NewInt(12345).Bytes(), 32), nil
	}}}

	balance, err := e.ftBalance(context.Background(), "0xdead", "0xb4e7")
	require.NoError(t, err)
	assert.Equal(t, "12345", balance.String())
}

type nilTraceFetcher struct{}

func (nilTraceFetcher) TransactionTrace(context.Context, string) (*trace.CallTrace, error) {
	return nil, nil
}

func (nilTraceFetcher) Transaction(context.Context, string) (*types.Transaction, error) {
	return nil, nil
}

func TestEnrichFillScoresWashTrading(t *testing.T) {
	fills := []domain.FillEvent{
		{
			Maker: "0xa", Taker: "0xb", Contract: "0xc", TokenID: "1",
			BaseEventParams: domain.BaseEventParams{TxHash: "0x1", LogIndex: 1, BatchIndex: 1},
		},
		{
			Maker: "0xa", Taker: "0xb", Contract: "0xc", TokenID: "2",
			BaseEventParams: domain.BaseEventParams{TxHash: "0x1", LogIndex: 2, BatchIndex: 1},
		},
	}
	st := &fakeEngineStore{fills: fills, priorTradeCount: 1}
	extractor := royalty.NewExtractor(nilTraceFetcher{}, st, royalty.DefaultPlatformFees(), "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	en := NewEnricher(st, extractor)

	err := en.EnrichFill(context.Background(), fanout.FillRef{
		TxHash: "0x1", LogIndex: 2, BatchIndex: 1,
	})
	require.NoError(t, err)

	// Only the referenced fill is scored
	require.Len(t, st.washScores, 1)
	assert.Equal(t, 0.5, st.washScores["0x1:2:1"])
}

func TestEnrichFillMissingTargetIsNoOp(t *testing.T) {
	st := &fakeEngineStore{}
	en := NewEnricher(st, nil)

	err := en.EnrichFill(context.Background(), fanout.FillRef{TxHash: "0x1", LogIndex: 9, BatchIndex: 1})
	require.NoError(t, err)
	assert.Empty(t, st.washScores)
}

func TestHandleJobUnknownKind(t *testing.T) {
	e := &Engine{}
	err := e.HandleJob(context.Background(), &fanout.Job{Kind: fanout.JobKind("bogus")})
	assert.Error(t, err)
}
