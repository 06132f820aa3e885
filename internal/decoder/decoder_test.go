package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

const testWrappedNative = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func bigTopic(v int64) common.Hash {
	return common.BigToHash(big.NewInt(v))
}

func makeLog(address string, topics []common.Hash, data []byte, logIndex uint) types.Log {
	return types.Log{
		Address:     common.HexToAddress(address),
		Topics:      topics,
		Data:        data,
		BlockNumber: 100,
		BlockHash:   common.HexToHash("0xb10c"),
		TxHash:      common.HexToHash("0xdead"),
		TxIndex:     3,
		Index:       logIndex,
	}
}

func TestRegistryRejectsDuplicateSubKinds(t *testing.T) {
	_, err := NewRegistry(NewERC721Handler(), NewERC721Handler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate event subkind")
}

func TestDefaultRegistryBuilds(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)
	assert.NotEmpty(t, registry.Topics())
}

func TestParseDisambiguatesTransferByTopicCount(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)

	// ERC721 and ERC20 Transfer share topic0 and differ only in how many
	// arguments are indexed
	erc721Log := makeLog("0x1111111111111111111111111111111111111111", []common.Hash{
		topicTransfer,
		addressTopic("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addressTopic("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		bigTopic(42),
	}, nil, 1)

	ev, ok := registry.Parse(erc721Log, 1700000000)
	require.True(t, ok)
	assert.Equal(t, KindERC721, ev.Kind)
	assert.Equal(t, SubKindERC721Transfer, ev.SubKind)

	erc20Log := makeLog("0x2222222222222222222222222222222222222222", []common.Hash{
		topicTransfer,
		addressTopic("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addressTopic("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
	}, common.LeftPadBytes(big.NewInt(1000).Bytes(), 32), 2)

	ev, ok = registry.Parse(erc20Log, 1700000000)
	require.True(t, ok)
	assert.Equal(t, KindERC20, ev.Kind)
}

func TestParseFillsBaseEventParams(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)

	log := makeLog("0x1111111111111111111111111111111111111111", []common.Hash{
		topicTransfer,
		addressTopic("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addressTopic("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		bigTopic(42),
	}, nil, 9)

	ev, ok := registry.Parse(log, 1700000000)
	require.True(t, ok)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", ev.Base.Address)
	assert.Equal(t, uint64(100), ev.Base.Block)
	assert.Equal(t, uint64(9), ev.Base.LogIndex)
	assert.Equal(t, uint64(1), ev.Base.BatchIndex)
	assert.Equal(t, int64(1700000000), ev.Base.Timestamp)
}

func TestParseUnknownLog(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)

	_, ok := registry.Parse(makeLog("0x1", []common.Hash{common.HexToHash("0xffff")}, nil, 0), 0)
	assert.False(t, ok)

	_, ok = registry.Parse(types.Log{}, 0)
	assert.False(t, ok)
}

func TestProcessTxERC721Transfer(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)

	log := makeLog("0x1111111111111111111111111111111111111111", []common.Hash{
		topicTransfer,
		addressTopic("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addressTopic("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		bigTopic(42),
	}, nil, 1)

	ev, ok := registry.Parse(log, 1700000000)
	require.True(t, ok)

	data, err := registry.ProcessTx([]EnhancedEvent{ev})
	require.NoError(t, err)

	require.Len(t, data.NftTransferEvents, 1)
	transfer := data.NftTransferEvents[0]
	assert.Equal(t, domain.StandardERC721, transfer.Kind)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", transfer.From)
	assert.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", transfer.To)
	assert.Equal(t, "42", transfer.TokenID)
	assert.Equal(t, "1", transfer.Amount)

	// Both sides get a sell-balance revalidation trigger
	require.Len(t, data.MakerInfos, 2)
	assert.Equal(t, domain.MakerInfoSellBalance, data.MakerInfos[0].Kind)
	assert.Equal(t, domain.TriggerKindBalanceChange, data.MakerInfos[0].Trigger.Kind)
}

func TestProcessTxERC721Mint(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)

	log := makeLog("0x1111111111111111111111111111111111111111", []common.Hash{
		topicTransfer,
		addressTopic(domain.ZeroAddress),
		addressTopic("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		bigTopic(7),
	}, nil, 1)

	ev, ok := registry.Parse(log, 1700000000)
	require.True(t, ok)

	data, err := registry.ProcessTx([]EnhancedEvent{ev})
	require.NoError(t, err)

	require.Len(t, data.MintInfos, 1)
	assert.Equal(t, "7", data.MintInfos[0].TokenID)
	// The zero address holds no orders; only the recipient needs
	// revalidation
	require.Len(t, data.MakerInfos, 1)
	assert.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", data.MakerInfos[0].Maker)
}

func dataWords(words ...*big.Int) []byte {
	out := make([]byte, 0, len(words)*32)
	for _, w := range words {
		out = append(out, common.LeftPadBytes(w.Bytes(), 32)...)
	}
	return out
}

func TestProcessTxSeaportOversizedItemArray(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)

	// A fabricated OrderFulfilled whose offer array claims 2^40 elements
	// while carrying a handful of bytes. The claimed length must be
	// rejected before any allocation happens.
	log := makeLog("0x00000000006c3852cbef3e08e8df289169ede581", []common.Hash{
		topicSeaportOrderFulfilled,
		addressTopic("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addressTopic("0xcccccccccccccccccccccccccccccccccccccccc"),
	}, dataWords(
		big.NewInt(1),    // order hash
		big.NewInt(0xbb), // recipient
		big.NewInt(0x80), // offer offset -> word 4
		big.NewInt(0x80), // consideration offset
		new(big.Int).Lsh(big.NewInt(1), 40), // offer length
	), 1)

	ev, ok := registry.Parse(log, 1700000000)
	require.True(t, ok)

	data, err := registry.ProcessTx([]EnhancedEvent{ev})
	require.NoError(t, err)
	assert.Empty(t, data.FillEvents)
}

func TestProcessTxSeaportOffsetNearIntBoundary(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)

	// Offset words near the int64 boundary must not wrap into negative
	// slice indexes when scaled to byte positions
	log := makeLog("0x00000000006c3852cbef3e08e8df289169ede581", []common.Hash{
		topicSeaportOrderFulfilled,
		addressTopic("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addressTopic("0xcccccccccccccccccccccccccccccccccccccccc"),
	}, dataWords(
		big.NewInt(1),
		big.NewInt(0xbb),
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(32)), // offer offset
		big.NewInt(0x80),
	), 1)

	ev, ok := registry.Parse(log, 1700000000)
	require.True(t, ok)

	data, err := registry.ProcessTx([]EnhancedEvent{ev})
	require.NoError(t, err)
	assert.Empty(t, data.FillEvents)
}

func TestProcessTxERC1155BatchOversizedArrays(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)

	// TransferBatch with an ids array claiming 2^40 entries
	log := makeLog("0x1111111111111111111111111111111111111111", []common.Hash{
		topicTransferBatch,
		addressTopic("0xdddddddddddddddddddddddddddddddddddddddd"),
		addressTopic("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addressTopic("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
	}, dataWords(
		big.NewInt(0x40), // ids offset -> word 2
		big.NewInt(0x40), // amounts offset
		new(big.Int).Lsh(big.NewInt(1), 40), // ids length
	), 1)

	ev, ok := registry.Parse(log, 1700000000)
	require.True(t, ok)

	data, err := registry.ProcessTx([]EnhancedEvent{ev})
	require.NoError(t, err)
	assert.Empty(t, data.NftTransferEvents)
}

func TestProcessTxApprovalForAll(t *testing.T) {
	registry, err := DefaultRegistry(testWrappedNative)
	require.NoError(t, err)

	log := makeLog("0x1111111111111111111111111111111111111111", []common.Hash{
		topicApprovalForAll,
		addressTopic("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addressTopic("0xcccccccccccccccccccccccccccccccccccccccc"),
	}, common.LeftPadBytes(big.NewInt(1).Bytes(), 32), 1)

	ev, ok := registry.Parse(log, 1700000000)
	require.True(t, ok)

	data, err := registry.ProcessTx([]EnhancedEvent{ev})
	require.NoError(t, err)

	require.Len(t, data.NftApprovalEvents, 1)
	approval := data.NftApprovalEvents[0]
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", approval.Owner)
	assert.Equal(t, "0xcccccccccccccccccccccccccccccccccccccccc", approval.Operator)
	assert.True(t, approval.Approved)

	require.Len(t, data.MakerInfos, 1)
	assert.Equal(t, domain.MakerInfoSellApproval, data.MakerInfos[0].Kind)
	assert.Equal(t, domain.TriggerKindApprovalChange, data.MakerInfos[0].Trigger.Kind)
}
