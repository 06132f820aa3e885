package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseEventParamsEventKey(t *testing.T) {
	params := BaseEventParams{
		TxHash:     "0xabc",
		LogIndex:   7,
		BatchIndex: 2,
	}
	assert.Equal(t, "0xabc:7:2", params.EventKey())
}

func TestBaseEventParamsWithBatchIndex(t *testing.T) {
	params := BaseEventParams{TxHash: "0xabc", LogIndex: 1, BatchIndex: 1}

	bumped := params.WithBatchIndex(3)

	assert.Equal(t, uint64(3), bumped.BatchIndex)
	// The receiver is untouched; decoders reuse it for the next batch entry
	assert.Equal(t, uint64(1), params.BatchIndex)
}

func TestOrderSideFlip(t *testing.T) {
	assert.Equal(t, OrderSideBuy, OrderSideSell.Flip())
	assert.Equal(t, OrderSideSell, OrderSideBuy.Flip())
}

func TestTotalBps(t *testing.T) {
	assert.Equal(t, 0, TotalBps(nil))
	assert.Equal(t, 750, TotalBps([]Royalty{
		{Recipient: "0x1", Bps: 500},
		{Recipient: "0x2", Bps: 250},
	}))
}

func TestFillEventBigConversions(t *testing.T) {
	fill := FillEvent{Price: "1000000000000000000", Amount: "3"}
	assert.Equal(t, "1000000000000000000", fill.PriceBig().String())
	assert.Equal(t, "3", fill.AmountBig().String())

	malformed := FillEvent{Price: "not-a-number", Amount: ""}
	assert.Equal(t, "0", malformed.PriceBig().String())
	assert.Equal(t, "0", malformed.AmountBig().String())
}

func TestNftTransferEventIsMint(t *testing.T) {
	mint := NftTransferEvent{From: ZeroAddress, To: "0xabc"}
	assert.True(t, mint.IsMint())

	transfer := NftTransferEvent{From: "0xdef", To: "0xabc"}
	assert.False(t, transfer.IsMint())
}

func TestOnChainDataMerge(t *testing.T) {
	a := &OnChainData{
		FillEvents:   []FillEvent{{OrderID: "a"}},
		CancelEvents: []CancelEvent{{OrderID: "c1"}},
	}
	b := &OnChainData{
		FillEvents: []FillEvent{{OrderID: "b"}},
		MintInfos:  []MintInfo{{Contract: "0x1", TokenID: "9"}},
	}

	a.Merge(b)

	require.Len(t, a.FillEvents, 2)
	assert.Equal(t, "a", a.FillEvents[0].OrderID)
	assert.Equal(t, "b", a.FillEvents[1].OrderID)
	assert.Len(t, a.CancelEvents, 1)
	assert.Len(t, a.MintInfos, 1)
}

func TestOnChainDataEmpty(t *testing.T) {
	assert.True(t, (&OnChainData{}).Empty())

	// Bookkeeping infos alone do not make the batch non-empty
	assert.True(t, (&OnChainData{MintInfos: []MintInfo{{}}}).Empty())

	assert.False(t, (&OnChainData{FtTransferEvents: []FtTransferEvent{{}}}).Empty())
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeAddress("0xABCdef"))
}
