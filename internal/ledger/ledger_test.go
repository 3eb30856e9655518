package ledger_test

import (
	"testing"
	"time"

	"tradegate/internal/ledger"
	"tradegate/internal/store/memory"
	"tradegate/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*ledger.Ledger, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	chain, err := ledger.New(store)
	require.NoError(t, err)
	chain.SetNowFunc(func() time.Time { return testNow })
	return chain, store
}

func tradeFor(id string) types.Trade {
	return types.Trade{
		TradeID:   id,
		Symbol:    "BTCUSDT",
		Side:      types.SideBuy,
		Quantity:  0.5,
		Price:     64000,
		Value:     32000,
		Timestamp: testNow.Add(-time.Minute),
	}
}

func TestAppendLinksFromGenesis(t *testing.T) {
	chain, _ := newTestLedger(t)

	first, err := chain.Append(tradeFor("t-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.BlockNumber)
	assert.Equal(t, ledger.GenesisHash, first.PrevHash)
	assert.Len(t, first.BlockHash, 64)
	assert.False(t, first.Settled)

	second, err := chain.Append(tradeFor("t-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.BlockNumber)
	assert.Equal(t, first.BlockHash, second.PrevHash)
}

func TestHashCoversStoredFields(t *testing.T) {
	chain, _ := newTestLedger(t)
	block, err := chain.Append(tradeFor("t-1"))
	require.NoError(t, err)

	recomputed, err := block.Recompute()
	require.NoError(t, err)
	assert.Equal(t, block.BlockHash, recomputed)

	tampered := block
	tampered.Trade.Value = 999999
	altered, err := tampered.Recompute()
	require.NoError(t, err)
	assert.NotEqual(t, block.BlockHash, altered)
}

func TestVerifyChain(t *testing.T) {
	chain, store := newTestLedger(t)

	t.Run("empty chain is valid", func(t *testing.T) {
		rep, err := chain.VerifyChain()
		require.NoError(t, err)
		assert.True(t, rep.Valid)
	})

	for i := 0; i < 5; i++ {
		_, err := chain.Append(tradeFor("t-" + string(rune('a'+i))))
		require.NoError(t, err)
	}

	t.Run("clean chain verifies", func(t *testing.T) {
		rep, err := chain.VerifyChain()
		require.NoError(t, err)
		assert.True(t, rep.Valid)
		assert.Equal(t, int64(5), rep.TotalBlocks)
	})

	t.Run("tamper is detected at the right block", func(t *testing.T) {
		store.TamperBlock(3, func(b *ledger.Block) {
			b.Trade.Value = 1
		})
		rep, err := chain.VerifyChain()
		require.NoError(t, err)
		assert.False(t, rep.Valid)
		assert.Equal(t, int64(3), rep.BrokenAtBlock)
	})
}

func TestVerifyChainDetectsLinkBreak(t *testing.T) {
	chain, store := newTestLedger(t)
	for i := 0; i < 3; i++ {
		_, err := chain.Append(tradeFor("t-" + string(rune('a'+i))))
		require.NoError(t, err)
	}

	// rewrite block 2 consistently with its own contents but not its link
	store.TamperBlock(2, func(b *ledger.Block) {
		b.PrevHash = ledger.GenesisHash
		h, err := b.Recompute()
		require.NoError(t, err)
		b.BlockHash = h
	})

	rep, err := chain.VerifyChain()
	require.NoError(t, err)
	assert.False(t, rep.Valid)
	assert.Equal(t, int64(2), rep.BrokenAtBlock)
}

func TestMarkSettledExactlyOnce(t *testing.T) {
	chain, _ := newTestLedger(t)
	block, err := chain.Append(tradeFor("t-1"))
	require.NoError(t, err)

	require.NoError(t, chain.MarkSettled(block.BlockNumber))

	err = chain.MarkSettled(block.BlockNumber)
	assert.ErrorIs(t, err, ledger.ErrAlreadySettled)

	err = chain.MarkSettled(42)
	assert.ErrorIs(t, err, ledger.ErrBlockNotFound)
}

func TestSettledFlagDoesNotBreakIntegrity(t *testing.T) {
	chain, _ := newTestLedger(t)
	block, err := chain.Append(tradeFor("t-1"))
	require.NoError(t, err)
	require.NoError(t, chain.MarkSettled(block.BlockNumber))

	rep, err := chain.VerifyChain()
	require.NoError(t, err)
	assert.True(t, rep.Valid)
}

func TestRangeAndRecent(t *testing.T) {
	chain, _ := newTestLedger(t)
	for i := 0; i < 5; i++ {
		_, err := chain.Append(tradeFor("t-" + string(rune('a'+i))))
		require.NoError(t, err)
	}

	blocks, err := chain.Range(2, 4)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, int64(2), blocks[0].BlockNumber)
	assert.Equal(t, int64(4), blocks[2].BlockNumber)

	_, err = chain.Range(4, 2)
	assert.Error(t, err)

	recent, err := chain.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(5), recent[0].BlockNumber)

	count, err := chain.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}
