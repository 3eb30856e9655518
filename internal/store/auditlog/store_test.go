package auditlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func boolPtr(b bool) *bool { return &b }

func TestInsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []Entry{
		{Timestamp: 1000, Symbol: "BTCUSDT", Side: "BUY", Accepted: true, BlockNumber: 1, RequestJSON: `{"symbol":"BTCUSDT"}`},
		{Timestamp: 2000, Symbol: "ETHUSDT", Side: "SELL", Accepted: false, Reason: "stale signal"},
		{Timestamp: 3000, Symbol: "BTCUSDT", Side: "BUY", Accepted: false, Forced: false, Reason: "position limit"},
	}
	for _, e := range entries {
		id, err := store.Insert(ctx, e)
		require.NoError(t, err)
		assert.Greater(t, id, int64(0))
	}

	list, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, list, 3)

	// newest first
	assert.Equal(t, int64(3000), list[0].Timestamp)
	assert.Equal(t, int64(1000), list[2].Timestamp)
	assert.Equal(t, "position limit", list[0].Reason)
	assert.True(t, list[2].Accepted)
	assert.Equal(t, int64(1), list[2].BlockNumber)
	assert.Equal(t, `{"symbol":"BTCUSDT"}`, list[2].RequestJSON)
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fixtures := []Entry{
		{Timestamp: 1, Symbol: "BTCUSDT", Side: "BUY", Accepted: true},
		{Timestamp: 2, Symbol: "BTCUSDT", Side: "SELL", Accepted: false},
		{Timestamp: 3, Symbol: "ETHUSDT", Side: "BUY", Accepted: true},
	}
	for _, e := range fixtures {
		_, err := store.Insert(ctx, e)
		require.NoError(t, err)
	}

	t.Run("by symbol", func(t *testing.T) {
		list, err := store.List(ctx, Query{Symbol: "BTCUSDT"})
		require.NoError(t, err)
		require.Len(t, list, 2)
		for _, e := range list {
			assert.Equal(t, "BTCUSDT", e.Symbol)
		}
	})

	t.Run("by accepted", func(t *testing.T) {
		list, err := store.List(ctx, Query{Accepted: boolPtr(false)})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "SELL", list[0].Side)
	})

	t.Run("combined", func(t *testing.T) {
		list, err := store.List(ctx, Query{Symbol: "BTCUSDT", Accepted: boolPtr(true)})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, int64(1), list[0].Timestamp)
	})

	t.Run("limit and offset", func(t *testing.T) {
		list, err := store.List(ctx, Query{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, int64(2), list[0].Timestamp)
	})
}

func TestCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := store.Insert(ctx, Entry{Timestamp: int64(i + 1), Symbol: "BTCUSDT", Side: "BUY", Accepted: i%2 == 0})
		require.NoError(t, err)
	}

	total, err := store.Count(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	accepted, err := store.Count(ctx, Query{Accepted: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)
}

func TestInsertFillsTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, Entry{Symbol: "BTCUSDT", Side: "HOLD"})
	require.NoError(t, err)

	list, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Greater(t, list[0].Timestamp, int64(0))
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close()) // idempotent

	_, err := store.Insert(context.Background(), Entry{Symbol: "BTCUSDT", Side: "BUY"})
	assert.Error(t, err)
	_, err = store.List(context.Background(), Query{})
	assert.Error(t, err)
	_, err = store.Count(context.Background(), Query{})
	assert.Error(t, err)
}

func TestEntryFor(t *testing.T) {
	req := map[string]any{"symbol": "BTCUSDT", "side": "BUY"}
	result := map[string]any{"accepted": false, "reason": "stale"}

	entry := EntryFor("BTCUSDT", "BUY", true, req, result, false, "stale", "ver-1", "val-1", 7)
	assert.Equal(t, "BTCUSDT", entry.Symbol)
	assert.Equal(t, "BUY", entry.Side)
	assert.True(t, entry.Forced)
	assert.False(t, entry.Accepted)
	assert.Equal(t, "ver-1", entry.VerificationID)
	assert.Equal(t, "val-1", entry.ValidationID)
	assert.Equal(t, int64(7), entry.BlockNumber)
	assert.Greater(t, entry.Timestamp, int64(0))
	assert.JSONEq(t, `{"symbol":"BTCUSDT","side":"BUY"}`, entry.RequestJSON)
	assert.JSONEq(t, `{"accepted":false,"reason":"stale"}`, entry.ResultJSON)

	empty := EntryFor("ETHUSDT", "SELL", false, nil, nil, true, "", "", "", 0)
	assert.Empty(t, empty.RequestJSON)
	assert.Empty(t, empty.ResultJSON)
}
