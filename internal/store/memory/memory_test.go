package memory

import (
	"testing"
	"time"

	"tradegate/internal/ledger"
	"tradegate/internal/policy"
	"tradegate/internal/settlement"
	"tradegate/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockNo(n int64) ledger.Block {
	return ledger.Block{
		BlockNumber: n,
		Trade:       types.Trade{TradeID: "t", Symbol: "BTCUSDT"},
		PrevHash:    ledger.GenesisHash,
		BlockHash:   "h",
		Timestamp:   time.Now().UTC(),
	}
}

func TestAppendBlockRejectsOutOfOrder(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AppendBlock(blockNo(1)))
	require.NoError(t, s.AppendBlock(blockNo(2)))
	assert.Error(t, s.AppendBlock(blockNo(2)))
	assert.Error(t, s.AppendBlock(blockNo(1)))
}

func TestSetSettledOutcomes(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AppendBlock(blockNo(1)))

	already, err := s.SetSettled(1)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = s.SetSettled(1)
	require.NoError(t, err)
	assert.True(t, already)

	_, err = s.SetSettled(7)
	assert.ErrorIs(t, err, ledger.ErrBlockNotFound)
}

func TestSaveSettlementEnforcesUniqueness(t *testing.T) {
	s := NewStore()
	rec := settlement.Record{ID: "s-1", TradeID: "t-1", Status: settlement.StatusSettled}
	require.NoError(t, s.SaveSettlement(rec))

	err := s.SaveSettlement(settlement.Record{ID: "s-2", TradeID: "t-1"})
	assert.ErrorIs(t, err, settlement.ErrDuplicate)

	got, found, err := s.SettlementByTradeID("t-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "s-1", got.ID)
}

func TestSettlementsNewestFirst(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveSettlement(settlement.Record{ID: id, TradeID: id}))
	}
	out, err := s.Settlements(2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].TradeID)
	assert.Equal(t, "b", out[1].TradeID)
}

func TestSavePolicyVersionIdempotent(t *testing.T) {
	s := NewStore()
	p := policy.Default()
	require.NoError(t, s.SavePolicyVersion(p))
	require.NoError(t, s.SavePolicyVersion(p))

	versions, err := s.PolicyVersions()
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}
