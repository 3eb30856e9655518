package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	saved []RiskPolicy
}

func (c *captureSink) SavePolicyVersion(p RiskPolicy) error {
	c.saved = append(c.saved, p)
	return nil
}

func TestNewStorePersistsInitialVersion(t *testing.T) {
	sink := &captureSink{}
	s, err := NewStore(Default(), sink)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Current().Version)
	require.Len(t, sink.saved, 1)
	assert.Equal(t, 1, sink.saved[0].Version)
}

func TestNewStoreRejectsInvalidPolicy(t *testing.T) {
	bad := Default()
	bad.MinConfidence = 1.5
	_, err := NewStore(bad, nil)
	assert.Error(t, err)
}

func TestUpdateCreatesNewVersion(t *testing.T) {
	sink := &captureSink{}
	s, err := NewStore(Default(), sink)
	require.NoError(t, err)

	min := 0.75
	next, err := s.Update(Patch{MinConfidence: &min})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, 0.75, next.MinConfidence)
	// untouched fields carry over
	assert.Equal(t, Default().MaxRiskScore, next.MaxRiskScore)
	assert.Equal(t, next, s.Current())
	assert.Len(t, sink.saved, 2)
}

func TestUpdateRejectsEmptyAndNoOpPatches(t *testing.T) {
	s, err := NewStore(Default(), nil)
	require.NoError(t, err)

	_, err = s.Update(Patch{})
	assert.ErrorIs(t, err, ErrNoOpUpdate)

	same := Default().MinConfidence
	_, err = s.Update(Patch{MinConfidence: &same})
	assert.ErrorIs(t, err, ErrNoOpUpdate)
	assert.Equal(t, 1, s.Current().Version)
}

func TestUpdateRejectsInvalidValuesWithoutSideEffects(t *testing.T) {
	s, err := NewStore(Default(), nil)
	require.NoError(t, err)

	bad := 150.0
	_, err = s.Update(Patch{MaxPositionSizePct: &bad})
	assert.Error(t, err)
	assert.Equal(t, 1, s.Current().Version)
	assert.Len(t, s.Versions(), 1)
}

func TestReplaceVersionsLikeUpdate(t *testing.T) {
	s, err := NewStore(Default(), nil)
	require.NoError(t, err)

	next := Default()
	next.MaxTradesPerDay = 10
	installed, err := s.Replace(next)
	require.NoError(t, err)
	assert.Equal(t, 2, installed.Version)
	assert.Equal(t, 10, s.Current().MaxTradesPerDay)

	// replacing with an identical policy is a no-op
	_, err = s.Replace(next)
	assert.ErrorIs(t, err, ErrNoOpUpdate)
}

func TestVersionLookupAndHistory(t *testing.T) {
	s, err := NewStore(Default(), nil)
	require.NoError(t, err)
	min := 0.7
	_, err = s.Update(Patch{MinConfidence: &min})
	require.NoError(t, err)

	v1, ok := s.Version(1)
	require.True(t, ok)
	assert.Equal(t, Default().MinConfidence, v1.MinConfidence)

	_, ok = s.Version(9)
	assert.False(t, ok)

	versions := s.Versions()
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
}

func TestSeedHistoryRestoresOlderVersions(t *testing.T) {
	resumed := Default()
	resumed.Version = 3
	resumed.MinConfidence = 0.8
	s, err := NewStore(resumed, nil)
	require.NoError(t, err)
	require.Equal(t, 3, s.Current().Version)

	older := []RiskPolicy{
		{Version: 1, MinConfidence: 0.6, MaxPositionSizePct: 20, MaxDailyLossPct: 5, MaxRiskScore: 80, MaxTradesPerDay: 50},
		{Version: 2, MinConfidence: 0.7, MaxPositionSizePct: 20, MaxDailyLossPct: 5, MaxRiskScore: 80, MaxTradesPerDay: 50},
		{Version: 3, MinConfidence: 0.8, MaxPositionSizePct: 20, MaxDailyLossPct: 5, MaxRiskScore: 80, MaxTradesPerDay: 50},
	}
	s.SeedHistory(older)

	versions := s.Versions()
	require.Len(t, versions, 3) // v3 not duplicated
	v2, ok := s.Version(2)
	require.True(t, ok)
	assert.Equal(t, 0.7, v2.MinConfidence)
}

func TestAuditYAML(t *testing.T) {
	s, err := NewStore(Default(), nil)
	require.NoError(t, err)
	s.SetNowFunc(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) })

	out, err := s.AuditYAML()
	require.NoError(t, err)
	assert.Contains(t, out, "policy_versions")
	assert.Contains(t, out, "min_confidence")
}
