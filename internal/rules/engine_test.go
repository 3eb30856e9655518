package rules

import (
	"math/rand"
	"testing"
	"time"

	"tradegate/internal/policy"
	"tradegate/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *policy.Store) {
	t.Helper()
	policies, err := policy.NewStore(policy.Default(), nil)
	require.NoError(t, err)
	eng, err := NewEngine(Config{}, policies, nil)
	require.NoError(t, err)
	eng.SetNowFunc(func() time.Time { return testNow })
	return eng, policies
}

func passingSignal() types.Signal {
	return types.Signal{
		Symbol:          "BTCUSDT",
		Side:            types.SideBuy,
		Confidence:      0.9,
		RiskScore:       30,
		PositionSizePct: 10,
		GeneratedAt:     testNow,
	}
}

func healthyPortfolio() types.PortfolioSnapshot {
	return types.PortfolioSnapshot{
		Cash:        90000,
		TotalValue:  100000,
		TradesToday: 2,
		LastTradeAt: testNow.Add(-10 * time.Minute),
	}
}

func TestValidateAllRulesPass(t *testing.T) {
	eng, _ := newTestEngine(t)

	rec := eng.Validate(passingSignal(), healthyPortfolio())
	assert.True(t, rec.Valid)
	assert.Equal(t, 1, rec.PolicyVersion)
	require.Len(t, rec.Rules, 6)
	for _, r := range rec.Rules {
		assert.True(t, r.Passed, r.Name)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*types.Signal, *types.PortfolioSnapshot)
		failRule string
	}{
		{"low confidence", func(s *types.Signal, _ *types.PortfolioSnapshot) {
			s.Confidence = 0.3
		}, RuleMinConfidence},
		{"oversized position", func(s *types.Signal, _ *types.PortfolioSnapshot) {
			s.PositionSizePct = 35
		}, RuleMaxPositionSize},
		{"daily loss breached", func(_ *types.Signal, p *types.PortfolioSnapshot) {
			p.ProfitLossPct = -7.5
		}, RuleMaxDailyLoss},
		{"risk score too high", func(s *types.Signal, _ *types.PortfolioSnapshot) {
			s.RiskScore = 95
		}, RuleMaxRiskScore},
		{"trade count exhausted", func(_ *types.Signal, p *types.PortfolioSnapshot) {
			p.TradesToday = 50
		}, RuleMaxTradesPerDay},
		{"cooldown active", func(_ *types.Signal, p *types.PortfolioSnapshot) {
			p.LastTradeAt = testNow.Add(-10 * time.Second)
		}, RuleMinTradeInterval},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, _ := newTestEngine(t)
			sig := passingSignal()
			pf := healthyPortfolio()
			tc.mutate(&sig, &pf)

			rec := eng.Validate(sig, pf)
			assert.False(t, rec.Valid)
			for _, r := range rec.Rules {
				if r.Name == tc.failRule {
					assert.False(t, r.Passed, tc.failRule)
				}
			}
		})
	}
}

// TestValidIsConjunctionOfRules randomly breaches each limit and asserts
// the verdict is always exactly the AND of the per-rule outcomes.
func TestValidIsConjunctionOfRules(t *testing.T) {
	eng, _ := newTestEngine(t)
	rng := rand.New(rand.NewSource(7))

	breaches := []func(*types.Signal, *types.PortfolioSnapshot){
		func(s *types.Signal, _ *types.PortfolioSnapshot) { s.Confidence = 0.3 },
		func(s *types.Signal, _ *types.PortfolioSnapshot) { s.PositionSizePct = 35 },
		func(_ *types.Signal, p *types.PortfolioSnapshot) { p.ProfitLossPct = -7.5 },
		func(s *types.Signal, _ *types.PortfolioSnapshot) { s.RiskScore = 95 },
		func(_ *types.Signal, p *types.PortfolioSnapshot) { p.TradesToday = 50 },
		func(_ *types.Signal, p *types.PortfolioSnapshot) { p.LastTradeAt = testNow.Add(-10 * time.Second) },
	}

	for i := 0; i < 200; i++ {
		sig := passingSignal()
		pf := healthyPortfolio()
		breached := 0
		for _, breach := range breaches {
			if rng.Intn(2) == 1 {
				breach(&sig, &pf)
				breached++
			}
		}

		rec := eng.Validate(sig, pf)
		failed := 0
		for _, r := range rec.Rules {
			if !r.Passed {
				failed++
			}
		}
		assert.Equal(t, failed == 0, rec.Valid, "iteration %d", i)
		assert.Equal(t, breached, failed, "iteration %d", i)
	}
}

func TestValidateNoIntervalRestrictionWithoutPriorTrade(t *testing.T) {
	eng, _ := newTestEngine(t)
	pf := healthyPortfolio()
	pf.LastTradeAt = time.Time{}

	rec := eng.Validate(passingSignal(), pf)
	assert.True(t, rec.Valid)
}

func TestValidateStampsEffectivePolicyVersion(t *testing.T) {
	eng, policies := newTestEngine(t)

	rec := eng.Validate(passingSignal(), healthyPortfolio())
	assert.Equal(t, 1, rec.PolicyVersion)

	min := 0.7
	_, err := policies.Update(policy.Patch{MinConfidence: &min})
	require.NoError(t, err)

	rec = eng.Validate(passingSignal(), healthyPortfolio())
	assert.Equal(t, 2, rec.PolicyVersion)
}

func TestMarkOverrideVisibleInHistory(t *testing.T) {
	eng, _ := newTestEngine(t)

	sig := passingSignal()
	sig.Confidence = 0.1
	rec := eng.Validate(sig, healthyPortfolio())
	require.False(t, rec.Valid)

	marked := eng.MarkOverride(rec)
	assert.True(t, marked.Override)
	assert.False(t, marked.Valid)

	hist := eng.History(1)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Override)
}

func TestStatsTracksVerdicts(t *testing.T) {
	eng, _ := newTestEngine(t)

	eng.Validate(passingSignal(), healthyPortfolio())
	bad := passingSignal()
	bad.Confidence = 0.1
	eng.Validate(bad, healthyPortfolio())

	st := eng.Stats()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Passed)
	assert.Equal(t, 1, st.Failed)
	assert.Len(t, st.RuleNames, 6)
	require.NotNil(t, st.LastVerdict)
	assert.False(t, *st.LastVerdict)
}
