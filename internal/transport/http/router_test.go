package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradegate/internal/engine"
	"tradegate/internal/executor"
	"tradegate/internal/ledger"
	"tradegate/internal/market"
	"tradegate/internal/oracle"
	"tradegate/internal/policy"
	"tradegate/internal/rules"
	"tradegate/internal/settlement"
	"tradegate/internal/store/memory"
	"tradegate/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	server    *Server
	store     *memory.Store
	policies  *policy.Store
	chain     *ledger.Ledger
	portfolio *types.PortfolioState
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := memory.NewStore()

	base := policy.Default()
	base.MinTradeIntervalSeconds = 0 // back-to-back proposals must not trip the cooldown rule
	policies, err := policy.NewStore(base, store)
	require.NoError(t, err)
	gate := oracle.NewGate(oracle.Config{FreshnessWindow: time.Minute}, store)
	ruleEngine, err := rules.NewEngine(rules.Config{}, policies, store)
	require.NoError(t, err)
	chain, err := ledger.New(store)
	require.NoError(t, err)

	src := market.NewFixedSource(map[string]float64{"BTCUSDT": 65000})
	priceFn := src.PriceFn()
	portfolio := types.NewPortfolioState(100000)
	paper, err := executor.NewPaper(portfolio, priceFn)
	require.NoError(t, err)
	pipeline, err := engine.New(gate, ruleEngine, paper, chain, portfolio)
	require.NoError(t, err)
	reconciler, err := settlement.NewReconciler(settlement.Config{}, chain, store, paper, nil)
	require.NoError(t, err)

	router := &Router{
		Engine:     pipeline,
		Gate:       gate,
		Rules:      ruleEngine,
		Policies:   policies,
		Chain:      chain,
		Reconciler: reconciler,
		Portfolio:  portfolio,
		Market:     src,
	}
	server, err := NewServer(":0", router)
	require.NoError(t, err)
	return &apiFixture{server: server, store: store, policies: policies, chain: chain, portfolio: portfolio}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func proposeBody(generatedAt time.Time) map[string]any {
	return map[string]any{
		"signal": map[string]any{
			"symbol":            "BTCUSDT",
			"side":              "BUY",
			"confidence":        0.9,
			"risk_score":        30,
			"position_size_pct": 10,
			"generated_at":      generatedAt.Format(time.RFC3339),
		},
		"snapshot": map[string]any{
			"symbol":      "BTCUSDT",
			"price":       65000,
			"captured_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func TestProposeAccepted(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/trades/propose", proposeBody(time.Now().UTC()))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result engine.ProposeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Accepted)
	require.NotNil(t, result.Block)
	assert.Equal(t, int64(1), result.Block.BlockNumber)
}

func TestProposeRejectedReturns422(t *testing.T) {
	f := newAPIFixture(t)

	body := proposeBody(time.Now().UTC().Add(-10 * time.Minute)) // stale
	w := f.do(t, http.MethodPost, "/api/trades/propose", body)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var result engine.ProposeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Accepted)
	assert.NotEmpty(t, result.Reason)
}

func TestProposeSchemaRejections(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing snapshot", func(b map[string]any) { delete(b, "snapshot") }},
		{"bad side", func(b map[string]any) { b["signal"].(map[string]any)["side"] = "LONG" }},
		{"confidence out of range", func(b map[string]any) { b["signal"].(map[string]any)["confidence"] = 1.5 }},
		{"empty symbol", func(b map[string]any) { b["signal"].(map[string]any)["symbol"] = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := proposeBody(time.Now().UTC())
			tc.mutate(body)
			w := f.do(t, http.MethodPost, "/api/trades/propose", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestPolicyLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/policy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var current policy.RiskPolicy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
	assert.Equal(t, 1, current.Version)

	w = f.do(t, http.MethodPut, "/api/policy", map[string]any{"min_confidence": 0.8})
	require.Equal(t, http.StatusOK, w.Code)
	var updated policy.RiskPolicy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 0.8, updated.MinConfidence)

	// empty patch is a 400
	w = f.do(t, http.MethodPut, "/api/policy", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// invalid values are a 422
	w = f.do(t, http.MethodPut, "/api/policy", map[string]any{"max_position_size_pct": 150})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodGet, "/api/policy/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var versions struct {
		Versions []policy.RiskPolicy `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &versions))
	assert.Len(t, versions.Versions, 2)
}

func TestLedgerEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/api/trades/propose", proposeBody(time.Now().UTC()))
		require.Equal(t, http.StatusOK, w.Code)
	}

	t.Run("recent with total count", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/ledger?limit=2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Blocks     []ledger.Block `json:"blocks"`
			TotalCount int64          `json:"total_count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Blocks, 2)
		assert.Equal(t, int64(3), resp.TotalCount)
	})

	t.Run("range", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/ledger?from=1&to=2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Blocks []ledger.Block `json:"blocks"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Blocks, 2)
	})

	t.Run("invalid range", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/ledger?from=3&to=1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("integrity", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/ledger/integrity", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var rep ledger.IntegrityReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
		assert.True(t, rep.Valid)
		assert.Equal(t, int64(3), rep.TotalBlocks)
	})

	t.Run("integrity after tamper", func(t *testing.T) {
		f.store.TamperBlock(2, func(b *ledger.Block) { b.Trade.Value = 1 })
		w := f.do(t, http.MethodGet, "/api/ledger/integrity", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var rep ledger.IntegrityReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
		assert.False(t, rep.Valid)
		assert.Equal(t, int64(2), rep.BrokenAtBlock)
	})
}

func TestDecisionHistoryEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/api/trades/propose", proposeBody(time.Now().UTC()))
	require.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{"/api/verifications", "/api/validations", "/api/oracle/stats", "/api/contract/stats", "/api/settlements", "/api/portfolio"} {
		w := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w = f.do(t, http.MethodGet, "/api/oracle/stats", nil)
	var stats oracle.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
}

func TestAutoProposeUnavailableWithoutProducer(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/api/trades/auto", map[string]any{"symbol": "BTCUSDT"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuditUnavailableWithoutStore(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/audit", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(1), resp["policy_version"])
}

func TestProposeBodyTooLargeStillSchemaChecked(t *testing.T) {
	f := newAPIFixture(t)
	// oversized garbage is truncated by the limit reader and fails the schema
	big := bytes.Repeat([]byte("x"), maxProposeBodyBytes+10)
	req := httptest.NewRequest(http.MethodPost, "/api/trades/propose", bytes.NewReader(big))
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseLimitBounds(t *testing.T) {
	f := newAPIFixture(t)
	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/api/trades/propose", proposeBody(time.Now().UTC()))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/ledger?limit=%d", -5), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Blocks []ledger.Block `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Blocks, 2) // negative limit falls back to the default
}
