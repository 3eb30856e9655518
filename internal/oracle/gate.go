package oracle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/pkg/jsonutil"
	"tradegate/internal/types"

	"github.com/google/uuid"
)

// Check names, in evaluation order.
const (
	CheckSignalCompleteness = "signal_completeness"
	CheckMarketValidity     = "market_data_validity"
	CheckDataFreshness      = "data_freshness"
	CheckConfidenceRange    = "confidence_range"
)

// CheckResult is one verification check outcome.
type CheckResult struct {
	Name    string `json:"check"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// VerificationRecord is the immutable audit record a Verify call produces.
// Verified is derived from the checks and never set independently.
type VerificationRecord struct {
	ID         string        `json:"verification_id"`
	Symbol     string        `json:"symbol"`
	Side       types.Side    `json:"side"`
	Confidence float64       `json:"confidence"`
	Checks     []CheckResult `json:"checks"`
	Verified   bool          `json:"is_verified"`
	Override   bool          `json:"override,omitempty"`
	DataHash   string        `json:"data_hash"`
	CreatedAt  time.Time     `json:"created_at"`
}

// RecordSink persists verification records; the gorm store implements it.
type RecordSink interface {
	SaveVerification(rec VerificationRecord) error
}

// Config tunes the gate.
type Config struct {
	FreshnessWindow time.Duration // default 60s
	HistoryLimit    int           // in-memory history cap, default 500
}

func (c Config) withDefaults() Config {
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = 60 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 500
	}
	return c
}

// Gate verifies (Signal, MarketSnapshot) pairs before they reach the rule
// engine. A failed check is recorded, never raised.
type Gate struct {
	cfg   Config
	sink  RecordSink
	nowFn func() time.Time

	mu      sync.RWMutex
	history []VerificationRecord
}

func NewGate(cfg Config, sink RecordSink) *Gate {
	return &Gate{cfg: cfg.withDefaults(), sink: sink, nowFn: time.Now}
}

// SetNowFunc overrides the clock, for tests.
func (g *Gate) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		g.nowFn = fn
	}
}

// FreshnessWindow exposes the effective window for callers' messages.
func (g *Gate) FreshnessWindow() time.Duration { return g.cfg.FreshnessWindow }

// Verify runs all checks against the pair and appends the record to history.
// Verified is the AND of every check; the age comparison is strict, so a
// signal exactly at the freshness boundary fails.
func (g *Gate) Verify(signal types.Signal, snapshot types.MarketSnapshot) VerificationRecord {
	now := g.nowFn().UTC()
	checks := make([]CheckResult, 0, 4)

	checks = append(checks, checkCompleteness(signal))
	checks = append(checks, checkMarketValidity(snapshot))
	checks = append(checks, g.checkFreshness(signal, now))
	checks = append(checks, checkConfidenceRange(signal))

	verified := true
	for _, c := range checks {
		if !c.Passed {
			verified = false
			break
		}
	}

	rec := VerificationRecord{
		ID:         uuid.NewString(),
		Symbol:     signal.Symbol,
		Side:       signal.Side,
		Confidence: signal.Confidence,
		Checks:     checks,
		Verified:   verified,
		DataHash:   DataHash(signal, snapshot),
		CreatedAt:  now,
	}

	g.append(rec)
	g.audit(signal, snapshot, rec)
	if !verified {
		logger.Warnf("oracle: verification failed symbol=%s checks=%s", signal.Symbol, failedNames(checks))
	}
	return rec
}

// MarkOverride returns a copy of rec flagged as force-executed and replaces
// the history entry so the override is never silent.
func (g *Gate) MarkOverride(rec VerificationRecord) VerificationRecord {
	rec.Override = true
	g.mu.Lock()
	for i := range g.history {
		if g.history[i].ID == rec.ID {
			g.history[i] = rec
			break
		}
	}
	g.mu.Unlock()
	if g.sink != nil {
		if err := g.sink.SaveVerification(rec); err != nil {
			logger.Errorf("oracle: persist override failed id=%s err=%v", rec.ID, err)
		}
	}
	logger.Warnf("oracle: override recorded id=%s symbol=%s", rec.ID, rec.Symbol)
	return rec
}

func (g *Gate) append(rec VerificationRecord) {
	g.mu.Lock()
	g.history = append(g.history, rec)
	if over := len(g.history) - g.cfg.HistoryLimit; over > 0 {
		g.history = g.history[over:]
	}
	g.mu.Unlock()
	if g.sink != nil {
		if err := g.sink.SaveVerification(rec); err != nil {
			logger.Errorf("oracle: persist verification failed id=%s err=%v", rec.ID, err)
		}
	}
}

func (g *Gate) audit(signal types.Signal, snapshot types.MarketSnapshot, rec VerificationRecord) {
	verdict := "VERIFIED"
	if !rec.Verified {
		verdict = "REJECTED " + failedNames(rec.Checks)
	}
	sigJSON, _ := jsonutil.Canonical(signal)
	recJSON, _ := jsonutil.Canonical(rec)
	logger.Audit("VERIFY", rec.ID, verdict, []logger.AuditSection{
		{Title: "SIGNAL", Body: jsonutil.Pretty(sigJSON)},
		{Title: "SNAPSHOT", Body: fmt.Sprintf("symbol=%s price=%.4f captured_at=%s", snapshot.Symbol, snapshot.Price, snapshot.CapturedAt.Format(time.RFC3339))},
		{Title: "RECORD", Body: jsonutil.Pretty(recJSON)},
	})
}

// History returns the most recent records first, up to limit.
func (g *Gate) History(limit int) []VerificationRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := len(g.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]VerificationRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, g.history[i])
	}
	return out
}

// Stats summarizes verification outcomes.
type Stats struct {
	Total            int     `json:"total_verifications"`
	Verified         int     `json:"verified_count"`
	Failed           int     `json:"failed_count"`
	VerificationRate float64 `json:"verification_rate"`
	Overrides        int     `json:"override_count"`
}

func (g *Gate) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st := Stats{Total: len(g.history)}
	for _, rec := range g.history {
		if rec.Verified {
			st.Verified++
		} else {
			st.Failed++
		}
		if rec.Override {
			st.Overrides++
		}
	}
	if st.Total > 0 {
		st.VerificationRate = float64(st.Verified) / float64(st.Total) * 100
	}
	return st
}

func checkCompleteness(signal types.Signal) CheckResult {
	missing := make([]string, 0, 5)
	if !signal.Side.Valid() || signal.Side == "" {
		missing = append(missing, "side")
	}
	if signal.Symbol == "" {
		missing = append(missing, "symbol")
	}
	if signal.PositionSizePct <= 0 {
		missing = append(missing, "position_size_pct")
	}
	// riskScore has no absent state here; zero reads as a legal
	// minimum-risk score, anything outside [0,100] as malformed input.
	// Confidence presence falls to the confidence_range check.
	if signal.RiskScore < 0 || signal.RiskScore > 100 {
		missing = append(missing, "risk_score")
	}
	if signal.GeneratedAt.IsZero() {
		missing = append(missing, "generated_at")
	}
	if len(missing) > 0 {
		return CheckResult{Name: CheckSignalCompleteness, Passed: false,
			Message: fmt.Sprintf("missing signal fields: %v", missing)}
	}
	return CheckResult{Name: CheckSignalCompleteness, Passed: true, Message: "signal data complete"}
}

func checkMarketValidity(snapshot types.MarketSnapshot) CheckResult {
	if snapshot.Price <= 0 {
		return CheckResult{Name: CheckMarketValidity, Passed: false,
			Message: fmt.Sprintf("invalid market price %.4f", snapshot.Price)}
	}
	return CheckResult{Name: CheckMarketValidity, Passed: true, Message: "market data valid"}
}

func (g *Gate) checkFreshness(signal types.Signal, now time.Time) CheckResult {
	if signal.GeneratedAt.IsZero() {
		return CheckResult{Name: CheckDataFreshness, Passed: false, Message: "signal has no generated_at"}
	}
	age := now.Sub(signal.GeneratedAt)
	if age < g.cfg.FreshnessWindow {
		return CheckResult{Name: CheckDataFreshness, Passed: true,
			Message: fmt.Sprintf("data is %.1fs old", age.Seconds())}
	}
	return CheckResult{Name: CheckDataFreshness, Passed: false,
		Message: fmt.Sprintf("data too old: %.1fs exceeds %.0fs window", age.Seconds(), g.cfg.FreshnessWindow.Seconds())}
}

func checkConfidenceRange(signal types.Signal) CheckResult {
	if signal.Confidence < 0 || signal.Confidence > 1 {
		return CheckResult{Name: CheckConfidenceRange, Passed: false,
			Message: fmt.Sprintf("confidence %.4f outside [0,1]", signal.Confidence)}
	}
	return CheckResult{Name: CheckConfidenceRange, Passed: true, Message: "confidence in valid range"}
}

func failedNames(checks []CheckResult) string {
	out := ""
	for _, c := range checks {
		if c.Passed {
			continue
		}
		if out != "" {
			out += ","
		}
		out += c.Name
	}
	return out
}

// DataHash digests the canonical serialization of signal+snapshot so that
// identical inputs always hash identically.
func DataHash(signal types.Signal, snapshot types.MarketSnapshot) string {
	canonical, err := jsonutil.MergeCanonical(signal, snapshot)
	if err != nil {
		// Marshal of plain structs cannot realistically fail; keep the
		// record usable regardless.
		canonical = fmt.Sprintf("%+v|%+v", signal, snapshot)
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
