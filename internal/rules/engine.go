package rules

import (
	"fmt"
	"sync"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/pkg/jsonutil"
	"tradegate/internal/policy"
	"tradegate/internal/types"

	"github.com/google/uuid"
)

// Rule names, in evaluation order. Order matters only for presentation;
// the aggregate verdict is the AND over all of them.
const (
	RuleMinConfidence    = "min_confidence"
	RuleMaxPositionSize  = "max_position_size"
	RuleMaxDailyLoss     = "max_daily_loss"
	RuleMaxRiskScore     = "max_risk_score"
	RuleMaxTradesPerDay  = "max_trades_per_day"
	RuleMinTradeInterval = "min_trade_interval"
)

// RuleResult is one rule outcome inside a ValidationRecord.
type RuleResult struct {
	Name    string `json:"rule"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// ValidationRecord is the immutable verdict for one trade attempt. Valid is
// derived from the rules; PolicyVersion pins the limits in force at the time.
type ValidationRecord struct {
	ID            string       `json:"validation_id"`
	Symbol        string       `json:"symbol"`
	Side          types.Side   `json:"side"`
	Confidence    float64      `json:"confidence"`
	Rules         []RuleResult `json:"validations"`
	Valid         bool         `json:"is_valid"`
	Override      bool         `json:"override,omitempty"`
	PolicyVersion int          `json:"policy_version"`
	CreatedAt     time.Time    `json:"created_at"`
}

// RecordSink persists validation records; the gorm store implements it.
type RecordSink interface {
	SaveValidation(rec ValidationRecord) error
}

// ruleDef binds a rule name to its evaluator. The single table replaces the
// copy-pasted conditional blocks older service trees carried around.
type ruleDef struct {
	name string
	eval func(in evalInput) (bool, string)
}

type evalInput struct {
	signal    types.Signal
	portfolio types.PortfolioSnapshot
	limits    policy.RiskPolicy
	now       time.Time
}

var ruleTable = []ruleDef{
	{RuleMinConfidence, func(in evalInput) (bool, string) {
		if in.signal.Confidence < in.limits.MinConfidence {
			return false, fmt.Sprintf("confidence %.2f below minimum %.2f", in.signal.Confidence, in.limits.MinConfidence)
		}
		return true, "confidence threshold met"
	}},
	{RuleMaxPositionSize, func(in evalInput) (bool, string) {
		if in.signal.PositionSizePct > in.limits.MaxPositionSizePct {
			return false, fmt.Sprintf("position size %.1f%% exceeds maximum %.1f%%", in.signal.PositionSizePct, in.limits.MaxPositionSizePct)
		}
		return true, "position size within limits"
	}},
	{RuleMaxDailyLoss, func(in evalInput) (bool, string) {
		if in.portfolio.ProfitLossPct < -in.limits.MaxDailyLossPct {
			return false, fmt.Sprintf("daily loss %.2f%% exceeds limit %.1f%%", in.portfolio.ProfitLossPct, in.limits.MaxDailyLossPct)
		}
		return true, "daily loss within acceptable range"
	}},
	{RuleMaxRiskScore, func(in evalInput) (bool, string) {
		if in.signal.RiskScore > in.limits.MaxRiskScore {
			return false, fmt.Sprintf("risk score %.0f exceeds maximum %.0f", in.signal.RiskScore, in.limits.MaxRiskScore)
		}
		return true, "risk score acceptable"
	}},
	{RuleMaxTradesPerDay, func(in evalInput) (bool, string) {
		if in.portfolio.TradesToday >= in.limits.MaxTradesPerDay {
			return false, fmt.Sprintf("%d trades today reached limit %d", in.portfolio.TradesToday, in.limits.MaxTradesPerDay)
		}
		return true, "daily trade count within limits"
	}},
	{RuleMinTradeInterval, func(in evalInput) (bool, string) {
		if in.limits.MinTradeIntervalSeconds <= 0 || in.portfolio.LastTradeAt.IsZero() {
			return true, "no trade interval restriction applies"
		}
		elapsed := in.now.Sub(in.portfolio.LastTradeAt)
		if elapsed < in.limits.MinTradeInterval() {
			return false, fmt.Sprintf("only %.0fs since last trade, minimum %ds", elapsed.Seconds(), in.limits.MinTradeIntervalSeconds)
		}
		return true, "trade interval respected"
	}},
}

// Config tunes the engine.
type Config struct {
	HistoryLimit int // in-memory history cap, default 500
}

// Engine evaluates verified signals against the effective risk policy.
// The "smart contract" of the pipeline.
type Engine struct {
	policies *policy.Store
	sink     RecordSink
	nowFn    func() time.Time
	limit    int

	mu      sync.RWMutex
	history []ValidationRecord
}

func NewEngine(cfg Config, policies *policy.Store, sink RecordSink) (*Engine, error) {
	if policies == nil {
		return nil, fmt.Errorf("rule engine requires a policy store")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 500
	}
	return &Engine{policies: policies, sink: sink, nowFn: time.Now, limit: cfg.HistoryLimit}, nil
}

// SetNowFunc overrides the clock, for tests.
func (e *Engine) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		e.nowFn = fn
	}
}

// Validate runs every rule in fixed order against the current policy and
// a read-only portfolio snapshot. A failed rule is recorded, never raised.
func (e *Engine) Validate(signal types.Signal, portfolio types.PortfolioSnapshot) ValidationRecord {
	now := e.nowFn().UTC()
	limits := e.policies.Current()
	in := evalInput{signal: signal, portfolio: portfolio, limits: limits, now: now}

	results := make([]RuleResult, 0, len(ruleTable))
	valid := true
	for _, def := range ruleTable {
		passed, msg := def.eval(in)
		results = append(results, RuleResult{Name: def.name, Passed: passed, Message: msg})
		if !passed {
			valid = false
		}
	}

	rec := ValidationRecord{
		ID:            uuid.NewString(),
		Symbol:        signal.Symbol,
		Side:          signal.Side,
		Confidence:    signal.Confidence,
		Rules:         results,
		Valid:         valid,
		PolicyVersion: limits.Version,
		CreatedAt:     now,
	}
	e.append(rec)
	e.audit(rec)
	if !valid {
		logger.Warnf("rules: validation failed symbol=%s policy=v%d rules=%s", signal.Symbol, limits.Version, failedNames(results))
	}
	return rec
}

// MarkOverride flags a record as force-executed and replaces the history
// entry so the override is visible in audits.
func (e *Engine) MarkOverride(rec ValidationRecord) ValidationRecord {
	rec.Override = true
	e.mu.Lock()
	for i := range e.history {
		if e.history[i].ID == rec.ID {
			e.history[i] = rec
			break
		}
	}
	e.mu.Unlock()
	if e.sink != nil {
		if err := e.sink.SaveValidation(rec); err != nil {
			logger.Errorf("rules: persist override failed id=%s err=%v", rec.ID, err)
		}
	}
	logger.Warnf("rules: override recorded id=%s symbol=%s", rec.ID, rec.Symbol)
	return rec
}

func (e *Engine) append(rec ValidationRecord) {
	e.mu.Lock()
	e.history = append(e.history, rec)
	if over := len(e.history) - e.limit; over > 0 {
		e.history = e.history[over:]
	}
	e.mu.Unlock()
	if e.sink != nil {
		if err := e.sink.SaveValidation(rec); err != nil {
			logger.Errorf("rules: persist validation failed id=%s err=%v", rec.ID, err)
		}
	}
}

func (e *Engine) audit(rec ValidationRecord) {
	verdict := "VALID"
	if !rec.Valid {
		verdict = "REJECTED " + failedNames(rec.Rules)
	}
	recJSON, _ := jsonutil.Canonical(rec)
	logger.Audit("VALIDATE", rec.ID, verdict, []logger.AuditSection{
		{Title: "RECORD", Body: jsonutil.Pretty(recJSON)},
	})
}

// History returns the most recent records first, up to limit.
func (e *Engine) History(limit int) []ValidationRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ValidationRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// Stats summarizes validation outcomes plus the limits in force.
type Stats struct {
	Total       int               `json:"total_validations"`
	Passed      int               `json:"passed_validations"`
	Failed      int               `json:"failed_validations"`
	PassRate    float64           `json:"validation_pass_rate"`
	RiskLimits  policy.RiskPolicy `json:"risk_limits"`
	RuleNames   []string          `json:"rules"`
	LastVerdict *bool             `json:"last_verdict,omitempty"`
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Stats{Total: len(e.history), RiskLimits: e.policies.Current()}
	for _, def := range ruleTable {
		st.RuleNames = append(st.RuleNames, def.name)
	}
	for _, rec := range e.history {
		if rec.Valid {
			st.Passed++
		} else {
			st.Failed++
		}
	}
	if st.Total > 0 {
		st.PassRate = float64(st.Passed) / float64(st.Total) * 100
		last := e.history[len(e.history)-1].Valid
		st.LastVerdict = &last
	}
	return st
}

func failedNames(results []RuleResult) string {
	out := ""
	for _, r := range results {
		if r.Passed {
			continue
		}
		if out != "" {
			out += ","
		}
		out += r.Name
	}
	return out
}
