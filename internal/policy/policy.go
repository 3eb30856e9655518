package policy

import (
	"fmt"
	"time"
)

// RiskPolicy is the set of risk limits in force for rule evaluation.
// A policy is immutable once effective; updates create a new version.
type RiskPolicy struct {
	Version                 int       `json:"version" toml:"-" yaml:"version"`
	MinConfidence           float64   `json:"min_confidence" toml:"min_confidence" yaml:"min_confidence"`
	MaxPositionSizePct      float64   `json:"max_position_size_pct" toml:"max_position_size_pct" yaml:"max_position_size_pct"`
	MaxDailyLossPct         float64   `json:"max_daily_loss_pct" toml:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxRiskScore            float64   `json:"max_risk_score" toml:"max_risk_score" yaml:"max_risk_score"`
	MaxTradesPerDay         int       `json:"max_trades_per_day" toml:"max_trades_per_day" yaml:"max_trades_per_day"`
	MinTradeIntervalSeconds int       `json:"min_trade_interval_seconds" toml:"min_trade_interval_seconds" yaml:"min_trade_interval_seconds"`
	EffectiveAt             time.Time `json:"effective_at" toml:"-" yaml:"effective_at"`
}

// Default mirrors the limits the contract ships with.
func Default() RiskPolicy {
	return RiskPolicy{
		Version:                 1,
		MinConfidence:           0.6,
		MaxPositionSizePct:      20,
		MaxDailyLossPct:         5,
		MaxRiskScore:            80,
		MaxTradesPerDay:         50,
		MinTradeIntervalSeconds: 30,
	}
}

// MinTradeInterval returns the inter-trade cooldown as a duration.
func (p RiskPolicy) MinTradeInterval() time.Duration {
	return time.Duration(p.MinTradeIntervalSeconds) * time.Second
}

func (p RiskPolicy) validate() error {
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %v", p.MinConfidence)
	}
	if p.MaxPositionSizePct <= 0 || p.MaxPositionSizePct > 100 {
		return fmt.Errorf("max_position_size_pct must be in (0,100], got %v", p.MaxPositionSizePct)
	}
	if p.MaxDailyLossPct <= 0 {
		return fmt.Errorf("max_daily_loss_pct must be > 0, got %v", p.MaxDailyLossPct)
	}
	if p.MaxRiskScore <= 0 || p.MaxRiskScore > 100 {
		return fmt.Errorf("max_risk_score must be in (0,100], got %v", p.MaxRiskScore)
	}
	if p.MaxTradesPerDay <= 0 {
		return fmt.Errorf("max_trades_per_day must be > 0, got %d", p.MaxTradesPerDay)
	}
	if p.MinTradeIntervalSeconds < 0 {
		return fmt.Errorf("min_trade_interval_seconds must be >= 0, got %d", p.MinTradeIntervalSeconds)
	}
	return nil
}

// Patch carries a partial policy update. Nil fields keep the current value.
type Patch struct {
	MinConfidence           *float64 `json:"min_confidence,omitempty"`
	MaxPositionSizePct      *float64 `json:"max_position_size_pct,omitempty"`
	MaxDailyLossPct         *float64 `json:"max_daily_loss_pct,omitempty"`
	MaxRiskScore            *float64 `json:"max_risk_score,omitempty"`
	MaxTradesPerDay         *int     `json:"max_trades_per_day,omitempty"`
	MinTradeIntervalSeconds *int     `json:"min_trade_interval_seconds,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.MinConfidence == nil &&
		p.MaxPositionSizePct == nil &&
		p.MaxDailyLossPct == nil &&
		p.MaxRiskScore == nil &&
		p.MaxTradesPerDay == nil &&
		p.MinTradeIntervalSeconds == nil
}

func (p Patch) applyTo(base RiskPolicy) RiskPolicy {
	out := base
	if p.MinConfidence != nil {
		out.MinConfidence = *p.MinConfidence
	}
	if p.MaxPositionSizePct != nil {
		out.MaxPositionSizePct = *p.MaxPositionSizePct
	}
	if p.MaxDailyLossPct != nil {
		out.MaxDailyLossPct = *p.MaxDailyLossPct
	}
	if p.MaxRiskScore != nil {
		out.MaxRiskScore = *p.MaxRiskScore
	}
	if p.MaxTradesPerDay != nil {
		out.MaxTradesPerDay = *p.MaxTradesPerDay
	}
	if p.MinTradeIntervalSeconds != nil {
		out.MinTradeIntervalSeconds = *p.MinTradeIntervalSeconds
	}
	return out
}
