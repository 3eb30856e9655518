package types

import (
	"strings"
	"time"
)

// Side is the proposed trade direction carried by a Signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

// ParseSide normalizes a raw side string. Unknown values map to SideHold.
func ParseSide(raw string) Side {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return SideBuy
	case "SELL", "SHORT":
		return SideSell
	default:
		return SideHold
	}
}

func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideHold:
		return true
	}
	return false
}

// Signal is a proposed trade produced by an external predictive component.
// Immutable once created.
type Signal struct {
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	Confidence      float64   `json:"confidence"`        // [0,1]
	RiskScore       float64   `json:"risk_score"`        // [0,100]
	PositionSizePct float64   `json:"position_size_pct"` // [0,100]
	Reasoning       string    `json:"reasoning,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// MarketSnapshot is a point-in-time market price observation from an
// external data source. Immutable once created.
type MarketSnapshot struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	CapturedAt time.Time `json:"captured_at"`
}
