package types

import (
	"sync"
	"time"
)

// Trade is the executed fill the ledger records. Value is quantity*price in
// quote currency at execution time.
type Trade struct {
	TradeID   string    `json:"trade_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is a single open holding inside the portfolio.
type Position struct {
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	Value    float64 `json:"value"`
}

// PortfolioSnapshot is a read-only copy of portfolio state handed to the
// rule engine and the settlement reconciler.
type PortfolioSnapshot struct {
	Cash             float64             `json:"cash"`
	Positions        map[string]Position `json:"positions"`
	TotalValue       float64             `json:"total_value"`
	ProfitLoss       float64             `json:"profit_loss"`
	ProfitLossPct    float64             `json:"profit_loss_pct"`
	TradesToday      int                 `json:"trades_today"`
	LastTradeAt      time.Time           `json:"last_trade_at"`
	TradesTodayReset time.Time           `json:"trades_today_reset"`
}

// PortfolioState holds cash/position/P&L state. It is owned and mutated by
// the execution side only; everyone else reads snapshots.
type PortfolioState struct {
	mu sync.RWMutex

	cash         float64
	initialValue float64
	positions    map[string]Position
	tradesToday  int
	dayStart     time.Time
	lastTradeAt  time.Time
	nowFn        func() time.Time
}

// NewPortfolioState seeds the portfolio with starting cash.
func NewPortfolioState(startingCash float64) *PortfolioState {
	if startingCash <= 0 {
		startingCash = 100000
	}
	return &PortfolioState{
		cash:         startingCash,
		initialValue: startingCash,
		positions:    make(map[string]Position),
		nowFn:        time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (p *PortfolioState) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.nowFn = fn
	p.mu.Unlock()
}

// Snapshot returns a deep copy of the current state.
func (p *PortfolioState) Snapshot() PortfolioSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *PortfolioState) snapshotLocked() PortfolioSnapshot {
	positions := make(map[string]Position, len(p.positions))
	total := p.cash
	for sym, pos := range p.positions {
		positions[sym] = pos
		total += pos.Value
	}
	pnl := total - p.initialValue
	pnlPct := 0.0
	if p.initialValue > 0 {
		pnlPct = pnl / p.initialValue * 100
	}
	return PortfolioSnapshot{
		Cash:             p.cash,
		Positions:        positions,
		TotalValue:       total,
		ProfitLoss:       pnl,
		ProfitLossPct:    pnlPct,
		TradesToday:      p.tradesTodayLocked(),
		LastTradeAt:      p.lastTradeAt,
		TradesTodayReset: p.dayStart,
	}
}

func (p *PortfolioState) tradesTodayLocked() int {
	now := p.nowFn().UTC()
	if p.dayStart.IsZero() || now.Sub(p.dayStart) >= 24*time.Hour ||
		now.Day() != p.dayStart.Day() {
		return 0
	}
	return p.tradesToday
}

// Apply mutates the portfolio under the execution side's ownership. The
// mutator receives direct access to cash and positions; callers outside the
// executor package must not use this.
func (p *PortfolioState) Apply(mutate func(cash *float64, positions map[string]Position)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mutate(&p.cash, p.positions)
}

// RecordTrade bumps the daily trade counter and the inter-trade clock.
func (p *PortfolioState) RecordTrade(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := at.UTC()
	if p.dayStart.IsZero() || now.Day() != p.dayStart.Day() || now.Sub(p.dayStart) >= 24*time.Hour {
		p.dayStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		p.tradesToday = 0
	}
	p.tradesToday++
	p.lastTradeAt = now
}
