package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradegate/internal/types"
)

// FixedSource serves prices from a static table. It backs tests and the
// paper-trading default when no exchange is configured.
type FixedSource struct {
	mu      sync.RWMutex
	prices  map[string]float64
	candles map[string][]Candle
	nowFn   func() time.Time

	statsMu sync.Mutex
	stats   SourceStats
}

func NewFixedSource(prices map[string]float64) *FixedSource {
	cp := make(map[string]float64, len(prices))
	for sym, p := range prices {
		cp[sym] = p
	}
	return &FixedSource{
		prices:  cp,
		candles: make(map[string][]Candle),
		nowFn:   time.Now,
	}
}

func (s *FixedSource) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// SetPrice updates or adds a quoted symbol.
func (s *FixedSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// SetCandles installs the history CandleHistory will serve for symbol.
func (s *FixedSource) SetCandles(symbol string, candles []Candle) {
	cp := make([]Candle, len(candles))
	copy(cp, candles)
	s.mu.Lock()
	s.candles[symbol] = cp
	s.mu.Unlock()
}

func (s *FixedSource) Snapshot(_ context.Context, symbol string) (types.MarketSnapshot, error) {
	s.mu.RLock()
	price, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("no price for %s", symbol)
		s.record(symbol, err)
		return types.MarketSnapshot{}, err
	}
	s.record(symbol, nil)
	return types.MarketSnapshot{
		Symbol:     symbol,
		Price:      price,
		CapturedAt: s.nowFn().UTC(),
	}, nil
}

func (s *FixedSource) CandleHistory(_ context.Context, symbol, _ string, limit int) ([]Candle, error) {
	s.mu.RLock()
	history := s.candles[symbol]
	s.mu.RUnlock()
	if len(history) == 0 {
		err := fmt.Errorf("no candles for %s", symbol)
		s.record(symbol, err)
		return nil, err
	}
	if limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	out := make([]Candle, len(history))
	copy(out, history)
	s.record(symbol, nil)
	return out, nil
}

// PriceFn adapts the source for the paper executor's mark-to-market hook.
func (s *FixedSource) PriceFn() func(ctx context.Context, symbol string) (float64, error) {
	return func(ctx context.Context, symbol string) (float64, error) {
		snap, err := s.Snapshot(ctx, symbol)
		if err != nil {
			return 0, err
		}
		return snap.Price, nil
	}
}

func (s *FixedSource) Stats() SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *FixedSource) Close() error { return nil }

func (s *FixedSource) record(symbol string, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Requests++
	s.stats.LastSymbol = symbol
	if err != nil {
		s.stats.Errors++
		s.stats.LastError = err.Error()
	}
}
