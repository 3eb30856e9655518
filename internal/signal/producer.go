// Package signal holds the reference signal producer. Production signals
// come from external predictive systems through the HTTP surface; this
// producer exists so a standalone deployment can feed the pipeline without
// one.
package signal

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"tradegate/internal/market"
	"tradegate/internal/types"

	talib "github.com/markcheno/go-talib"
)

// Config controls the RSI/EMA momentum producer.
type Config struct {
	Interval   string
	RSIPeriod  int
	EMAPeriod  int
	Overbought float64
	Oversold   float64
	// BaseSizePct is the position size attached to a full-confidence signal.
	BaseSizePct float64
}

func (c *Config) withDefaults() Config {
	out := *c
	out.Interval = strings.ToLower(strings.TrimSpace(out.Interval))
	if out.Interval == "" {
		out.Interval = "1h"
	}
	if out.RSIPeriod <= 0 {
		out.RSIPeriod = 14
	}
	if out.EMAPeriod <= 0 {
		out.EMAPeriod = 50
	}
	if out.Overbought <= 0 {
		out.Overbought = 70
	}
	if out.Oversold <= 0 {
		out.Oversold = 30
	}
	if out.BaseSizePct <= 0 {
		out.BaseSizePct = 10
	}
	return out
}

// Producer derives BUY/SELL/HOLD signals from RSI extremes filtered by the
// EMA trend.
type Producer struct {
	cfg    Config
	source market.Source
	nowFn  func() time.Time
}

func NewProducer(cfg Config, source market.Source) *Producer {
	return &Producer{
		cfg:    cfg.withDefaults(),
		source: source,
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the signal clock in tests.
func (p *Producer) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		p.nowFn = fn
	}
}

// Produce computes a signal for symbol from closed candles. A neutral
// market yields a HOLD signal, not an error.
func (p *Producer) Produce(ctx context.Context, symbol string) (types.Signal, error) {
	need := p.cfg.EMAPeriod
	if p.cfg.RSIPeriod > need {
		need = p.cfg.RSIPeriod
	}
	candles, err := p.source.CandleHistory(ctx, symbol, p.cfg.Interval, need*3)
	if err != nil {
		return types.Signal{}, fmt.Errorf("fetch candles for %s: %w", symbol, err)
	}
	if len(candles) < need+1 {
		return types.Signal{}, fmt.Errorf("insufficient candles for %s: need %d got %d", symbol, need+1, len(candles))
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsiSeries := talib.Rsi(closes, p.cfg.RSIPeriod)
	emaSeries := talib.Ema(closes, p.cfg.EMAPeriod)
	if len(rsiSeries) == 0 || len(emaSeries) == 0 {
		return types.Signal{}, fmt.Errorf("indicator output empty for %s", symbol)
	}
	rsi := rsiSeries[len(rsiSeries)-1]
	ema := emaSeries[len(emaSeries)-1]
	last := closes[len(closes)-1]

	side := types.SideHold
	confidence := 0.0
	var reason string
	switch {
	case rsi <= p.cfg.Oversold && last >= ema:
		side = types.SideBuy
		confidence = clamp01(0.5 + (p.cfg.Oversold-rsi)/p.cfg.Oversold)
		reason = fmt.Sprintf("RSI(%d)=%.1f oversold with price above EMA(%d)", p.cfg.RSIPeriod, rsi, p.cfg.EMAPeriod)
	case rsi >= p.cfg.Overbought && last <= ema:
		side = types.SideSell
		confidence = clamp01(0.5 + (rsi-p.cfg.Overbought)/(100-p.cfg.Overbought))
		reason = fmt.Sprintf("RSI(%d)=%.1f overbought with price below EMA(%d)", p.cfg.RSIPeriod, rsi, p.cfg.EMAPeriod)
	default:
		reason = fmt.Sprintf("RSI(%d)=%.1f inside neutral band", p.cfg.RSIPeriod, rsi)
	}

	return types.Signal{
		Symbol:          symbol,
		Side:            side,
		Confidence:      confidence,
		RiskScore:       riskScore(closes),
		PositionSizePct: math.Round(p.cfg.BaseSizePct*confidence*100) / 100,
		Reasoning:       reason,
		GeneratedAt:     p.nowFn().UTC(),
	}, nil
}

// riskScore maps the recent close-to-close volatility onto [0,100].
func riskScore(closes []float64) float64 {
	const window = 20
	if len(closes) < window+1 {
		return 50
	}
	tail := closes[len(closes)-window-1:]
	var sum, sumSq float64
	n := 0
	for i := 1; i < len(tail); i++ {
		if tail[i-1] == 0 {
			continue
		}
		r := (tail[i] - tail[i-1]) / tail[i-1]
		sum += r
		sumSq += r * r
		n++
	}
	if n == 0 {
		return 50
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	// 5% per-bar volatility saturates the scale.
	score := math.Sqrt(variance) / 0.05 * 100
	if score > 100 {
		score = 100
	}
	return math.Round(score*100) / 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
