package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	symbolpkg "tradegate/internal/pkg/symbol"
	"tradegate/internal/types"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// BinanceConfig configures the futures REST client.
type BinanceConfig struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	ProxyURL     string
}

func (c *BinanceConfig) withDefaults() BinanceConfig {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}

// BinanceSource implements Source on the go-binance futures SDK. Read-only:
// snapshots and candle history need no API keys.
type BinanceSource struct {
	cfg    BinanceConfig
	client *futures.Client
	nowFn  func() time.Time

	statsMu sync.Mutex
	stats   SourceStats
}

func NewBinanceSource(cfg BinanceConfig) (*BinanceSource, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &BinanceSource{
		cfg:    final,
		client: client,
		nowFn:  time.Now,
	}, nil
}

// SetNowFunc overrides the snapshot clock in tests.
func (s *BinanceSource) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// Snapshot fetches the current mark price for symbol.
func (s *BinanceSource) Snapshot(ctx context.Context, symbol string) (types.MarketSnapshot, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return types.MarketSnapshot{}, fmt.Errorf("symbol is required")
	}
	clean := symbolpkg.ToExchange(symbol)
	prices, err := s.client.NewListPricesService().Symbol(clean).Do(ctx)
	s.record(symbol, err)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	if len(prices) == 0 || prices[0] == nil {
		return types.MarketSnapshot{}, fmt.Errorf("no price returned for %s", clean)
	}
	price := parseFloat(prices[0].Price)
	if price <= 0 {
		return types.MarketSnapshot{}, fmt.Errorf("non-positive price %q for %s", prices[0].Price, clean)
	}
	return types.MarketSnapshot{
		Symbol:     symbol,
		Price:      price,
		CapturedAt: s.nowFn().UTC(),
	}, nil
}

// CandleHistory fetches up to limit closed klines for symbol at interval.
func (s *BinanceSource) CandleHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	clean := symbolpkg.ToExchange(symbol)
	kls, err := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	s.record(symbol, err)
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	// The last kline may still be forming; drop it so indicators only see
	// closed bars.
	if n := len(out); n > 0 && out[n-1].CloseTime > s.nowFn().UnixMilli() {
		out = out[:n-1]
	}
	return out, nil
}

func (s *BinanceSource) Stats() SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *BinanceSource) Close() error { return nil }

func (s *BinanceSource) record(symbol string, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Requests++
	s.stats.LastSymbol = symbol
	if err != nil {
		s.stats.Errors++
		s.stats.LastError = err.Error()
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
