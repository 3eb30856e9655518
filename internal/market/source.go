// Package market supplies the price snapshots and candle history the
// pipeline verifies trades against.
package market

import (
	"context"

	"tradegate/internal/types"
)

// Candle is one OHLCV bar. Times are exchange epoch milliseconds.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// SourceStats tracks transport health for the /healthz surface.
type SourceStats struct {
	Requests   int    `json:"requests"`
	Errors     int    `json:"errors"`
	LastError  string `json:"last_error,omitempty"`
	LastSymbol string `json:"last_symbol,omitempty"`
}

// Source produces live market data. Snapshot is what the oracle gate
// stamps; CandleHistory feeds the signal producer.
type Source interface {
	Snapshot(ctx context.Context, symbol string) (types.MarketSnapshot, error)
	CandleHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	Stats() SourceStats
	Close() error
}
