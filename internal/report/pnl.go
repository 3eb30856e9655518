// Package report renders the settlement history as a browser-viewable
// profit/loss page.
package report

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"time"

	"tradegate/internal/settlement"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	chartstypes "github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorProfit        = "#34d399"
	colorLoss          = "#f87171"
	colorCumulative    = "#3b82f6"

	chartWidthPx  = 1200
	chartHeightPx = 420
)

// RenderPnL builds a standalone HTML page with the cumulative realized P&L
// curve and the per-settlement bar chart. Failed settlements are excluded
// from the curve but counted in the title.
func RenderPnL(records []settlement.Record) ([]byte, error) {
	settled := make([]settlement.Record, 0, len(records))
	failed := 0
	for _, rec := range records {
		if rec.Status == settlement.StatusSettled {
			settled = append(settled, rec)
		} else {
			failed++
		}
	}
	if len(settled) == 0 {
		return nil, fmt.Errorf("no settled trades to report")
	}
	sort.Slice(settled, func(i, j int) bool {
		return settled[i].SettledAt.Before(settled[j].SettledAt)
	})

	xAxis := make([]string, len(settled))
	cumulative := make([]opts.LineData, len(settled))
	perTrade := make([]opts.BarData, len(settled))
	var running float64
	for i, rec := range settled {
		xAxis[i] = rec.SettledAt.UTC().Format("01-02 15:04")
		running += rec.ProfitLoss
		cumulative[i] = opts.LineData{Value: round2(running)}
		color := colorLoss
		if rec.ProfitLoss >= 0 {
			color = colorProfit
		}
		perTrade[i] = opts.BarData{
			Value:     round2(rec.ProfitLoss),
			Name:      fmt.Sprintf("%s %s", rec.Symbol, rec.TradeID),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildCumulativeChart(xAxis, cumulative, running, len(settled), failed),
		buildPerTradeChart(xAxis, perTrade),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildCumulativeChart(xAxis []string, data []opts.LineData, total float64, settled, failed int) *charts.Line {
	line := charts.NewLine()
	subtitle := fmt.Sprintf("%d settled trades, net %+.2f USD", settled, total)
	if failed > 0 {
		subtitle += fmt.Sprintf(" (%d failed settlements excluded)", failed)
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           chartstypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         "Cumulative Realized P&L",
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Cumulative", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorCumulative, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), Smooth: opts.Bool(true)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.15)}),
	)
	return line
}

func buildPerTradeChart(xAxis []string, data []opts.BarData) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           chartstypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "Per-Trade P&L",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	bar.SetXAxis(xAxis)
	bar.AddSeries("P&L", data)
	return bar
}

// Summary condenses the settlement history for the JSON stats surface.
type Summary struct {
	Settled    int       `json:"settled"`
	Failed     int       `json:"failed"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	NetPnL     float64   `json:"net_pnl"`
	BestTrade  float64   `json:"best_trade"`
	WorstTrade float64   `json:"worst_trade"`
	Symbols    []string  `json:"symbols"`
	LastAt     time.Time `json:"last_at"`
}

func Summarize(records []settlement.Record) Summary {
	var sum Summary
	symbols := make(map[string]struct{})
	sum.BestTrade = math.Inf(-1)
	sum.WorstTrade = math.Inf(1)
	for _, rec := range records {
		if rec.Status != settlement.StatusSettled {
			sum.Failed++
			continue
		}
		sum.Settled++
		sum.NetPnL += rec.ProfitLoss
		if rec.ProfitLoss >= 0 {
			sum.Wins++
		} else {
			sum.Losses++
		}
		if rec.ProfitLoss > sum.BestTrade {
			sum.BestTrade = rec.ProfitLoss
		}
		if rec.ProfitLoss < sum.WorstTrade {
			sum.WorstTrade = rec.ProfitLoss
		}
		symbols[rec.Symbol] = struct{}{}
		if rec.SettledAt.After(sum.LastAt) {
			sum.LastAt = rec.SettledAt
		}
	}
	if sum.Settled == 0 {
		sum.BestTrade = 0
		sum.WorstTrade = 0
	}
	for sym := range symbols {
		sum.Symbols = append(sum.Symbols, sym)
	}
	sort.Strings(sum.Symbols)
	sum.NetPnL = round2(sum.NetPnL)
	return sum
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
