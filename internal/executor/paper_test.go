package executor

import (
	"context"
	"testing"
	"time"

	"tradegate/internal/settlement"
	"tradegate/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newPaperFixture(t *testing.T, startingCash float64, priceFn PriceFn) (*Paper, *types.PortfolioState) {
	t.Helper()
	portfolio := types.NewPortfolioState(startingCash)
	paper, err := NewPaper(portfolio, priceFn)
	require.NoError(t, err)
	paper.SetNowFunc(func() time.Time { return testNow })
	portfolio.SetNowFunc(func() time.Time { return testNow })
	return paper, portfolio
}

func buySignal(sizePct float64) types.Signal {
	return types.Signal{
		Symbol:          "BTCUSDT",
		Side:            types.SideBuy,
		Confidence:      0.9,
		PositionSizePct: sizePct,
		GeneratedAt:     testNow,
	}
}

func snapshotAt(price float64) types.MarketSnapshot {
	return types.MarketSnapshot{Symbol: "BTCUSDT", Price: price, CapturedAt: testNow}
}

func TestExecuteBuyOpensPosition(t *testing.T) {
	paper, portfolio := newPaperFixture(t, 100000, nil)

	trade, err := paper.Execute(context.Background(), buySignal(10), snapshotAt(50000))
	require.NoError(t, err)
	assert.Equal(t, types.SideBuy, trade.Side)
	assert.InDelta(t, 10000, trade.Value, 0.01)
	assert.InDelta(t, 0.2, trade.Quantity, 0.0001)
	assert.NotEmpty(t, trade.TradeID)

	snap := portfolio.Snapshot()
	assert.InDelta(t, 90000, snap.Cash, 0.01)
	pos, ok := snap.Positions["BTCUSDT"]
	require.True(t, ok)
	assert.InDelta(t, 50000, pos.AvgPrice, 0.01)
	assert.Equal(t, 1, snap.TradesToday)
}

func TestExecuteBuyAveragesIntoPosition(t *testing.T) {
	paper, portfolio := newPaperFixture(t, 100000, nil)

	_, err := paper.Execute(context.Background(), buySignal(10), snapshotAt(50000))
	require.NoError(t, err)
	_, err = paper.Execute(context.Background(), buySignal(10), snapshotAt(60000))
	require.NoError(t, err)

	pos := portfolio.Snapshot().Positions["BTCUSDT"]
	assert.Greater(t, pos.AvgPrice, 50000.0)
	assert.Less(t, pos.AvgPrice, 60000.0)
}

func TestExecuteBuyBelowMinimumTradeValue(t *testing.T) {
	// 10% of a $500 portfolio is below the $100 trade floor
	paper, _ := newPaperFixture(t, 500, nil)

	_, err := paper.Execute(context.Background(), buySignal(10), snapshotAt(50000))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestExecuteSellRealizesProfit(t *testing.T) {
	paper, portfolio := newPaperFixture(t, 100000, nil)

	_, err := paper.Execute(context.Background(), buySignal(10), snapshotAt(50000))
	require.NoError(t, err)

	sell := buySignal(50)
	sell.Side = types.SideSell
	trade, err := paper.Execute(context.Background(), sell, snapshotAt(55000))
	require.NoError(t, err)
	assert.Equal(t, types.SideSell, trade.Side)

	pnl, err := paper.ProfitLoss(context.Background(), trade)
	require.NoError(t, err)
	assert.True(t, pnl.IsPositive())

	snap := portfolio.Snapshot()
	assert.Greater(t, snap.Cash, 90000.0)
}

func TestExecuteSellWithoutPosition(t *testing.T) {
	paper, _ := newPaperFixture(t, 100000, nil)

	sell := buySignal(10)
	sell.Side = types.SideSell
	_, err := paper.Execute(context.Background(), sell, snapshotAt(50000))
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestExecuteHoldRejected(t *testing.T) {
	paper, _ := newPaperFixture(t, 100000, nil)

	hold := buySignal(10)
	hold.Side = types.SideHold
	_, err := paper.Execute(context.Background(), hold, snapshotAt(50000))
	assert.ErrorIs(t, err, ErrHoldSignal)
}

func TestProfitLossMarksBuysToMarket(t *testing.T) {
	priceFn := func(_ context.Context, _ string) (float64, error) { return 52000, nil }
	paper, _ := newPaperFixture(t, 100000, priceFn)

	trade, err := paper.Execute(context.Background(), buySignal(10), snapshotAt(50000))
	require.NoError(t, err)

	pnl, err := paper.ProfitLoss(context.Background(), trade)
	require.NoError(t, err)
	// 0.2 BTC * (52000-50000)
	assert.InDelta(t, 400, pnl.InexactFloat64(), 0.01)
}

func TestProfitLossUnknownTrade(t *testing.T) {
	paper, _ := newPaperFixture(t, 100000, nil)

	_, err := paper.ProfitLoss(context.Background(), types.Trade{TradeID: "nope"})
	assert.ErrorIs(t, err, settlement.ErrTradeUnknown)
}
