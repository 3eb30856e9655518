package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/settlement"
	"tradegate/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const minTradeValueUSD = 100

// PriceFn resolves a current price for mark-to-market settlement.
type PriceFn func(ctx context.Context, symbol string) (float64, error)

// Paper simulates execution against the in-process portfolio: buys consume
// cash and average into positions, sells realize P&L against the average
// entry price. It doubles as the reconciler's profit source.
type Paper struct {
	portfolio *types.PortfolioState
	priceFn   PriceFn
	nowFn     func() time.Time

	mu       sync.Mutex
	realized map[string]decimal.Decimal // tradeID -> realized P&L (sells)
	entries  map[string]entry           // tradeID -> open entry (buys)
}

type entry struct {
	symbol   string
	quantity decimal.Decimal
	avgPrice decimal.Decimal
}

func NewPaper(portfolio *types.PortfolioState, priceFn PriceFn) (*Paper, error) {
	if portfolio == nil {
		return nil, fmt.Errorf("paper executor requires a portfolio")
	}
	return &Paper{
		portfolio: portfolio,
		priceFn:   priceFn,
		nowFn:     time.Now,
		realized:  make(map[string]decimal.Decimal),
		entries:   make(map[string]entry),
	}, nil
}

// SetNowFunc overrides the clock, for tests.
func (p *Paper) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		p.nowFn = fn
	}
}

// Execute fills the signal at the snapshot price.
func (p *Paper) Execute(ctx context.Context, signal types.Signal, snapshot types.MarketSnapshot) (types.Trade, error) {
	if err := ctx.Err(); err != nil {
		return types.Trade{}, err
	}
	switch signal.Side {
	case types.SideBuy:
		return p.executeBuy(signal, snapshot)
	case types.SideSell:
		return p.executeSell(signal, snapshot)
	default:
		return types.Trade{}, ErrHoldSignal
	}
}

func (p *Paper) executeBuy(signal types.Signal, snapshot types.MarketSnapshot) (types.Trade, error) {
	price := decimal.NewFromFloat(snapshot.Price)
	sizePct := decimal.NewFromFloat(signal.PositionSizePct).Div(decimal.NewFromInt(100))

	var trade types.Trade
	var execErr error
	p.portfolio.Apply(func(cash *float64, positions map[string]types.Position) {
		snap := decimal.NewFromFloat(*cash)
		total := snap
		for _, pos := range positions {
			total = total.Add(decimal.NewFromFloat(pos.Value))
		}
		value := total.Mul(sizePct)
		if value.GreaterThan(snap) {
			// Use 95% of remaining cash rather than failing outright.
			value = snap.Mul(decimal.NewFromFloat(0.95))
		}
		if value.LessThan(decimal.NewFromInt(minTradeValueUSD)) {
			execErr = fmt.Errorf("%w: %s available", ErrInsufficientFunds, snap.StringFixed(2))
			return
		}
		quantity := value.Div(price)

		pos, ok := positions[snapshot.Symbol]
		if !ok {
			positions[snapshot.Symbol] = types.Position{
				Quantity: quantity.InexactFloat64(),
				AvgPrice: snapshot.Price,
				Value:    value.InexactFloat64(),
			}
		} else {
			oldQty := decimal.NewFromFloat(pos.Quantity)
			oldAvg := decimal.NewFromFloat(pos.AvgPrice)
			newQty := oldQty.Add(quantity)
			newAvg := oldQty.Mul(oldAvg).Add(quantity.Mul(price)).Div(newQty)
			positions[snapshot.Symbol] = types.Position{
				Quantity: newQty.InexactFloat64(),
				AvgPrice: newAvg.InexactFloat64(),
				Value:    newQty.Mul(price).InexactFloat64(),
			}
		}
		*cash = snap.Sub(value).InexactFloat64()

		trade = types.Trade{
			TradeID:   uuid.NewString(),
			Symbol:    snapshot.Symbol,
			Side:      types.SideBuy,
			Quantity:  quantity.InexactFloat64(),
			Price:     snapshot.Price,
			Value:     value.InexactFloat64(),
			Timestamp: p.nowFn().UTC(),
		}
	})
	if execErr != nil {
		return types.Trade{}, execErr
	}
	p.mu.Lock()
	p.entries[trade.TradeID] = entry{
		symbol:   trade.Symbol,
		quantity: decimal.NewFromFloat(trade.Quantity),
		avgPrice: price,
	}
	p.mu.Unlock()
	p.portfolio.RecordTrade(trade.Timestamp)
	logger.Infof("executor: BUY %s qty=%.6f price=%.2f value=%.2f", trade.Symbol, trade.Quantity, trade.Price, trade.Value)
	return trade, nil
}

func (p *Paper) executeSell(signal types.Signal, snapshot types.MarketSnapshot) (types.Trade, error) {
	price := decimal.NewFromFloat(snapshot.Price)
	sizePct := decimal.NewFromFloat(signal.PositionSizePct).Div(decimal.NewFromInt(100))

	var trade types.Trade
	var realized decimal.Decimal
	var execErr error
	p.portfolio.Apply(func(cash *float64, positions map[string]types.Position) {
		pos, ok := positions[snapshot.Symbol]
		if !ok {
			execErr = fmt.Errorf("%w: %s", ErrNoPosition, snapshot.Symbol)
			return
		}
		held := decimal.NewFromFloat(pos.Quantity)
		// Sell proportionally to the signal size, never more than held.
		sellQty := held.Mul(sizePct.Mul(decimal.NewFromInt(2)))
		if sellQty.GreaterThan(held) {
			sellQty = held
		}
		if sellQty.LessThan(decimal.NewFromFloat(0.0001)) {
			execErr = fmt.Errorf("%w: position too small", ErrNoPosition)
			return
		}
		sellValue := sellQty.Mul(price)
		costBasis := sellQty.Mul(decimal.NewFromFloat(pos.AvgPrice))
		realized = sellValue.Sub(costBasis)

		*cash = decimal.NewFromFloat(*cash).Add(sellValue).InexactFloat64()
		remaining := held.Sub(sellQty)
		if remaining.LessThan(decimal.NewFromFloat(0.0001)) {
			delete(positions, snapshot.Symbol)
		} else {
			positions[snapshot.Symbol] = types.Position{
				Quantity: remaining.InexactFloat64(),
				AvgPrice: pos.AvgPrice,
				Value:    remaining.Mul(price).InexactFloat64(),
			}
		}

		trade = types.Trade{
			TradeID:   uuid.NewString(),
			Symbol:    snapshot.Symbol,
			Side:      types.SideSell,
			Quantity:  sellQty.InexactFloat64(),
			Price:     snapshot.Price,
			Value:     sellValue.InexactFloat64(),
			Timestamp: p.nowFn().UTC(),
		}
	})
	if execErr != nil {
		return types.Trade{}, execErr
	}
	p.mu.Lock()
	p.realized[trade.TradeID] = realized
	p.mu.Unlock()
	p.portfolio.RecordTrade(trade.Timestamp)
	logger.Infof("executor: SELL %s qty=%.6f price=%.2f pnl=%s", trade.Symbol, trade.Quantity, trade.Price, realized.StringFixed(2))
	return trade, nil
}

// ProfitLoss implements settlement.ProfitSource. Sells settle at their
// realized P&L; buys settle mark-to-market against the current price.
func (p *Paper) ProfitLoss(ctx context.Context, trade types.Trade) (decimal.Decimal, error) {
	p.mu.Lock()
	realized, hasRealized := p.realized[trade.TradeID]
	ent, hasEntry := p.entries[trade.TradeID]
	p.mu.Unlock()

	if hasRealized {
		return realized, nil
	}
	if !hasEntry {
		return decimal.Zero, fmt.Errorf("%w: trade %s", settlement.ErrTradeUnknown, trade.TradeID)
	}
	current := ent.avgPrice
	if p.priceFn != nil {
		px, err := p.priceFn(ctx, ent.symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("resolve price for %s: %w", ent.symbol, err)
		}
		current = decimal.NewFromFloat(px)
	}
	return current.Sub(ent.avgPrice).Mul(ent.quantity), nil
}
