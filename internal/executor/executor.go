package executor

import (
	"context"
	"errors"

	"tradegate/internal/types"
)

// Executor is the narrow interface the pipeline calls to route an accepted
// trade to an execution venue. Execution is an external concern; the core
// only consumes the resulting fill.
type Executor interface {
	Execute(ctx context.Context, signal types.Signal, snapshot types.MarketSnapshot) (types.Trade, error)
}

var (
	// ErrHoldSignal rejects execution of a HOLD signal.
	ErrHoldSignal = errors.New("hold signal is not executable")
	// ErrInsufficientFunds rejects a buy the portfolio cannot cover.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoPosition rejects a sell without an open position.
	ErrNoPosition = errors.New("no position to sell")
)
