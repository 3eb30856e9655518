package settlement

import (
	"errors"
	"time"
)

// Status is the terminal state of a settlement record.
type Status string

const (
	StatusSettled Status = "SETTLED"
	StatusFailed  Status = "FAILED"
)

// Record is the final profit/loss accounting for one trade. At most one
// record exists per trade id; it is terminal once written.
type Record struct {
	ID          string    `json:"settlement_id"`
	TradeID     string    `json:"trade_id"`
	BlockNumber int64     `json:"block_number"`
	Symbol      string    `json:"symbol"`
	ProfitLoss  float64   `json:"profit_loss"`
	Status      Status    `json:"status"`
	SettledAt   time.Time `json:"settled_at"`
	Note        string    `json:"note,omitempty"`
}

var (
	// ErrDuplicate is returned by RecordStore.SaveSettlement when a record
	// for the trade id already exists.
	ErrDuplicate = errors.New("settlement record already exists")
	// ErrTradeUnknown marks a terminal profit-source failure: the external
	// engine has no outcome for the trade and never will.
	ErrTradeUnknown = errors.New("trade unknown to execution engine")
)

// RecordStore persists settlement records with a unique constraint on
// trade id.
type RecordStore interface {
	SaveSettlement(rec Record) error
	SettlementByTradeID(tradeID string) (Record, bool, error)
	Settlements(limit int) ([]Record, error)
	SettlementCount() (int64, error)
}
