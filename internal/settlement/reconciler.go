package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradegate/internal/ledger"
	"tradegate/internal/logger"
	"tradegate/internal/notifier"
	"tradegate/internal/pkg/circuit"
	"tradegate/internal/scheduler"
	"tradegate/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrChainHalted rejects settlement work while the ledger fails its
// integrity check. Settlement stays halted until a later run sees the chain
// verify clean again.
var ErrChainHalted = errors.New("settlement halted: ledger integrity violation")

// ProfitSource supplies the realized profit/loss for a trade. The external
// execution engine owns the outcome; the reconciler only records it.
type ProfitSource interface {
	ProfitLoss(ctx context.Context, trade types.Trade) (decimal.Decimal, error)
}

// Config tunes the reconciler.
type Config struct {
	Interval            time.Duration // scan cadence, default 30s
	MaturityWindow      time.Duration // minimum trade age, default 60s
	ScanDepth           int           // how many recent blocks to scan, default 10
	PerTradeTimeout     time.Duration // per-trade settle deadline, default 5s
	AttentionAfterScans int           // failed cycles before operator ping, default 5
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaturityWindow <= 0 {
		c.MaturityWindow = 60 * time.Second
	}
	if c.ScanDepth <= 0 {
		c.ScanDepth = 10
	}
	if c.PerTradeTimeout <= 0 {
		c.PerTradeTimeout = 5 * time.Second
	}
	if c.AttentionAfterScans <= 0 {
		c.AttentionAfterScans = 5
	}
	return c
}

// TradeError records a per-trade settlement failure without halting the scan.
type TradeError struct {
	TradeID     string `json:"trade_id"`
	BlockNumber int64  `json:"block_number"`
	Err         string `json:"error"`
}

// Report is the outcome of one reconciler pass.
type Report struct {
	Scanned    int          `json:"scanned"`
	SettledNow int          `json:"settled_now"`
	Resumed    int          `json:"resumed"`
	Skipped    int          `json:"skipped"`
	Errors     []TradeError `json:"errors,omitempty"`
}

// Reconciler is the background task that finds matured unsettled trades,
// computes settlement exactly once per trade and persists the result.
type Reconciler struct {
	cfg     Config
	chain   *ledger.Ledger
	records RecordStore
	profits ProfitSource
	notify  notifier.TextNotifier
	breaker *circuit.Breaker
	nowFn   func() time.Time

	mu       sync.Mutex
	halted   bool
	failures map[string]int // tradeID -> consecutive failed cycles
	flagged  map[string]bool
}

func NewReconciler(cfg Config, chain *ledger.Ledger, records RecordStore, profits ProfitSource, notify notifier.TextNotifier) (*Reconciler, error) {
	if chain == nil {
		return nil, fmt.Errorf("reconciler requires a ledger")
	}
	if records == nil {
		return nil, fmt.Errorf("reconciler requires a settlement store")
	}
	if profits == nil {
		return nil, fmt.Errorf("reconciler requires a profit source")
	}
	cfg = cfg.withDefaults()
	return &Reconciler{
		cfg:      cfg,
		chain:    chain,
		records:  records,
		profits:  profits,
		notify:   notify,
		breaker:  circuit.NewBreaker("settlement-profit-source", 3, cfg.Interval),
		nowFn:    time.Now,
		failures: make(map[string]int),
		flagged:  make(map[string]bool),
	}, nil
}

// SetNowFunc overrides the clock, for tests.
func (r *Reconciler) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		r.nowFn = fn
	}
}

// Run drives RunOnce on a fixed interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	sched := scheduler.NewFixedScheduler(ctx, r.cfg.Interval)
	sched.RunImmediately = true
	sched.Start(func() {
		report, err := r.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrChainHalted):
			// already logged and notified; wait for the next cycle
		case err != nil:
			logger.Errorf("settlement: scan failed: %v", err)
		default:
			if report.SettledNow > 0 || report.Resumed > 0 || len(report.Errors) > 0 {
				logger.Infof("settlement: scanned=%d settled=%d resumed=%d skipped=%d errors=%d",
					report.Scanned, report.SettledNow, report.Resumed, report.Skipped, len(report.Errors))
			}
		}
	})
}

// RunOnce performs a single scan-and-settle pass. A per-trade failure is
// recorded and the loop proceeds; only an integrity violation or a store
// failure aborts the pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.checkIntegrity(); err != nil {
		return Report{}, err
	}

	blocks, err := r.chain.Recent(r.cfg.ScanDepth)
	if err != nil {
		return Report{}, fmt.Errorf("scan ledger: %w", err)
	}

	var report Report
	now := r.nowFn().UTC()
	for _, block := range blocks {
		if block.Settled {
			continue
		}
		report.Scanned++
		age := now.Sub(block.Trade.Timestamp)
		if age < r.cfg.MaturityWindow {
			report.Skipped++
			continue
		}
		outcome, err := r.settleOne(ctx, block)
		switch {
		case err != nil:
			report.Errors = append(report.Errors, TradeError{
				TradeID:     block.Trade.TradeID,
				BlockNumber: block.BlockNumber,
				Err:         err.Error(),
			})
			r.noteFailure(block.Trade.TradeID, block.BlockNumber)
		case outcome == outcomeResumed:
			report.Resumed++
			r.noteSuccess(block.Trade.TradeID)
		case outcome == outcomeDuplicate:
			report.Skipped++
			r.noteSuccess(block.Trade.TradeID)
		default:
			report.SettledNow++
			r.noteSuccess(block.Trade.TradeID)
		}
	}
	return report, nil
}

type settleOutcome int

const (
	outcomeSettled settleOutcome = iota
	outcomeResumed
	outcomeDuplicate
)

// settleOne guarantees at most one settlement record per trade id and a
// resumable persist-then-mark sequence: if a record already exists the pass
// performs only the missing MarkSettled step, never recomputing P&L.
func (r *Reconciler) settleOne(ctx context.Context, block ledger.Block) (settleOutcome, error) {
	tradeID := block.Trade.TradeID

	_, found, err := r.records.SettlementByTradeID(tradeID)
	if err != nil {
		return 0, fmt.Errorf("lookup settlement: %w", err)
	}
	if found {
		// Crash-resume path: the record was persisted but the ledger flag
		// was never flipped.
		logger.Warnf("settlement: record exists for trade=%s, completing mark only", tradeID)
		if err := r.chain.MarkSettled(block.BlockNumber); err != nil {
			if errors.Is(err, ledger.ErrAlreadySettled) {
				logger.Infof("settlement: duplicate attempt trade=%s block=%d, skipped", tradeID, block.BlockNumber)
				return outcomeDuplicate, nil
			}
			return 0, fmt.Errorf("resume mark settled: %w", err)
		}
		return outcomeResumed, nil
	}

	pnl, err := r.computeProfit(ctx, block.Trade)
	status := StatusSettled
	note := ""
	if err != nil {
		if !errors.Is(err, ErrTradeUnknown) {
			return 0, err
		}
		// Terminal: the engine will never produce an outcome, close the
		// trade out at zero so it stops haunting every scan.
		status = StatusFailed
		note = err.Error()
		pnl = decimal.Zero
	}

	rec := Record{
		ID:          uuid.NewString(),
		TradeID:     tradeID,
		BlockNumber: block.BlockNumber,
		Symbol:      block.Trade.Symbol,
		ProfitLoss:  pnl.InexactFloat64(),
		Status:      status,
		SettledAt:   r.nowFn().UTC(),
		Note:        note,
	}
	if err := r.records.SaveSettlement(rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// A concurrent run won the race; let it (or the next pass)
			// finish the mark step.
			logger.Infof("settlement: duplicate attempt trade=%s, skipped", tradeID)
			return outcomeDuplicate, nil
		}
		return 0, fmt.Errorf("persist settlement: %w", err)
	}
	if err := r.chain.MarkSettled(block.BlockNumber); err != nil {
		if errors.Is(err, ledger.ErrAlreadySettled) {
			return outcomeDuplicate, nil
		}
		// Record persisted, mark failed: the next pass resumes via the
		// found-record branch above.
		return 0, fmt.Errorf("mark settled after persist: %w", err)
	}
	logger.Infof("settlement: trade=%s block=%d pnl=%s status=%s", tradeID, block.BlockNumber, pnl.StringFixed(2), status)
	return outcomeSettled, nil
}

func (r *Reconciler) computeProfit(ctx context.Context, trade types.Trade) (decimal.Decimal, error) {
	var pnl decimal.Decimal
	err := r.breaker.Do(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.PerTradeTimeout)
		defer cancel()
		var err error
		pnl, err = r.profits.ProfitLoss(attemptCtx, trade)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("profit source: %w", err)
	}
	return pnl, nil
}

// checkIntegrity halts all settlement while the chain fails verification.
// Never repairs anything; resolution is an operator action.
func (r *Reconciler) checkIntegrity() error {
	report, err := r.chain.VerifyChain()
	if err != nil {
		return fmt.Errorf("verify chain: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !report.Valid {
		if !r.halted {
			r.halted = true
			msg := fmt.Sprintf("⛔ ledger integrity violation at block %d: %s, settlement halted", report.BrokenAtBlock, report.Message)
			logger.Errorf("settlement: %s", msg)
			r.sendNotice(msg)
		}
		return fmt.Errorf("%w: broken at block %d", ErrChainHalted, report.BrokenAtBlock)
	}
	if r.halted {
		r.halted = false
		logger.Infof("settlement: ledger integrity restored, resuming")
	}
	return nil
}

func (r *Reconciler) noteFailure(tradeID string, blockNumber int64) {
	r.mu.Lock()
	r.failures[tradeID]++
	count := r.failures[tradeID]
	shouldNotify := count >= r.cfg.AttentionAfterScans && !r.flagged[tradeID]
	if shouldNotify {
		r.flagged[tradeID] = true
	}
	r.mu.Unlock()
	if shouldNotify {
		msg := fmt.Sprintf("⚠️ trade %s (block %d) unsettled after %d scan cycles, operator attention needed", tradeID, blockNumber, count)
		logger.Warnf("settlement: %s", msg)
		r.sendNotice(msg)
	}
}

func (r *Reconciler) noteSuccess(tradeID string) {
	r.mu.Lock()
	delete(r.failures, tradeID)
	delete(r.flagged, tradeID)
	r.mu.Unlock()
}

func (r *Reconciler) sendNotice(msg string) {
	if r.notify == nil {
		return
	}
	if err := r.notify.SendText(msg); err != nil {
		logger.Warnf("settlement: notify failed: %v", err)
	}
}

// History returns the most recent settlement records first.
func (r *Reconciler) History(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.records.Settlements(limit)
}
