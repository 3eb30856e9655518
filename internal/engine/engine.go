// Package engine chains the gated trade pipeline: oracle verification,
// rule validation, external execution and the ledger append.
package engine

import (
	"context"
	"fmt"

	"tradegate/internal/executor"
	"tradegate/internal/ledger"
	"tradegate/internal/logger"
	"tradegate/internal/oracle"
	"tradegate/internal/rules"
	"tradegate/internal/types"
)

// ProposeRequest is one trade attempt: a signal, the market snapshot it was
// scored against, and an optional force flag. Forcing executes past failed
// checks but the override is stamped into the records, never silent.
type ProposeRequest struct {
	Signal   types.Signal         `json:"signal"`
	Snapshot types.MarketSnapshot `json:"snapshot"`
	Force    bool                 `json:"force,omitempty"`
}

// ProposeResult reports the full decision trail for one attempt. Rejections
// carry the specific failed check/rule names inside the records.
type ProposeResult struct {
	Accepted     bool                      `json:"accepted"`
	Reason       string                    `json:"reason,omitempty"`
	Verification oracle.VerificationRecord `json:"verification"`
	Validation   *rules.ValidationRecord   `json:"validation,omitempty"`
	Block        *ledger.Block             `json:"ledger_block,omitempty"`
}

// AuditSink receives the decision trail of every proposal attempt,
// including rejected ones that never reach the ledger.
type AuditSink interface {
	RecordProposal(ctx context.Context, req ProposeRequest, result ProposeResult)
}

// Engine is the single authoritative entry point for trade proposals.
type Engine struct {
	gate      *oracle.Gate
	rules     *rules.Engine
	exec      executor.Executor
	chain     *ledger.Ledger
	portfolio *types.PortfolioState
	audit     AuditSink
}

// SetAuditSink installs an optional audit trail. Must be called before the
// engine starts serving proposals.
func (e *Engine) SetAuditSink(sink AuditSink) { e.audit = sink }

func New(gate *oracle.Gate, ruleEngine *rules.Engine, exec executor.Executor, chain *ledger.Ledger, portfolio *types.PortfolioState) (*Engine, error) {
	switch {
	case gate == nil:
		return nil, fmt.Errorf("engine requires an oracle gate")
	case ruleEngine == nil:
		return nil, fmt.Errorf("engine requires a rule engine")
	case exec == nil:
		return nil, fmt.Errorf("engine requires an executor")
	case chain == nil:
		return nil, fmt.Errorf("engine requires a ledger")
	case portfolio == nil:
		return nil, fmt.Errorf("engine requires portfolio state")
	}
	return &Engine{gate: gate, rules: ruleEngine, exec: exec, chain: chain, portfolio: portfolio}, nil
}

// ProposeTrade runs verify → validate → execute → append. Verification and
// validation failures are terminal for the attempt and returned to the
// caller, never retried here.
func (e *Engine) ProposeTrade(ctx context.Context, req ProposeRequest) (ProposeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := e.propose(ctx, req)
	if e.audit != nil {
		e.audit.RecordProposal(ctx, req, result)
	}
	return result, err
}

func (e *Engine) propose(ctx context.Context, req ProposeRequest) (ProposeResult, error) {
	verification := e.gate.Verify(req.Signal, req.Snapshot)
	result := ProposeResult{Verification: verification}
	if !verification.Verified {
		if !req.Force {
			result.Reason = "signal failed oracle verification"
			return result, nil
		}
		result.Verification = e.gate.MarkOverride(verification)
	}

	validation := e.rules.Validate(req.Signal, e.portfolio.Snapshot())
	result.Validation = &validation
	if !validation.Valid {
		if !req.Force {
			result.Reason = "trade rejected by risk rules"
			return result, nil
		}
		marked := e.rules.MarkOverride(validation)
		result.Validation = &marked
	}

	trade, err := e.exec.Execute(ctx, req.Signal, req.Snapshot)
	if err != nil {
		// Execution failures surface as a rejected attempt with context,
		// not as a pipeline error.
		logger.Warnf("engine: execution failed symbol=%s err=%v", req.Signal.Symbol, err)
		result.Reason = fmt.Sprintf("execution failed: %v", err)
		return result, nil
	}

	block, err := e.chain.Append(trade)
	if err != nil {
		// The fill happened but the ledger write failed; this is the one
		// state the caller must see as an error.
		return result, fmt.Errorf("trade %s executed but ledger append failed: %w", trade.TradeID, err)
	}
	result.Accepted = true
	result.Block = &block
	return result, nil
}
