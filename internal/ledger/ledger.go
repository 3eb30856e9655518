package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/types"
)

var (
	// ErrAlreadySettled is returned by MarkSettled when the flag was
	// already flipped. Callers must treat a second flip as a bug, not a
	// silent success.
	ErrAlreadySettled = errors.New("block already settled")
	// ErrBlockNotFound is returned for unknown block numbers.
	ErrBlockNotFound = errors.New("block not found")
)

// BlockStore persists the chain. Implementations must enforce uniqueness on
// block number and block hash.
type BlockStore interface {
	AppendBlock(b Block) error
	TailBlock() (Block, bool, error)
	BlockRange(from, to int64) ([]Block, error)
	RecentBlocks(limit int) ([]Block, error)
	SetSettled(blockNumber int64) (alreadySettled bool, err error)
	BlockCount() (int64, error)
}

// IntegrityReport is the result of a full chain walk.
type IntegrityReport struct {
	Valid         bool   `json:"valid"`
	TotalBlocks   int64  `json:"total_blocks"`
	BrokenAtBlock int64  `json:"broken_at_block,omitempty"`
	Message       string `json:"message"`
}

// Ledger is the append-only hash-chained trade record store. Append and
// MarkSettled are the only mutators; appends serialize around the
// tail-read/compute/commit sequence under a single-writer lock.
type Ledger struct {
	appendMu sync.Mutex
	store    BlockStore
	nowFn    func() time.Time
}

func New(store BlockStore) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger requires a block store")
	}
	return &Ledger{store: store, nowFn: time.Now}, nil
}

// SetNowFunc overrides the clock, for tests.
func (l *Ledger) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		l.nowFn = fn
	}
}

// Append records an executed trade as the next block in the chain.
func (l *Ledger) Append(trade types.Trade) (Block, error) {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	tail, ok, err := l.store.TailBlock()
	if err != nil {
		return Block{}, fmt.Errorf("read tail: %w", err)
	}
	blockNumber := int64(1)
	prevHash := GenesisHash
	if ok {
		blockNumber = tail.BlockNumber + 1
		prevHash = tail.BlockHash
	}
	now := l.nowFn().UTC()
	hash, err := ComputeHash(blockNumber, prevHash, trade, now)
	if err != nil {
		return Block{}, err
	}
	block := Block{
		BlockNumber: blockNumber,
		Trade:       trade,
		PrevHash:    prevHash,
		BlockHash:   hash,
		Timestamp:   now,
	}
	if err := block.validate(); err != nil {
		return Block{}, err
	}
	if err := l.store.AppendBlock(block); err != nil {
		return Block{}, fmt.Errorf("append block %d: %w", blockNumber, err)
	}
	logger.Infof("ledger: appended block=%d trade=%s symbol=%s value=%.2f", blockNumber, trade.TradeID, trade.Symbol, trade.Value)
	return block, nil
}

// MarkSettled flips the settled flag of one block exactly once. A second
// call fails with ErrAlreadySettled.
func (l *Ledger) MarkSettled(blockNumber int64) error {
	already, err := l.store.SetSettled(blockNumber)
	if err != nil {
		return err
	}
	if already {
		return fmt.Errorf("mark settled block %d: %w", blockNumber, ErrAlreadySettled)
	}
	return nil
}

// Range returns blocks [from, to] inclusive, ascending.
func (l *Ledger) Range(from, to int64) ([]Block, error) {
	if from <= 0 {
		from = 1
	}
	if to < from {
		return nil, fmt.Errorf("invalid range [%d,%d]", from, to)
	}
	return l.store.BlockRange(from, to)
}

// Recent returns the most recent blocks first, up to limit.
func (l *Ledger) Recent(limit int) ([]Block, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.RecentBlocks(limit)
}

// Count returns the chain length.
func (l *Ledger) Count() (int64, error) {
	return l.store.BlockCount()
}

// VerifyChain walks the chain from genesis, recomputing every block hash
// from stored fields and checking prev-hash linkage. It reports the first
// inconsistent block; any out-of-band mutation of a stored block surfaces
// here.
func (l *Ledger) VerifyChain() (IntegrityReport, error) {
	count, err := l.store.BlockCount()
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("count blocks: %w", err)
	}
	if count == 0 {
		return IntegrityReport{Valid: true, Message: "no blocks to verify"}, nil
	}

	const batch = 256
	prevHash := GenesisHash
	var verified int64
	for from := int64(1); from <= count; from += batch {
		to := from + batch - 1
		if to > count {
			to = count
		}
		blocks, err := l.store.BlockRange(from, to)
		if err != nil {
			return IntegrityReport{}, fmt.Errorf("read blocks [%d,%d]: %w", from, to, err)
		}
		for _, b := range blocks {
			verified++
			if b.BlockNumber != verified {
				return brokenAt(b.BlockNumber, count, fmt.Sprintf("expected block %d, found %d", verified, b.BlockNumber)), nil
			}
			if b.PrevHash != prevHash {
				return brokenAt(b.BlockNumber, count, fmt.Sprintf("chain broken at block %d: previous hash mismatch", b.BlockNumber)), nil
			}
			recomputed, err := b.Recompute()
			if err != nil {
				return IntegrityReport{}, err
			}
			if recomputed != b.BlockHash {
				return brokenAt(b.BlockNumber, count, fmt.Sprintf("block %d hash does not match its contents", b.BlockNumber)), nil
			}
			prevHash = b.BlockHash
		}
	}
	if verified != count {
		return brokenAt(verified+1, count, fmt.Sprintf("chain truncated: %d of %d blocks readable", verified, count)), nil
	}
	return IntegrityReport{Valid: true, TotalBlocks: count, Message: "chain integrity verified"}, nil
}

func brokenAt(blockNumber, total int64, msg string) IntegrityReport {
	logger.Errorf("ledger: integrity violation: %s", msg)
	return IntegrityReport{Valid: false, TotalBlocks: total, BrokenAtBlock: blockNumber, Message: msg}
}
