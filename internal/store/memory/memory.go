// Package memory provides an in-process Store used by tests and by the
// zero-config default when no database path is set.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"tradegate/internal/ledger"
	"tradegate/internal/oracle"
	"tradegate/internal/policy"
	"tradegate/internal/rules"
	"tradegate/internal/settlement"
)

// Store keeps everything in maps and slices behind a single mutex. It
// implements the same interfaces as gormstore.
type Store struct {
	mu sync.RWMutex

	blocks      []ledger.Block // ordered by block number
	settlements map[string]settlement.Record
	settleOrder []string // trade ids in insertion order
	policies    []policy.RiskPolicy

	verifications map[string]oracle.VerificationRecord
	validations   map[string]rules.ValidationRecord
}

func NewStore() *Store {
	return &Store{
		settlements:   make(map[string]settlement.Record),
		verifications: make(map[string]oracle.VerificationRecord),
		validations:   make(map[string]rules.ValidationRecord),
	}
}

// Close satisfies the same surface as the SQLite store.
func (s *Store) Close() error { return nil }

// --- ledger.BlockStore ---

func (s *Store) AppendBlock(b ledger.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.blocks); n > 0 && s.blocks[n-1].BlockNumber >= b.BlockNumber {
		return fmt.Errorf("block %d already present", b.BlockNumber)
	}
	s.blocks = append(s.blocks, b)
	return nil
}

func (s *Store) TailBlock() (ledger.Block, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return ledger.Block{}, false, nil
	}
	return s.blocks[len(s.blocks)-1], true, nil
}

func (s *Store) BlockRange(from, to int64) ([]ledger.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Block, 0)
	for _, b := range s.blocks {
		if b.BlockNumber >= from && b.BlockNumber <= to {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) RecentBlocks(limit int) ([]ledger.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.blocks)
	if limit > n {
		limit = n
	}
	out := make([]ledger.Block, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.blocks[i])
	}
	return out, nil
}

func (s *Store) SetSettled(blockNumber int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.blocks), func(i int) bool {
		return s.blocks[i].BlockNumber >= blockNumber
	})
	if idx >= len(s.blocks) || s.blocks[idx].BlockNumber != blockNumber {
		return false, fmt.Errorf("block %d: %w", blockNumber, ledger.ErrBlockNotFound)
	}
	if s.blocks[idx].Settled {
		return true, nil
	}
	s.blocks[idx].Settled = true
	return false, nil
}

func (s *Store) BlockCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.blocks)), nil
}

// TamperBlock mutates a stored block in place, bypassing the append-only
// surface. Tests use it to simulate out-of-band storage corruption.
func (s *Store) TamperBlock(blockNumber int64, mutate func(*ledger.Block)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.blocks {
		if s.blocks[i].BlockNumber == blockNumber {
			mutate(&s.blocks[i])
			return true
		}
	}
	return false
}

// --- settlement.RecordStore ---

func (s *Store) SaveSettlement(rec settlement.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[rec.TradeID]; ok {
		return fmt.Errorf("trade %s: %w", rec.TradeID, settlement.ErrDuplicate)
	}
	s.settlements[rec.TradeID] = rec
	s.settleOrder = append(s.settleOrder, rec.TradeID)
	return nil
}

func (s *Store) SettlementByTradeID(tradeID string) (settlement.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.settlements[tradeID]
	return rec, ok, nil
}

func (s *Store) Settlements(limit int) ([]settlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.settleOrder)
	if limit > n {
		limit = n
	}
	out := make([]settlement.Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.settlements[s.settleOrder[i]])
	}
	return out, nil
}

func (s *Store) SettlementCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.settlements)), nil
}

// --- policy.VersionSink ---

func (s *Store) SavePolicyVersion(p policy.RiskPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.policies {
		if existing.Version == p.Version {
			return nil
		}
	}
	s.policies = append(s.policies, p)
	return nil
}

func (s *Store) PolicyVersions() ([]policy.RiskPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]policy.RiskPolicy, len(s.policies))
	copy(out, s.policies)
	return out, nil
}

// --- oracle.RecordSink / rules.RecordSink ---

func (s *Store) SaveVerification(rec oracle.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[rec.ID] = rec
	return nil
}

func (s *Store) SaveValidation(rec rules.ValidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations[rec.ID] = rec
	return nil
}
