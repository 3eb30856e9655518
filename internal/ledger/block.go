package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"tradegate/internal/pkg/jsonutil"
	"tradegate/internal/types"
)

// GenesisHash seeds the chain: the first block's PrevHash.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Block is one hash-linked ledger entry for an accepted trade. Every field
// except Settled is immutable after append; Settled transitions false→true
// exactly once and is excluded from the hash input.
type Block struct {
	BlockNumber int64       `json:"block_number"`
	Trade       types.Trade `json:"trade"`
	PrevHash    string      `json:"previous_hash"`
	BlockHash   string      `json:"block_hash"`
	Timestamp   time.Time   `json:"timestamp"`
	Settled     bool        `json:"settled"`
}

// ComputeHash digests the block's own stored fields. Only stable fields
// participate, so recomputing always reproduces the stored value on an
// untampered block.
func ComputeHash(blockNumber int64, prevHash string, trade types.Trade, timestamp time.Time) (string, error) {
	canonicalTrade, err := jsonutil.Canonical(trade)
	if err != nil {
		return "", fmt.Errorf("canonical trade: %w", err)
	}
	input := fmt.Sprintf("%d|%s|%s|%d", blockNumber, prevHash, canonicalTrade, timestamp.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:]), nil
}

// Recompute returns the hash the block's stored fields produce now.
func (b Block) Recompute() (string, error) {
	return ComputeHash(b.BlockNumber, b.PrevHash, b.Trade, b.Timestamp)
}

func (b Block) validate() error {
	if b.BlockNumber <= 0 {
		return fmt.Errorf("block number must be positive, got %d", b.BlockNumber)
	}
	if len(b.PrevHash) != len(GenesisHash) {
		return fmt.Errorf("previous hash has wrong length %d", len(b.PrevHash))
	}
	if strings.TrimSpace(b.Trade.TradeID) == "" {
		return fmt.Errorf("block trade has no trade id")
	}
	return nil
}
