// Package store defines the combined persistence surface the application
// wires together. Two implementations exist: gormstore (SQLite) and memory.
package store

import (
	"tradegate/internal/ledger"
	"tradegate/internal/oracle"
	"tradegate/internal/policy"
	"tradegate/internal/rules"
	"tradegate/internal/settlement"
)

// Store is the union of every persistence interface in the pipeline.
type Store interface {
	ledger.BlockStore
	settlement.RecordStore
	policy.VersionSink
	oracle.RecordSink
	rules.RecordSink

	// PolicyVersions returns persisted policy history, oldest first, so a
	// restart can resume at the last version number.
	PolicyVersions() ([]policy.RiskPolicy, error)

	Close() error
}
