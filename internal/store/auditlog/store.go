// Package auditlog keeps a flat SQL audit trail of every trade proposal,
// accepted or not. It is intentionally separate from the ledger store: the
// ledger only holds accepted trades, while operators debugging a rejection
// need the full request/decision payloads for attempts that never reached
// the chain.
package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one audited proposal attempt with its full decision trail.
type Entry struct {
	ID             int64  `json:"id"`
	Timestamp      int64  `json:"ts"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Accepted       bool   `json:"accepted"`
	Forced         bool   `json:"forced"`
	Reason         string `json:"reason,omitempty"`
	VerificationID string `json:"verification_id,omitempty"`
	ValidationID   string `json:"validation_id,omitempty"`
	BlockNumber    int64  `json:"block_number,omitempty"`
	RequestJSON    string `json:"request_json,omitempty"`
	ResultJSON     string `json:"result_json,omitempty"`
}

// Query filters List/Count. Zero values mean "no filter".
type Query struct {
	Symbol   string
	Accepted *bool
	Limit    int
	Offset   int
}

// Store persists audit entries to SQLite through database/sql. Writes go
// through a single handle capped at two connections so the audit trail never
// contends with the main store for the WAL lock.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS proposal_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			forced INTEGER NOT NULL DEFAULT 0,
			reason TEXT,
			verification_id TEXT,
			validation_id TEXT,
			block_number INTEGER,
			request_json TEXT,
			result_json TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_proposal_audit_symbol_ts ON proposal_audit(symbol, ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_proposal_audit_accepted_ts ON proposal_audit(accepted, ts DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("audit log schema: %w", err)
		}
	}
	return nil
}

// Insert appends one entry and returns its row id. A zero Timestamp is
// filled with the current time.
func (s *Store) Insert(ctx context.Context, e Entry) (int64, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("audit log store is closed")
	}
	ts := e.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO proposal_audit
			(ts, symbol, side, accepted, forced, reason, verification_id, validation_id,
			 block_number, request_json, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts,
		e.Symbol,
		e.Side,
		boolToInt(e.Accepted),
		boolToInt(e.Forced),
		e.Reason,
		e.VerificationID,
		e.ValidationID,
		e.BlockNumber,
		e.RequestJSON,
		e.ResultJSON,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// List returns entries newest-first.
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("audit log store is closed")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	filterSQL, args := buildFilter(q)
	var sb strings.Builder
	sb.WriteString(`SELECT id, ts, symbol, side, accepted, forced, reason,
		verification_id, validation_id, block_number, request_json, result_json
		FROM proposal_audit`)
	sb.WriteString(filterSQL)
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Entry
	for rows.Next() {
		var e Entry
		var accepted, forced int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Symbol, &e.Side, &accepted, &forced,
			&e.Reason, &e.VerificationID, &e.ValidationID, &e.BlockNumber,
			&e.RequestJSON, &e.ResultJSON); err != nil {
			return nil, err
		}
		e.Accepted = accepted != 0
		e.Forced = forced != 0
		list = append(list, e)
	}
	return list, rows.Err()
}

// Count returns the number of entries matching the filter.
func (s *Store) Count(ctx context.Context, q Query) (int, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("audit log store is closed")
	}
	filterSQL, args := buildFilter(q)
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposal_audit`+filterSQL, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func buildFilter(q Query) (string, []any) {
	var conds []string
	var args []any
	if sym := strings.TrimSpace(q.Symbol); sym != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, sym)
	}
	if q.Accepted != nil {
		conds = append(conds, "accepted = ?")
		args = append(args, boolToInt(*q.Accepted))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EntryFor flattens a proposal request/result pair into an audit entry. The
// raw payloads are stored as JSON blobs so the trail survives schema drift
// in the decision types.
func EntryFor(symbol, side string, forced bool, req, result any, accepted bool, reason, verificationID, validationID string, blockNumber int64) Entry {
	enc := func(v any) string {
		if v == nil {
			return ""
		}
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return Entry{
		Timestamp:      time.Now().UnixMilli(),
		Symbol:         symbol,
		Side:           side,
		Accepted:       accepted,
		Forced:         forced,
		Reason:         reason,
		VerificationID: verificationID,
		ValidationID:   validationID,
		BlockNumber:    blockNumber,
		RequestJSON:    enc(req),
		ResultJSON:     enc(result),
	}
}
