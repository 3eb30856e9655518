// Package gormstore persists the ledger chain, settlement records, policy
// versions and verification/validation history on SQLite via Gorm.
package gormstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradegate/internal/ledger"
	"tradegate/internal/oracle"
	"tradegate/internal/policy"
	"tradegate/internal/rules"
	"tradegate/internal/settlement"
	storemodel "tradegate/internal/store/model"
	"tradegate/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore implements every persistence interface the pipeline needs:
// ledger.BlockStore, settlement.RecordStore, policy.VersionSink,
// oracle.RecordSink and rules.RecordSink.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (or creates) the SQLite database at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&storemodel.LedgerBlockModel{},
		&storemodel.SettlementModel{},
		&storemodel.PolicyVersionModel{},
		&storemodel.VerificationModel{},
		&storemodel.ValidationModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- ledger.BlockStore ---

// AppendBlock inserts a new block; the unique constraints reject a second
// writer claiming the same block number or hash.
func (s *GormStore) AppendBlock(b ledger.Block) error {
	row := blockToModel(b)
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert block %d: %w", b.BlockNumber, err)
	}
	return nil
}

func (s *GormStore) TailBlock() (ledger.Block, bool, error) {
	var row storemodel.LedgerBlockModel
	err := s.db.Order("block_number DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Block{}, false, nil
	}
	if err != nil {
		return ledger.Block{}, false, err
	}
	return modelToBlock(row), true, nil
}

func (s *GormStore) BlockRange(from, to int64) ([]ledger.Block, error) {
	var rows []storemodel.LedgerBlockModel
	err := s.db.
		Where("block_number >= ? AND block_number <= ?", from, to).
		Order("block_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Block, 0, len(rows))
	for _, row := range rows {
		out = append(out, modelToBlock(row))
	}
	return out, nil
}

func (s *GormStore) RecentBlocks(limit int) ([]ledger.Block, error) {
	var rows []storemodel.LedgerBlockModel
	err := s.db.Order("block_number DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Block, 0, len(rows))
	for _, row := range rows {
		out = append(out, modelToBlock(row))
	}
	return out, nil
}

// SetSettled flips the settled flag. The conditional update distinguishes a
// fresh flip from a repeat: zero rows affected on an existing block means
// the flag was already set.
func (s *GormStore) SetSettled(blockNumber int64) (bool, error) {
	res := s.db.Model(&storemodel.LedgerBlockModel{}).
		Where("block_number = ? AND settled = 0", blockNumber).
		Update("settled", 1)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return false, nil
	}
	var count int64
	if err := s.db.Model(&storemodel.LedgerBlockModel{}).
		Where("block_number = ?", blockNumber).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, fmt.Errorf("block %d: %w", blockNumber, ledger.ErrBlockNotFound)
	}
	return true, nil
}

func (s *GormStore) BlockCount() (int64, error) {
	var count int64
	err := s.db.Model(&storemodel.LedgerBlockModel{}).Count(&count).Error
	return count, err
}

// --- settlement.RecordStore ---

// SaveSettlement inserts exactly one record per trade id. A conflicting
// insert is reported as settlement.ErrDuplicate, never absorbed.
func (s *GormStore) SaveSettlement(rec settlement.Record) error {
	row := storemodel.SettlementModel{
		SettlementID: rec.ID,
		TradeID:      rec.TradeID,
		BlockNumber:  rec.BlockNumber,
		Symbol:       rec.Symbol,
		ProfitLoss:   rec.ProfitLoss,
		Status:       string(rec.Status),
		SettledAt:    rec.SettledAt.UnixNano(),
		Note:         rec.Note,
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("insert settlement %s: %w", rec.TradeID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("trade %s: %w", rec.TradeID, settlement.ErrDuplicate)
	}
	return nil
}

func (s *GormStore) SettlementByTradeID(tradeID string) (settlement.Record, bool, error) {
	var row storemodel.SettlementModel
	err := s.db.Where("trade_id = ?", tradeID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return settlement.Record{}, false, nil
	}
	if err != nil {
		return settlement.Record{}, false, err
	}
	return modelToSettlement(row), true, nil
}

func (s *GormStore) Settlements(limit int) ([]settlement.Record, error) {
	var rows []storemodel.SettlementModel
	err := s.db.Order("settled_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]settlement.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, modelToSettlement(row))
	}
	return out, nil
}

func (s *GormStore) SettlementCount() (int64, error) {
	var count int64
	err := s.db.Model(&storemodel.SettlementModel{}).Count(&count).Error
	return count, err
}

// --- policy.VersionSink ---

func (s *GormStore) SavePolicyVersion(p policy.RiskPolicy) error {
	row := storemodel.PolicyVersionModel{
		Version:                 p.Version,
		MinConfidence:           p.MinConfidence,
		MaxPositionSizePct:      p.MaxPositionSizePct,
		MaxDailyLossPct:         p.MaxDailyLossPct,
		MaxRiskScore:            p.MaxRiskScore,
		MaxTradesPerDay:         p.MaxTradesPerDay,
		MinTradeIntervalSeconds: p.MinTradeIntervalSeconds,
		EffectiveAt:             p.EffectiveAt.UnixNano(),
	}
	// Re-persisting the same version on restart is a no-op.
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "version"}},
		DoNothing: true,
	}).Create(&row).Error
}

// PolicyVersions returns all persisted versions, oldest first.
func (s *GormStore) PolicyVersions() ([]policy.RiskPolicy, error) {
	var rows []storemodel.PolicyVersionModel
	if err := s.db.Order("version ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]policy.RiskPolicy, 0, len(rows))
	for _, row := range rows {
		out = append(out, policy.RiskPolicy{
			Version:                 row.Version,
			MinConfidence:           row.MinConfidence,
			MaxPositionSizePct:      row.MaxPositionSizePct,
			MaxDailyLossPct:         row.MaxDailyLossPct,
			MaxRiskScore:            row.MaxRiskScore,
			MaxTradesPerDay:         row.MaxTradesPerDay,
			MinTradeIntervalSeconds: row.MinTradeIntervalSeconds,
			EffectiveAt:             time.Unix(0, row.EffectiveAt).UTC(),
		})
	}
	return out, nil
}

// --- oracle.RecordSink / rules.RecordSink ---

func (s *GormStore) SaveVerification(rec oracle.VerificationRecord) error {
	checks, err := json.Marshal(rec.Checks)
	if err != nil {
		return err
	}
	row := storemodel.VerificationModel{
		VerificationID: rec.ID,
		Symbol:         rec.Symbol,
		Side:           string(rec.Side),
		Confidence:     rec.Confidence,
		Checks:         datatypes.JSON(checks),
		Verified:       boolToInt(rec.Verified),
		Override:       boolToInt(rec.Override),
		DataHash:       rec.DataHash,
		CreatedAt:      rec.CreatedAt.UnixNano(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "verification_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *GormStore) SaveValidation(rec rules.ValidationRecord) error {
	results, err := json.Marshal(rec.Rules)
	if err != nil {
		return err
	}
	row := storemodel.ValidationModel{
		ValidationID:  rec.ID,
		Symbol:        rec.Symbol,
		Side:          string(rec.Side),
		Confidence:    rec.Confidence,
		Rules:         datatypes.JSON(results),
		Valid:         boolToInt(rec.Valid),
		Override:      boolToInt(rec.Override),
		PolicyVersion: rec.PolicyVersion,
		CreatedAt:     rec.CreatedAt.UnixNano(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "validation_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// --- mapping helpers ---

func blockToModel(b ledger.Block) storemodel.LedgerBlockModel {
	return storemodel.LedgerBlockModel{
		BlockNumber:    b.BlockNumber,
		TradeID:        b.Trade.TradeID,
		Symbol:         b.Trade.Symbol,
		Side:           string(b.Trade.Side),
		Quantity:       b.Trade.Quantity,
		Price:          b.Trade.Price,
		Value:          b.Trade.Value,
		TradeTimestamp: b.Trade.Timestamp.UnixNano(),
		PrevHash:       b.PrevHash,
		BlockHash:      b.BlockHash,
		Timestamp:      b.Timestamp.UnixNano(),
		Settled:        boolToInt(b.Settled),
	}
}

func modelToBlock(row storemodel.LedgerBlockModel) ledger.Block {
	return ledger.Block{
		BlockNumber: row.BlockNumber,
		Trade: types.Trade{
			TradeID:   row.TradeID,
			Symbol:    row.Symbol,
			Side:      types.Side(row.Side),
			Quantity:  row.Quantity,
			Price:     row.Price,
			Value:     row.Value,
			Timestamp: time.Unix(0, row.TradeTimestamp).UTC(),
		},
		PrevHash:  row.PrevHash,
		BlockHash: row.BlockHash,
		Timestamp: time.Unix(0, row.Timestamp).UTC(),
		Settled:   row.Settled != 0,
	}
}

func modelToSettlement(row storemodel.SettlementModel) settlement.Record {
	return settlement.Record{
		ID:          row.SettlementID,
		TradeID:     row.TradeID,
		BlockNumber: row.BlockNumber,
		Symbol:      row.Symbol,
		ProfitLoss:  row.ProfitLoss,
		Status:      settlement.Status(row.Status),
		SettledAt:   time.Unix(0, row.SettledAt).UTC(),
		Note:        row.Note,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
