package model

import "gorm.io/datatypes"

// LedgerBlockModel maps to the 'ledger_blocks' table. Block number and
// block hash both carry unique indexes; settled is the only column a row
// update may touch after insert.
type LedgerBlockModel struct {
	BlockNumber    int64   `gorm:"column:block_number;primaryKey;autoIncrement:false"`
	TradeID        string  `gorm:"column:trade_id;uniqueIndex"`
	Symbol         string  `gorm:"column:symbol;index"`
	Side           string  `gorm:"column:side"`
	Quantity       float64 `gorm:"column:quantity"`
	Price          float64 `gorm:"column:price"`
	Value          float64 `gorm:"column:value"`
	TradeTimestamp int64   `gorm:"column:trade_timestamp"` // unix nanos
	PrevHash       string  `gorm:"column:prev_hash"`
	BlockHash      string  `gorm:"column:block_hash;uniqueIndex"`
	Timestamp      int64   `gorm:"column:timestamp"` // unix nanos
	Settled        int     `gorm:"column:settled;index"`
}

func (LedgerBlockModel) TableName() string { return "ledger_blocks" }

// SettlementModel maps to 'settlement_records'. The unique index on
// trade_id is what makes settlement idempotent across overlapping runs.
type SettlementModel struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	SettlementID string  `gorm:"column:settlement_id"`
	TradeID      string  `gorm:"column:trade_id;uniqueIndex"`
	BlockNumber  int64   `gorm:"column:block_number"`
	Symbol       string  `gorm:"column:symbol"`
	ProfitLoss   float64 `gorm:"column:profit_loss"`
	Status       string  `gorm:"column:status"`
	SettledAt    int64   `gorm:"column:settled_at"` // unix nanos
	Note         string  `gorm:"column:note"`
}

func (SettlementModel) TableName() string { return "settlement_records" }

// PolicyVersionModel maps to 'policy_versions', append-only by version.
type PolicyVersionModel struct {
	Version                 int     `gorm:"column:version;primaryKey;autoIncrement:false"`
	MinConfidence           float64 `gorm:"column:min_confidence"`
	MaxPositionSizePct      float64 `gorm:"column:max_position_size_pct"`
	MaxDailyLossPct         float64 `gorm:"column:max_daily_loss_pct"`
	MaxRiskScore            float64 `gorm:"column:max_risk_score"`
	MaxTradesPerDay         int     `gorm:"column:max_trades_per_day"`
	MinTradeIntervalSeconds int     `gorm:"column:min_trade_interval_seconds"`
	EffectiveAt             int64   `gorm:"column:effective_at"` // unix nanos
}

func (PolicyVersionModel) TableName() string { return "policy_versions" }

// VerificationModel maps to 'verification_records'. Checks are stored as a
// JSON array in evaluation order.
type VerificationModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	VerificationID string         `gorm:"column:verification_id;uniqueIndex"`
	Symbol         string         `gorm:"column:symbol;index"`
	Side           string         `gorm:"column:side"`
	Confidence     float64        `gorm:"column:confidence"`
	Checks         datatypes.JSON `gorm:"column:checks;type:TEXT"`
	Verified       int            `gorm:"column:verified"`
	Override       int            `gorm:"column:override"`
	DataHash       string         `gorm:"column:data_hash"`
	CreatedAt      int64          `gorm:"column:created_at"` // unix nanos
}

func (VerificationModel) TableName() string { return "verification_records" }

// ValidationModel maps to 'validation_records'.
type ValidationModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ValidationID  string         `gorm:"column:validation_id;uniqueIndex"`
	Symbol        string         `gorm:"column:symbol;index"`
	Side          string         `gorm:"column:side"`
	Confidence    float64        `gorm:"column:confidence"`
	Rules         datatypes.JSON `gorm:"column:rules;type:TEXT"`
	Valid         int            `gorm:"column:valid"`
	Override      int            `gorm:"column:override"`
	PolicyVersion int            `gorm:"column:policy_version"`
	CreatedAt     int64          `gorm:"column:created_at"` // unix nanos
}

func (ValidationModel) TableName() string { return "validation_records" }
