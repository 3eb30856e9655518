package config

import (
	"fmt"
	"strings"
)

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9985"
	defaultAppLogPath  = "/data/logs/tradegate.log"
	defaultAuditPath   = "/data/logs/tradegate-audit.log"

	defaultStoreDriver    = "sqlite"
	defaultStorePath      = "/data/db/tradegate.db"
	defaultStoreAuditPath = "/data/db/tradegate-audit.db"

	defaultOracleFreshness = 60
	defaultOracleHistory   = 500

	defaultPolicyMinConfidence   = 0.6
	defaultPolicyMaxPositionPct  = 20
	defaultPolicyMaxDailyLossPct = 5
	defaultPolicyMaxRiskScore    = 80
	defaultPolicyMaxTradesDay    = 50
	defaultPolicyMinInterval     = 30

	defaultSettleInterval    = 30
	defaultSettleMaturity    = 60
	defaultSettleScanDepth   = 10
	defaultSettleTimeout     = 5
	defaultSettleAttention   = 5
	defaultMarketName        = "binance"
	defaultMarketREST        = "https://fapi.binance.com"
	defaultExecutorMode      = "paper"
	defaultRemoteTimeout     = 15
	defaultSignalInterval    = "1h"
	defaultSignalRSIPeriod   = 14
	defaultSignalEMAPeriod   = 50
	defaultSignalOverbought  = 70
	defaultSignalOversold    = 30
	defaultSignalBaseSizePct = 10
	defaultStartingCash      = 100000
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Oracle.applyDefaults(keys)
	c.Policy.applyDefaults(keys)
	c.Settlement.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Executor.applyDefaults(keys)
	c.Signal.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.audit_log_path", &a.AuditLog, defaultAuditPath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == "sqlite" {
		applyFieldDefaults(keys,
			stringFieldDefault("store.audit_path", &s.AuditPath, defaultStoreAuditPath),
		)
	}
}

func (o *OracleConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "oracle.freshness_window_seconds",
			need:  func() bool { return o.FreshnessWindowSeconds <= 0 },
			apply: func() { o.FreshnessWindowSeconds = defaultOracleFreshness },
		},
		fieldDefault{
			key:   "oracle.history_limit",
			need:  func() bool { return o.HistoryLimit <= 0 },
			apply: func() { o.HistoryLimit = defaultOracleHistory },
		},
	)
}

func (p *PolicyConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "policy.min_confidence",
			need:  func() bool { return p.MinConfidence <= 0 },
			apply: func() { p.MinConfidence = defaultPolicyMinConfidence },
		},
		fieldDefault{
			key:   "policy.max_position_size_pct",
			need:  func() bool { return p.MaxPositionSizePct <= 0 },
			apply: func() { p.MaxPositionSizePct = defaultPolicyMaxPositionPct },
		},
		fieldDefault{
			key:   "policy.max_daily_loss_pct",
			need:  func() bool { return p.MaxDailyLossPct <= 0 },
			apply: func() { p.MaxDailyLossPct = defaultPolicyMaxDailyLossPct },
		},
		fieldDefault{
			key:   "policy.max_risk_score",
			need:  func() bool { return p.MaxRiskScore <= 0 },
			apply: func() { p.MaxRiskScore = defaultPolicyMaxRiskScore },
		},
		fieldDefault{
			key:   "policy.max_trades_per_day",
			need:  func() bool { return p.MaxTradesPerDay <= 0 },
			apply: func() { p.MaxTradesPerDay = defaultPolicyMaxTradesDay },
		},
		fieldDefault{
			key:   "policy.min_trade_interval_seconds",
			need:  func() bool { return p.MinTradeIntervalSeconds <= 0 },
			apply: func() { p.MinTradeIntervalSeconds = defaultPolicyMinInterval },
		},
	)
}

func (s *SettlementConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "settlement.interval_seconds",
			need:  func() bool { return s.IntervalSeconds <= 0 },
			apply: func() { s.IntervalSeconds = defaultSettleInterval },
		},
		fieldDefault{
			key:   "settlement.maturity_window_seconds",
			need:  func() bool { return s.MaturityWindowSeconds <= 0 },
			apply: func() { s.MaturityWindowSeconds = defaultSettleMaturity },
		},
		fieldDefault{
			key:   "settlement.scan_depth",
			need:  func() bool { return s.ScanDepth <= 0 },
			apply: func() { s.ScanDepth = defaultSettleScanDepth },
		},
		fieldDefault{
			key:   "settlement.per_trade_timeout_seconds",
			need:  func() bool { return s.PerTradeTimeoutSeconds <= 0 },
			apply: func() { s.PerTradeTimeoutSeconds = defaultSettleTimeout },
		},
		fieldDefault{
			key:   "settlement.attention_after_scans",
			need:  func() bool { return s.AttentionAfterScans <= 0 },
			apply: func() { s.AttentionAfterScans = defaultSettleAttention },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" && strings.ToLower(src.Name) != "fixed" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

func (e *ExecutorConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("executor.mode", &e.Mode, defaultExecutorMode),
		fieldDefault{
			key:   "executor.remote.timeout_seconds",
			need:  func() bool { return e.Remote.TimeoutSeconds <= 0 },
			apply: func() { e.Remote.TimeoutSeconds = defaultRemoteTimeout },
		},
	)
	e.Mode = strings.ToLower(strings.TrimSpace(e.Mode))
}

func (s *SignalConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("signal.interval", &s.Interval, defaultSignalInterval),
		fieldDefault{
			key:   "signal.rsi_period",
			need:  func() bool { return s.RSIPeriod <= 0 },
			apply: func() { s.RSIPeriod = defaultSignalRSIPeriod },
		},
		fieldDefault{
			key:   "signal.ema_period",
			need:  func() bool { return s.EMAPeriod <= 0 },
			apply: func() { s.EMAPeriod = defaultSignalEMAPeriod },
		},
		fieldDefault{
			key:   "signal.overbought",
			need:  func() bool { return s.Overbought <= 0 },
			apply: func() { s.Overbought = defaultSignalOverbought },
		},
		fieldDefault{
			key:   "signal.oversold",
			need:  func() bool { return s.Oversold <= 0 },
			apply: func() { s.Oversold = defaultSignalOversold },
		},
		fieldDefault{
			key:   "signal.base_size_pct",
			need:  func() bool { return s.BaseSizePct <= 0 },
			apply: func() { s.BaseSizePct = defaultSignalBaseSizePct },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.starting_cash_usd",
			need:  func() bool { return t.StartingCashUSD <= 0 },
			apply: func() { t.StartingCashUSD = defaultStartingCash },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
