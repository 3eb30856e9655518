package config

import "strings"

// Config is the main configuration carrier for tradegate.
type Config struct {
	App        AppConfig        `toml:"app"`
	Store      StoreConfig      `toml:"store"`
	Oracle     OracleConfig     `toml:"oracle"`
	Policy     PolicyConfig     `toml:"policy"`
	Settlement SettlementConfig `toml:"settlement"`
	Market     MarketConfig     `toml:"market"`
	Executor   ExecutorConfig   `toml:"executor"`
	Signal     SignalConfig     `toml:"signal"`
	Notify     NotifyConfig     `toml:"notify"`
	Trading    TradingConfig    `toml:"trading"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	AuditLog  string `toml:"audit_log_path"`
	AuditDump bool   `toml:"audit_dump"`
}

// StoreConfig selects the persistence backend. Driver "memory" keeps
// everything in-process and needs no path.
type StoreConfig struct {
	Driver    string `toml:"driver"` // "sqlite" | "memory"
	Path      string `toml:"path"`
	AuditPath string `toml:"audit_path"` // proposal audit trail DB; empty disables it
}

type OracleConfig struct {
	FreshnessWindowSeconds int `toml:"freshness_window_seconds"`
	HistoryLimit           int `toml:"history_limit"`
}

// PolicyConfig carries the initial risk policy plus the optional policy
// file watched for hot reloads.
type PolicyConfig struct {
	MinConfidence           float64 `toml:"min_confidence"`
	MaxPositionSizePct      float64 `toml:"max_position_size_pct"`
	MaxDailyLossPct         float64 `toml:"max_daily_loss_pct"`
	MaxRiskScore            float64 `toml:"max_risk_score"`
	MaxTradesPerDay         int     `toml:"max_trades_per_day"`
	MinTradeIntervalSeconds int     `toml:"min_trade_interval_seconds"`

	File  string `toml:"file"`
	Watch bool   `toml:"watch"`
}

type SettlementConfig struct {
	IntervalSeconds        int `toml:"interval_seconds"`
	MaturityWindowSeconds  int `toml:"maturity_window_seconds"`
	ScanDepth              int `toml:"scan_depth"`
	PerTradeTimeoutSeconds int `toml:"per_trade_timeout_seconds"`
	AttentionAfterScans    int `toml:"attention_after_scans"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
	// FixedPrices backs the "fixed" source; symbol -> quote.
	FixedPrices map[string]float64 `toml:"fixed_prices"`
}

type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.URL = strings.TrimSpace(p.URL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// ExecutorConfig selects where accepted trades are filled.
type ExecutorConfig struct {
	Mode   string               `toml:"mode"` // "paper" | "remote"
	Remote RemoteExecutorConfig `toml:"remote"`
}

type RemoteExecutorConfig struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SignalConfig tunes the built-in RSI/EMA signal producer.
type SignalConfig struct {
	Enabled     bool    `toml:"enabled"`
	Interval    string  `toml:"interval"`
	RSIPeriod   int     `toml:"rsi_period"`
	EMAPeriod   int     `toml:"ema_period"`
	Overbought  float64 `toml:"overbought"`
	Oversold    float64 `toml:"oversold"`
	BaseSizePct float64 `toml:"base_size_pct"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type TradingConfig struct {
	StartingCashUSD float64 `toml:"starting_cash_usd"`
}

// keySet tracks field paths explicitly present in the config files, so
// defaults never clobber an explicit zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault is one default-value rule for a single config field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
