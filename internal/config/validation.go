package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.App.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	switch c.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite or memory, got %q", c.Store.Driver)
	}
	if c.Policy.MinConfidence < 0 || c.Policy.MinConfidence > 1 {
		return fmt.Errorf("policy.min_confidence must be within [0,1]")
	}
	if c.Policy.MaxPositionSizePct <= 0 || c.Policy.MaxPositionSizePct > 100 {
		return fmt.Errorf("policy.max_position_size_pct must be within (0,100]")
	}
	if c.Policy.MaxRiskScore < 0 || c.Policy.MaxRiskScore > 100 {
		return fmt.Errorf("policy.max_risk_score must be within [0,100]")
	}
	switch c.Executor.Mode {
	case "paper":
	case "remote":
		if strings.TrimSpace(c.Executor.Remote.BaseURL) == "" {
			return fmt.Errorf("executor.remote.base_url is required for the remote executor")
		}
	default:
		return fmt.Errorf("executor.mode must be paper or remote, got %q", c.Executor.Mode)
	}
	active := c.Market.ResolveActiveSource()
	if strings.ToLower(active.Name) == "fixed" && len(c.Market.FixedPrices) == 0 {
		return fmt.Errorf("market.fixed_prices is required when the fixed source is active")
	}
	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.BotToken) == "" || strings.TrimSpace(c.Notify.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
