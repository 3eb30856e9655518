package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgcfg "tradegate/internal/config"
	"tradegate/internal/engine"
	"tradegate/internal/executor"
	"tradegate/internal/ledger"
	"tradegate/internal/logger"
	"tradegate/internal/market"
	"tradegate/internal/notifier"
	"tradegate/internal/oracle"
	"tradegate/internal/policy"
	"tradegate/internal/rules"
	"tradegate/internal/settlement"
	"tradegate/internal/signal"
	"tradegate/internal/store"
	"tradegate/internal/store/auditlog"
	"tradegate/internal/store/gormstore"
	"tradegate/internal/store/memory"
	httpapi "tradegate/internal/transport/http"
	"tradegate/internal/types"
)

// AppBuilder assembles the pipeline. The function fields exist so tests can
// swap the store, market source or notifier without touching the rest of
// the wiring.
type AppBuilder struct {
	cfg *tgcfg.Config

	storeFn    func(tgcfg.StoreConfig) (store.Store, error)
	marketFn   func(*tgcfg.Config) (market.Source, error)
	notifierFn func(tgcfg.NotifyConfig) notifier.TextNotifier
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *tgcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    buildStore,
		marketFn:   buildMarketSource,
		notifierFn: buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func WithStore(fn func(tgcfg.StoreConfig) (store.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithMarketSource(fn func(*tgcfg.Config) (market.Source, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.marketFn = fn
		}
	}
}

func WithNotifier(fn func(tgcfg.NotifyConfig) notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.notifierFn = fn
		}
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	storage, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store failed: %w", err)
	}

	policies, err := buildPolicyStore(cfg.Policy, storage)
	if err != nil {
		return nil, err
	}
	if path := strings.TrimSpace(cfg.Policy.File); path != "" && cfg.Policy.Watch {
		if _, err := policy.NewLoader(path, policies); err != nil {
			return nil, fmt.Errorf("policy file watch failed: %w", err)
		}
		logger.Infof("policy: watching %s for changes", path)
	}

	gate := oracle.NewGate(oracle.Config{
		FreshnessWindow: time.Duration(cfg.Oracle.FreshnessWindowSeconds) * time.Second,
		HistoryLimit:    cfg.Oracle.HistoryLimit,
	}, storage)

	ruleEngine, err := rules.NewEngine(rules.Config{HistoryLimit: cfg.Oracle.HistoryLimit}, policies, storage)
	if err != nil {
		return nil, err
	}

	chain, err := ledger.New(storage)
	if err != nil {
		return nil, err
	}

	marketSrc, err := b.marketFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("init market source failed: %w", err)
	}

	portfolio := types.NewPortfolioState(cfg.Trading.StartingCashUSD)
	exec, profits, err := buildExecutor(cfg, portfolio, marketSrc)
	if err != nil {
		return nil, err
	}

	pipeline, err := engine.New(gate, ruleEngine, exec, chain, portfolio)
	if err != nil {
		return nil, err
	}

	var audit *auditlog.Store
	if path := strings.TrimSpace(cfg.Store.AuditPath); path != "" {
		audit, err = auditlog.New(path)
		if err != nil {
			return nil, fmt.Errorf("init audit log failed: %w", err)
		}
		pipeline.SetAuditSink(proposalAuditor{store: audit})
		logger.Infof("audit: recording proposals to %s", path)
	}

	textNotifier := b.notifierFn(cfg.Notify)
	reconciler, err := settlement.NewReconciler(settlement.Config{
		Interval:            time.Duration(cfg.Settlement.IntervalSeconds) * time.Second,
		MaturityWindow:      time.Duration(cfg.Settlement.MaturityWindowSeconds) * time.Second,
		ScanDepth:           cfg.Settlement.ScanDepth,
		PerTradeTimeout:     time.Duration(cfg.Settlement.PerTradeTimeoutSeconds) * time.Second,
		AttentionAfterScans: cfg.Settlement.AttentionAfterScans,
	}, chain, storage, profits, textNotifier)
	if err != nil {
		return nil, err
	}

	var producer *signal.Producer
	if cfg.Signal.Enabled {
		producer = signal.NewProducer(signal.Config{
			Interval:    cfg.Signal.Interval,
			RSIPeriod:   cfg.Signal.RSIPeriod,
			EMAPeriod:   cfg.Signal.EMAPeriod,
			Overbought:  cfg.Signal.Overbought,
			Oversold:    cfg.Signal.Oversold,
			BaseSizePct: cfg.Signal.BaseSizePct,
		}, marketSrc)
	}

	router := &httpapi.Router{
		Engine:     pipeline,
		Gate:       gate,
		Rules:      ruleEngine,
		Policies:   policies,
		Chain:      chain,
		Reconciler: reconciler,
		Portfolio:  portfolio,
		Producer:   producer,
		Market:     marketSrc,
		Audit:      audit,
	}
	httpServer, err := httpapi.NewServer(cfg.App.HTTPAddr, router)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:        cfg,
		httpServer: httpServer,
		reconciler: reconciler,
		storage:    storage,
		audit:      audit,
	}, nil
}

// proposalAuditor flattens engine decisions into flat audit entries.
type proposalAuditor struct {
	store *auditlog.Store
}

func (p proposalAuditor) RecordProposal(ctx context.Context, req engine.ProposeRequest, result engine.ProposeResult) {
	validationID := ""
	if result.Validation != nil {
		validationID = result.Validation.ID
	}
	var blockNumber int64
	if result.Block != nil {
		blockNumber = result.Block.BlockNumber
	}
	entry := auditlog.EntryFor(req.Signal.Symbol, string(req.Signal.Side), req.Force,
		req, result, result.Accepted, result.Reason, result.Verification.ID, validationID, blockNumber)
	if _, err := p.store.Insert(ctx, entry); err != nil {
		logger.Warnf("audit: insert failed: %v", err)
	}
}

func buildStore(cfg tgcfg.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewStore(), nil
	default:
		return gormstore.NewGormStore(cfg.Path)
	}
}

// buildPolicyStore resumes the version counter from persisted history so a
// restart never reissues an existing version number.
func buildPolicyStore(cfg tgcfg.PolicyConfig, storage store.Store) (*policy.Store, error) {
	initial := policy.RiskPolicy{
		MinConfidence:           cfg.MinConfidence,
		MaxPositionSizePct:      cfg.MaxPositionSizePct,
		MaxDailyLossPct:         cfg.MaxDailyLossPct,
		MaxRiskScore:            cfg.MaxRiskScore,
		MaxTradesPerDay:         cfg.MaxTradesPerDay,
		MinTradeIntervalSeconds: cfg.MinTradeIntervalSeconds,
	}
	history, err := storage.PolicyVersions()
	if err != nil {
		return nil, fmt.Errorf("load policy history failed: %w", err)
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		logger.Infof("policy: resuming at persisted v%d", last.Version)
		initial = last
	}
	policies, err := policy.NewStore(initial, storage)
	if err != nil {
		return nil, err
	}
	policies.SeedHistory(history)
	return policies, nil
}

func buildMarketSource(cfg *tgcfg.Config) (market.Source, error) {
	active := cfg.Market.ResolveActiveSource()
	if strings.ToLower(active.Name) == "fixed" {
		logger.Infof("market: fixed source with %d quoted symbols", len(cfg.Market.FixedPrices))
		return market.NewFixedSource(cfg.Market.FixedPrices), nil
	}
	return market.NewBinanceSource(market.BinanceConfig{
		RESTBaseURL:  active.RESTBaseURL,
		ProxyEnabled: active.Proxy.Enabled,
		ProxyURL:     active.Proxy.URL,
	})
}

// buildExecutor returns the fill executor plus the profit source the
// reconciler settles against; for both modes they are the same object.
func buildExecutor(cfg *tgcfg.Config, portfolio *types.PortfolioState, src market.Source) (executor.Executor, settlement.ProfitSource, error) {
	switch cfg.Executor.Mode {
	case "remote":
		remote, err := executor.NewRemote(executor.RemoteConfig{
			APIURL:         cfg.Executor.Remote.BaseURL,
			APIToken:       cfg.Executor.Remote.APIToken,
			TimeoutSeconds: cfg.Executor.Remote.TimeoutSeconds,
		})
		if err != nil {
			return nil, nil, err
		}
		return remote, remote, nil
	default:
		priceFn := func(ctx context.Context, symbol string) (float64, error) {
			snap, err := src.Snapshot(ctx, symbol)
			if err != nil {
				return 0, err
			}
			return snap.Price, nil
		}
		paper, err := executor.NewPaper(portfolio, priceFn)
		if err != nil {
			return nil, nil, err
		}
		return paper, paper, nil
	}
}

func buildNotifier(cfg tgcfg.NotifyConfig) notifier.TextNotifier {
	if cfg.Telegram.Enabled {
		return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	return notifier.Noop{}
}
