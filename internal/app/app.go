// Package app wires the pipeline together and runs it.
package app

import (
	"context"
	"fmt"

	tgcfg "tradegate/internal/config"
	"tradegate/internal/logger"
	"tradegate/internal/settlement"
	"tradegate/internal/store"
	"tradegate/internal/store/auditlog"
	httpapi "tradegate/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App owns the running services: the HTTP surface and the settlement
// reconciler loop, over a shared store.
type App struct {
	cfg        *tgcfg.Config
	httpServer *httpapi.Server
	reconciler *settlement.Reconciler
	storage    store.Store
	audit      *auditlog.Store
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *tgcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run serves until ctx is cancelled or a service fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer func() {
		if err := a.storage.Close(); err != nil {
			logger.Warnf("store close failed: %v", err)
		}
		if a.audit != nil {
			if err := a.audit.Close(); err != nil {
				logger.Warnf("audit log close failed: %v", err)
			}
		}
	}()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("http: listening on %s", a.httpServer.Addr())
		if err := a.httpServer.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		a.reconciler.Run(ctx)
		return nil
	})

	return group.Wait()
}
