package app

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"tradefloor/internal/config"
	"tradefloor/internal/config/loader"
	"tradefloor/internal/floor"
	"tradefloor/internal/ledger"
	"tradefloor/internal/logger"
	"tradefloor/internal/marketdata"
	"tradefloor/internal/store/gormstore"
	"tradefloor/internal/store/runlog"
	dashhttp "tradefloor/internal/transport/http/dashboard"
)

// App wires the trading floor together: stores, market data, the floor loop
// and the dashboard server.
type App struct {
	cfg    *config.Config
	store  *gormstore.Store
	runLog *runlog.Store
	roster *loader.RosterLoader
	ledger *ledger.Service
	market *marketdata.Service
	floor  *floor.Floor
	server *dashhttp.Server

	mu     sync.Mutex
	models map[string]string
}

// New constructs the app from configuration without starting anything.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the floor and the dashboard and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)

	a.floor.Start(ctx)
	group.Go(func() error {
		<-ctx.Done()
		a.floor.Stop()
		return nil
	})
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("dashboard server: %w", err)
		}
		return nil
	})

	logger.Infof("app: floor running every %s, dashboard on %s",
		a.cfg.Floor.CadenceDuration(), a.server.Addr())
	return group.Wait()
}

// RunOnce executes a single cycle and returns its report, for -once mode.
func (a *App) RunOnce(ctx context.Context) (floor.CycleReport, error) {
	if a == nil || a.floor == nil {
		return floor.CycleReport{}, fmt.Errorf("app not initialized")
	}
	defer a.Close()
	return a.floor.RunCycle(ctx), nil
}

// Close releases the app's resources. Safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.roster != nil {
		_ = a.roster.Close()
	}
	if a.runLog != nil {
		_ = a.runLog.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
