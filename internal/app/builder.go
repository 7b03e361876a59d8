package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradefloor/internal/agent"
	"tradefloor/internal/config"
	"tradefloor/internal/config/loader"
	"tradefloor/internal/decision"
	"tradefloor/internal/floor"
	"tradefloor/internal/gateway/binance"
	"tradefloor/internal/gateway/notifier"
	"tradefloor/internal/gateway/polygon"
	"tradefloor/internal/gateway/provider"
	"tradefloor/internal/gateway/serper"
	"tradefloor/internal/ledger"
	"tradefloor/internal/logger"
	"tradefloor/internal/marketdata"
	"tradefloor/internal/pkg/circuit"
	"tradefloor/internal/store/gormstore"
	"tradefloor/internal/store/runlog"
	"tradefloor/internal/tools"
	"tradefloor/internal/trace"
	dashhttp "tradefloor/internal/transport/http/dashboard"
	"tradefloor/internal/types"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 2 * time.Minute
)

// Builder assembles the floor from configuration. Each function field can be
// overridden in tests to substitute a fake for one slice of the stack.
type Builder struct {
	cfg *config.Config

	storeFn    func(*config.Config) (*gormstore.Store, error)
	runlogFn   func(*config.Config) (*runlog.Store, error)
	rosterFn   func(*config.Config) (*loader.RosterLoader, error)
	marketFn   func(*config.Config, *gormstore.Store) *marketdata.Service
	notifierFn func(*config.Config) tools.TextNotifier
	reasonerFn func(*config.Config) (decision.Reasoner, error)
}

type BuilderOption func(*Builder)

func NewBuilder(cfg *config.Config, opts ...BuilderOption) *Builder {
	b := &Builder{
		cfg:        cfg,
		storeFn:    openStore,
		runlogFn:   openRunLog,
		rosterFn:   openRoster,
		marketFn:   buildMarketService,
		notifierFn: buildNotifier,
		reasonerFn: buildReasoner,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Builder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	store, err := b.storeFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	runLog, err := b.runlogFn(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open run log: %w", err)
	}
	tracer := trace.New(runLog)

	market := b.marketFn(cfg, store)
	ledgerSvc := ledger.NewService(ledger.Params{
		Store:       store,
		Prices:      market,
		Traces:      runLog,
		Spread:      cfg.Trading.Spread,
		SeedBalance: cfg.Trading.SeedBalance,
	})

	roster, err := b.rosterFn(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load roster: %w", err)
	}

	registry, err := tools.NewStandardRegistry(tools.Deps{
		Ledger:   ledgerSvc,
		Market:   market,
		Memory:   store,
		Notifier: b.notifierFn(cfg),
		Search:   serper.New(cfg.Search.SerperAPIKey),
		Spread:   ledgerSvc.Spread(),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	reasoner, err := b.reasonerFn(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build reasoner: %w", err)
	}

	app := &App{
		cfg:    cfg,
		store:  store,
		runLog: runLog,
		roster: roster,
		ledger: ledgerSvc,
		market: market,
		models: make(map[string]string),
	}

	runner := agent.NewRunner(agent.Params{
		Ledger:   ledgerSvc,
		Market:   market,
		Tools:    registry,
		Reasoner: reasoner,
		Tracer:   tracer,
		ModelFor: app.modelFor,
	})

	app.floor = floor.New(floor.Params{
		Accounts:       ledgerSvc,
		Runner:         runner,
		Market:         market,
		Interval:       cfg.Floor.CadenceDuration(),
		RunTimeout:     cfg.Floor.RunTimeout(),
		LaunchGap:      cfg.Floor.LaunchGap(),
		RunWhenClosed:  cfg.Floor.RunWhenClosed,
		RunImmediately: cfg.Floor.RunImmediately,
	})

	server, err := dashhttp.NewServer(dashhttp.Config{
		Addr:   cfg.App.HTTPAddr,
		Ledger: ledgerSvc,
		Runs:   runLog,
		Floor:  app.floor,
		Market: market,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build dashboard: %w", err)
	}
	app.server = server

	// Seed the roster now and re-apply on every hot reload.
	if err := app.applyRoster(ctx, roster.Snapshot()); err != nil {
		store.Close()
		return nil, err
	}
	roster.Subscribe(func(snap loader.RosterSnapshot) {
		if err := app.applyRoster(context.Background(), snap); err != nil {
			logger.Warnf("app: apply roster reload: %v", err)
		}
	})

	return app, nil
}

func openStore(cfg *config.Config) (*gormstore.Store, error) {
	return gormstore.Open(cfg.Store.DBPath)
}

func openRunLog(cfg *config.Config) (*runlog.Store, error) {
	return runlog.New(cfg.Store.RunLogPath)
}

func openRoster(cfg *config.Config) (*loader.RosterLoader, error) {
	return loader.NewRosterLoader(cfg.Floor.RosterPath)
}

func buildMarketService(cfg *config.Config, store *gormstore.Store) *marketdata.Service {
	equities := polygon.New(polygon.Config{
		APIKey:  cfg.Market.PolygonAPIKey,
		BaseURL: cfg.Market.PolygonURL,
	})
	var crypto marketdata.CryptoClient
	if cfg.Market.CryptoEnabled {
		client, err := binance.New(binance.Config{
			ProxyEnabled: strings.TrimSpace(cfg.Market.CryptoProxy) != "",
			RESTProxyURL: cfg.Market.CryptoProxy,
		})
		if err != nil {
			logger.Warnf("app: crypto source unavailable: %v", err)
		} else {
			crypto = client
		}
	}
	return marketdata.NewService(marketdata.Params{
		Store:    store,
		Equities: equities,
		Crypto:   crypto,
		Calendar: marketdata.NewCalendar(cfg.Market.Holidays),
		Plan:     types.MarketPlan(cfg.Market.Plan),
		Breaker:  circuit.NewBreaker("equities", breakerThreshold, breakerCooldown),
	})
}

// buildNotifier prefers Pushover; Telegram stays available as an alternate
// sink when it is the one configured. An unconfigured Pushover client logs
// messages instead of sending, so notifications never block a run.
func buildNotifier(cfg *config.Config) tools.TextNotifier {
	push := notifier.NewPushover(cfg.Notify.Pushover.UserKey, cfg.Notify.Pushover.AppToken)
	if push.Configured() {
		return push
	}
	if cfg.Notify.Telegram.Enabled {
		return notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}
	return push
}

func buildReasoner(cfg *config.Config) (decision.Reasoner, error) {
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	providers := provider.BuildProviders(cfg.AI.Models, timeout)
	return decision.NewEngine(providers, cfg.AI.DefaultModel, cfg.AI.MaxTurns)
}

// applyRoster seeds missing accounts and refreshes the account->model map.
// Existing accounts keep their persisted state; the roster only creates.
func (a *App) applyRoster(ctx context.Context, snap loader.RosterSnapshot) error {
	seed := decimal.NewFromFloat(a.cfg.Trading.SeedBalance)
	accounts := make([]types.AccountSnapshot, 0, len(snap.Traders))
	models := make(map[string]string, len(snap.Traders))
	for _, def := range snap.Traders {
		accounts = append(accounts, types.AccountSnapshot{
			Name:        def.Name,
			DisplayName: def.DisplayName,
			Strategy:    def.Strategy,
			Balance:     seed,
			Holdings:    map[string]int64{},
			Mode:        types.ModeTrading,
			Active:      def.IsActive(),
		})
		models[def.Name] = def.Model
	}
	if err := a.ledger.Seed(ctx, accounts); err != nil {
		return err
	}
	a.mu.Lock()
	a.models = models
	a.mu.Unlock()
	logger.Infof("app: roster applied, %d traders", len(accounts))
	return nil
}

func (a *App) modelFor(account string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.models[strings.ToLower(strings.TrimSpace(account))]
}

func WithStore(fn func(*config.Config) (*gormstore.Store, error)) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithRunLog(fn func(*config.Config) (*runlog.Store, error)) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.runlogFn = fn
		}
	}
}

func WithMarket(fn func(*config.Config, *gormstore.Store) *marketdata.Service) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.marketFn = fn
		}
	}
}

func WithNotifier(fn func(*config.Config) tools.TextNotifier) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.notifierFn = fn
		}
	}
}

func WithReasoner(fn func(*config.Config) (decision.Reasoner, error)) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.reasonerFn = fn
		}
	}
}
