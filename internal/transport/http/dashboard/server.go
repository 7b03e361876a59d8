package dashhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradefloor/internal/floor"
	"tradefloor/internal/ledger"
	"tradefloor/internal/logger"
	"tradefloor/internal/pkg/circuit"
	"tradefloor/internal/store/gormstore"
	"tradefloor/internal/types"
)

// LedgerAPI is the read/admin slice of the ledger the dashboard exposes.
// Trading is deliberately absent: the dashboard can pause, reset and inspect
// accounts, never trade for them.
type LedgerAPI interface {
	ListAccounts(ctx context.Context) ([]types.AccountSnapshot, error)
	GetAccount(ctx context.Context, name string) (types.AccountSnapshot, error)
	ListTransactions(ctx context.Context, name string) ([]types.Transaction, error)
	Valuation(ctx context.Context, name string) (ledger.Valuation, error)
	SetActive(ctx context.Context, name string, active bool) error
	Reset(ctx context.Context, name string, seedBalance decimal.Decimal) error
	SnapshotHistory(ctx context.Context, name string, limit int) ([]gormstore.SnapshotPoint, error)
	SeedBalance() decimal.Decimal
}

// RunLog serves sealed run traces.
type RunLog interface {
	ListRuns(ctx context.Context, account string, limit int) ([]types.RunRecord, error)
}

// FloorAPI is the floor's lifecycle surface.
type FloorAPI interface {
	Start(ctx context.Context)
	Stop()
	Status() floor.Status
	LastCycle() *floor.CycleReport
}

// MarketAPI answers market state and price lookups.
type MarketAPI interface {
	Status() types.MarketStatus
	GetPrice(ctx context.Context, symbol string) (types.PriceQuote, error)
	Plan() types.MarketPlan
	BreakerState() circuit.State
}

type Config struct {
	Addr   string
	Ledger LedgerAPI
	Runs   RunLog
	Floor  FloorAPI
	Market MarketAPI
}

// Server is the dashboard HTTP surface.
type Server struct {
	addr   string
	router *gin.Engine

	ledger LedgerAPI
	runs   RunLog
	floor  FloorAPI
	market MarketAPI

	// floorCtx outlives individual requests so a floor started over HTTP
	// keeps running after the request ends. Set in Start.
	floorCtx context.Context
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Ledger == nil || cfg.Market == nil {
		return nil, errors.New("dashboard server requires ledger and market")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:     cfg.Addr,
		router:   router,
		ledger:   cfg.Ledger,
		runs:     cfg.Runs,
		floor:    cfg.Floor,
		market:   cfg.Market,
		floorCtx: context.Background(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	traders := api.Group("/traders")
	traders.GET("", s.handleListTraders)
	traders.GET("/:name", s.handleGetTrader)
	traders.GET("/:name/transactions", s.handleTransactions)
	traders.GET("/:name/runs", s.handleRuns)
	traders.POST("/:name/active", s.handleSetActive)
	traders.POST("/:name/reset", s.handleReset)

	fl := api.Group("/floor")
	fl.POST("/start", s.handleFloorStart)
	fl.POST("/stop", s.handleFloorStop)
	fl.GET("/status", s.handleFloorStatus)

	market := api.Group("/market")
	market.GET("/status", s.handleMarketStatus)
	market.GET("/price/:symbol", s.handleMarketPrice)

	s.router.GET("/charts/portfolio", s.handlePortfolioChart)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.floorCtx = ctx
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("dashboard: listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
