package marketdata

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"tradefloor/internal/analysis/indicator"
	"tradefloor/internal/logger"
	"tradefloor/internal/pkg/circuit"
	"tradefloor/internal/types"

	"golang.org/x/sync/singleflight"
)

const (
	staleAfter     = 24 * time.Hour
	lookbackDays   = 5
	probeSymbol    = "SPY"
	historyDefault = 250
)

// PriceStore is the cache surface, backed by the gorm store.
type PriceStore interface {
	UpsertPrices(ctx context.Context, quotes []types.PriceQuote) error
	GetPrice(ctx context.Context, symbol, date string) (types.PriceQuote, bool, error)
	LatestPrice(ctx context.Context, symbol, minDate string) (types.PriceQuote, bool, error)
	LatestPrices(ctx context.Context, symbols []string) (map[string]types.PriceQuote, error)
	DailyHistory(ctx context.Context, symbol string, limit int) ([]types.PriceQuote, error)
	SaveIndicators(ctx context.Context, symbol, date string, payload []byte) error
}

// EquitiesClient is the aggregates upstream (polygon.Client).
type EquitiesClient interface {
	Enabled() bool
	PrevClose(ctx context.Context, symbol string) (types.DailyBar, error)
	GroupedDaily(ctx context.Context, date string) ([]types.DailyBar, error)
	Snapshot(ctx context.Context, symbol string) (float64, time.Time, error)
	Range(ctx context.Context, symbol, from, to string) ([]types.DailyBar, error)
}

// CryptoClient quotes BASE-USD pairs (binance.Client).
type CryptoClient interface {
	Supports(symbol string) bool
	Quote(ctx context.Context, symbol string) (float64, error)
	Dailies(ctx context.Context, symbol string, limit int) ([]types.DailyBar, error)
}

type Params struct {
	Store    PriceStore
	Equities EquitiesClient
	Crypto   CryptoClient
	Calendar *Calendar
	Plan     types.MarketPlan
	Breaker  *circuit.Breaker
}

// Service resolves prices through the plan's tier chain and keeps the
// (symbol, date) cache warm. Every lookup returns a usable quote; the tier
// tag says how trustworthy it is.
type Service struct {
	store    PriceStore
	equities EquitiesClient
	crypto   CryptoClient
	calendar *Calendar
	plan     types.MarketPlan
	breaker  *circuit.Breaker

	group singleflight.Group

	mu           sync.Mutex
	refreshedFor string
	refreshedOn  string

	nowFn func() time.Time
}

func NewService(p Params) *Service {
	plan := p.Plan
	switch plan {
	case types.PlanFree, types.PlanPaid, types.PlanRealtime:
	default:
		plan = types.PlanFree
	}
	cal := p.Calendar
	if cal == nil {
		cal = NewCalendar(nil)
	}
	return &Service{
		store:    p.Store,
		equities: p.Equities,
		crypto:   p.Crypto,
		calendar: cal,
		plan:     plan,
		breaker:  p.Breaker,
		nowFn:    time.Now,
	}
}

func (s *Service) Plan() types.MarketPlan { return s.plan }

// Status reports the session gate from the local calendar rule.
func (s *Service) Status() types.MarketStatus {
	return s.calendar.Status()
}

// BreakerState exposes the upstream breaker for status reporting.
func (s *Service) BreakerState() circuit.State {
	return s.breaker.Snapshot()
}

// GetPrice resolves one symbol. Crypto pairs go to the spot source; equities
// walk snapshot (plan permitting), then the cache, then the bulk refresh,
// then the synthetic fallback. Errors never escape; the chain always ends in
// a tagged quote.
func (s *Service) GetPrice(ctx context.Context, symbol string) (types.PriceQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return types.PriceQuote{}, types.Faultf(types.FaultInternal, "empty symbol")
	}

	if s.crypto != nil && s.crypto.Supports(symbol) {
		quote, err := s.cryptoQuote(ctx, symbol)
		if err == nil {
			return quote, nil
		}
		logger.Warnf("marketdata: crypto quote %s: %v", symbol, err)
		return s.cachedOrFallback(ctx, symbol), nil
	}

	if s.plan == types.PlanPaid || s.plan == types.PlanRealtime {
		quote, err := s.upstreamQuote(ctx, symbol)
		if err == nil {
			return quote, nil
		}
		logger.Warnf("marketdata: %s quote %s: %v", s.plan, symbol, err)
	}
	return s.cachedOrFallback(ctx, symbol), nil
}

// LastKnown returns the newest cached quote per symbol without touching the
// upstream. Used by valuation batches and the dashboard.
func (s *Service) LastKnown(ctx context.Context, symbols []string) (map[string]types.PriceQuote, error) {
	return s.store.LatestPrices(ctx, symbols)
}

func (s *Service) cryptoQuote(ctx context.Context, symbol string) (types.PriceQuote, error) {
	key := "crypto:" + symbol
	v, err, _ := s.group.Do(key, func() (any, error) {
		price, err := s.crypto.Quote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		quote := types.PriceQuote{
			Symbol:    symbol,
			Price:     price,
			Tier:      types.TierRealtime,
			AsOf:      s.calendar.Today(),
			FetchedAt: s.nowFn(),
		}
		if err := s.store.UpsertPrices(ctx, []types.PriceQuote{quote}); err != nil {
			logger.Warnf("marketdata: cache crypto quote %s: %v", symbol, err)
		}
		return quote, nil
	})
	if err != nil {
		return types.PriceQuote{}, err
	}
	return v.(types.PriceQuote), nil
}

// upstreamQuote serves the paid and realtime plans: realtime tries the
// minute snapshot first, both fall back to the symbol's previous close.
func (s *Service) upstreamQuote(ctx context.Context, symbol string) (types.PriceQuote, error) {
	key := "quote:" + symbol
	v, err, _ := s.group.Do(key, func() (any, error) {
		if s.plan == types.PlanRealtime {
			var price float64
			snapErr := s.guarded(ctx, func(ctx context.Context) error {
				var err error
				price, _, err = s.equities.Snapshot(ctx, symbol)
				return err
			})
			if snapErr == nil && price > 0 {
				quote := types.PriceQuote{
					Symbol:    symbol,
					Price:     price,
					Tier:      types.TierRealtime,
					AsOf:      s.calendar.Today(),
					FetchedAt: s.nowFn(),
				}
				s.cacheQuote(ctx, quote)
				return quote, nil
			}
			if snapErr != nil {
				logger.Debugf("marketdata: snapshot %s: %v", symbol, snapErr)
			}
		}
		var bar types.DailyBar
		err := s.guarded(ctx, func(ctx context.Context) error {
			var err error
			bar, err = s.equities.PrevClose(ctx, symbol)
			return err
		})
		if err != nil {
			return nil, err
		}
		quote := types.PriceQuote{
			Symbol:    symbol,
			Price:     bar.Close,
			Tier:      types.TierSnapshot,
			AsOf:      bar.Date,
			FetchedAt: s.nowFn(),
		}
		s.cacheQuote(ctx, quote)
		return quote, nil
	})
	if err != nil {
		return types.PriceQuote{}, err
	}
	return v.(types.PriceQuote), nil
}

func (s *Service) cacheQuote(ctx context.Context, quote types.PriceQuote) {
	if err := s.store.UpsertPrices(ctx, []types.PriceQuote{quote}); err != nil {
		logger.Warnf("marketdata: cache quote %s: %v", quote.Symbol, err)
	}
}

// cachedOrFallback is the tail of every chain: recent cache hit, else one
// guarded bulk refresh and a re-check, else the synthetic price.
func (s *Service) cachedOrFallback(ctx context.Context, symbol string) types.PriceQuote {
	if quote, ok := s.cachedQuote(ctx, symbol); ok {
		return quote
	}
	s.ensureSessionCache(ctx)
	if quote, ok := s.cachedQuote(ctx, symbol); ok {
		return quote
	}
	quote := types.PriceQuote{
		Symbol:    symbol,
		Price:     fallbackPrice(symbol),
		Tier:      types.TierFallback,
		AsOf:      s.calendar.Today(),
		FetchedAt: s.nowFn(),
	}
	logger.Warnf("marketdata: serving synthetic price %.2f for %s", quote.Price, symbol)
	return quote
}

func (s *Service) cachedQuote(ctx context.Context, symbol string) (types.PriceQuote, bool) {
	if quote, ok, err := s.store.GetPrice(ctx, symbol, s.calendar.Today()); err == nil && ok && s.fresh(quote) {
		return quote, true
	}
	minDate := s.calendar.DaysAgo(lookbackDays)
	if quote, ok, err := s.store.LatestPrice(ctx, symbol, minDate); err == nil && ok && s.fresh(quote) {
		return quote, true
	}
	return types.PriceQuote{}, false
}

func (s *Service) fresh(quote types.PriceQuote) bool {
	if quote.Price <= 0 || quote.Tier == types.TierFallback {
		return false
	}
	return s.nowFn().Sub(quote.FetchedAt) <= staleAfter
}

// ensureSessionCache runs the grouped bulk fetch at most once per completed
// session. Concurrent callers collapse onto one flight; losers read whatever
// the winner cached.
func (s *Service) ensureSessionCache(ctx context.Context) {
	if s.equities == nil || !s.equities.Enabled() {
		return
	}
	_, err, _ := s.group.Do("bulk-eod", func() (any, error) {
		return nil, s.refreshEOD(ctx)
	})
	if err != nil {
		logger.Warnf("marketdata: bulk refresh: %v", err)
	}
}

func (s *Service) refreshEOD(ctx context.Context) error {
	// One refresh per exchange date; later cache misses must not re-probe.
	today := s.calendar.Today()
	s.mu.Lock()
	done := s.refreshedOn == today
	s.mu.Unlock()
	if done {
		return nil
	}

	var probe types.DailyBar
	err := s.guarded(ctx, func(ctx context.Context) error {
		var err error
		probe, err = s.equities.PrevClose(ctx, probeSymbol)
		return err
	})
	if err != nil {
		return err
	}
	sessionDate := probe.Date

	s.mu.Lock()
	done = s.refreshedFor == sessionDate
	if done {
		s.refreshedOn = today
	}
	s.mu.Unlock()
	if done {
		return nil
	}

	var bars []types.DailyBar
	err = s.guarded(ctx, func(ctx context.Context) error {
		var err error
		bars, err = s.equities.GroupedDaily(ctx, sessionDate)
		return err
	})
	if err != nil {
		return err
	}
	now := s.nowFn()
	quotes := make([]types.PriceQuote, 0, len(bars))
	for _, bar := range bars {
		quotes = append(quotes, types.PriceQuote{
			Symbol:    bar.Symbol,
			Price:     bar.Close,
			Tier:      types.TierEndOfDay,
			AsOf:      bar.Date,
			FetchedAt: now,
		})
	}
	if err := s.store.UpsertPrices(ctx, quotes); err != nil {
		return err
	}
	s.mu.Lock()
	s.refreshedFor = sessionDate
	s.refreshedOn = today
	s.mu.Unlock()
	logger.Infof("marketdata: cached %d end-of-day closes for session %s", len(quotes), sessionDate)
	return nil
}

// guarded routes an upstream call through the breaker. An open breaker fails
// fast so the tier chain degrades without waiting on a dead upstream.
func (s *Service) guarded(ctx context.Context, op func(context.Context) error) error {
	if !s.breaker.Allow() {
		return types.Faultf(types.FaultUpstreamUnavailable, "equities upstream breaker open")
	}
	if err := op(ctx); err != nil {
		s.breaker.RecordFailure()
		return err
	}
	s.breaker.RecordSuccess()
	return nil
}

// History returns up to limit ascending daily closes for symbol, backfilling
// from the upstream when the cache holds too few rows.
func (s *Service) History(ctx context.Context, symbol string, limit int) ([]types.PriceQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, types.Faultf(types.FaultInternal, "empty symbol")
	}
	if limit <= 0 {
		limit = historyDefault
	}

	if s.crypto != nil && s.crypto.Supports(symbol) {
		bars, err := s.crypto.Dailies(ctx, symbol, limit)
		if err != nil {
			logger.Warnf("marketdata: crypto history %s: %v", symbol, err)
		} else {
			s.cacheBars(ctx, bars)
		}
		return s.store.DailyHistory(ctx, symbol, limit)
	}

	rows, err := s.store.DailyHistory(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) >= limit || s.equities == nil || !s.equities.Enabled() {
		return rows, nil
	}

	key := "hist:" + symbol
	_, ferr, _ := s.group.Do(key, func() (any, error) {
		// Trading days to calendar days, with slack for holidays.
		from := s.calendar.DaysAgo(limit*8/5 + 7)
		to := s.calendar.Today()
		var bars []types.DailyBar
		err := s.guarded(ctx, func(ctx context.Context) error {
			var err error
			bars, err = s.equities.Range(ctx, symbol, from, to)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.cacheBars(ctx, bars)
		return nil, nil
	})
	if ferr != nil {
		logger.Warnf("marketdata: history backfill %s: %v", symbol, ferr)
		return rows, nil
	}
	return s.store.DailyHistory(ctx, symbol, limit)
}

func (s *Service) cacheBars(ctx context.Context, bars []types.DailyBar) {
	if len(bars) == 0 {
		return
	}
	now := s.nowFn()
	quotes := make([]types.PriceQuote, 0, len(bars))
	for _, bar := range bars {
		if bar.Close <= 0 {
			continue
		}
		quotes = append(quotes, types.PriceQuote{
			Symbol:    bar.Symbol,
			Price:     bar.Close,
			Tier:      types.TierEndOfDay,
			AsOf:      bar.Date,
			FetchedAt: now,
		})
	}
	if err := s.store.UpsertPrices(ctx, quotes); err != nil {
		logger.Warnf("marketdata: cache history bars: %v", err)
	}
}

// IndicatorReport computes the daily trend report for symbol and stores the
// payload next to the newest cached close.
func (s *Service) IndicatorReport(ctx context.Context, symbol string) (indicator.Report, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	rows, err := s.History(ctx, symbol, historyDefault)
	if err != nil {
		return indicator.Report{}, err
	}
	closes := make([]float64, 0, len(rows))
	var lastDate string
	for _, row := range rows {
		if row.Price > 0 {
			closes = append(closes, row.Price)
			lastDate = row.AsOf
		}
	}
	rep, err := indicator.Compute(closes, indicator.Settings{Symbol: symbol})
	if err != nil {
		return rep, err
	}
	if payload, merr := json.Marshal(rep); merr == nil && lastDate != "" {
		if serr := s.store.SaveIndicators(ctx, symbol, lastDate, payload); serr != nil {
			logger.Warnf("marketdata: save indicators %s: %v", symbol, serr)
		}
	}
	return rep, nil
}
