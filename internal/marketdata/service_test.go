package marketdata

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"tradefloor/internal/pkg/circuit"
	"tradefloor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday 14:00 ET.
var testNow = time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)

const testSession = "2025-06-09"

type fakePriceStore struct {
	mu         sync.Mutex
	rows       map[string]map[string]types.PriceQuote
	indicators map[string][]byte
}

func newFakePriceStore() *fakePriceStore {
	return &fakePriceStore{
		rows:       make(map[string]map[string]types.PriceQuote),
		indicators: make(map[string][]byte),
	}
}

func (f *fakePriceStore) UpsertPrices(ctx context.Context, quotes []types.PriceQuote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, quote := range quotes {
		if f.rows[quote.Symbol] == nil {
			f.rows[quote.Symbol] = make(map[string]types.PriceQuote)
		}
		f.rows[quote.Symbol][quote.AsOf] = quote
	}
	return nil
}

func (f *fakePriceStore) GetPrice(ctx context.Context, symbol, date string) (types.PriceQuote, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quote, ok := f.rows[symbol][date]
	return quote, ok, nil
}

func (f *fakePriceStore) LatestPrice(ctx context.Context, symbol, minDate string) (types.PriceQuote, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best types.PriceQuote
	found := false
	for date, quote := range f.rows[symbol] {
		if date < minDate {
			continue
		}
		if !found || date > best.AsOf {
			best = quote
			found = true
		}
	}
	return best, found, nil
}

func (f *fakePriceStore) LatestPrices(ctx context.Context, symbols []string) (map[string]types.PriceQuote, error) {
	out := make(map[string]types.PriceQuote, len(symbols))
	for _, symbol := range symbols {
		if quote, ok, _ := f.LatestPrice(ctx, symbol, ""); ok {
			out[symbol] = quote
		}
	}
	return out, nil
}

func (f *fakePriceStore) DailyHistory(ctx context.Context, symbol string, limit int) ([]types.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dates := make([]string, 0, len(f.rows[symbol]))
	for date := range f.rows[symbol] {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	if len(dates) > limit {
		dates = dates[len(dates)-limit:]
	}
	out := make([]types.PriceQuote, 0, len(dates))
	for _, date := range dates {
		out = append(out, f.rows[symbol][date])
	}
	return out, nil
}

func (f *fakePriceStore) SaveIndicators(ctx context.Context, symbol, date string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indicators[symbol+"@"+date] = payload
	return nil
}

type fakeEquities struct {
	mu       sync.Mutex
	enabled  bool
	prevErr  error
	snapErr  error
	snapShot float64
	grouped  []types.DailyBar
	rangeOut []types.DailyBar
	calls    map[string]int
}

func newFakeEquities() *fakeEquities {
	return &fakeEquities{enabled: true, calls: make(map[string]int)}
}

func (f *fakeEquities) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeEquities) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeEquities) Enabled() bool { return f.enabled }

func (f *fakeEquities) PrevClose(ctx context.Context, symbol string) (types.DailyBar, error) {
	f.count("prev")
	if f.prevErr != nil {
		return types.DailyBar{}, f.prevErr
	}
	for _, bar := range f.grouped {
		if bar.Symbol == symbol {
			return bar, nil
		}
	}
	return types.DailyBar{Symbol: symbol, Date: testSession, Close: 100}, nil
}

func (f *fakeEquities) GroupedDaily(ctx context.Context, date string) ([]types.DailyBar, error) {
	f.count("grouped")
	if f.prevErr != nil {
		return nil, f.prevErr
	}
	return f.grouped, nil
}

func (f *fakeEquities) Snapshot(ctx context.Context, symbol string) (float64, time.Time, error) {
	f.count("snapshot")
	if f.snapErr != nil {
		return 0, time.Time{}, f.snapErr
	}
	return f.snapShot, testNow, nil
}

func (f *fakeEquities) Range(ctx context.Context, symbol, from, to string) ([]types.DailyBar, error) {
	f.count("range")
	return f.rangeOut, nil
}

type fakeCrypto struct {
	price float64
	err   error
	bars  []types.DailyBar
}

func (f *fakeCrypto) Supports(symbol string) bool {
	return symbol == "BTC-USD"
}

func (f *fakeCrypto) Quote(ctx context.Context, symbol string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.price, nil
}

func (f *fakeCrypto) Dailies(ctx context.Context, symbol string, limit int) ([]types.DailyBar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

func pinned(svc *Service) *Service {
	svc.nowFn = func() time.Time { return testNow }
	svc.calendar.nowFn = svc.nowFn
	return svc
}

func newTestService(plan types.MarketPlan, store *fakePriceStore, eq *fakeEquities, crypto CryptoClient) *Service {
	svc := NewService(Params{
		Store:    store,
		Equities: eq,
		Crypto:   crypto,
		Plan:     plan,
		Breaker:  circuit.NewBreaker("equities", 5, time.Minute),
	})
	return pinned(svc)
}

func TestFreePlanBulkLoadsOnceAndServesEOD(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.grouped = []types.DailyBar{
		{Symbol: "SPY", Date: testSession, Close: 534.2},
		{Symbol: "AAPL", Date: testSession, Close: 196.5},
		{Symbol: "MSFT", Date: testSession, Close: 421.1},
	}
	svc := newTestService(types.PlanFree, store, eq, nil)
	ctx := context.Background()

	quote, err := svc.GetPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, types.TierEndOfDay, quote.Tier)
	assert.Equal(t, 196.5, quote.Price)
	assert.Equal(t, testSession, quote.AsOf)

	// Second symbol comes out of the freshly filled cache.
	quote, err = svc.GetPrice(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, types.TierEndOfDay, quote.Tier)
	assert.Equal(t, 421.1, quote.Price)

	assert.Equal(t, 1, eq.callCount("grouped"), "one bulk fetch per session")
	assert.Equal(t, 1, eq.callCount("prev"), "one session probe")
}

func TestFreePlanServesFallbackWhenUpstreamDisabled(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.enabled = false
	svc := newTestService(types.PlanFree, store, eq, nil)
	ctx := context.Background()

	first, err := svc.GetPrice(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.Equal(t, types.TierFallback, first.Tier)
	assert.GreaterOrEqual(t, first.Price, 1.0)
	assert.LessOrEqual(t, first.Price, 100.0)

	second, err := svc.GetPrice(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.Equal(t, first.Price, second.Price, "synthetic price must be stable per symbol")
	assert.Equal(t, 0, eq.callCount("grouped"))
}

func TestUnknownSymbolFallsBackAfterBulk(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.grouped = []types.DailyBar{{Symbol: "SPY", Date: testSession, Close: 534.2}}
	svc := newTestService(types.PlanFree, store, eq, nil)

	quote, err := svc.GetPrice(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Equal(t, types.TierFallback, quote.Tier)
	assert.Equal(t, 1, eq.callCount("grouped"), "bulk attempted before giving up")
}

func TestCacheMissAfterRefreshSkipsSessionProbe(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.grouped = []types.DailyBar{{Symbol: "SPY", Date: testSession, Close: 534.2}}
	svc := newTestService(types.PlanFree, store, eq, nil)
	ctx := context.Background()

	_, err := svc.GetPrice(ctx, "NOPE")
	require.NoError(t, err)
	_, err = svc.GetPrice(ctx, "ALSO")
	require.NoError(t, err)

	assert.Equal(t, 1, eq.callCount("prev"), "session already refreshed, no new probe")
	assert.Equal(t, 1, eq.callCount("grouped"))
}

func TestPaidPlanUsesPrevClose(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.grouped = []types.DailyBar{{Symbol: "AAPL", Date: testSession, Close: 196.5}}
	svc := newTestService(types.PlanPaid, store, eq, nil)

	quote, err := svc.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, types.TierSnapshot, quote.Tier)
	assert.Equal(t, 196.5, quote.Price)
	assert.Equal(t, 0, eq.callCount("snapshot"), "paid plan never hits the minute snapshot")

	_, cached, err := store.GetPrice(context.Background(), "AAPL", testSession)
	require.NoError(t, err)
	assert.True(t, cached, "prev close is written through to the cache")
}

func TestRealtimePlanPrefersMinuteSnapshot(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.snapShot = 197.31
	svc := newTestService(types.PlanRealtime, store, eq, nil)

	quote, err := svc.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, types.TierRealtime, quote.Tier)
	assert.Equal(t, 197.31, quote.Price)
}

func TestRealtimePlanDegradesToPrevClose(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.snapErr = types.Faultf(types.FaultUpstreamUnavailable, "snapshot down")
	eq.grouped = []types.DailyBar{{Symbol: "AAPL", Date: testSession, Close: 196.5}}
	svc := newTestService(types.PlanRealtime, store, eq, nil)

	quote, err := svc.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, types.TierSnapshot, quote.Tier)
	assert.Equal(t, 196.5, quote.Price)
}

func TestCacheHitServedWhenUpstreamFails(t *testing.T) {
	store := newFakePriceStore()
	require.NoError(t, store.UpsertPrices(context.Background(), []types.PriceQuote{{
		Symbol:    "AAPL",
		Price:     195.0,
		Tier:      types.TierEndOfDay,
		AsOf:      testSession,
		FetchedAt: testNow.Add(-time.Hour),
	}}))
	eq := newFakeEquities()
	eq.prevErr = types.Faultf(types.FaultUpstreamUnavailable, "down")
	svc := newTestService(types.PlanPaid, store, eq, nil)

	quote, err := svc.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, types.TierEndOfDay, quote.Tier)
	assert.Equal(t, 195.0, quote.Price)
}

func TestStaleCacheRefreshedFromUpstream(t *testing.T) {
	store := newFakePriceStore()
	require.NoError(t, store.UpsertPrices(context.Background(), []types.PriceQuote{{
		Symbol:    "AAPL",
		Price:     180.0,
		Tier:      types.TierEndOfDay,
		AsOf:      "2025-06-06",
		FetchedAt: testNow.Add(-25 * time.Hour),
	}}))
	eq := newFakeEquities()
	eq.grouped = []types.DailyBar{{Symbol: "AAPL", Date: testSession, Close: 196.5}}
	svc := newTestService(types.PlanFree, store, eq, nil)

	quote, err := svc.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 196.5, quote.Price, "stale row must not satisfy the lookup")
	assert.Equal(t, testSession, quote.AsOf)
	assert.Equal(t, 1, eq.callCount("grouped"))
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.prevErr = types.Faultf(types.FaultUpstreamUnavailable, "down")
	svc := NewService(Params{
		Store:    store,
		Equities: eq,
		Plan:     types.PlanFree,
		Breaker:  circuit.NewBreaker("equities", 2, time.Hour),
	})
	pinned(svc)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		quote, err := svc.GetPrice(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, types.TierFallback, quote.Tier)
	}
	assert.Equal(t, 2, eq.callCount("prev"), "open breaker stops hitting the upstream")
	assert.Equal(t, circuit.StateOpen, svc.BreakerState())
}

func TestCryptoPairQuotedFromSpot(t *testing.T) {
	store := newFakePriceStore()
	svc := newTestService(types.PlanFree, store, newFakeEquities(), &fakeCrypto{price: 65123.5})

	quote, err := svc.GetPrice(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, types.TierRealtime, quote.Tier)
	assert.Equal(t, 65123.5, quote.Price)

	_, cached, err := store.GetPrice(context.Background(), "BTC-USD", "2025-06-10")
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestCryptoFailureWalksFallbackChain(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.enabled = false
	crypto := &fakeCrypto{err: types.Faultf(types.FaultUpstreamUnavailable, "spot down")}
	svc := newTestService(types.PlanFree, store, eq, crypto)

	quote, err := svc.GetPrice(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, types.TierFallback, quote.Tier)
}

func TestHistoryBackfillsFromUpstreamOnce(t *testing.T) {
	store := newFakePriceStore()
	eq := newFakeEquities()
	eq.rangeOut = []types.DailyBar{
		{Symbol: "AAPL", Date: "2025-06-05", Close: 193.0},
		{Symbol: "AAPL", Date: "2025-06-06", Close: 194.2},
		{Symbol: "AAPL", Date: testSession, Close: 196.5},
	}
	svc := newTestService(types.PlanFree, store, eq, nil)
	ctx := context.Background()

	rows, err := svc.History(ctx, "AAPL", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2025-06-05", rows[0].AsOf)
	assert.Equal(t, 196.5, rows[2].Price)

	_, err = svc.History(ctx, "AAPL", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, eq.callCount("range"), "filled cache satisfies the second read")
}

func TestIndicatorReportStoresPayload(t *testing.T) {
	store := newFakePriceStore()
	quotes := make([]types.PriceQuote, 0, 40)
	day := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		quotes = append(quotes, types.PriceQuote{
			Symbol:    "AAPL",
			Price:     100 + float64(i),
			Tier:      types.TierEndOfDay,
			AsOf:      day.AddDate(0, 0, i).Format(dateLayout),
			FetchedAt: testNow,
		})
	}
	require.NoError(t, store.UpsertPrices(context.Background(), quotes))
	eq := newFakeEquities()
	eq.enabled = false
	svc := newTestService(types.PlanFree, store, eq, nil)

	rep, err := svc.IndicatorReport(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 40, rep.Count)
	assert.Contains(t, rep.Values, "rsi")
	assert.Contains(t, rep.Values, "ema_fast")
	assert.NotEmpty(t, rep.Warnings, "40 closes cannot feed the slow EMA")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.indicators, 1)
}
