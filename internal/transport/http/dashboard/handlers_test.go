package dashhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradefloor/internal/floor"
	"tradefloor/internal/ledger"
	"tradefloor/internal/pkg/circuit"
	"tradefloor/internal/store/gormstore"
	"tradefloor/internal/types"
)

type stubLedger struct {
	accounts map[string]types.AccountSnapshot
	txns     map[string][]types.Transaction
	history  map[string][]gormstore.SnapshotPoint
	active   map[string]bool
	resets   []string
}

func (s *stubLedger) get(name string) (types.AccountSnapshot, error) {
	acct, ok := s.accounts[strings.ToLower(name)]
	if !ok {
		return types.AccountSnapshot{}, types.Faultf(types.FaultNotFound, "account %s not found", name)
	}
	return acct, nil
}

func (s *stubLedger) ListAccounts(ctx context.Context) ([]types.AccountSnapshot, error) {
	out := make([]types.AccountSnapshot, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct)
	}
	return out, nil
}

func (s *stubLedger) GetAccount(ctx context.Context, name string) (types.AccountSnapshot, error) {
	return s.get(name)
}

func (s *stubLedger) ListTransactions(ctx context.Context, name string) ([]types.Transaction, error) {
	if _, err := s.get(name); err != nil {
		return nil, err
	}
	return s.txns[name], nil
}

func (s *stubLedger) Valuation(ctx context.Context, name string) (ledger.Valuation, error) {
	acct, err := s.get(name)
	if err != nil {
		return ledger.Valuation{}, err
	}
	return ledger.Valuation{
		Account:    acct.Name,
		Cash:       acct.Balance,
		TotalValue: acct.Balance,
	}, nil
}

func (s *stubLedger) SetActive(ctx context.Context, name string, active bool) error {
	if _, err := s.get(name); err != nil {
		return err
	}
	if s.active == nil {
		s.active = map[string]bool{}
	}
	s.active[name] = active
	return nil
}

func (s *stubLedger) Reset(ctx context.Context, name string, seed decimal.Decimal) error {
	if _, err := s.get(name); err != nil {
		return err
	}
	s.resets = append(s.resets, name)
	return nil
}

func (s *stubLedger) SnapshotHistory(ctx context.Context, name string, limit int) ([]gormstore.SnapshotPoint, error) {
	if _, err := s.get(name); err != nil {
		return nil, err
	}
	return s.history[name], nil
}

func (s *stubLedger) SeedBalance() decimal.Decimal { return decimal.NewFromInt(10000) }

type stubRuns struct {
	runs []types.RunRecord
}

func (s *stubRuns) ListRuns(ctx context.Context, account string, limit int) ([]types.RunRecord, error) {
	return s.runs, nil
}

type stubFloor struct {
	status  floor.Status
	started int
	stopped int
}

func (s *stubFloor) Start(ctx context.Context) {
	s.started++
	s.status = floor.StatusRunning
}

func (s *stubFloor) Stop() {
	s.stopped++
	s.status = floor.StatusStopped
}

func (s *stubFloor) Status() floor.Status          { return s.status }
func (s *stubFloor) LastCycle() *floor.CycleReport { return nil }

type stubMarket struct {
	status types.MarketStatus
	quotes map[string]types.PriceQuote
}

func (s *stubMarket) Status() types.MarketStatus { return s.status }

func (s *stubMarket) GetPrice(ctx context.Context, symbol string) (types.PriceQuote, error) {
	if q, ok := s.quotes[symbol]; ok {
		return q, nil
	}
	return types.PriceQuote{}, types.Faultf(types.FaultUpstreamUnavailable, "no quote for %s", symbol)
}

func (s *stubMarket) Plan() types.MarketPlan      { return types.PlanFree }
func (s *stubMarket) BreakerState() circuit.State { return circuit.StateClosed }

func newTestServer(t *testing.T) (*Server, *stubLedger, *stubFloor) {
	t.Helper()
	ledgerStub := &stubLedger{
		accounts: map[string]types.AccountSnapshot{
			"warren": {
				Name:        "warren",
				DisplayName: "Warren",
				Balance:     decimal.NewFromInt(10000),
				Holdings:    map[string]int64{"AAPL": 10},
				Mode:        types.ModeTrading,
				Active:      true,
			},
		},
		txns: map[string][]types.Transaction{
			"warren": {{Account: "warren", Symbol: "AAPL", Side: types.SideBuy, Quantity: 10}},
		},
		history: map[string][]gormstore.SnapshotPoint{
			"warren": {{At: time.Now().Add(-time.Hour), Value: 10100, Balance: 8100}, {At: time.Now(), Value: 10250, Balance: 8100}},
		},
	}
	floorStub := &stubFloor{status: floor.StatusStopped}
	marketStub := &stubMarket{
		status: types.MarketOpen,
		quotes: map[string]types.PriceQuote{"AAPL": {Symbol: "AAPL", Price: 190.5, Tier: types.TierEndOfDay}},
	}
	srv, err := NewServer(Config{
		Addr:   ":0",
		Ledger: ledgerStub,
		Runs:   &stubRuns{runs: []types.RunRecord{{Account: "warren", Outcome: types.OutcomeCompleted}}},
		Floor:  floorStub,
		Market: marketStub,
	})
	require.NoError(t, err)
	return srv, ledgerStub, floorStub
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListTraders(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/api/traders", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Traders []map[string]any `json:"traders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Traders, 1)
	assert.Equal(t, "warren", resp.Traders[0]["name"])
	assert.Contains(t, resp.Traders[0], "total_value")
}

func TestGetTraderNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/api/traders/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestTransactions(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/api/traders/warren/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AAPL")
}

func TestRuns(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/api/traders/warren/runs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "completed")
}

func TestSetActive(t *testing.T) {
	srv, ledgerStub, _ := newTestServer(t)

	w := doRequest(srv, http.MethodPost, "/api/traders/warren/active", `{"active": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ledgerStub.active["warren"])

	w = doRequest(srv, http.MethodPost, "/api/traders/warren/active", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReset(t *testing.T) {
	srv, ledgerStub, _ := newTestServer(t)
	w := doRequest(srv, http.MethodPost, "/api/traders/warren/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"warren"}, ledgerStub.resets)
}

func TestFloorLifecycle(t *testing.T) {
	srv, _, floorStub := newTestServer(t)

	w := doRequest(srv, http.MethodPost, "/api/floor/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, floorStub.started)
	assert.Contains(t, w.Body.String(), "running")

	w = doRequest(srv, http.MethodGet, "/api/floor/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "running")

	w = doRequest(srv, http.MethodPost, "/api/floor/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, floorStub.stopped)
	assert.Contains(t, w.Body.String(), "stopped")
}

func TestMarketStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/api/market/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "open")
	assert.Contains(t, w.Body.String(), "free")
}

func TestMarketPrice(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/market/price/aapl", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "190.5")

	w = doRequest(srv, http.MethodGet, "/api/market/price/ZZZZ", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPortfolioChart(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/charts/portfolio", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Warren")
}

func TestRequestsThatMutateRequireKnownAccount(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doRequest(srv, http.MethodPost, "/api/traders/ghost/active", `{"active": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(srv, http.MethodPost, "/api/traders/ghost/reset", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
