package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradefloor/internal/analysis/indicator"
	"tradefloor/internal/decision"
	"tradefloor/internal/tools"
	"tradefloor/internal/trace"
	"tradefloor/internal/types"
)

type fakeLedger struct {
	mu        sync.Mutex
	account   types.AccountSnapshot
	getErr    error
	lockErr   error
	locked    bool
	released  bool
	flipped   int
	snapshots int
}

func (f *fakeLedger) GetAccount(ctx context.Context, name string) (types.AccountSnapshot, error) {
	if f.getErr != nil {
		return types.AccountSnapshot{}, f.getErr
	}
	return f.account, nil
}

func (f *fakeLedger) AcquireRunLock(ctx context.Context, name string) (func(), error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	f.mu.Lock()
	f.locked = true
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.released = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeLedger) FlipMode(ctx context.Context, name string) (types.Mode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flipped++
	f.account.Mode = f.account.Mode.Flip()
	return f.account.Mode, nil
}

func (f *fakeLedger) RecordSnapshot(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return nil
}

type fakeMarket struct {
	quotes map[string]types.PriceQuote
}

func (f *fakeMarket) Status() types.MarketStatus { return types.MarketOpen }

func (f *fakeMarket) LastKnown(ctx context.Context, symbols []string) (map[string]types.PriceQuote, error) {
	out := make(map[string]types.PriceQuote)
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func (f *fakeMarket) IndicatorReport(ctx context.Context, symbol string) (indicator.Report, error) {
	return indicator.Report{}, errors.New("no history")
}

type fakeReasoner struct {
	outcome decision.Outcome
	err     error
	// callTool, when set, is invoked through the caller before returning so
	// tests can exercise the research loop.
	callTool *decision.ToolCall
	lastCall string
}

func (f *fakeReasoner) Reason(ctx context.Context, input decision.Input, call decision.ToolCaller) (decision.Outcome, error) {
	if f.callTool != nil && call != nil {
		f.lastCall = call(ctx, *f.callTool)
	}
	if f.err != nil {
		return decision.Outcome{}, f.err
	}
	return f.outcome, nil
}

// testRegistry wires a minimal toolset backed by scripted handlers.
func testRegistry(t *testing.T, tradeErr map[string]error) (*tools.Registry, *map[string][]string) {
	t.Helper()
	calls := make(map[string][]string)
	r := tools.NewRegistry()
	record := func(name, detail string) {
		calls[name] = append(calls[name], detail)
	}
	tradeSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"symbol":    map[string]any{"type": "string"},
			"quantity":  map[string]any{"type": "integer"},
			"rationale": map[string]any{"type": "string"},
		},
		"required": []any{"symbol", "quantity"},
	}
	tradeHandler := func(side types.Side) tools.Handler {
		return func(ctx context.Context, account string, args map[string]any) (any, error) {
			symbol, _ := args["symbol"].(string)
			record(string(side)+"_shares", symbol)
			if err, ok := tradeErr[symbol]; ok {
				return nil, err
			}
			return map[string]any{"transaction": types.Transaction{
				Account:  account,
				Symbol:   symbol,
				Side:     side,
				Quantity: 5,
				Total:    decimal.NewFromInt(500),
			}}, nil
		}
	}
	toolset := []tools.Tool{
		{Name: "buy_shares", Schema: tradeSchema, Handler: tradeHandler(types.SideBuy)},
		{Name: "sell_shares", Schema: tradeSchema, Handler: tradeHandler(types.SideSell)},
		{Name: "memory_read", ReadOnly: true, Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
			record("memory_read", account)
			return map[string]any{"key": "notes", "value": "stay patient", "found": true}, nil
		}},
		{Name: "memory_write", Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
			value, _ := args["value"].(string)
			record("memory_write", value)
			return map[string]any{"saved": true}, nil
		}},
		{Name: "change_strategy", Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
			strategy, _ := args["strategy"].(string)
			record("change_strategy", strategy)
			return map[string]any{"changed": true}, nil
		}},
		{Name: "push_notification", Handler: func(ctx context.Context, account string, args map[string]any) (any, error) {
			msg, _ := args["message"].(string)
			record("push_notification", msg)
			return map[string]any{"sent": true}, nil
		}},
	}
	for _, tool := range toolset {
		require.NoError(t, r.Register(tool))
	}
	return r, &calls
}

func testAccount() types.AccountSnapshot {
	return types.AccountSnapshot{
		Name:        "warren",
		DisplayName: "Warren",
		Strategy:    "value investing",
		Balance:     decimal.NewFromInt(10000),
		Holdings:    map[string]int64{"AAPL": 10},
		Mode:        types.ModeTrading,
		Active:      true,
	}
}

func newTestRunner(ledger *fakeLedger, reg *tools.Registry, reasoner decision.Reasoner) *Runner {
	return NewRunner(Params{
		Ledger:   ledger,
		Market:   &fakeMarket{quotes: map[string]types.PriceQuote{"AAPL": {Symbol: "AAPL", Price: 190.5, Tier: types.TierEndOfDay, AsOf: "2026-08-25"}}},
		Tools:    reg,
		Reasoner: reasoner,
		Tracer:   trace.New(nil),
	})
}

func TestRunExecutesIntentsAndCompletes(t *testing.T) {
	ledger := &fakeLedger{account: testAccount()}
	reg, calls := testRegistry(t, nil)
	reasoner := &fakeReasoner{outcome: decision.Outcome{
		Intents: []types.Intent{
			{Symbol: "AAPL", Side: types.SideBuy, Quantity: 5, Rationale: "undervalued"},
			{Symbol: "MSFT", Side: types.SideSell, Quantity: 2, Rationale: "trim"},
		},
		MemoryNote: "watch earnings",
		Strategy:   "value with momentum tilt",
		Summary:    "rotated into AAPL",
	}}

	rec, err := newTestRunner(ledger, reg, reasoner).Run(context.Background(), "warren")
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeCompleted, rec.Outcome)
	assert.Equal(t, "rotated into AAPL", rec.Summary)
	assert.Equal(t, []string{"AAPL"}, (*calls)["buy_shares"])
	assert.Equal(t, []string{"MSFT"}, (*calls)["sell_shares"])
	assert.Equal(t, []string{"watch earnings"}, (*calls)["memory_write"])
	assert.Equal(t, []string{"value with momentum tilt"}, (*calls)["change_strategy"])
	require.Len(t, (*calls)["push_notification"], 1)
	assert.Contains(t, (*calls)["push_notification"][0], "Warren bought 5 shares of AAPL")
	assert.Equal(t, 1, ledger.flipped)
	assert.Equal(t, 1, ledger.snapshots)
	assert.True(t, ledger.released)
}

func TestRunTracesAllStates(t *testing.T) {
	ledger := &fakeLedger{account: testAccount()}
	reg, _ := testRegistry(t, nil)
	reasoner := &fakeReasoner{outcome: decision.Outcome{Summary: "no trades today"}}

	rec, err := newTestRunner(ledger, reg, reasoner).Run(context.Background(), "warren")
	require.NoError(t, err)

	var states []types.RunState
	for _, ev := range rec.Events {
		if ev.Tool == "" {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []types.RunState{
		types.StateSetup,
		types.StateResearch,
		types.StateDecide,
		types.StateExecute,
		types.StateNotify,
		types.StatePersist,
	}, states)
	for i, ev := range rec.Events {
		assert.Equal(t, i+1, ev.Seq)
	}
}

func TestRunRejectedIntentIsPartialFailure(t *testing.T) {
	ledger := &fakeLedger{account: testAccount()}
	reg, calls := testRegistry(t, map[string]error{
		"TSLA": types.Faultf(types.FaultInsufficientFunds, "balance too low"),
	})
	reasoner := &fakeReasoner{outcome: decision.Outcome{Intents: []types.Intent{
		{Symbol: "TSLA", Side: types.SideBuy, Quantity: 50},
		{Symbol: "AAPL", Side: types.SideBuy, Quantity: 5},
	}}}

	rec, err := newTestRunner(ledger, reg, reasoner).Run(context.Background(), "warren")
	require.NoError(t, err)

	assert.Equal(t, types.OutcomePartialFailure, rec.Outcome)
	// The rejection skipped TSLA only; AAPL still executed.
	assert.Equal(t, []string{"TSLA", "AAPL"}, (*calls)["buy_shares"])
	assert.Equal(t, 1, ledger.flipped, "partial failure still advances the mode")
}

func TestRunInternalFaultFailsRun(t *testing.T) {
	ledger := &fakeLedger{account: testAccount()}
	reg, calls := testRegistry(t, map[string]error{
		"AAPL": types.Faultf(types.FaultInternal, "ledger corrupted"),
	})
	reasoner := &fakeReasoner{outcome: decision.Outcome{Intents: []types.Intent{
		{Symbol: "AAPL", Side: types.SideBuy, Quantity: 5},
		{Symbol: "MSFT", Side: types.SideBuy, Quantity: 5},
	}}}

	rec, err := newTestRunner(ledger, reg, reasoner).Run(context.Background(), "warren")
	require.Error(t, err)
	assert.True(t, types.IsFault(err, types.FaultInternal))

	assert.Equal(t, types.OutcomeFailed, rec.Outcome)
	// Execution halted at the internal fault; the second intent never ran.
	assert.Equal(t, []string{"AAPL"}, (*calls)["buy_shares"])
	assert.Zero(t, ledger.flipped, "failed runs keep their mode")
	assert.Zero(t, ledger.snapshots)
	assert.True(t, ledger.released)
}

func TestRunReasonerErrorFailsRun(t *testing.T) {
	ledger := &fakeLedger{account: testAccount()}
	reg, _ := testRegistry(t, nil)
	reasoner := &fakeReasoner{err: types.Faultf(types.FaultUpstreamUnavailable, "model offline")}

	rec, err := newTestRunner(ledger, reg, reasoner).Run(context.Background(), "warren")
	require.Error(t, err)
	assert.True(t, types.IsFault(err, types.FaultUpstreamUnavailable))
	assert.Equal(t, types.OutcomeFailed, rec.Outcome)
	assert.Zero(t, ledger.flipped)
	assert.True(t, ledger.released)
}

func TestRunCancelledContextFailsWithTimeout(t *testing.T) {
	ledger := &fakeLedger{account: testAccount()}
	reg, calls := testRegistry(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	reasoner := &fakeReasoner{outcome: decision.Outcome{Intents: []types.Intent{
		{Symbol: "AAPL", Side: types.SideBuy, Quantity: 5},
	}}}
	cancel()

	rec, err := newTestRunner(ledger, reg, reasoner).Run(ctx, "warren")
	require.Error(t, err)
	assert.True(t, types.IsFault(err, types.FaultTimeout))
	assert.Equal(t, types.OutcomeFailed, rec.Outcome)
	assert.Empty(t, (*calls)["buy_shares"])
	assert.True(t, ledger.released)
}

func TestRunToolCallsDuringResearchAreReadOnly(t *testing.T) {
	ledger := &fakeLedger{account: testAccount()}
	reg, _ := testRegistry(t, nil)
	reasoner := &fakeReasoner{
		outcome:  decision.Outcome{Summary: "done"},
		callTool: &decision.ToolCall{Name: "buy_shares", Args: map[string]any{"symbol": "AAPL", "quantity": 1}},
	}

	_, err := newTestRunner(ledger, reg, reasoner).Run(context.Background(), "warren")
	require.NoError(t, err)
	// A mutating tool requested mid-research comes back as a faulted envelope.
	assert.Contains(t, reasoner.lastCall, "not read-only")
}

func TestRunUnknownAccountFails(t *testing.T) {
	ledger := &fakeLedger{getErr: types.Faultf(types.FaultNotFound, "no such account")}
	reg, _ := testRegistry(t, nil)

	rec, err := newTestRunner(ledger, reg, &fakeReasoner{}).Run(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, types.IsFault(err, types.FaultNotFound))
	assert.Equal(t, types.OutcomeFailed, rec.Outcome)
}

func TestRunPanicIsContainedAndReleasesLock(t *testing.T) {
	ledger := &fakeLedger{account: testAccount()}
	reg, _ := testRegistry(t, nil)
	reasoner := &panickingReasoner{}

	rec, err := newTestRunner(ledger, reg, reasoner).Run(context.Background(), "warren")
	require.Error(t, err)
	assert.True(t, types.IsFault(err, types.FaultInternal))
	assert.Equal(t, types.OutcomeFailed, rec.Outcome)
	assert.True(t, ledger.released)
}

type panickingReasoner struct{}

func (panickingReasoner) Reason(ctx context.Context, input decision.Input, call decision.ToolCaller) (decision.Outcome, error) {
	panic("model client blew up")
}
