package floor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradefloor/internal/types"
)

type fakeAccounts struct {
	accounts []types.AccountSnapshot
	err      error
}

func (f *fakeAccounts) ListAccounts(ctx context.Context) ([]types.AccountSnapshot, error) {
	return f.accounts, f.err
}

type fakeGate struct{ status types.MarketStatus }

func (f fakeGate) Status() types.MarketStatus { return f.status }

// scriptedRunner resolves each account's run from a script. A "hang" entry
// blocks until the run context expires, standing in for a stuck model call.
type scriptedRunner struct {
	mu     sync.Mutex
	script map[string]string // account -> completed | partial | fail | hang
	ran    []string
}

func (r *scriptedRunner) Run(ctx context.Context, account string) (types.RunRecord, error) {
	r.mu.Lock()
	r.ran = append(r.ran, account)
	behavior := r.script[account]
	r.mu.Unlock()

	switch behavior {
	case "hang":
		<-ctx.Done()
		err := types.FaultFrom(ctx.Err())
		return types.RunRecord{Account: account, Outcome: types.OutcomeFailed}, err
	case "fail":
		return types.RunRecord{Account: account, Outcome: types.OutcomeFailed},
			types.Faultf(types.FaultInternal, "scripted failure")
	case "partial":
		return types.RunRecord{Account: account, Outcome: types.OutcomePartialFailure}, nil
	default:
		return types.RunRecord{Account: account, Outcome: types.OutcomeCompleted}, nil
	}
}

func roster(names ...string) []types.AccountSnapshot {
	out := make([]types.AccountSnapshot, 0, len(names))
	for _, name := range names {
		out = append(out, types.AccountSnapshot{Name: name, Active: true})
	}
	return out
}

func newTestFloor(accounts []types.AccountSnapshot, runner AgentRunner, gate MarketGate) *Floor {
	f := New(Params{
		Accounts:   &fakeAccounts{accounts: accounts},
		Runner:     runner,
		Market:     gate,
		Interval:   time.Hour,
		RunTimeout: 100 * time.Millisecond,
	})
	f.sleepFn = func(ctx context.Context, d time.Duration) {}
	return f
}

func TestRunCycleFansOutAllActiveAccounts(t *testing.T) {
	runner := &scriptedRunner{script: map[string]string{}}
	accounts := append(roster("warren", "cathie", "ray"),
		types.AccountSnapshot{Name: "george", Active: false})
	f := newTestFloor(accounts, runner, fakeGate{status: types.MarketOpen})

	report := f.RunCycle(context.Background())

	assert.False(t, report.Skipped)
	assert.Equal(t, 3, report.Launched())
	assert.Zero(t, report.Failures())
	assert.NotContains(t, report.Results, "george")
	assert.Equal(t, types.OutcomeCompleted, report.Results["warren"])
}

func TestRunCycleSkipsWhenMarketClosed(t *testing.T) {
	runner := &scriptedRunner{script: map[string]string{}}
	f := newTestFloor(roster("warren"), runner, fakeGate{status: types.MarketClosed})

	report := f.RunCycle(context.Background())

	assert.True(t, report.Skipped)
	assert.Equal(t, "market closed", report.Reason)
	assert.Empty(t, runner.ran)
}

func TestRunCycleRunsWhenClosedIfConfigured(t *testing.T) {
	runner := &scriptedRunner{script: map[string]string{}}
	f := newTestFloor(roster("warren"), runner, fakeGate{status: types.MarketClosed})
	f.runWhenClosed = true

	report := f.RunCycle(context.Background())

	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Launched())
}

func TestRunCycleHungRunDoesNotBlockPeers(t *testing.T) {
	runner := &scriptedRunner{script: map[string]string{"cathie": "hang"}}
	f := newTestFloor(roster("warren", "cathie", "ray"), runner, fakeGate{status: types.MarketOpen})

	start := time.Now()
	report := f.RunCycle(context.Background())
	elapsed := time.Since(start)

	// The hung run burns its own timeout; the others still complete.
	assert.Equal(t, types.OutcomeCompleted, report.Results["warren"])
	assert.Equal(t, types.OutcomeCompleted, report.Results["ray"])
	assert.Equal(t, types.OutcomeFailed, report.Results["cathie"])
	assert.Contains(t, report.Errors["cathie"], "timeout")
	assert.Equal(t, 1, report.Failures())
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRunCycleOneFailureDoesNotCancelPeers(t *testing.T) {
	runner := &scriptedRunner{script: map[string]string{"warren": "fail", "cathie": "partial"}}
	f := newTestFloor(roster("warren", "cathie", "ray"), runner, fakeGate{status: types.MarketOpen})

	report := f.RunCycle(context.Background())

	assert.Equal(t, 3, report.Launched())
	assert.Equal(t, types.OutcomeFailed, report.Results["warren"])
	assert.Equal(t, types.OutcomePartialFailure, report.Results["cathie"])
	assert.Equal(t, types.OutcomeCompleted, report.Results["ray"])
	assert.Equal(t, 2, report.Failures())
	assert.Contains(t, report.Errors["warren"], "scripted failure")
}

func TestRunCycleNoActiveAccounts(t *testing.T) {
	runner := &scriptedRunner{script: map[string]string{}}
	f := newTestFloor([]types.AccountSnapshot{{Name: "warren", Active: false}}, runner, fakeGate{status: types.MarketOpen})

	report := f.RunCycle(context.Background())

	assert.True(t, report.Skipped)
	assert.Equal(t, "no active accounts", report.Reason)
}

func TestLastCycleIsRecorded(t *testing.T) {
	runner := &scriptedRunner{script: map[string]string{}}
	f := newTestFloor(roster("warren"), runner, fakeGate{status: types.MarketOpen})

	require.Nil(t, f.LastCycle())
	f.RunCycle(context.Background())

	last := f.LastCycle()
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Launched())
}

func TestStartStopLifecycle(t *testing.T) {
	runner := &scriptedRunner{script: map[string]string{}}
	f := newTestFloor(roster("warren"), runner, fakeGate{status: types.MarketOpen})

	assert.Equal(t, StatusStopped, f.Status())

	f.Start(context.Background())
	require.Eventually(t, func() bool { return f.Status() == StatusRunning }, time.Second, 10*time.Millisecond)

	// Starting again is a no-op while running.
	f.Start(context.Background())
	assert.Equal(t, StatusRunning, f.Status())

	f.Stop()
	assert.Equal(t, StatusStopped, f.Status())

	// Stopping again is a no-op while stopped.
	f.Stop()
	assert.Equal(t, StatusStopped, f.Status())
}

func TestStartRunImmediatelyRunsFirstCycle(t *testing.T) {
	runner := &scriptedRunner{script: map[string]string{}}
	f := newTestFloor(roster("warren"), runner, fakeGate{status: types.MarketOpen})
	f.runImmediately = true

	f.Start(context.Background())
	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.ran) > 0
	}, time.Second, 10*time.Millisecond)
	f.Stop()
}
