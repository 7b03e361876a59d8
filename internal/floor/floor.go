package floor

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tradefloor/internal/logger"
	"tradefloor/internal/scheduler"
	"tradefloor/internal/types"
)

// Status is the floor's lifecycle state as the dashboard sees it.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusDraining Status = "draining"
)

// AccountSource lists the accounts eligible for a cycle.
type AccountSource interface {
	ListAccounts(ctx context.Context) ([]types.AccountSnapshot, error)
}

// AgentRunner executes one full run for one account.
type AgentRunner interface {
	Run(ctx context.Context, account string) (types.RunRecord, error)
}

// MarketGate answers whether the market is open right now.
type MarketGate interface {
	Status() types.MarketStatus
}

// CycleReport summarizes one fan-out over the roster.
type CycleReport struct {
	StartedAt time.Time                   `json:"started_at"`
	EndedAt   time.Time                   `json:"ended_at"`
	Skipped   bool                        `json:"skipped"`
	Reason    string                      `json:"reason,omitempty"`
	Results   map[string]types.RunOutcome `json:"results,omitempty"`
	Errors    map[string]string           `json:"errors,omitempty"`
}

// Launched is how many accounts the cycle actually ran.
func (r CycleReport) Launched() int { return len(r.Results) }

// Failures counts runs that did not complete cleanly.
func (r CycleReport) Failures() int {
	n := 0
	for _, outcome := range r.Results {
		if outcome != types.OutcomeCompleted {
			n++
		}
	}
	return n
}

type Params struct {
	Accounts AccountSource
	Runner   AgentRunner
	Market   MarketGate

	Interval       time.Duration
	RunTimeout     time.Duration
	LaunchGap      time.Duration
	RunWhenClosed  bool
	RunImmediately bool
}

// Floor owns the cadence loop: every interval it fans the active roster out
// into isolated agent runs. One account's failure or timeout never touches
// another's run.
type Floor struct {
	accounts AccountSource
	runner   AgentRunner
	market   MarketGate

	interval       time.Duration
	runTimeout     time.Duration
	launchGap      time.Duration
	runWhenClosed  bool
	runImmediately bool

	mu        sync.Mutex
	status    Status
	cancel    context.CancelFunc
	done      chan struct{}
	lastCycle *CycleReport

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration)
}

func New(p Params) *Floor {
	if p.Interval <= 0 {
		p.Interval = time.Hour
	}
	if p.RunTimeout <= 0 {
		p.RunTimeout = 10 * time.Minute
	}
	return &Floor{
		accounts:       p.Accounts,
		runner:         p.Runner,
		market:         p.Market,
		interval:       p.Interval,
		runTimeout:     p.RunTimeout,
		launchGap:      p.LaunchGap,
		runWhenClosed:  p.RunWhenClosed,
		runImmediately: p.RunImmediately,
		status:         StatusStopped,
		nowFn:          time.Now,
		sleepFn:        sleepCtx,
	}
}

// Start launches the cadence loop in the background. Calling Start on a
// running floor is a no-op.
func (f *Floor) Start(ctx context.Context) {
	f.mu.Lock()
	if f.status != StatusStopped {
		f.mu.Unlock()
		logger.Debugf("floor: start ignored, status=%s", f.status)
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	f.status = StatusRunning
	f.cancel = cancel
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	go func() {
		defer close(done)
		sched := scheduler.NewIntervalScheduler(loopCtx, f.interval)
		sched.RunImmediately = f.runImmediately
		sched.Start(func() {
			report := f.RunCycle(loopCtx)
			if report.Skipped {
				logger.Infof("floor: cycle skipped: %s", report.Reason)
				return
			}
			logger.Infof("floor: cycle done, %d runs, %d failures, took %s",
				report.Launched(), report.Failures(), report.EndedAt.Sub(report.StartedAt).Round(time.Second))
		})
		f.mu.Lock()
		f.status = StatusStopped
		f.cancel = nil
		f.mu.Unlock()
	}()
}

// Stop cancels the cadence loop and waits for any in-flight cycle to drain.
// Stopping a stopped floor is a no-op.
func (f *Floor) Stop() {
	f.mu.Lock()
	if f.status != StatusRunning {
		f.mu.Unlock()
		return
	}
	f.status = StatusDraining
	cancel := f.cancel
	done := f.done
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (f *Floor) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// LastCycle returns the most recent cycle report, nil before the first cycle.
func (f *Floor) LastCycle() *CycleReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastCycle == nil {
		return nil
	}
	report := *f.lastCycle
	return &report
}

// RunCycle fans one cycle out over the active roster and blocks until every
// launched run has finished or timed out. Each account gets its own timeout
// context; the group carries no shared cancellation so one failed run cannot
// cancel its peers.
func (f *Floor) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{
		StartedAt: f.nowFn(),
		Results:   make(map[string]types.RunOutcome),
		Errors:    make(map[string]string),
	}
	finish := func() CycleReport {
		report.EndedAt = f.nowFn()
		f.mu.Lock()
		snapshot := report
		f.lastCycle = &snapshot
		f.mu.Unlock()
		return report
	}

	if !f.runWhenClosed && f.market.Status() != types.MarketOpen {
		report.Skipped = true
		report.Reason = "market closed"
		return finish()
	}

	accounts, err := f.accounts.ListAccounts(ctx)
	if err != nil {
		report.Skipped = true
		report.Reason = "list accounts: " + err.Error()
		return finish()
	}
	active := make([]types.AccountSnapshot, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Active {
			active = append(active, acct)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	if len(active) == 0 {
		report.Skipped = true
		report.Reason = "no active accounts"
		return finish()
	}

	var mu sync.Mutex
	var g errgroup.Group
	for i, acct := range active {
		if i > 0 && f.launchGap > 0 {
			f.sleepFn(ctx, f.launchGap)
		}
		if ctx.Err() != nil {
			break
		}
		name := acct.Name
		g.Go(func() error {
			runCtx, cancel := context.WithTimeout(ctx, f.runTimeout)
			defer cancel()
			rec, err := f.runner.Run(runCtx, name)
			mu.Lock()
			defer mu.Unlock()
			report.Results[name] = rec.Outcome
			if err != nil {
				report.Errors[name] = err.Error()
				logger.Warnf("floor: run for %s failed: %v", name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return finish()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
