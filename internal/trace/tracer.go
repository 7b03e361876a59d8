package trace

import (
	"context"
	"sync"
	"time"

	"tradefloor/internal/logger"
	"tradefloor/internal/pkg/text"
	"tradefloor/internal/types"

	"github.com/google/uuid"
)

// Field cap keeps a single verbose tool result from bloating the trace file.
const maxFieldLen = 4000

// Sink is where sealed trace data ends up. Satisfied by *runlog.Store.
type Sink interface {
	BeginRun(ctx context.Context, rec types.RunRecord) error
	AppendEvent(ctx context.Context, runID string, ev types.RunEvent) error
	SealRun(ctx context.Context, runID string, outcome types.RunOutcome, summary string, endedAt time.Time) error
}

// Tracer creates per-run trace handles. Persistence is best-effort: a sink
// failure is logged and the run carries on, because the trace is diagnostic
// and never authoritative.
type Tracer struct {
	sink  Sink
	nowFn func() time.Time
}

func New(sink Sink) *Tracer {
	return &Tracer{sink: sink, nowFn: time.Now}
}

func (t *Tracer) now() time.Time {
	if t == nil || t.nowFn == nil {
		return time.Now()
	}
	return t.nowFn()
}

// Begin opens a run trace. The returned handle always works in memory even
// when the sink is down.
func (t *Tracer) Begin(ctx context.Context, account string, mode types.Mode) *Run {
	now := t.now()
	r := &Run{
		tracer:    t,
		id:        uuid.NewString(),
		account:   account,
		mode:      mode,
		startedAt: now,
	}
	if t != nil && t.sink != nil {
		rec := types.RunRecord{RunID: r.id, Account: account, Mode: mode, StartedAt: now}
		if err := t.sink.BeginRun(ctx, rec); err != nil {
			logger.Warnf("trace: begin run for %s: %v", account, err)
		}
	}
	return r
}

// Run accumulates the ordered events of one agent run and seals them with a
// final outcome.
type Run struct {
	tracer    *Tracer
	id        string
	account   string
	mode      types.Mode
	startedAt time.Time

	mu     sync.Mutex
	seq    int
	events []types.RunEvent
	sealed bool
	record types.RunRecord
}

func (r *Run) ID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// Step records a state transition.
func (r *Run) Step(ctx context.Context, state types.RunState) {
	r.append(ctx, types.RunEvent{State: state})
}

// Tool records one capability invocation with its outcome.
func (r *Run) Tool(ctx context.Context, state types.RunState, tool, args, result string, err error) {
	ev := types.RunEvent{
		State:  state,
		Tool:   tool,
		Args:   text.Truncate(args, maxFieldLen),
		Result: text.Truncate(result, maxFieldLen),
	}
	if f := types.FaultFrom(err); f != nil {
		ev.ErrKind = string(f.Kind)
		ev.ErrDetail = text.Truncate(f.Message, maxFieldLen)
	}
	r.append(ctx, ev)
}

func (r *Run) append(ctx context.Context, ev types.RunEvent) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return
	}
	r.seq++
	ev.Seq = r.seq
	ev.At = r.tracer.now()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.tracer != nil && r.tracer.sink != nil {
		if err := r.tracer.sink.AppendEvent(ctx, r.id, ev); err != nil {
			logger.Warnf("trace: append event for run %s: %v", r.id, err)
		}
	}
}

// Seal closes the run with its final outcome. Idempotent: the first call
// wins, later calls return the already-sealed record.
func (r *Run) Seal(ctx context.Context, outcome types.RunOutcome, summary string) types.RunRecord {
	if r == nil {
		return types.RunRecord{}
	}
	r.mu.Lock()
	if r.sealed {
		rec := r.record
		r.mu.Unlock()
		return rec
	}
	r.sealed = true
	ended := r.tracer.now()
	events := make([]types.RunEvent, len(r.events))
	copy(events, r.events)
	r.record = types.RunRecord{
		RunID:     r.id,
		Account:   r.account,
		Mode:      r.mode,
		StartedAt: r.startedAt,
		EndedAt:   ended,
		Outcome:   outcome,
		Summary:   summary,
		Events:    events,
	}
	rec := r.record
	r.mu.Unlock()
	if r.tracer != nil && r.tracer.sink != nil {
		if err := r.tracer.sink.SealRun(ctx, r.id, outcome, summary, ended); err != nil {
			logger.Warnf("trace: seal run %s: %v", r.id, err)
		}
	}
	return rec
}

// Record returns a snapshot of what has been traced so far.
func (r *Run) Record() types.RunRecord {
	if r == nil {
		return types.RunRecord{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return r.record
	}
	events := make([]types.RunEvent, len(r.events))
	copy(events, r.events)
	return types.RunRecord{
		RunID:     r.id,
		Account:   r.account,
		Mode:      r.mode,
		StartedAt: r.startedAt,
		Events:    events,
	}
}
