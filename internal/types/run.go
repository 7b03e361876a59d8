package types

import "time"

type RunState string

const (
	StateSetup    RunState = "setup"
	StateResearch RunState = "research"
	StateDecide   RunState = "decide"
	StateExecute  RunState = "execute"
	StateNotify   RunState = "notify"
	StatePersist  RunState = "persist"
	StateDone     RunState = "done"
	StateFailed   RunState = "failed"
)

type RunOutcome string

const (
	OutcomeCompleted      RunOutcome = "completed"
	OutcomePartialFailure RunOutcome = "partial_failure"
	OutcomeFailed         RunOutcome = "failed"
)

// RunEvent is one traced step inside a run: a state transition or a tool
// call with its arguments and result. Diagnostic only, never consulted for
// ledger correctness.
type RunEvent struct {
	Seq       int       `json:"seq"`
	State     RunState  `json:"state"`
	Tool      string    `json:"tool,omitempty"`
	Args      string    `json:"args,omitempty"`
	Result    string    `json:"result,omitempty"`
	ErrKind   string    `json:"err_kind,omitempty"`
	ErrDetail string    `json:"err_detail,omitempty"`
	At        time.Time `json:"at"`
}

// RunRecord is the sealed trace of one agent run.
type RunRecord struct {
	RunID     string     `json:"run_id"`
	Account   string     `json:"account"`
	Mode      Mode       `json:"mode"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
	Outcome   RunOutcome `json:"outcome"`
	Summary   string     `json:"summary,omitempty"`
	Events    []RunEvent `json:"events"`
}
