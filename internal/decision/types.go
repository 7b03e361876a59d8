package decision

import (
	"context"

	"tradefloor/internal/tools"
	"tradefloor/internal/types"
)

// Input is everything a reasoning component gets to see for one run.
type Input struct {
	Account     types.AccountSnapshot
	Model       string
	Instruction string
	Context     string
	Catalog     []tools.Descriptor
}

// Outcome is what a run of the reasoning component produced. Intents are
// opaque requests; the runtime validates and applies them without
// second-guessing.
type Outcome struct {
	Intents    []types.Intent
	MemoryNote string
	Strategy   string
	Summary    string
	RawOutput  string
}

// ToolCall is one capability invocation the model asked for mid-research.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolCaller executes a read-only capability on behalf of the reasoning
// component and returns the serialized result envelope.
type ToolCaller func(ctx context.Context, call ToolCall) string

// Reasoner turns account state plus a capability list into trade intents.
// Implementations may issue any number of read-only calls through the
// caller before returning.
type Reasoner interface {
	Reason(ctx context.Context, input Input, call ToolCaller) (Outcome, error)
}
