package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"tradefloor/internal/analysis/indicator"
	"tradefloor/internal/decision"
	"tradefloor/internal/logger"
	"tradefloor/internal/tools"
	"tradefloor/internal/trace"
	"tradefloor/internal/types"
)

// LedgerAPI is the slice of the ledger the runtime touches directly. All
// trading goes through the tool registry instead.
type LedgerAPI interface {
	GetAccount(ctx context.Context, name string) (types.AccountSnapshot, error)
	AcquireRunLock(ctx context.Context, name string) (func(), error)
	FlipMode(ctx context.Context, name string) (types.Mode, error)
	RecordSnapshot(ctx context.Context, name string) error
}

// MarketAPI supplies the research context.
type MarketAPI interface {
	Status() types.MarketStatus
	LastKnown(ctx context.Context, symbols []string) (map[string]types.PriceQuote, error)
	IndicatorReport(ctx context.Context, symbol string) (indicator.Report, error)
}

type Params struct {
	Ledger   LedgerAPI
	Market   MarketAPI
	Tools    *tools.Registry
	Reasoner decision.Reasoner
	Tracer   *trace.Tracer
	// ModelFor resolves the reasoning model for an account; nil or an empty
	// result leaves the engine's default in charge.
	ModelFor func(account string) string
}

// Runner drives one account through a single
// Setup -> Research -> Decide -> Execute -> Notify -> Persist run.
type Runner struct {
	ledger   LedgerAPI
	market   MarketAPI
	tools    *tools.Registry
	reasoner decision.Reasoner
	tracer   *trace.Tracer
	modelFor func(string) string
}

func NewRunner(p Params) *Runner {
	return &Runner{
		ledger:   p.Ledger,
		market:   p.Market,
		tools:    p.Tools,
		reasoner: p.Reasoner,
		tracer:   p.Tracer,
		modelFor: p.ModelFor,
	}
}

// Run executes one full cycle for account. The returned record is the sealed
// trace; err is non-nil only when the run failed outright. The account's
// execution lock is held from Setup to the end and released on every exit
// path, panics included.
func (r *Runner) Run(ctx context.Context, account string) (types.RunRecord, error) {
	// Setup: consistent starting state, then the exclusive lease.
	acct, err := r.ledger.GetAccount(ctx, account)
	if err != nil {
		run := r.tracer.Begin(ctx, account, "")
		run.Step(ctx, types.StateSetup)
		return sealFailed(ctx, run, err), types.FaultFrom(err)
	}
	run := r.tracer.Begin(ctx, acct.Name, acct.Mode)
	run.Step(ctx, types.StateSetup)

	release, err := r.ledger.AcquireRunLock(ctx, acct.Name)
	if err != nil {
		return sealFailed(ctx, run, err), types.FaultFrom(err)
	}
	defer release()

	var rec types.RunRecord
	var runErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				runErr = types.Faultf(types.FaultInternal, "run panicked: %v", p)
				logger.Errorf("agent: %s run panicked: %v", acct.Name, p)
				rec = sealFailed(ctx, run, runErr)
			}
		}()
		rec, runErr = r.execute(ctx, acct, run)
	}()
	if runErr != nil {
		return rec, types.FaultFrom(runErr)
	}
	return rec, nil
}

func (r *Runner) execute(ctx context.Context, acct types.AccountSnapshot, run *trace.Run) (types.RunRecord, error) {
	// Research: assemble context through read-only capabilities, then hand
	// the model the wheel.
	run.Step(ctx, types.StateResearch)
	input := decision.Input{
		Account:     acct,
		Instruction: decision.InstructionFor(acct.Mode),
		Context:     r.researchContext(ctx, acct, run),
		Catalog:     r.tools.Catalog(),
	}
	if r.modelFor != nil {
		input.Model = r.modelFor(acct.Name)
	}

	caller := func(cctx context.Context, call decision.ToolCall) string {
		result := r.tools.InvokeReadOnly(cctx, call.Name, acct.Name, call.Args)
		run.Tool(cctx, types.StateResearch, call.Name, marshalArgs(call.Args), marshalResult(result), resultErr(result))
		return marshalResult(result)
	}

	outcome, err := r.reasoner.Reason(ctx, input, caller)
	if err != nil {
		return sealFailed(ctx, run, err), err
	}
	run.Step(ctx, types.StateDecide)
	logger.Infof("agent: %s decided on %d intents (%s)", acct.Name, len(outcome.Intents), acct.Mode)

	// Execute: intents in order; a rejection skips that intent only.
	run.Step(ctx, types.StateExecute)
	executed, rejected, execErr := r.applyIntents(ctx, acct.Name, outcome.Intents, run)
	if execErr != nil {
		return sealFailed(ctx, run, execErr), execErr
	}
	if err := ctx.Err(); err != nil {
		return sealFailed(ctx, run, err), err
	}

	// Notify: best effort, never fails the run.
	run.Step(ctx, types.StateNotify)
	r.notify(ctx, acct, outcome, executed, run)

	// Persist: memory, strategy, mode flip, value snapshot.
	run.Step(ctx, types.StatePersist)
	r.persist(ctx, acct.Name, outcome, run)

	finalOutcome := types.OutcomeCompleted
	if rejected > 0 {
		finalOutcome = types.OutcomePartialFailure
	}
	summary := outcome.Summary
	if summary == "" {
		summary = fmt.Sprintf("%d trades executed, %d rejected", len(executed), rejected)
	}
	return run.Seal(ctx, finalOutcome, summary), nil
}

// applyIntents returns a run-fatal error only for Internal faults; rejected
// intents are counted and skipped.
func (r *Runner) applyIntents(ctx context.Context, account string, intents []types.Intent, run *trace.Run) ([]types.Transaction, int, error) {
	var executed []types.Transaction
	rejected := 0
	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			return executed, rejected, err
		}
		toolName := "buy_shares"
		if intent.Side == types.SideSell {
			toolName = "sell_shares"
		}
		args := map[string]any{
			"symbol":    intent.Symbol,
			"quantity":  intent.Quantity,
			"rationale": intent.Rationale,
		}
		result := r.tools.Invoke(ctx, toolName, account, args)
		run.Tool(ctx, types.StateExecute, toolName, marshalArgs(args), marshalResult(result), resultErr(result))
		if result.OK {
			if txn, ok := transactionFrom(result.Data); ok {
				executed = append(executed, txn)
			}
			continue
		}
		switch result.Error.Kind {
		case types.FaultInsufficientFunds, types.FaultInsufficientHoldings:
			logger.Warnf("agent: %s intent %s %d %s rejected: %s",
				account, intent.Side, intent.Quantity, intent.Symbol, result.Error.Message)
			rejected++
		case types.FaultInternal:
			return executed, rejected, result.Error
		default:
			logger.Warnf("agent: %s intent %s %s failed: %s", account, intent.Side, intent.Symbol, result.Error.Message)
			rejected++
		}
	}
	return executed, rejected, nil
}

func (r *Runner) persist(ctx context.Context, account string, outcome decision.Outcome, run *trace.Run) {
	if outcome.MemoryNote != "" {
		args := map[string]any{"value": outcome.MemoryNote}
		result := r.tools.Invoke(ctx, "memory_write", account, args)
		run.Tool(ctx, types.StatePersist, "memory_write", marshalArgs(args), marshalResult(result), resultErr(result))
	}
	if outcome.Strategy != "" {
		args := map[string]any{"strategy": outcome.Strategy}
		result := r.tools.Invoke(ctx, "change_strategy", account, args)
		run.Tool(ctx, types.StatePersist, "change_strategy", marshalArgs(args), marshalResult(result), resultErr(result))
	}
	if next, err := r.ledger.FlipMode(ctx, account); err != nil {
		logger.Warnf("agent: flip mode for %s: %v", account, err)
	} else {
		logger.Debugf("agent: %s next mode is %s", account, next)
	}
	if err := r.ledger.RecordSnapshot(ctx, account); err != nil {
		logger.Warnf("agent: record snapshot for %s: %v", account, err)
	}
}

func sealFailed(ctx context.Context, run *trace.Run, err error) types.RunRecord {
	f := types.FaultFrom(err)
	msg := ""
	if f != nil {
		msg = f.Error()
	}
	return run.Seal(ctx, types.OutcomeFailed, msg)
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(raw)
}

func marshalResult(result tools.Result) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%+v", result)
	}
	return string(raw)
}

func resultErr(result tools.Result) error {
	if result.Error == nil {
		return nil
	}
	return result.Error
}

func transactionFrom(data any) (types.Transaction, bool) {
	payload, ok := data.(map[string]any)
	if !ok {
		return types.Transaction{}, false
	}
	raw, err := json.Marshal(payload["transaction"])
	if err != nil {
		return types.Transaction{}, false
	}
	var txn types.Transaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return types.Transaction{}, false
	}
	return txn, txn.Symbol != ""
}
