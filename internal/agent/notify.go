package agent

import (
	"context"
	"fmt"
	"strings"

	"tradefloor/internal/decision"
	"tradefloor/internal/trace"
	"tradefloor/internal/types"
)

// notify pushes a short digest of the run through the push_notification
// capability. Failures are traced and swallowed; a dead push gateway must
// never take the run down with it.
func (r *Runner) notify(ctx context.Context, acct types.AccountSnapshot, outcome decision.Outcome, executed []types.Transaction, run *trace.Run) {
	display := acct.DisplayName
	if display == "" {
		display = acct.Name
	}

	var lines []string
	for _, txn := range executed {
		verb := "bought"
		if txn.Side == types.SideSell {
			verb = "sold"
		}
		lines = append(lines, fmt.Sprintf("%s %s %d shares of %s for $%s",
			display, verb, txn.Quantity, txn.Symbol, txn.Total.StringFixed(2)))
	}
	if len(lines) == 0 {
		if outcome.Summary == "" {
			return
		}
		lines = append(lines, fmt.Sprintf("%s: %s", display, outcome.Summary))
	}

	args := map[string]any{"message": strings.Join(lines, "\n")}
	result := r.tools.Invoke(ctx, "push_notification", acct.Name, args)
	run.Tool(ctx, types.StateNotify, "push_notification", marshalArgs(args), marshalResult(result), resultErr(result))
}
