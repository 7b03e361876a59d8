package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tradefloor/internal/analysis/indicator"
	"tradefloor/internal/logger"
	"tradefloor/internal/trace"
	"tradefloor/internal/types"
)

// researchContext gathers the briefing handed to the model before its first
// turn: market state, marks for current holdings, indicator readouts, and the
// account's persisted memory. Every lookup here is read-only and best effort;
// a missing feed degrades the briefing instead of failing the run.
func (r *Runner) researchContext(ctx context.Context, acct types.AccountSnapshot, run *trace.Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Market status: %s\n", r.market.Status())

	symbols := make([]string, 0, len(acct.Holdings))
	for symbol := range acct.Holdings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	if len(symbols) > 0 {
		quotes, err := r.market.LastKnown(ctx, symbols)
		if err != nil {
			logger.Warnf("agent: %s last-known quotes: %v", acct.Name, err)
		} else {
			b.WriteString("Last known prices for current holdings:\n")
			for _, symbol := range symbols {
				if quote, ok := quotes[symbol]; ok {
					fmt.Fprintf(&b, "  %s: $%.2f (%s, as of %s)\n", symbol, quote.Price, quote.Tier, quote.AsOf)
				}
			}
		}
		for _, symbol := range symbols {
			report, err := r.market.IndicatorReport(ctx, symbol)
			if err != nil {
				logger.Debugf("agent: %s indicators for %s: %v", acct.Name, symbol, err)
				continue
			}
			lines := indicatorLines(report.Values)
			if len(lines) == 0 {
				continue
			}
			fmt.Fprintf(&b, "Indicators for %s (%d bars):\n", symbol, report.Count)
			for _, line := range lines {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}

	result := r.tools.InvokeReadOnly(ctx, "memory_read", acct.Name, map[string]any{})
	run.Tool(ctx, types.StateResearch, "memory_read", "{}", marshalResult(result), resultErr(result))
	if result.OK {
		if note := memoryNote(result.Data); note != "" {
			fmt.Fprintf(&b, "Your notes from previous sessions:\n%s\n", note)
		}
	}

	return b.String()
}

func indicatorLines(values map[string]indicator.Value) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		v := values[name]
		line := fmt.Sprintf("%s: %.2f", name, v.Latest)
		if v.State != "" {
			line += " (" + v.State + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

// memoryNote pulls the note text out of a memory_read {key, value, found}
// payload.
func memoryNote(data any) string {
	payload, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	if found, _ := payload["found"].(bool); !found {
		return ""
	}
	value, _ := payload["value"].(string)
	return value
}
