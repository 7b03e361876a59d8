package decision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"tradefloor/internal/types"
)

const tradingInstruction = `You are in TRADING mode. Research the market, look for new
opportunities consistent with your strategy, and decide which positions to
open or add to. You may also trim positions to free up cash.`

const rebalancingInstruction = `You are in REBALANCING mode. Do not hunt for new positions.
Review each holding you already own, check how it has moved, and decide
whether to keep, trim or exit it. Buying is allowed only to rebalance
weightings between existing holdings.`

// InstructionFor returns the mode-specific directive for a run.
func InstructionFor(mode types.Mode) string {
	if mode == types.ModeRebalancing {
		return rebalancingInstruction
	}
	return tradingInstruction
}

// BuildSystemPrompt renders the trader persona, the wire protocol and the
// capability catalog into one system message.
func BuildSystemPrompt(input Input) string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(input.Account.DisplayName)
	b.WriteString(", an autonomous trader managing a simulated brokerage account named \"")
	b.WriteString(input.Account.Name)
	b.WriteString("\".\n\nYour strategy:\n")
	b.WriteString(strings.TrimSpace(input.Account.Strategy))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(input.Instruction))
	b.WriteString("\n\n")
	b.WriteString(protocolSection)
	b.WriteString("\n\nAvailable tools:\n")
	b.WriteString(renderCatalog(input))
	return b.String()
}

const protocolSection = `Respond with exactly one JSON object per turn, nothing else.

To use a tool:
{"tool": "<tool name>", "args": {<arguments matching the tool schema>}}

To finish, return your decisions:
{"decisions": [{"symbol": "AAPL", "action": "buy", "quantity": 5, "rationale": "..."}],
 "memory": "<optional note to your future self>",
 "strategy": "<optional replacement for your strategy text>",
 "summary": "<one-line summary of what you did and why>"}

Rules: action is "buy", "sell" or "hold"; quantity is a whole number of
shares; an empty decisions array means you are standing pat. Trades execute
at the current market price plus a small spread - you never set the price.`

func renderCatalog(input Input) string {
	var b strings.Builder
	for _, d := range input.Catalog {
		b.WriteString("- ")
		b.WriteString(d.Name)
		if d.Description != "" {
			b.WriteString(": ")
			b.WriteString(d.Description)
		}
		if len(d.Schema) > 0 {
			if raw, err := json.Marshal(d.Schema); err == nil {
				b.WriteString(" args=")
				b.Write(raw)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildUserPrompt renders the account state and research context for the
// first turn of a run.
func BuildUserPrompt(input Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cash balance: $%s\n", input.Account.Balance.StringFixed(2))
	b.WriteString("Holdings:\n")
	if len(input.Account.Holdings) == 0 {
		b.WriteString("  (none)\n")
	} else {
		symbols := make([]string, 0, len(input.Account.Holdings))
		for sym := range input.Account.Holdings {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			fmt.Fprintf(&b, "  %s: %d shares\n", sym, input.Account.Holdings[sym])
		}
	}
	if ctx := strings.TrimSpace(input.Context); ctx != "" {
		b.WriteString("\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	b.WriteString("\nMake your decisions now. Use tools first if you need current data.")
	return b.String()
}
