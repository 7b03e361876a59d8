package decision

import (
	"context"
	"fmt"
	"strings"

	"tradefloor/internal/gateway/provider"
	"tradefloor/internal/logger"
	"tradefloor/internal/pkg/text"
	"tradefloor/internal/types"
)

const (
	defaultMaxTurns = 10
	// Keep appended tool observations from flooding the context window.
	maxObservationLen = 6000
)

// Engine drives a chat model through the tool-call protocol: it sends the
// prompt, executes the tool calls the model asks for, feeds back the
// observations and stops at the final decisions object.
type Engine struct {
	providers map[string]provider.ModelProvider
	fallback  provider.ModelProvider
	maxTurns  int
}

func NewEngine(providers map[string]provider.ModelProvider, defaultModel string, maxTurns int) (*Engine, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("decision engine needs at least one provider")
	}
	fallback, ok := providers[strings.TrimSpace(defaultModel)]
	if !ok {
		return nil, fmt.Errorf("default model %q is not among the configured providers", defaultModel)
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Engine{providers: providers, fallback: fallback, maxTurns: maxTurns}, nil
}

func (e *Engine) providerFor(model string) provider.ModelProvider {
	if p, ok := e.providers[strings.TrimSpace(model)]; ok && p.Enabled() {
		return p
	}
	return e.fallback
}

// Reason implements Reasoner. Model errors map to UpstreamUnavailable so the
// runtime fails the run without touching the ledger.
func (e *Engine) Reason(ctx context.Context, input Input, call ToolCaller) (Outcome, error) {
	p := e.providerFor(input.Model)
	system := BuildSystemPrompt(input)
	transcript := BuildUserPrompt(input)

	for turn := 1; turn <= e.maxTurns; turn++ {
		raw, err := p.Call(ctx, system, transcript)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return Outcome{}, types.Faultf(types.FaultUpstreamUnavailable,
				"model %s: %v", p.ID(), err)
		}

		parsed, perr := ParseTurn(raw)
		if perr != nil {
			logger.Warnf("decision: %s turn %d unparseable: %v", input.Account.Name, turn, perr)
			transcript = appendTurn(transcript, raw,
				fmt.Sprintf("Your reply could not be parsed (%v). Reply with one valid JSON object.", perr))
			continue
		}
		if parsed.Outcome != nil {
			return *parsed.Outcome, nil
		}

		if call == nil {
			transcript = appendTurn(transcript, raw,
				"Tools are not available in this phase. Return your decisions object.")
			continue
		}
		observation := call(ctx, *parsed.Tool)
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		transcript = appendTurn(transcript, raw,
			fmt.Sprintf("Result of %s:\n%s", parsed.Tool.Name, text.Truncate(observation, maxObservationLen)))
	}
	return Outcome{}, types.Faultf(types.FaultUpstreamUnavailable,
		"model %s gave no final decision within %d turns", p.ID(), e.maxTurns)
}

func appendTurn(transcript, reply, observation string) string {
	var b strings.Builder
	b.WriteString(transcript)
	b.WriteString("\n\n[your previous reply]\n")
	b.WriteString(strings.TrimSpace(reply))
	b.WriteString("\n\n[observation]\n")
	b.WriteString(observation)
	return b.String()
}
