package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"tradefloor/internal/pkg/jsonutil"
	"tradefloor/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// outcomeSchema constrains the model's final turn. Tolerance lives in the
// coercion pass before validation, not in the schema.
const outcomeSchemaJSON = `{
	"type": "object",
	"properties": {
		"decisions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"symbol": {"type": "string", "minLength": 1},
					"action": {"type": "string", "enum": ["buy", "sell", "hold"]},
					"quantity": {"type": "integer", "minimum": 0},
					"rationale": {"type": "string"}
				},
				"required": ["symbol", "action"]
			}
		},
		"memory": {"type": "string"},
		"strategy": {"type": "string"},
		"summary": {"type": "string"}
	},
	"required": ["decisions"]
}`

var outcomeSchema = jsonschema.MustCompileString("outcome.json", outcomeSchemaJSON)

// Turn is one parsed model reply: either a tool call or a final outcome.
type Turn struct {
	Tool    *ToolCall
	Outcome *Outcome
}

// ParseTurn extracts the JSON block from a model reply and classifies it.
// A "tool" key means a capability call; a "decisions" key means the final
// answer. Anything else is an error the engine feeds back to the model.
func ParseTurn(raw string) (Turn, error) {
	block, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return Turn{}, fmt.Errorf("no JSON object found in reply")
	}
	if !gjson.Valid(block) {
		return Turn{}, fmt.Errorf("reply JSON is malformed")
	}
	parsed := gjson.Parse(block)
	if parsed.IsArray() {
		// Bare decision list; the wrapper is restored during coercion.
		outcome, err := parseOutcome(block)
		if err != nil {
			return Turn{}, err
		}
		outcome.RawOutput = raw
		return Turn{Outcome: &outcome}, nil
	}
	if !parsed.IsObject() {
		return Turn{}, fmt.Errorf("reply root must be a JSON object")
	}

	if tool := parsed.Get("tool"); tool.Exists() {
		name := strings.TrimSpace(tool.String())
		if name == "" {
			return Turn{}, fmt.Errorf("tool call without a tool name")
		}
		args := map[string]any{}
		if rawArgs := parsed.Get("args"); rawArgs.Exists() && rawArgs.IsObject() {
			if err := json.Unmarshal([]byte(rawArgs.Raw), &args); err != nil {
				return Turn{}, fmt.Errorf("tool args: %w", err)
			}
		}
		return Turn{Tool: &ToolCall{Name: name, Args: args}}, nil
	}

	if !parsed.Get("decisions").Exists() {
		return Turn{}, fmt.Errorf(`reply must contain either "tool" or "decisions"`)
	}
	outcome, err := parseOutcome(block)
	if err != nil {
		return Turn{}, err
	}
	outcome.RawOutput = raw
	return Turn{Outcome: &outcome}, nil
}

func parseOutcome(block string) (Outcome, error) {
	coerced := coerceOutcomeJSON(block)
	var doc any
	if err := json.Unmarshal([]byte(coerced), &doc); err != nil {
		return Outcome{}, err
	}
	if err := outcomeSchema.Validate(doc); err != nil {
		return Outcome{}, fmt.Errorf("decision payload rejected: %v", err)
	}

	var body struct {
		Decisions []struct {
			Symbol    string `json:"symbol"`
			Action    string `json:"action"`
			Quantity  int64  `json:"quantity"`
			Rationale string `json:"rationale"`
		} `json:"decisions"`
		Memory   string `json:"memory"`
		Strategy string `json:"strategy"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(coerced), &body); err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		MemoryNote: strings.TrimSpace(body.Memory),
		Strategy:   strings.TrimSpace(body.Strategy),
		Summary:    strings.TrimSpace(body.Summary),
	}
	for i, d := range body.Decisions {
		action := strings.ToLower(strings.TrimSpace(d.Action))
		if action == "hold" {
			continue
		}
		if d.Quantity <= 0 {
			return Outcome{}, fmt.Errorf("decision #%d: %s needs a positive quantity", i+1, action)
		}
		side := types.SideBuy
		if action == "sell" {
			side = types.SideSell
		}
		out.Intents = append(out.Intents, types.Intent{
			Symbol:    strings.ToUpper(strings.TrimSpace(d.Symbol)),
			Side:      side,
			Quantity:  d.Quantity,
			Rationale: strings.TrimSpace(d.Rationale),
		})
	}
	return out, nil
}

// coerceOutcomeJSON repairs the shapes models commonly get wrong: numeric
// strings for quantity and a bare decisions array without the wrapper.
func coerceOutcomeJSON(block string) string {
	parsed := gjson.Parse(block)
	if parsed.IsArray() {
		block = `{"decisions":` + block + `}`
		parsed = gjson.Parse(block)
	}
	doc := map[string]any{}
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return block
	}
	decisions, ok := doc["decisions"].([]any)
	if !ok {
		return block
	}
	for _, item := range decisions {
		d, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch q := d["quantity"].(type) {
		case string:
			var n int64
			if _, err := fmt.Sscanf(strings.TrimSpace(q), "%d", &n); err == nil {
				d["quantity"] = n
			}
		case float64:
			d["quantity"] = int64(q)
		}
	}
	fixed, err := json.Marshal(doc)
	if err != nil {
		return block
	}
	return string(fixed)
}
