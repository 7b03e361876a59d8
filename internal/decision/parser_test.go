package decision

import (
	"testing"

	"tradefloor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTurnToolCall(t *testing.T) {
	raw := "I need the current price first.\n```json\n{\"tool\": \"lookup_share_price\", \"args\": {\"symbol\": \"AAPL\"}}\n```"
	turn, err := ParseTurn(raw)
	require.NoError(t, err)
	require.NotNil(t, turn.Tool)
	assert.Nil(t, turn.Outcome)
	assert.Equal(t, "lookup_share_price", turn.Tool.Name)
	assert.Equal(t, "AAPL", turn.Tool.Args["symbol"])
}

func TestParseTurnFinalOutcome(t *testing.T) {
	raw := `{"decisions": [
		{"symbol": "aapl", "action": "buy", "quantity": 5, "rationale": "undervalued"},
		{"symbol": "TSLA", "action": "hold"},
		{"symbol": "MSFT", "action": "sell", "quantity": "3", "rationale": "trim"}
	], "memory": "watch NVDA", "summary": "bought AAPL, trimmed MSFT"}`
	turn, err := ParseTurn(raw)
	require.NoError(t, err)
	require.NotNil(t, turn.Outcome)

	out := *turn.Outcome
	require.Len(t, out.Intents, 2) // hold is dropped
	assert.Equal(t, types.Intent{Symbol: "AAPL", Side: types.SideBuy, Quantity: 5, Rationale: "undervalued"}, out.Intents[0])
	assert.Equal(t, types.SideSell, out.Intents[1].Side)
	assert.Equal(t, int64(3), out.Intents[1].Quantity, "numeric string quantity should coerce")
	assert.Equal(t, "watch NVDA", out.MemoryNote)
	assert.Equal(t, "bought AAPL, trimmed MSFT", out.Summary)
}

func TestParseTurnFencedOutcomeKeepsWrapper(t *testing.T) {
	raw := "Position sized, done for today.\n```json\n{\"decisions\": [{\"symbol\": \"NVDA\", \"action\": \"buy\", \"quantity\": 2, \"rationale\": \"momentum\"}], \"summary\": \"added NVDA\"}\n```"
	turn, err := ParseTurn(raw)
	require.NoError(t, err)
	require.NotNil(t, turn.Outcome)
	require.Len(t, turn.Outcome.Intents, 1)
	assert.Equal(t, "NVDA", turn.Outcome.Intents[0].Symbol)
	assert.Equal(t, "added NVDA", turn.Outcome.Summary,
		"fields beside the decisions array must survive extraction")
}

func TestParseTurnBareArrayGetsWrapped(t *testing.T) {
	turn, err := ParseTurn(`[{"symbol": "SPY", "action": "buy", "quantity": 1}]`)
	require.NoError(t, err)
	require.NotNil(t, turn.Outcome)
	require.Len(t, turn.Outcome.Intents, 1)
	assert.Equal(t, "SPY", turn.Outcome.Intents[0].Symbol)
}

func TestParseTurnEmptyDecisions(t *testing.T) {
	turn, err := ParseTurn(`{"decisions": [], "summary": "standing pat"}`)
	require.NoError(t, err)
	require.NotNil(t, turn.Outcome)
	assert.Empty(t, turn.Outcome.Intents)
}

func TestParseTurnRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"no json":            "I think we should buy Apple.",
		"no tool or intents": `{"hello": "world"}`,
		"zero quantity buy":  `{"decisions": [{"symbol": "AAPL", "action": "buy", "quantity": 0}]}`,
		"bad action":         `{"decisions": [{"symbol": "AAPL", "action": "short", "quantity": 1}]}`,
		"missing symbol":     `{"decisions": [{"action": "buy", "quantity": 1}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTurn(raw)
			assert.Error(t, err)
		})
	}
}
