package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compounding grows 1% per bar so trend indicators keep a signed reading
// instead of converging to zero.
func compounding(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 * math.Pow(1.01, float64(i))
	}
	return out
}

func TestComputeUptrend(t *testing.T) {
	rep, err := Compute(compounding(260), Settings{Symbol: "AAPL"})
	require.NoError(t, err)

	assert.Equal(t, "AAPL", rep.Symbol)
	assert.Equal(t, 260, rep.Count)
	assert.Empty(t, rep.Warnings)

	rsi, ok := rep.Values["rsi"]
	require.True(t, ok)
	assert.Equal(t, "overbought", rsi.State)

	fast, ok := rep.Values["ema_fast"]
	require.True(t, ok)
	assert.Equal(t, "above", fast.State, "price leads its EMA in a steady climb")
	assert.LessOrEqual(t, len(fast.Series), seriesTail)

	macd, ok := rep.Values["macd"]
	require.True(t, ok)
	assert.Equal(t, "bullish", macd.State)

	roc, ok := rep.Values["roc"]
	require.True(t, ok)
	assert.Equal(t, "positive", roc.State)
}

func TestComputeShortSeriesWarns(t *testing.T) {
	rep, err := Compute(compounding(30), Settings{Symbol: "AAPL"})
	require.NoError(t, err)

	_, hasSlow := rep.Values["ema_slow"]
	assert.False(t, hasSlow)
	assert.NotEmpty(t, rep.Warnings)

	_, hasRSI := rep.Values["rsi"]
	assert.True(t, hasRSI, "30 closes still feed RSI(14)")
}

func TestComputeEmptyCloses(t *testing.T) {
	_, err := Compute(nil, Settings{Symbol: "AAPL"})
	assert.Error(t, err)
}
