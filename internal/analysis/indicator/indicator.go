package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

const seriesTail = 30

// Settings describes the windows used for the daily-close report.
type Settings struct {
	Symbol string
	EMA    EMASettings
	RSI    RSISettings
}

type EMASettings struct {
	Fast int `json:"fast,omitempty"`
	Mid  int `json:"mid,omitempty"`
	Slow int `json:"slow,omitempty"`
}

type RSISettings struct {
	Period     int     `json:"period,omitempty"`
	Oversold   float64 `json:"oversold,omitempty"`
	Overbought float64 `json:"overbought,omitempty"`
}

// Value holds one indicator's latest reading, a short tail of its series,
// and a coarse state label the reasoning layer can use without re-deriving.
type Value struct {
	Latest float64   `json:"latest"`
	Series []float64 `json:"series,omitempty"`
	State  string    `json:"state,omitempty"`
	Note   string    `json:"note,omitempty"`
}

// Report summarizes the trend indicators for one symbol's daily closes.
type Report struct {
	Symbol   string           `json:"symbol"`
	Count    int              `json:"count"`
	Values   map[string]Value `json:"values"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Compute builds the daily report from ascending closes. Only close-derived
// indicators are used; the price cache keeps no intraday highs or lows.
func Compute(closes []float64, cfg Settings) (Report, error) {
	rep := Report{
		Symbol: cfg.Symbol,
		Count:  len(closes),
		Values: make(map[string]Value),
	}
	if len(closes) == 0 {
		return rep, fmt.Errorf("no closes")
	}
	lastClose := closes[len(closes)-1]

	if cfg.EMA.Fast <= 0 {
		cfg.EMA.Fast = 21
	}
	if cfg.EMA.Mid <= 0 {
		cfg.EMA.Mid = 50
	}
	if cfg.EMA.Slow <= 0 {
		cfg.EMA.Slow = 200
	}
	for key, period := range map[string]int{
		"ema_fast": cfg.EMA.Fast,
		"ema_mid":  cfg.EMA.Mid,
		"ema_slow": cfg.EMA.Slow,
	} {
		if len(closes) < period {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s skipped: need %d closes, have %d", key, period, len(closes)))
			continue
		}
		series := trimLeadingZeros(sanitizeSeries(talib.Ema(closes, period)))
		rep.Values[key] = Value{
			Latest: lastValid(series),
			Series: tail(series),
			State:  relativeState(lastClose, lastValid(series)),
			Note:   fmt.Sprintf("EMA%d vs price", period),
		}
	}

	if cfg.RSI.Period <= 0 {
		cfg.RSI.Period = 14
	}
	if cfg.RSI.Overbought == 0 {
		cfg.RSI.Overbought = 70
	}
	if cfg.RSI.Oversold == 0 {
		cfg.RSI.Oversold = 30
	}
	if len(closes) > cfg.RSI.Period {
		rsiSeries := sanitizeSeries(talib.Rsi(closes, cfg.RSI.Period))
		rsiVal := lastValid(rsiSeries)
		state := "neutral"
		switch {
		case rsiVal >= cfg.RSI.Overbought:
			state = "overbought"
		case rsiVal <= cfg.RSI.Oversold:
			state = "oversold"
		}
		rep.Values["rsi"] = Value{
			Latest: rsiVal,
			Series: tail(rsiSeries),
			State:  state,
			Note:   fmt.Sprintf("period=%d thresholds=%.1f/%.1f", cfg.RSI.Period, cfg.RSI.Oversold, cfg.RSI.Overbought),
		}
	} else {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("rsi skipped: need %d closes, have %d", cfg.RSI.Period+1, len(closes)))
	}

	if len(closes) >= 35 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		macdSeries := sanitizeSeries(macd)
		signalSeries := sanitizeSeries(signal)
		histSeries := sanitizeSeries(hist)
		macdState := "flat"
		switch {
		case lastValid(histSeries) > 0:
			macdState = "bullish"
		case lastValid(histSeries) < 0:
			macdState = "bearish"
		}
		rep.Values["macd"] = Value{
			Latest: lastValid(macdSeries),
			Series: tail(histSeries),
			State:  macdState,
			Note:   fmt.Sprintf("signal=%.4f hist=%.4f", lastValid(signalSeries), lastValid(histSeries)),
		}
	}

	if len(closes) > 9 {
		rocSeries := sanitizeSeries(talib.Roc(closes, 9))
		rocVal := lastValid(rocSeries)
		rep.Values["roc"] = Value{
			Latest: rocVal,
			Series: tail(rocSeries),
			State:  polarityState(rocVal),
			Note:   "period=9",
		}
	}

	return rep, nil
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

// trimLeadingZeros drops TALib's zero-seeded warmup values.
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && almostZero(series[start]) {
		start++
	}
	return series[start:]
}

func tail(series []float64) []float64 {
	if len(series) <= seriesTail {
		return series
	}
	return series[len(series)-seriesTail:]
}

func almostZero(v float64) bool {
	return math.Abs(v) <= 1e-9
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func relativeState(price, ref float64) string {
	if ref == 0 {
		return "unknown"
	}
	switch {
	case price > ref*1.002:
		return "above"
	case price < ref*0.998:
		return "below"
	default:
		return "touch"
	}
}

func polarityState(v float64) string {
	switch {
	case v > 0:
		return "positive"
	case v < 0:
		return "negative"
	default:
		return "flat"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
