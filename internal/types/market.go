package types

import "time"

// MarketPlan is the configured service level for the market data upstream.
type MarketPlan string

const (
	PlanFree     MarketPlan = "free"
	PlanPaid     MarketPlan = "paid"
	PlanRealtime MarketPlan = "realtime"
)

// SourceTier tags where a price actually came from, which is not the same as
// the plan that asked for it: a realtime plan can still serve an end-of-day
// cache hit when the snapshot endpoint is down.
type SourceTier string

const (
	TierRealtime SourceTier = "realtime"
	TierSnapshot SourceTier = "snapshot"
	TierEndOfDay SourceTier = "eod"
	TierFallback SourceTier = "fallback"
)

// PriceQuote is the resolved price for one symbol. AsOf is the trading date
// the price belongs to, FetchedAt when we obtained it.
type PriceQuote struct {
	Symbol    string     `json:"symbol"`
	Price     float64    `json:"price"`
	Tier      SourceTier `json:"tier"`
	AsOf      string     `json:"as_of"`
	FetchedAt time.Time  `json:"fetched_at"`
}

type MarketStatus string

const (
	MarketOpen   MarketStatus = "open"
	MarketClosed MarketStatus = "closed"
)

// DailyBar is one end-of-day OHLCV row from a grouped bulk fetch.
type DailyBar struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}
