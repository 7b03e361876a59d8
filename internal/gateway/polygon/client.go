package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradefloor/internal/pkg/text"
	"tradefloor/internal/types"
)

const defaultBaseURL = "https://api.polygon.io"

type Config struct {
	APIKey      string
	BaseURL     string
	HTTPTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.BaseURL = strings.TrimSpace(strings.TrimRight(out.BaseURL, "/"))
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	return out
}

// Client is a read-only REST client for the equities aggregates upstream.
type Client struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Client {
	final := cfg.withDefaults()
	return &Client{cfg: final, client: &http.Client{Timeout: final.HTTPTimeout}}
}

// Enabled reports whether an API key is configured. A disabled client fails
// every call with UpstreamUnavailable so the tier policy degrades cleanly.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.APIKey != ""
}

type aggBar struct {
	Ticker string  `json:"T,omitempty"`
	Ts     int64   `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

type aggResponse struct {
	Status       string   `json:"status"`
	Ticker       string   `json:"ticker"`
	ResultsCount int      `json:"resultsCount"`
	Results      []aggBar `json:"results"`
}

type snapshotResponse struct {
	Status string `json:"status"`
	Ticker struct {
		Ticker string `json:"ticker"`
		Min    struct {
			Close float64 `json:"c"`
			Ts    int64   `json:"t"`
		} `json:"min"`
		LastTrade struct {
			Price float64 `json:"p"`
			Ts    int64   `json:"t"`
		} `json:"lastTrade"`
		PrevDay struct {
			Close float64 `json:"c"`
		} `json:"prevDay"`
	} `json:"ticker"`
}

// PrevClose returns the bar of the most recent completed session for symbol.
// Its date doubles as the session-date probe for bulk refreshes.
func (c *Client) PrevClose(ctx context.Context, symbol string) (types.DailyBar, error) {
	var resp aggResponse
	path := fmt.Sprintf("/v2/aggs/ticker/%s/prev", url.PathEscape(symbol))
	if err := c.get(ctx, path, url.Values{"adjusted": {"true"}}, &resp); err != nil {
		return types.DailyBar{}, err
	}
	if len(resp.Results) == 0 {
		return types.DailyBar{}, types.Faultf(types.FaultUpstreamUnavailable, "no previous close for %s", symbol)
	}
	return barFromAgg(symbol, resp.Results[0]), nil
}

// GroupedDaily returns one bar per listed symbol for the session date
// (YYYY-MM-DD). One call fills the whole day's cache.
func (c *Client) GroupedDaily(ctx context.Context, date string) ([]types.DailyBar, error) {
	var resp aggResponse
	path := fmt.Sprintf("/v2/aggs/grouped/locale/us/market/stocks/%s", url.PathEscape(date))
	query := url.Values{"adjusted": {"true"}, "include_otc": {"false"}}
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, err
	}
	out := make([]types.DailyBar, 0, len(resp.Results))
	for _, bar := range resp.Results {
		if bar.Ticker == "" || bar.Close <= 0 {
			continue
		}
		converted := barFromAgg(bar.Ticker, bar)
		converted.Date = date
		out = append(out, converted)
	}
	return out, nil
}

// Snapshot returns the freshest intraday price for symbol: the latest minute
// close when present, otherwise the last trade.
func (c *Client) Snapshot(ctx context.Context, symbol string) (float64, time.Time, error) {
	var resp snapshotResponse
	path := fmt.Sprintf("/v2/snapshot/locale/us/markets/stocks/tickers/%s", url.PathEscape(symbol))
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return 0, time.Time{}, err
	}
	if resp.Ticker.Min.Close > 0 {
		return resp.Ticker.Min.Close, time.UnixMilli(resp.Ticker.Min.Ts), nil
	}
	if resp.Ticker.LastTrade.Price > 0 {
		return resp.Ticker.LastTrade.Price, time.UnixMilli(resp.Ticker.LastTrade.Ts), nil
	}
	return 0, time.Time{}, types.Faultf(types.FaultUpstreamUnavailable, "empty snapshot for %s", symbol)
}

// Range returns daily bars from from to to inclusive (YYYY-MM-DD), ascending.
func (c *Client) Range(ctx context.Context, symbol, from, to string) ([]types.DailyBar, error) {
	var resp aggResponse
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s",
		url.PathEscape(symbol), url.PathEscape(from), url.PathEscape(to))
	query := url.Values{"adjusted": {"true"}, "sort": {"asc"}, "limit": {"5000"}}
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, err
	}
	out := make([]types.DailyBar, 0, len(resp.Results))
	for _, bar := range resp.Results {
		if bar.Close <= 0 {
			continue
		}
		out = append(out, barFromAgg(symbol, bar))
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if !c.Enabled() {
		return types.Faultf(types.FaultUpstreamUnavailable, "equities api key not configured")
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("apiKey", c.cfg.APIKey)
	endpoint := c.cfg.BaseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("equities upstream: %w", ctx.Err())
		}
		return types.Faultf(types.FaultUpstreamUnavailable, "equities upstream: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.Faultf(types.FaultUpstreamUnavailable, "read equities response: %v", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return types.Faultf(types.FaultUpstreamUnavailable, "equities upstream rate limited")
	}
	if resp.StatusCode/100 != 2 {
		return types.Faultf(types.FaultUpstreamUnavailable, "equities upstream status=%d body=%s",
			resp.StatusCode, text.Truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return types.Faultf(types.FaultUpstreamUnavailable, "decode equities response: %v", err)
	}
	return nil
}

func barFromAgg(symbol string, bar aggBar) types.DailyBar {
	return types.DailyBar{
		Symbol: strings.ToUpper(symbol),
		Date:   time.UnixMilli(bar.Ts).UTC().Format("2006-01-02"),
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: bar.Volume,
	}
}
