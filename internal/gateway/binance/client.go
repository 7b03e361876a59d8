package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradefloor/internal/types"

	gobinance "github.com/adshao/go-binance/v2"
)

const maxDailyLimit = 1000

// Client quotes crypto pairs from Binance spot. The floor writes crypto
// symbols as BASE-USD (BTC-USD); spot trades them against USDT, which is
// close enough to USD for a simulated book.
type Client struct {
	cfg    Config
	client *gobinance.Client
	bases  map[string]struct{}
}

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// Bases limits which BASE-USD symbols this source claims. Empty means
	// the built-in major-coin set.
	Bases []string
}

var defaultBases = []string{
	"BTC", "ETH", "SOL", "BNB", "XRP", "ADA", "DOGE", "AVAX", "DOT", "LINK", "LTC",
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://api.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	if len(out.Bases) == 0 {
		out.Bases = defaultBases
	}
	return out
}

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	client := gobinance.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient

	bases := make(map[string]struct{}, len(final.Bases))
	for _, base := range final.Bases {
		base = strings.ToUpper(strings.TrimSpace(base))
		if base != "" {
			bases[base] = struct{}{}
		}
	}
	return &Client{cfg: final, client: client, bases: bases}, nil
}

// Supports reports whether symbol is a BASE-USD pair this source quotes.
func (c *Client) Supports(symbol string) bool {
	if c == nil {
		return false
	}
	base, ok := splitUSDPair(symbol)
	if !ok {
		return false
	}
	_, known := c.bases[base]
	return known
}

// Quote returns the live spot price for a BASE-USD pair.
func (c *Client) Quote(ctx context.Context, symbol string) (float64, error) {
	pair, err := c.toExchangePair(symbol)
	if err != nil {
		return 0, err
	}
	prices, err := c.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("crypto upstream: %w", ctx.Err())
		}
		return 0, types.Faultf(types.FaultUpstreamUnavailable, "crypto upstream: %v", err)
	}
	for _, entry := range prices {
		if entry == nil {
			continue
		}
		price := parseFloat(entry.Price)
		if price > 0 {
			return price, nil
		}
	}
	return 0, types.Faultf(types.FaultUpstreamUnavailable, "no spot price for %s", pair)
}

// Dailies returns up to limit completed daily bars for a BASE-USD pair,
// ascending by date. The still-forming current bar is dropped.
func (c *Client) Dailies(ctx context.Context, symbol string, limit int) ([]types.DailyBar, error) {
	pair, err := c.toExchangePair(symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxDailyLimit {
		limit = maxDailyLimit
	}
	// One extra so dropping the unclosed bar still yields limit rows.
	klines, err := c.client.NewKlinesService().Symbol(pair).Interval("1d").Limit(limit + 1).Do(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("crypto upstream: %w", ctx.Err())
		}
		return nil, types.Faultf(types.FaultUpstreamUnavailable, "crypto upstream: %v", err)
	}
	now := time.Now().UnixMilli()
	out := make([]types.DailyBar, 0, len(klines))
	for _, kl := range klines {
		if kl == nil || kl.CloseTime > now {
			continue
		}
		out = append(out, types.DailyBar{
			Symbol: strings.ToUpper(strings.TrimSpace(symbol)),
			Date:   time.UnixMilli(kl.OpenTime).UTC().Format("2006-01-02"),
			Open:   parseFloat(kl.Open),
			High:   parseFloat(kl.High),
			Low:    parseFloat(kl.Low),
			Close:  parseFloat(kl.Close),
			Volume: parseFloat(kl.Volume),
		})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (c *Client) toExchangePair(symbol string) (string, error) {
	base, ok := splitUSDPair(symbol)
	if !ok {
		return "", types.Faultf(types.FaultInternal, "not a crypto pair: %s", symbol)
	}
	return base + "USDT", nil
}

func splitUSDPair(symbol string) (string, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	base, found := strings.CutSuffix(symbol, "-USD")
	if !found || base == "" {
		return "", false
	}
	return base, true
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
