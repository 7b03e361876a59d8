package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tradefloor/internal/types"
)

const defaultEndpoint = "https://google.serper.dev/search"

// Client queries the Serper web search API. Research degrades gracefully
// without it; an unconfigured client reports UpstreamUnavailable.
type Client struct {
	APIKey   string
	Endpoint string
	HTTP     *http.Client
}

type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	Organic []Result `json:"organic"`
}

func New(apiKey string) *Client {
	return &Client{
		APIKey:   strings.TrimSpace(apiKey),
		Endpoint: defaultEndpoint,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.APIKey != ""
}

// Search returns up to limit organic results for query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if !c.Enabled() {
		return nil, types.Faultf(types.FaultUpstreamUnavailable, "web search api key not configured")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.Faultf(types.FaultInternal, "empty search query")
	}
	if limit <= 0 || limit > 10 {
		limit = 5
	}
	payload, _ := json.Marshal(map[string]any{"q": query, "num": limit})
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("web search: %w", ctx.Err())
		}
		return nil, types.Faultf(types.FaultUpstreamUnavailable, "web search: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, types.Faultf(types.FaultUpstreamUnavailable, "read search response: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, types.Faultf(types.FaultUpstreamUnavailable, "web search status=%d", resp.StatusCode)
	}
	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.Faultf(types.FaultUpstreamUnavailable, "decode search response: %v", err)
	}
	if len(parsed.Organic) > limit {
		parsed.Organic = parsed.Organic[:limit]
	}
	return parsed.Organic, nil
}
