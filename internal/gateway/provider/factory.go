package provider

import (
	"strings"
	"time"

	"tradefloor/internal/config"
	"tradefloor/internal/logger"
)

// BuildProviders turns the configured model list into providers keyed by id.
// Disabled entries are skipped.
func BuildProviders(models []config.ModelCfg, timeout time.Duration) map[string]ModelProvider {
	out := make(map[string]ModelProvider, len(models))
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		id := strings.TrimSpace(m.ID)
		if id == "" {
			id = strings.TrimSpace(m.Model)
		}
		if id == "" {
			logger.Warnf("provider: skipping model entry without id or model name")
			continue
		}
		client := &ChatClient{
			BaseURL:      m.APIURL,
			APIKey:       m.APIKey,
			Model:        m.Model,
			ExtraHeaders: m.Headers,
		}
		if timeout > 0 {
			client.Timeout = timeout
		}
		out[id] = NewOpenAIModelProvider(id, true, client)
	}
	return out
}
