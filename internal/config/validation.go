package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"tradefloor/internal/scheduler"
)

func validate(c *Config) error {
	if err := c.Floor.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	return nil
}

func (f *FloorConfig) validate() error {
	if strings.TrimSpace(f.Cadence) != "" {
		if _, ok := scheduler.ParseIntervalDuration(f.Cadence); !ok {
			return fmt.Errorf("floor.cadence %q is not a valid interval (use 30m, 2h, ...)", f.Cadence)
		}
	}
	if f.CadenceMinutes <= 0 {
		return fmt.Errorf("floor.cadence_minutes must be > 0")
	}
	if f.RunTimeoutSeconds <= 0 {
		return fmt.Errorf("floor.run_timeout_seconds must be > 0")
	}
	if f.LaunchGapSeconds < 0 {
		return fmt.Errorf("floor.launch_gap_seconds must be >= 0")
	}
	return nil
}

// CadenceDuration resolves the effective cycle interval.
func (f FloorConfig) CadenceDuration() time.Duration {
	if dur, ok := scheduler.ParseIntervalDuration(f.Cadence); ok {
		return dur
	}
	return time.Duration(f.CadenceMinutes) * time.Minute
}

func (f FloorConfig) RunTimeout() time.Duration {
	return time.Duration(f.RunTimeoutSeconds) * time.Second
}

func (f FloorConfig) LaunchGap() time.Duration {
	return time.Duration(f.LaunchGapSeconds) * time.Second
}

func (m *MarketConfig) validate() error {
	switch m.Plan {
	case "free", "paid", "realtime":
	default:
		return fmt.Errorf("market.plan must be free, paid or realtime, got %q", m.Plan)
	}
	for _, day := range m.Holidays {
		if _, err := time.Parse("2006-01-02", strings.TrimSpace(day)); err != nil {
			return fmt.Errorf("market.holidays entry %q: want YYYY-MM-DD", day)
		}
	}
	return nil
}

func (a *AIConfig) validate() error {
	seen := make(map[string]struct{}, len(a.Models))
	enabled := 0
	for i := range a.Models {
		m := &a.Models[i]
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			m.ID = strings.TrimSpace(m.Model)
		}
		if m.ID == "" {
			return fmt.Errorf("ai.models[%d] needs an id or model name", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("ai.models has duplicate id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Enabled {
			enabled++
			if strings.TrimSpace(m.Model) == "" {
				return fmt.Errorf("ai.models.%s missing model", m.ID)
			}
		}
	}
	if enabled == 0 {
		return fmt.Errorf("ai.models requires at least one enabled model")
	}
	if _, ok := seen[strings.TrimSpace(a.DefaultModel)]; !ok {
		return fmt.Errorf("ai.default_model %q is not a configured model id", a.DefaultModel)
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.Spread < 0 || t.Spread >= 1 {
		return fmt.Errorf("trading.spread must be in [0, 1), got %v", t.Spread)
	}
	if t.SeedBalance <= 0 {
		return fmt.Errorf("trading.seed_balance must be > 0")
	}
	return nil
}

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}
