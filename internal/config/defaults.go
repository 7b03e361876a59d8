package config

import "strings"

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":8000"
	defaultFloorCadenceMins  = 60
	defaultFloorRunTimeout   = 600
	defaultFloorLaunchGap    = 2
	defaultFloorRosterPath   = "configs/traders.yaml"
	defaultMarketPlan        = "free"
	defaultAITimeoutSeconds  = 120
	defaultAIMaxTurns        = 10
	defaultAIModelName       = "gpt-4o-mini"
	defaultStoreDBPath       = "data/tradefloor.db"
	defaultStoreRunLogPath   = "data/runlog.db"
	defaultTradingSpread     = 0.002
	defaultTradingSeed       = 10000.0
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Floor.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (f *FloorConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "floor.cadence_minutes",
			need:  func() bool { return f.CadenceMinutes <= 0 },
			apply: func() { f.CadenceMinutes = defaultFloorCadenceMins },
		},
		fieldDefault{
			key:   "floor.run_timeout_seconds",
			need:  func() bool { return f.RunTimeoutSeconds <= 0 },
			apply: func() { f.RunTimeoutSeconds = defaultFloorRunTimeout },
		},
		fieldDefault{
			key:   "floor.launch_gap_seconds",
			need:  func() bool { return f.LaunchGapSeconds < 0 },
			apply: func() { f.LaunchGapSeconds = defaultFloorLaunchGap },
		},
		stringFieldDefault("floor.roster_path", &f.RosterPath, defaultFloorRosterPath),
	)
	if !keys.isSet("floor.launch_gap_seconds") && f.LaunchGapSeconds == 0 {
		f.LaunchGapSeconds = defaultFloorLaunchGap
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.plan", &m.Plan, defaultMarketPlan),
	)
	m.Plan = strings.ToLower(strings.TrimSpace(m.Plan))
	if !keys.isSet("market.crypto_enabled") {
		m.CryptoEnabled = true
	}
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "ai.timeout_seconds",
			need:  func() bool { return a.TimeoutSeconds <= 0 },
			apply: func() { a.TimeoutSeconds = defaultAITimeoutSeconds },
		},
		fieldDefault{
			key:   "ai.max_turns",
			need:  func() bool { return a.MaxTurns <= 0 },
			apply: func() { a.MaxTurns = defaultAIMaxTurns },
		},
	)
	if len(a.Models) == 0 {
		a.Models = []ModelCfg{{
			ID:      defaultAIModelName,
			Model:   defaultAIModelName,
			APIURL:  "https://api.openai.com/v1",
			APIKey:  strings.TrimSpace(envOr("OPENAI_API_KEY", "")),
			Enabled: true,
		}}
	}
	if strings.TrimSpace(a.DefaultModel) == "" {
		a.DefaultModel = a.Models[0].ID
	}
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.db_path", &s.DBPath, defaultStoreDBPath),
		stringFieldDefault("store.runlog_path", &s.RunLogPath, defaultStoreRunLogPath),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.spread",
			need:  func() bool { return t.Spread == 0 },
			apply: func() { t.Spread = defaultTradingSpread },
		},
		fieldDefault{
			key:   "trading.seed_balance",
			need:  func() bool { return t.SeedBalance <= 0 },
			apply: func() { t.SeedBalance = defaultTradingSeed },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
