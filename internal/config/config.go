package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix = "TRADEFLOOR"

// envAliases binds the environment names the original deployment used, so a
// .env written for it keeps working. TRADEFLOOR_* variables follow the key
// path directly (TRADEFLOOR_FLOOR_CADENCE_MINUTES and so on).
var envAliases = map[string][]string{
	"market.polygon_api_key":    {"POLYGON_API_KEY"},
	"market.plan":               {"POLYGON_PLAN"},
	"search.serper_api_key":     {"SERPER_API_KEY"},
	"notify.pushover.user_key":  {"PUSHOVER_USER"},
	"notify.pushover.app_token": {"PUSHOVER_TOKEN"},
	"floor.cadence_minutes":     {"RUN_EVERY_N_MINUTES"},
	"floor.run_when_closed":     {"RUN_EVEN_WHEN_MARKET_IS_CLOSED"},
	"trading.seed_balance":      {"INITIAL_BALANCE"},
	"trading.spread":            {"SPREAD"},
	"store.db_path":             {"DATABASE_PATH"},
	"app.log_level":             {"LOG_LEVEL"},
}

// Load reads the YAML file at path (optional: a missing file yields a
// defaults-only config), applies environment overrides, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setKeys := make(keySet)
	flattenConfigKeys("", v.AllSettings(), setKeys)
	markBoundEnvKeys(setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flattenConfigKeys records every leaf key present in the settings tree.
func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, child, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}

// markBoundEnvKeys marks alias-bound keys whose environment variable is set;
// AllSettings does not surface values that only arrived through BindEnv.
func markBoundEnvKeys(dest keySet) {
	for key, names := range envAliases {
		for _, name := range names {
			if _, ok := os.LookupEnv(name); ok {
				dest.mark(key)
				break
			}
		}
		if _, ok := os.LookupEnv(envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); ok {
			dest.mark(key)
		}
	}
}
