package config

import "strings"

// Config is the top-level configuration for the trading floor.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Floor   FloorConfig   `mapstructure:"floor"`
	Market  MarketConfig  `mapstructure:"market"`
	AI      AIConfig      `mapstructure:"ai"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Search  SearchConfig  `mapstructure:"search"`
	Store   StoreConfig   `mapstructure:"store"`
	Trading TradingConfig `mapstructure:"trading"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogPath  string `mapstructure:"log_path"`
}

// FloorConfig controls the scheduler: how often a cycle fires, whether it
// runs outside market hours and how the per-account fan-out is paced.
// Cadence accepts "90m"/"2h" style strings and wins over CadenceMinutes.
type FloorConfig struct {
	Cadence           string `mapstructure:"cadence"`
	CadenceMinutes    int    `mapstructure:"cadence_minutes"`
	RunWhenClosed     bool   `mapstructure:"run_when_closed"`
	RunImmediately    bool   `mapstructure:"run_immediately"`
	RunTimeoutSeconds int    `mapstructure:"run_timeout_seconds"`
	LaunchGapSeconds  int    `mapstructure:"launch_gap_seconds"`
	RosterPath        string `mapstructure:"roster_path"`
}

type MarketConfig struct {
	Plan          string   `mapstructure:"plan"`
	PolygonAPIKey string   `mapstructure:"polygon_api_key"`
	PolygonURL    string   `mapstructure:"polygon_url"`
	CryptoEnabled bool     `mapstructure:"crypto_enabled"`
	CryptoProxy   string   `mapstructure:"crypto_proxy"`
	Holidays      []string `mapstructure:"holidays"`
}

// ModelCfg describes one chat-completion backend the traders can use.
type ModelCfg struct {
	ID      string            `mapstructure:"id"`
	APIURL  string            `mapstructure:"api_url"`
	APIKey  string            `mapstructure:"api_key"`
	Model   string            `mapstructure:"model"`
	Enabled bool              `mapstructure:"enabled"`
	Headers map[string]string `mapstructure:"headers"`
}

type AIConfig struct {
	Models         []ModelCfg `mapstructure:"models"`
	DefaultModel   string     `mapstructure:"default_model"`
	TimeoutSeconds int        `mapstructure:"timeout_seconds"`
	MaxTurns       int        `mapstructure:"max_turns"`
}

type NotifyConfig struct {
	Pushover PushoverConfig `mapstructure:"pushover"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type PushoverConfig struct {
	UserKey  string `mapstructure:"user_key"`
	AppToken string `mapstructure:"app_token"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type SearchConfig struct {
	SerperAPIKey string `mapstructure:"serper_api_key"`
}

type StoreConfig struct {
	DBPath     string `mapstructure:"db_path"`
	RunLogPath string `mapstructure:"runlog_path"`
}

// TradingConfig carries the simulated execution economics.
type TradingConfig struct {
	Spread      float64 `mapstructure:"spread"`
	SeedBalance float64 `mapstructure:"seed_balance"`
}

// keySet tracks which config keys were set explicitly, so defaults never
// clobber a deliberate zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
