package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Arena    ArenaConfig    `yaml:"arena"`
	Models   []ModelConfig  `yaml:"models"`
	API      APIConfig      `yaml:"api"`
	LLM      LLMConfig      `yaml:"llm"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Log      LogConfig      `yaml:"log"`
}

// ArenaConfig holds the simulation's risk and scoring policy.
type ArenaConfig struct {
	InitialBalance         float64 `yaml:"initial_balance"`
	MinBetUSD              float64 `yaml:"min_bet_usd"`
	MaxBetFraction         float64 `yaml:"max_bet_fraction"`
	DecisionRetries        int     `yaml:"decision_retries"`
	DecisionTimeoutMinutes int     `yaml:"decision_timeout_minutes"`
	SnapshotIntervalMin    int     `yaml:"snapshot_interval_minutes"`
	MarketLimit            int     `yaml:"market_limit"`
	Methodology            string  `yaml:"methodology"`
}

// ModelConfig is one competing model in the registry.
type ModelConfig struct {
	ID       string `yaml:"id"`   // provider model name, e.g. "gpt-5"
	Name     string `yaml:"name"` // display name
	Provider string `yaml:"provider"`
	Active   *bool  `yaml:"active"` // defaults to true
}

// APIConfig holds the market-data API base URL.
type APIConfig struct {
	GammaBase string `yaml:"gamma_base"`
}

// LLMConfig holds the model-provider endpoint. The API key comes from the
// environment only, never from the YAML file.
type LLMConfig struct {
	Base   string `yaml:"base"`
	APIKey string `yaml:"-"`
}

// StorageConfig controls where data is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// ServerConfig controls the manual-trigger HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ScheduleConfig holds the cron expressions for daemon mode.
type ScheduleConfig struct {
	Cycle      string `yaml:"cycle"`
	Snapshot   string `yaml:"snapshot"`
	Settlement string `yaml:"settlement"`
	Cohort     string `yaml:"cohort"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config file plus a .env file when present. Environment
// variables override file values for the keys they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

// DecisionTimeout returns the per-cycle wall-clock budget.
func (c *Config) DecisionTimeout() time.Duration {
	return time.Duration(c.Arena.DecisionTimeoutMinutes) * time.Minute
}

// SnapshotInterval returns the sweep cadence, which is also the snapshot
// bucket size.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Arena.SnapshotIntervalMin) * time.Minute
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ARENA_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("ARENA_LLM_BASE"); v != "" {
		cfg.LLM.Base = v
	}
	cfg.LLM.APIKey = os.Getenv("ARENA_LLM_KEY")
}

func setDefaults(cfg *Config) {
	if cfg.Arena.InitialBalance <= 0 {
		cfg.Arena.InitialBalance = 10_000
	}
	if cfg.Arena.MinBetUSD <= 0 {
		cfg.Arena.MinBetUSD = 10
	}
	if cfg.Arena.MaxBetFraction <= 0 || cfg.Arena.MaxBetFraction > 1 {
		cfg.Arena.MaxBetFraction = 0.30
	}
	if cfg.Arena.DecisionRetries < 0 {
		cfg.Arena.DecisionRetries = 0
	}
	if cfg.Arena.DecisionTimeoutMinutes <= 0 {
		cfg.Arena.DecisionTimeoutMinutes = 5
	}
	if cfg.Arena.SnapshotIntervalMin <= 0 {
		cfg.Arena.SnapshotIntervalMin = 10
	}
	if cfg.Arena.MarketLimit <= 0 {
		cfg.Arena.MarketLimit = 20
	}
	if cfg.Arena.Methodology == "" {
		cfg.Arena.Methodology = "v1"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "arena.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Schedule.Cycle == "" {
		cfg.Schedule.Cycle = "@hourly"
	}
	if cfg.Schedule.Snapshot == "" {
		cfg.Schedule.Snapshot = "@every 10m"
	}
	if cfg.Schedule.Settlement == "" {
		cfg.Schedule.Settlement = "@every 30m"
	}
	if cfg.Schedule.Cohort == "" {
		cfg.Schedule.Cohort = "0 12 * * MON" // weekly
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
