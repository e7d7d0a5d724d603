// Package config loads the wager engine's configuration from a YAML file
// with environment-variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal wraps decimal.Decimal for YAML scalars. yaml.v3 has no hook for
// text-unmarshaling into decimal.Decimal, so the config carries its own type.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	v, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q", value.Value)
	}
	d.Decimal = v
	return nil
}

// Config is the root configuration for the wager engine.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Database   DatabaseConfig    `yaml:"database"`
	Redis      RedisConfig       `yaml:"redis"`
	Engine     EngineConfig      `yaml:"engine"`
	Drift      DriftConfig       `yaml:"drift"`
	Milestones []MilestoneConfig `yaml:"milestones"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ResolveToken string        `yaml:"resolve_token"` // shared secret for the resolution trigger
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the read-through cache settings. An empty URL disables
// the cache layer.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// EngineConfig holds the core wagering parameters.
type EngineConfig struct {
	LockWait       time.Duration `yaml:"lock_wait"`        // bounded wait per entity lock
	SignupGrant    Decimal       `yaml:"signup_grant"`     // coins credited to new accounts
	MaxStakeMarket Decimal       `yaml:"max_stake_market"` // per-market exposure limit, 0 disables
	MaxStakeTotal  Decimal       `yaml:"max_stake_total"`  // aggregate exposure limit, 0 disables
}

// DriftConfig holds the odds drift scheduler settings.
type DriftConfig struct {
	Rate     Decimal       `yaml:"rate"`     // max relative nudge per tick, 0 disables
	Interval time.Duration `yaml:"interval"` // tick cadence
}

// MilestoneConfig is one curated milestone seeded at startup.
type MilestoneConfig struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Description   string  `yaml:"description"`
	RequiredCoins Decimal `yaml:"required_coins"`
	RewardCoins   Decimal `yaml:"reward_coins"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and defaults, and validates. ${VAR} references in
// the file are expanded from the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides deployment settings from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("RESOLVE_TOKEN"); v != "" {
		c.Server.ResolveToken = v
	}
}
