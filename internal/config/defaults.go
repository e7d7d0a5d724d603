package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPort          = "8080"
	DefaultReadTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
	DefaultIdleTimeout   = 60 * time.Second
	DefaultCacheTTL      = 30 * time.Second
	DefaultLockWait      = 2 * time.Second
	DefaultDriftInterval = 30 * time.Second
)

// DefaultSignupGrant is the coin balance credited to every new account.
const DefaultSignupGrant = "1000"

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = DefaultIdleTimeout
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = DefaultCacheTTL
	}
	if c.Engine.LockWait == 0 {
		c.Engine.LockWait = DefaultLockWait
	}
	if c.Engine.SignupGrant.IsZero() {
		c.Engine.SignupGrant = Decimal{mustDecimal(DefaultSignupGrant)}
	}
	if c.Drift.Interval == 0 {
		c.Drift.Interval = DefaultDriftInterval
	}
}
