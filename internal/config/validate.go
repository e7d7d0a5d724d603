package config

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

func mustDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Engine.LockWait <= 0 {
		errs = append(errs, errors.New("engine.lock_wait must be positive"))
	}
	if c.Engine.SignupGrant.IsNegative() {
		errs = append(errs, errors.New("engine.signup_grant must not be negative"))
	}
	if c.Engine.MaxStakeMarket.IsNegative() {
		errs = append(errs, errors.New("engine.max_stake_market must not be negative"))
	}
	if c.Engine.MaxStakeTotal.IsNegative() {
		errs = append(errs, errors.New("engine.max_stake_total must not be negative"))
	}
	if c.Drift.Rate.IsNegative() {
		errs = append(errs, errors.New("drift.rate must not be negative"))
	}
	if c.Drift.Rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("drift.rate must be below 1"))
	}
	if c.Drift.Interval <= 0 {
		errs = append(errs, errors.New("drift.interval must be positive"))
	}
	if c.Redis.URL != "" && c.Database.URL == "" {
		errs = append(errs, errors.New("redis cache requires database.url"))
	}

	seen := make(map[string]bool, len(c.Milestones))
	for i, ms := range c.Milestones {
		if ms.ID == "" {
			errs = append(errs, fmt.Errorf("milestones[%d]: id is required", i))
			continue
		}
		if seen[ms.ID] {
			errs = append(errs, fmt.Errorf("milestones[%d]: duplicate id %q", i, ms.ID))
		}
		seen[ms.ID] = true
		if !ms.RequiredCoins.IsPositive() {
			errs = append(errs, fmt.Errorf("milestone %s: required_coins must be positive", ms.ID))
		}
		if !ms.RewardCoins.IsPositive() {
			errs = append(errs, fmt.Errorf("milestone %s: reward_coins must be positive", ms.ID))
		}
	}

	return errors.Join(errs...)
}
