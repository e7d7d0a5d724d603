// Package limits enforces open-stake exposure limits per account.
//
// A user piling stake onto one startup has concentrated risk; stake spread
// across many open wagers still adds up. The limiter checks both before a
// wager opens: the active stake on the target market and the aggregate
// active stake across all markets.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrMarketExposureExceeded is returned when a wager would push the
	// account's active stake on one market beyond the per-market maximum.
	ErrMarketExposureExceeded = errors.New("limits: per-market exposure limit exceeded")

	// ErrTotalExposureExceeded is returned when a wager would push the
	// account's aggregate active stake beyond the total maximum.
	ErrTotalExposureExceeded = errors.New("limits: total exposure limit exceeded")
)

// StakeLimiter bounds an account's open-stake exposure.
type StakeLimiter struct {
	// MaxPerMarket is the maximum active stake on any single market.
	MaxPerMarket decimal.Decimal

	// MaxTotal is the maximum aggregate active stake across all markets.
	MaxTotal decimal.Decimal
}

// NewStakeLimiter creates a limiter with the given per-market and total
// exposure limits. A non-positive limit disables that check.
func NewStakeLimiter(maxPerMarket, maxTotal decimal.Decimal) *StakeLimiter {
	return &StakeLimiter{
		MaxPerMarket: maxPerMarket,
		MaxTotal:     maxTotal,
	}
}

// Check validates whether adding stake on targetMarket respects the limits.
//
// Parameters:
//   - targetMarket: market id of the wager being opened
//   - stake: the stake about to be added
//   - exposures: map of market id → current active stake for this account
//
// Returns nil if the wager is within limits, or an error naming the
// violated limit.
func (l *StakeLimiter) Check(
	targetMarket string,
	stake decimal.Decimal,
	exposures map[string]decimal.Decimal,
) error {
	if l.MaxPerMarket.IsPositive() {
		if exposures[targetMarket].Add(stake).GreaterThan(l.MaxPerMarket) {
			return ErrMarketExposureExceeded
		}
	}

	if l.MaxTotal.IsPositive() {
		total := stake
		for _, e := range exposures {
			total = total.Add(e)
		}
		if total.GreaterThan(l.MaxTotal) {
			return ErrTotalExposureExceeded
		}
	}

	return nil
}
