// Package odds implements the volume-weighted odds model for startup
// wagering markets.
//
// The implied win-probability is smoothed by a constant k > 0:
//
//	p = (w + k) / (w + f + 2k)
//
// where w and f are the active win- and fall-side stake volumes. Smoothing
// keeps the model defined at zero volume (p = 0.5) and prevents degenerate
// 0/1 probabilities at low volume. Published odds are the inverse
// probability clamped to [1, maxOdds] per side.
//
// All monetary values use shopspring/decimal — never float64 for money.
package odds

import (
	"errors"
	"math/rand"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSmoothing is returned when the smoothing constant k <= 0.
	ErrInvalidSmoothing = errors.New("odds: smoothing constant k must be positive")

	// ErrInvalidMaxOdds is returned when the odds ceiling is below the floor.
	ErrInvalidMaxOdds = errors.New("odds: max odds must be greater than 1")

	// MinOdds is the lowest publishable odds. A payout multiplier below 1
	// would pay out less than the stake for a correct call.
	MinOdds = decimal.NewFromInt(1)

	// Scale is the number of decimal places for published odds.
	Scale int32 = 4
)

// Params configures the odds model for one market.
type Params struct {
	// Smoothing is the constant k in the implied-probability formula.
	Smoothing decimal.Decimal

	// MaxOdds is the odds ceiling; published odds never exceed it.
	MaxOdds decimal.Decimal
}

// NewParams validates and returns an odds model configuration.
func NewParams(smoothing, maxOdds decimal.Decimal) (Params, error) {
	if smoothing.LessThanOrEqual(decimal.Zero) {
		return Params{}, ErrInvalidSmoothing
	}
	if maxOdds.LessThanOrEqual(MinOdds) {
		return Params{}, ErrInvalidMaxOdds
	}
	return Params{Smoothing: smoothing, MaxOdds: maxOdds}, nil
}

// ImpliedWinProbability computes p = (w + k) / (w + f + 2k).
// Always in (0, 1) for k > 0 and non-negative volumes.
func (p Params) ImpliedWinProbability(winVolume, fallVolume decimal.Decimal) decimal.Decimal {
	num := winVolume.Add(p.Smoothing)
	den := winVolume.Add(fallVolume).Add(p.Smoothing.Mul(decimal.NewFromInt(2)))
	return num.DivRound(den, Scale+4)
}

// Pair returns the published (win, fall) odds for the given volumes.
// Win odds are the inverse implied win-probability, fall odds the inverse
// complement, each clamped to [MinOdds, MaxOdds].
func (p Params) Pair(winVolume, fallVolume decimal.Decimal) (win, fall decimal.Decimal) {
	prob := p.ImpliedWinProbability(winVolume, fallVolume)
	one := decimal.NewFromInt(1)
	win = p.Clamp(one.DivRound(prob, Scale))
	fall = p.Clamp(one.DivRound(one.Sub(prob), Scale))
	return win, fall
}

// Clamp bounds odds to [MinOdds, MaxOdds].
func (p Params) Clamp(o decimal.Decimal) decimal.Decimal {
	if o.LessThan(MinOdds) {
		return MinOdds
	}
	if o.GreaterThan(p.MaxOdds) {
		return p.MaxOdds
	}
	return o
}

// Drift nudges odds by a random factor in [-rate, +rate], representing
// ambient price movement independent of wager flow. The result is clamped
// so drift can never push odds outside [MinOdds, MaxOdds].
func (p Params) Drift(o, rate decimal.Decimal, rng *rand.Rand) decimal.Decimal {
	if rate.LessThanOrEqual(decimal.Zero) {
		return p.Clamp(o)
	}
	// factor in [-1, 1], scaled by rate
	factor := decimal.NewFromFloat(rng.Float64()*2 - 1).Mul(rate)
	nudged := o.Add(o.Mul(factor)).Round(Scale)
	return p.Clamp(nudged)
}
