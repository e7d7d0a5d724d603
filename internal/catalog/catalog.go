// Package catalog validates startup market intake and derives per-market
// odds parameters from the startup's funding stage.
//
// Markets are supplied by an external catalog process; this package is the
// gate they pass through. Earlier-stage startups are more volatile, so
// their markets get a higher odds ceiling and less volume smoothing —
// fewer coins move the price further.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/odds"
)

// Supported funding stages, earliest first.
const (
	StagePreSeed = "pre-seed"
	StageSeed    = "seed"
	StageSeriesA = "series-a"
	StageSeriesB = "series-b"
	StageGrowth  = "growth"
)

var (
	ErrInvalidName   = errors.New("catalog: invalid startup name")
	ErrInvalidSector = errors.New("catalog: invalid sector")
	ErrInvalidStage  = errors.New("catalog: unsupported funding stage")
)

// nameRegex keeps startup names to printable words: letters, digits,
// spaces, and the few separators seen in real company names.
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 .&+'-]{1,63}$`)

var sectorRegex = regexp.MustCompile(`^[a-z][a-z0-9-]{1,31}$`)

// stageParams maps each stage to its odds configuration.
// Smoothing is in coins; MaxOdds is the payout ceiling.
var stageParams = map[string]struct {
	smoothing int64
	maxOdds   int64
}{
	StagePreSeed: {smoothing: 50, maxOdds: 20},
	StageSeed:    {smoothing: 75, maxOdds: 15},
	StageSeriesA: {smoothing: 100, maxOdds: 10},
	StageSeriesB: {smoothing: 150, maxOdds: 8},
	StageGrowth:  {smoothing: 250, maxOdds: 5},
}

// Listing is a validated market intake request.
type Listing struct {
	Name   string `json:"name"`
	Sector string `json:"sector"`
	Stage  string `json:"stage"`
}

// Validate checks the listing fields and normalizes sector/stage casing.
func (l *Listing) Validate() error {
	l.Name = strings.TrimSpace(l.Name)
	l.Sector = strings.ToLower(strings.TrimSpace(l.Sector))
	l.Stage = strings.ToLower(strings.TrimSpace(l.Stage))

	if !nameRegex.MatchString(l.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, l.Name)
	}
	if !sectorRegex.MatchString(l.Sector) {
		return fmt.Errorf("%w: %q", ErrInvalidSector, l.Sector)
	}
	if _, ok := stageParams[l.Stage]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStage, l.Stage)
	}
	return nil
}

// ParamsForStage returns the odds configuration for a funding stage.
func ParamsForStage(stage string) (odds.Params, error) {
	sp, ok := stageParams[strings.ToLower(strings.TrimSpace(stage))]
	if !ok {
		return odds.Params{}, fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}
	return odds.NewParams(
		decimal.NewFromInt(sp.smoothing),
		decimal.NewFromInt(sp.maxOdds),
	)
}

// Stages returns the supported stages, earliest first.
func Stages() []string {
	return []string{StagePreSeed, StageSeed, StageSeriesA, StageSeriesB, StageGrowth}
}
