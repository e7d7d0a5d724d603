package odds

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func mustParams(t *testing.T, k, maxOdds float64) Params {
	t.Helper()
	p, err := NewParams(d(k), d(maxOdds))
	if err != nil {
		t.Fatalf("NewParams(%v, %v): %v", k, maxOdds, err)
	}
	return p
}

func TestNewParams_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		k       float64
		maxOdds float64
		wantErr error
	}{
		{"zero smoothing", 0, 10, ErrInvalidSmoothing},
		{"negative smoothing", -1, 10, ErrInvalidSmoothing},
		{"max odds at floor", 100, 1, ErrInvalidMaxOdds},
		{"max odds below floor", 100, 0.5, ErrInvalidMaxOdds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewParams(d(tt.k), d(tt.maxOdds)); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestImpliedWinProbability_ZeroVolume(t *testing.T) {
	p := mustParams(t, 100, 10)

	prob := p.ImpliedWinProbability(decimal.Zero, decimal.Zero)
	if !prob.Equal(d(0.5)) {
		t.Errorf("expected p=0.5 at zero volume, got %s", prob)
	}
}

func TestImpliedWinProbability_VolumeMovesProbability(t *testing.T) {
	p := mustParams(t, 100, 10)

	// More win volume → higher implied win probability.
	probUp := p.ImpliedWinProbability(d(500), decimal.Zero)
	if probUp.LessThanOrEqual(d(0.5)) {
		t.Errorf("expected p > 0.5 with win volume, got %s", probUp)
	}

	// More fall volume → lower implied win probability.
	probDown := p.ImpliedWinProbability(decimal.Zero, d(500))
	if probDown.GreaterThanOrEqual(d(0.5)) {
		t.Errorf("expected p < 0.5 with fall volume, got %s", probDown)
	}

	// Symmetry: p(w, f) + p(f, w) = 1.
	sum := probUp.Add(probDown)
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("expected symmetric probabilities to sum to 1, got %s", sum)
	}
}

func TestPair_Bounds(t *testing.T) {
	p := mustParams(t, 100, 10)

	tests := []struct {
		name string
		win  float64
		fall float64
	}{
		{"zero volume", 0, 0},
		{"balanced", 1000, 1000},
		{"win heavy", 100000, 0},
		{"fall heavy", 0, 100000},
		{"small", 1, 3},
	}
	one := decimal.NewFromInt(1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			win, fall := p.Pair(d(tt.win), d(tt.fall))
			for _, o := range []decimal.Decimal{win, fall} {
				if o.LessThan(one) || o.GreaterThan(p.MaxOdds) {
					t.Errorf("odds %s outside [1, %s]", o, p.MaxOdds)
				}
			}
		})
	}
}

func TestPair_ZeroVolumeIsEven(t *testing.T) {
	p := mustParams(t, 100, 10)

	win, fall := p.Pair(decimal.Zero, decimal.Zero)
	if !win.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected win odds 2 at zero volume, got %s", win)
	}
	if !fall.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected fall odds 2 at zero volume, got %s", fall)
	}
}

func TestPair_FallVolumeRaisesWinOdds(t *testing.T) {
	p := mustParams(t, 100, 10)

	winBefore, _ := p.Pair(decimal.Zero, decimal.Zero)
	winAfter, fallAfter := p.Pair(decimal.Zero, d(400))

	if !winAfter.GreaterThan(winBefore) {
		t.Errorf("win odds should rise with fall volume: before=%s after=%s", winBefore, winAfter)
	}
	if !fallAfter.LessThan(winBefore) {
		t.Errorf("fall odds should drop with fall volume: got %s", fallAfter)
	}
}

func TestClamp(t *testing.T) {
	p := mustParams(t, 100, 10)

	if got := p.Clamp(d(0.5)); !got.Equal(MinOdds) {
		t.Errorf("expected clamp to floor, got %s", got)
	}
	if got := p.Clamp(d(50)); !got.Equal(p.MaxOdds) {
		t.Errorf("expected clamp to ceiling, got %s", got)
	}
	if got := p.Clamp(d(3.5)); !got.Equal(d(3.5)) {
		t.Errorf("expected in-range odds unchanged, got %s", got)
	}
}

func TestDrift_StaysBounded(t *testing.T) {
	p := mustParams(t, 100, 10)
	rng := rand.New(rand.NewSource(42))
	rate := d(0.01)

	o := d(2)
	for i := 0; i < 1000; i++ {
		o = p.Drift(o, rate, rng)
		if o.LessThan(MinOdds) || o.GreaterThan(p.MaxOdds) {
			t.Fatalf("drift pushed odds out of bounds after %d ticks: %s", i, o)
		}
	}
}

func TestDrift_MaxStepIsRate(t *testing.T) {
	p := mustParams(t, 100, 10)
	rng := rand.New(rand.NewSource(7))
	rate := d(0.01)

	o := d(5)
	for i := 0; i < 100; i++ {
		next := p.Drift(o, rate, rng)
		maxStep := o.Mul(rate).Add(d(0.0001)) // rounding slack
		if next.Sub(o).Abs().GreaterThan(maxStep) {
			t.Fatalf("drift step %s exceeds ±1%% of %s", next.Sub(o), o)
		}
		o = next
	}
}

func TestDrift_ZeroRateNoChange(t *testing.T) {
	p := mustParams(t, 100, 10)
	rng := rand.New(rand.NewSource(1))

	o := d(2.5)
	if got := p.Drift(o, decimal.Zero, rng); !got.Equal(o) {
		t.Errorf("expected unchanged odds at zero rate, got %s", got)
	}
}

func TestDrift_AtCeilingStaysAtOrBelowCeiling(t *testing.T) {
	p := mustParams(t, 100, 10)
	rng := rand.New(rand.NewSource(3))

	o := p.MaxOdds
	for i := 0; i < 200; i++ {
		o = p.Drift(o, d(0.01), rng)
		if o.GreaterThan(p.MaxOdds) {
			t.Fatalf("odds exceeded ceiling: %s", o)
		}
	}
}
