package catalog

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestListingValidate(t *testing.T) {
	tests := []struct {
		name    string
		listing Listing
		wantErr error
	}{
		{"valid", Listing{Name: "TechCorp AI", Sector: "fintech", Stage: "seed"}, nil},
		{"normalizes case", Listing{Name: "FinTech Pro", Sector: "Payments", Stage: "Series-A"}, nil},
		{"empty name", Listing{Name: "", Sector: "fintech", Stage: "seed"}, ErrInvalidName},
		{"one-char name", Listing{Name: "X", Sector: "fintech", Stage: "seed"}, ErrInvalidName},
		{"name with control chars", Listing{Name: "bad\nname", Sector: "fintech", Stage: "seed"}, ErrInvalidName},
		{"empty sector", Listing{Name: "TechCorp AI", Sector: "", Stage: "seed"}, ErrInvalidSector},
		{"sector with spaces", Listing{Name: "TechCorp AI", Sector: "fin tech", Stage: "seed"}, ErrInvalidSector},
		{"unknown stage", Listing{Name: "TechCorp AI", Sector: "fintech", Stage: "ipo"}, ErrInvalidStage},
		{"empty stage", Listing{Name: "TechCorp AI", Sector: "fintech", Stage: ""}, ErrInvalidStage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.listing.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestListingValidate_Normalization(t *testing.T) {
	l := Listing{Name: "  TechCorp AI  ", Sector: "FinTech", Stage: "SEED"}
	if err := l.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if l.Name != "TechCorp AI" {
		t.Errorf("name not trimmed: %q", l.Name)
	}
	if l.Sector != "fintech" {
		t.Errorf("sector not lowercased: %q", l.Sector)
	}
	if l.Stage != "seed" {
		t.Errorf("stage not lowercased: %q", l.Stage)
	}
}

func TestParamsForStage_EarlierStageMoreVolatile(t *testing.T) {
	var prevMax, prevSmoothing decimal.Decimal
	for i, stage := range Stages() {
		p, err := ParamsForStage(stage)
		if err != nil {
			t.Fatalf("params for %s: %v", stage, err)
		}
		if i > 0 {
			if !p.MaxOdds.LessThan(prevMax) {
				t.Errorf("%s ceiling %s should be below previous %s", stage, p.MaxOdds, prevMax)
			}
			if !p.Smoothing.GreaterThan(prevSmoothing) {
				t.Errorf("%s smoothing %s should exceed previous %s", stage, p.Smoothing, prevSmoothing)
			}
		}
		prevMax, prevSmoothing = p.MaxOdds, p.Smoothing
	}
}

func TestParamsForStage_Unknown(t *testing.T) {
	if _, err := ParamsForStage("ipo"); !errors.Is(err, ErrInvalidStage) {
		t.Errorf("expected ErrInvalidStage, got %v", err)
	}
}
