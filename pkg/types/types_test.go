package types

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestValidateBars(t *testing.T) {
	tests := []struct {
		name    string
		bars    []Bar
		wantErr error
	}{
		{"empty", nil, ErrEmptyBars},
		{"single", []Bar{{Timestamp: day(0), Close: 1}}, nil},
		{"ordered", []Bar{{Timestamp: day(0)}, {Timestamp: day(1)}, {Timestamp: day(2)}}, nil},
		{"duplicate", []Bar{{Timestamp: day(0)}, {Timestamp: day(0)}}, ErrUnorderedBars},
		{"descending", []Bar{{Timestamp: day(2)}, {Timestamp: day(1)}}, ErrUnorderedBars},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBars(tt.bars)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFilterBars(t *testing.T) {
	bars := []Bar{{Timestamp: day(0)}, {Timestamp: day(1)}, {Timestamp: day(2)}, {Timestamp: day(3)}}

	if got := FilterBars(bars, time.Time{}, time.Time{}); len(got) != 4 {
		t.Errorf("unbounded filter kept %d bars, want 4", len(got))
	}
	got := FilterBars(bars, day(1), day(2))
	if len(got) != 2 || !got[0].Timestamp.Equal(day(1)) || !got[1].Timestamp.Equal(day(2)) {
		t.Errorf("inclusive filter = %v", got)
	}
	if got := FilterBars(bars, day(2), time.Time{}); len(got) != 2 {
		t.Errorf("start-only filter kept %d bars, want 2", len(got))
	}
	if got := FilterBars(bars, day(10), day(11)); len(got) != 0 {
		t.Errorf("out-of-range filter kept %d bars, want 0", len(got))
	}
}

func TestPositionAverageCost(t *testing.T) {
	p := PositionRecord{Shares: 4, CostBasis: decimal.NewFromInt(1010)}
	if !p.AverageCost().Equal(decimal.RequireFromString("252.5")) {
		t.Errorf("AverageCost = %s, want 252.5", p.AverageCost())
	}
	if !(PositionRecord{}).AverageCost().IsZero() {
		t.Error("flat position should have zero average cost")
	}
}

func TestConfigValidation(t *testing.T) {
	if err := DefaultTradingCostConfig().Validate(); err != nil {
		t.Errorf("default cost config invalid: %v", err)
	}
	if err := DefaultTaxConfig().Validate(); err != nil {
		t.Errorf("default tax config invalid: %v", err)
	}

	badCost := DefaultTradingCostConfig()
	badCost.CostType = "flat"
	if err := badCost.Validate(); err == nil {
		t.Error("expected error for unknown cost type")
	}
	badCost = DefaultTradingCostConfig()
	badCost.PercentageRate = -0.1
	if err := badCost.Validate(); err == nil {
		t.Error("expected error for negative rate")
	}

	badTax := DefaultTaxConfig()
	badTax.Rate = 1.5
	if err := badTax.Validate(); err == nil {
		t.Error("expected error for tax rate above 1")
	}
	badTax = DefaultTaxConfig()
	badTax.TaxFreeThreshold = -1
	if err := badTax.Validate(); err == nil {
		t.Error("expected error for negative threshold")
	}
}
