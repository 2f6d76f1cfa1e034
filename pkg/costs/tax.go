package costs

import (
	"github.com/shopspring/decimal"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// TaxEngine computes tax owed on a realized profit.
type TaxEngine struct {
	cfg       types.TaxConfig
	rate      decimal.Decimal
	threshold decimal.Decimal
}

// NewTaxEngine validates cfg and returns a TaxEngine for it.
func NewTaxEngine(cfg types.TaxConfig) (*TaxEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TaxEngine{
		cfg:       cfg,
		rate:      decimal.NewFromFloat(cfg.Rate),
		threshold: decimal.NewFromFloat(cfg.TaxFreeThreshold),
	}, nil
}

// Config returns the configuration the engine was built from.
func (e *TaxEngine) Config() types.TaxConfig {
	return e.cfg
}

// Tax returns (profit - threshold) x rate, or zero when taxation is deferred
// or the profit does not exceed the tax-free threshold. Never negative.
func (e *TaxEngine) Tax(profit decimal.Decimal) decimal.Decimal {
	if !e.cfg.ApplyImmediately {
		return decimal.Zero
	}
	if profit.LessThanOrEqual(e.threshold) {
		return decimal.Zero
	}
	tax := profit.Sub(e.threshold).Mul(e.rate)
	if tax.IsNegative() {
		return decimal.Zero
	}
	return tax
}
