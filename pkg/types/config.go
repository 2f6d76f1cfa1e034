package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// CostType selects how trading costs are charged.
type CostType string

const (
	CostFixed      CostType = "fixed"
	CostPercentage CostType = "percentage"
)

// TradingCostConfig describes the per-trade cost schedule.
type TradingCostConfig struct {
	CostType       CostType `yaml:"cost_type" validate:"required,oneof=fixed percentage"`
	FixedAmount    float64  `yaml:"fixed_cost_per_trade" validate:"gte=0"`
	PercentageRate float64  `yaml:"percentage_cost_per_trade" validate:"gte=0"`
	ApplyOnBuy     bool     `yaml:"apply_to_buy"`
	ApplyOnSell    bool     `yaml:"apply_to_sell"`
	Currency       string   `yaml:"currency"`
}

// TaxConfig describes capital-gains taxation of realized profits.
type TaxConfig struct {
	Rate             float64 `yaml:"tax_rate" validate:"gte=0,lte=1"`
	ApplyImmediately bool    `yaml:"apply_immediately"`
	TaxFreeThreshold float64 `yaml:"tax_free_threshold" validate:"gte=0"`
	Currency         string  `yaml:"currency"`
}

// DefaultTradingCostConfig returns 0.2% of notional on both sides.
func DefaultTradingCostConfig() TradingCostConfig {
	return TradingCostConfig{
		CostType:       CostPercentage,
		FixedAmount:    10.0,
		PercentageRate: 0.002,
		ApplyOnBuy:     true,
		ApplyOnSell:    true,
		Currency:       "USD",
	}
}

// DefaultTaxConfig returns a 25% tax applied at each sale with no threshold.
func DefaultTaxConfig() TaxConfig {
	return TaxConfig{
		Rate:             0.25,
		ApplyImmediately: true,
		TaxFreeThreshold: 0,
		Currency:         "USD",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first constraint violation, if any.
func (c TradingCostConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid trading cost config: %w", err)
	}
	return nil
}

// Validate reports the first constraint violation, if any.
func (c TaxConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid tax config: %w", err)
	}
	return nil
}
