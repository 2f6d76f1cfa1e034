// Package costs prices trading costs and capital-gains tax.
//
// Both models are pure: they hold a validated configuration and map an
// amount to a non-negative charge without touching any ledger state.
package costs

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// CostModel computes the trading cost of a single execution.
type CostModel struct {
	cfg   types.TradingCostConfig
	fixed decimal.Decimal
	rate  decimal.Decimal
}

// NewCostModel validates cfg and returns a CostModel for it.
func NewCostModel(cfg types.TradingCostConfig) (*CostModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CostModel{
		cfg:   cfg,
		fixed: decimal.NewFromFloat(cfg.FixedAmount),
		rate:  decimal.NewFromFloat(cfg.PercentageRate),
	}, nil
}

// Config returns the configuration the model was built from.
func (m *CostModel) Config() types.TradingCostConfig {
	return m.cfg
}

// Cost returns the charge for trading notional on the given side.
// A fixed cost does not depend on notional. No rounding is applied.
func (m *CostModel) Cost(notional decimal.Decimal, side types.Side) decimal.Decimal {
	switch side {
	case types.SideBuy:
		if !m.cfg.ApplyOnBuy {
			return decimal.Zero
		}
	case types.SideSell:
		if !m.cfg.ApplyOnSell {
			return decimal.Zero
		}
	default:
		return decimal.Zero
	}

	switch m.cfg.CostType {
	case types.CostFixed:
		return m.fixed
	case types.CostPercentage:
		return notional.Mul(m.rate)
	}
	return decimal.Zero
}

// String describes the cost schedule, e.g. "0.20% of trade value (buy, sell)".
func (m *CostModel) String() string {
	var sides string
	switch {
	case m.cfg.ApplyOnBuy && m.cfg.ApplyOnSell:
		sides = "buy, sell"
	case m.cfg.ApplyOnBuy:
		sides = "buy"
	case m.cfg.ApplyOnSell:
		sides = "sell"
	default:
		sides = "disabled"
	}
	if m.cfg.CostType == types.CostFixed {
		return fmt.Sprintf("%s %s per trade (%s)", m.fixed.StringFixed(2), m.cfg.Currency, sides)
	}
	return fmt.Sprintf("%s%% of trade value (%s)", m.rate.Shift(2).StringFixed(2), sides)
}
