// Package types defines core data structures for the backtesting engine.
//
//   - Bar = one OHLCV row for a single instrument
//   - Signal = per-symbol decision emitted by a strategy
//   - Trade = append-only record of an executed buy or sell
//   - Snapshot = portfolio state captured at one bar
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single OHLCV bar.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

var (
	// ErrEmptyBars is returned when a bar series has no rows.
	ErrEmptyBars = errors.New("bar series is empty")

	// ErrUnorderedBars is returned when timestamps are not strictly increasing.
	ErrUnorderedBars = errors.New("bar timestamps must be strictly increasing")
)

// ValidateBars checks that bars is non-empty and strictly ordered by time.
// Duplicate timestamps are rejected.
func ValidateBars(bars []Bar) error {
	if len(bars) == 0 {
		return ErrEmptyBars
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bar %d at %s follows %s", ErrUnorderedBars,
				i, bars[i].Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// FilterBars returns the bars whose timestamps fall in [start, end].
// A zero start or end leaves that side unbounded. The input is not modified.
func FilterBars(bars []Bar, start, end time.Time) []Bar {
	if start.IsZero() && end.IsZero() {
		return bars
	}
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Signal is a strategy's decision for one symbol at one bar.
type Signal string

const (
	Buy  Signal = "BUY"
	Sell Signal = "SELL"
	Hold Signal = "HOLD"
)

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionRecord is the holding of one symbol. CostBasis is the total
// cost (notional plus entry costs) of the shares still held; it is zero
// whenever Shares is zero.
type PositionRecord struct {
	Shares    int64
	CostBasis decimal.Decimal
}

// AverageCost returns the per-share cost basis, or zero when flat.
func (p PositionRecord) AverageCost() decimal.Decimal {
	if p.Shares == 0 {
		return decimal.Zero
	}
	return p.CostBasis.Div(decimal.NewFromInt(p.Shares))
}

// Trade is an executed order. Buy-only and sell-only fields are left zero
// for the other side.
type Trade struct {
	Timestamp time.Time
	Symbol    string
	Side      Side
	Shares    int64
	Price     decimal.Decimal

	// TradeValue is the notional, shares x price.
	TradeValue  decimal.Decimal
	TradingCost decimal.Decimal

	// Buy side.
	TotalCost decimal.Decimal

	// Sell side.
	GrossProceeds decimal.Decimal
	Profit        decimal.Decimal
	TaxPaid       decimal.Decimal
	NetProceeds   decimal.Decimal

	CashAfter           decimal.Decimal
	PortfolioValueAfter decimal.Decimal
}

// Commission is an alias of TradingCost kept for reporting consumers.
func (t Trade) Commission() decimal.Decimal {
	return t.TradingCost
}

// String returns a human-readable representation of the trade.
func (t Trade) String() string {
	if t.Side == SideSell {
		return fmt.Sprintf("%s %s %d %s @ %s profit=%s tax=%s net=%s",
			t.Timestamp.Format("2006-01-02"), t.Side, t.Shares, t.Symbol,
			t.Price.StringFixed(2), t.Profit.StringFixed(2), t.TaxPaid.StringFixed(2), t.NetProceeds.StringFixed(2))
	}
	return fmt.Sprintf("%s %s %d %s @ %s cost=%s total=%s",
		t.Timestamp.Format("2006-01-02"), t.Side, t.Shares, t.Symbol,
		t.Price.StringFixed(2), t.TradingCost.StringFixed(2), t.TotalCost.StringFixed(2))
}

// Snapshot is the portfolio state recorded by one value update.
type Snapshot struct {
	Timestamp              time.Time
	Cash                   decimal.Decimal
	Positions              map[string]int64
	Value                  decimal.Decimal
	TotalTrades            int
	CumulativeTradingCosts decimal.Decimal
	CumulativeTaxes        decimal.Decimal
}
