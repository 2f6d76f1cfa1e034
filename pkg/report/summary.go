// Package report renders finished backtests for people and for other
// programs: a formatted summary, CSV and Parquet exports of the ledger, a
// YAML document and protobuf Struct views.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
)

// Field is one labelled line of a run summary.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var printer = message.NewPrinter(language.English)

// Summary returns the headline figures of a run as formatted strings, in
// display order. Percentages carry two decimals, money is grouped.
func Summary(r *engine.Result) []Field {
	m := r.Metrics
	return []Field{
		{"strategy", r.StrategyName},
		{"initial_capital", Money(r.InitialCapital().InexactFloat64())},
		{"final_value", Money(m["final_portfolio_value"])},
		{"total_return", Percent(m["total_return"])},
		{"annualized_return", Percent(m["annualized_return"])},
		{"volatility", Percent(m["volatility"])},
		{"sharpe_ratio", Number(m["sharpe_ratio"])},
		{"max_drawdown", Percent(m["max_drawdown"])},
		{"win_rate", Percent(m["win_rate"])},
		{"total_trades", printer.Sprintf("%d", int64(m["total_trades"]))},
		{"commission_paid", Money(m["total_commission_paid"])},
		{"trading_costs_paid", Money(m["total_trading_costs_paid"])},
		{"taxes_paid", Money(m["total_taxes_paid"])},
	}
}

// PrintSummary writes the summary as a titled block.
func PrintSummary(w io.Writer, r *engine.Result) error {
	rule := strings.Repeat("=", 50)
	title := cases.Title(language.English)

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nBACKTEST RESULTS - %s\n%s\n", rule, r.StrategyName, rule)
	for _, f := range Summary(r) {
		fmt.Fprintf(&b, "%s: %s\n", title.String(strings.ReplaceAll(f.Key, "_", " ")), f.Value)
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// Money formats v as dollars with thousands separators, e.g. "$10,000.00".
func Money(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("$%.2f", v)
}

// Percent formats a fraction as a percentage, e.g. 0.1234 -> "12.34%".
func Percent(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprint(v)
	}
	return printer.Sprintf("%.2f%%", v*100)
}

// Number formats a ratio with two decimals.
func Number(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprint(v)
	}
	return printer.Sprintf("%.2f", v)
}
