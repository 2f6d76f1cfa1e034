// Package persistence stores finished backtests: one run row with its
// trades, value history, metrics and per-month realised profit aggregates.
// Backends are Postgres (pgx) and a single-file SQLite database.
package persistence

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
	"github.com/SebStoll/stocks-backtesting/pkg/report"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// Metric sources stored in backtest_metrics.source.
const (
	SourceSummary     = "summary"
	SourcePerformance = "performance"
)

// RunRecord maps to a row in the backtest_runs table.
type RunRecord struct {
	RunID          string
	Strategy       string
	Symbol         string
	Parameters     map[string]any
	PeriodStart    time.Time
	PeriodEnd      time.Time
	NumBars        int
	InitialCapital float64
	FinalValue     float64
	StartedAt      time.Time
	FinishedAt     time.Time
}

// TradeRecord maps to a row in the backtest_trades table. RunPK is the FK
// to backtest_runs.id and is set once the run row exists.
type TradeRecord struct {
	RunPK int64
	report.TradeRow
}

// SnapshotRecord maps to a row in the backtest_snapshots table.
type SnapshotRecord struct {
	RunPK int64
	report.SnapshotRow
}

// MetricRecord maps to a row in the backtest_metrics table.
type MetricRecord struct {
	RunPK  int64
	Source string
	Name   string
	Value  float64
}

// PeriodKey identifies a calendar month.
type PeriodKey struct {
	Year  int
	Month time.Month
}

// PeriodAggregate holds realised-profit statistics of the sells closed in
// one month. Maps to a row in the backtest_periods table.
type PeriodAggregate struct {
	RunPK        int64
	Period       PeriodKey
	NumSells     int
	Wins         int
	ProfitSum    float64
	ProfitMean   float64
	ProfitStd    float64
	TaxesPaid    float64
	TradingCosts float64
}

// BuildRunRecord extracts the run row of r.
func BuildRunRecord(runID string, r *engine.Result) RunRecord {
	rec := RunRecord{
		RunID:          runID,
		Strategy:       r.StrategyName,
		Symbol:         strings.ToUpper(r.Symbol),
		Parameters:     r.Parameters,
		NumBars:        len(r.Bars),
		InitialCapital: r.InitialCapital().InexactFloat64(),
		FinalValue:     r.FinalValue().InexactFloat64(),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
	if len(r.Bars) > 0 {
		rec.PeriodStart = r.Bars[0].Timestamp
		rec.PeriodEnd = r.Bars[len(r.Bars)-1].Timestamp
	}
	return rec
}

// BuildTradeRecords converts trades into rows with RunPK left as 0.
func BuildTradeRecords(trades []types.Trade) []TradeRecord {
	rows := report.TradeRows(trades)
	out := make([]TradeRecord, len(rows))
	for i, row := range rows {
		out[i] = TradeRecord{TradeRow: row}
	}
	return out
}

// BuildSnapshotRecords converts the value history into rows.
func BuildSnapshotRecords(history []types.Snapshot) []SnapshotRecord {
	rows := report.SnapshotRows(history)
	out := make([]SnapshotRecord, len(rows))
	for i, row := range rows {
		out[i] = SnapshotRecord{SnapshotRow: row}
	}
	return out
}

// BuildMetricRecords flattens both metric maps of r, sorted by source and
// name. NaN values are dropped.
func BuildMetricRecords(r *engine.Result) []MetricRecord {
	out := make([]MetricRecord, 0, len(r.Metrics)+len(r.Performance))
	add := func(source string, m map[string]float64) {
		for name, v := range m {
			if math.IsNaN(v) {
				continue
			}
			out = append(out, MetricRecord{Source: source, Name: name, Value: v})
		}
	}
	add(SourceSummary, r.Metrics)
	add(SourcePerformance, r.Performance)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AggregatePeriods groups sells by the month they closed in and computes
// per-month profit statistics. Buys only contribute their trading costs.
// Results are ordered by period.
func AggregatePeriods(trades []types.Trade) []PeriodAggregate {
	if len(trades) == 0 {
		return nil
	}

	type group struct {
		profits []float64
		taxes   float64
		costs   float64
		wins    int
	}
	groups := make(map[PeriodKey]*group)
	for _, t := range trades {
		key := PeriodKey{Year: t.Timestamp.Year(), Month: t.Timestamp.Month()}
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		g.costs += t.TradingCost.InexactFloat64()
		if t.Side != types.SideSell {
			continue
		}
		p := t.Profit.InexactFloat64()
		g.profits = append(g.profits, p)
		g.taxes += t.TaxPaid.InexactFloat64()
		if p > 0 {
			g.wins++
		}
	}

	out := make([]PeriodAggregate, 0, len(groups))
	for key, g := range groups {
		var sum float64
		for _, p := range g.profits {
			sum += p
		}
		out = append(out, PeriodAggregate{
			Period:       key,
			NumSells:     len(g.profits),
			Wins:         g.wins,
			ProfitSum:    sum,
			ProfitMean:   mean(g.profits),
			ProfitStd:    stddev(g.profits),
			TaxesPaid:    g.taxes,
			TradingCosts: g.costs,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Period, out[j].Period
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
	return out
}

// Start returns the first instant of the period in UTC.
func (k PeriodKey) Start() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// mean computes the arithmetic mean of a float64 slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev computes the population standard deviation, 0 for fewer than two
// values.
func stddev(values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}
	m := mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n))
}
