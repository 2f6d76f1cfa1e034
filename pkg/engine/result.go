package engine

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SebStoll/stocks-backtesting/pkg/metrics"
	"github.com/SebStoll/stocks-backtesting/pkg/portfolio"
	"github.com/SebStoll/stocks-backtesting/pkg/strategy"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// Result is the outcome of one backtest. Its metrics are computed once when
// the run completes; the portfolio should be treated as read-only. The
// portfolio is the engine's own, so a Result's ledger views are only valid
// until that engine runs again.
type Result struct {
	Symbol       string
	StrategyName string
	Parameters   map[string]any
	Bars         []types.Bar
	Portfolio    *portfolio.Portfolio

	// Metrics is the engine summary: annualised return compounds the mean
	// per-step return.
	Metrics map[string]float64

	// Performance is the full metric set: annualised return scales the total
	// return by the number of value observations.
	Performance map[string]float64

	StartedAt  time.Time
	FinishedAt time.Time
}

func newResult(e *Engine, bars []types.Bar, strat strategy.Strategy, startedAt time.Time) *Result {
	p := e.portfolio
	values := p.Values()
	trades := p.Trades()
	initial := p.InitialCapital().InexactFloat64()
	st := p.Stats()

	totals := metrics.LedgerTotals{
		TotalTrades:   st.TotalTrades,
		WinningTrades: st.WinningTrades,
		TradingCosts:  st.TotalTradingCosts.InexactFloat64(),
		Taxes:         st.TotalTaxes.InexactFloat64(),
	}
	calc := metrics.NewCalculator(e.cfg.RiskFreeRate)

	return &Result{
		Symbol:       e.cfg.Symbol,
		StrategyName: strat.Name(),
		Parameters:   maps.Clone(strat.Parameters()),
		Bars:         bars,
		Portfolio:    p,
		Metrics:      metrics.Summary(values, initial, totals, e.cfg.RiskFreeRate),
		Performance:  calc.All(values, trades, initial),
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
	}
}

// Trades returns the executed trades in order.
func (r *Result) Trades() []types.Trade { return r.Portfolio.Trades() }

// History returns the recorded portfolio snapshots.
func (r *Result) History() []types.Snapshot { return r.Portfolio.History() }

// Values returns the snapshot values as float64.
func (r *Result) Values() []float64 { return r.Portfolio.Values() }

// Returns returns the per-step returns of the value history.
func (r *Result) Returns() []float64 { return metrics.Returns(r.Values()) }

// InitialCapital returns the starting cash.
func (r *Result) InitialCapital() decimal.Decimal { return r.Portfolio.InitialCapital() }

// FinalValue returns the last recorded portfolio value.
func (r *Result) FinalValue() decimal.Decimal {
	h := r.Portfolio.History()
	if len(h) == 0 {
		return r.Portfolio.InitialCapital()
	}
	return h[len(h)-1].Value
}

// Stats returns the ledger counters.
func (r *Result) Stats() portfolio.Stats { return r.Portfolio.Stats() }

// Rolling returns trailing-window statistics over the run's returns.
func (r *Result) Rolling(window int, riskFreeRate float64) []metrics.RollingPoint {
	return metrics.Rolling(r.Returns(), window, riskFreeRate)
}

// CompareWith compares this run's returns with a benchmark run's.
func (r *Result) CompareWith(benchmark *Result, riskFreeRate float64) (metrics.BenchmarkComparison, bool) {
	return metrics.CompareWithBenchmark(r.Returns(), benchmark.Returns(), riskFreeRate)
}
