package metrics

import (
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// Calculator computes the full metric set with a configured risk-free rate.
type Calculator struct {
	RiskFreeRate float64
}

// NewCalculator returns a Calculator using riskFreeRate.
func NewCalculator(riskFreeRate float64) *Calculator {
	return &Calculator{RiskFreeRate: riskFreeRate}
}

// All computes return, risk, trade and distribution metrics. Annualised
// return here uses the observation-count form; see Summary for the
// mean-compounding form.
func (c *Calculator) All(values []float64, trades []types.Trade, initialCapital float64) map[string]float64 {
	out := make(map[string]float64, 32)
	returns := Returns(values)

	var final float64
	if len(values) > 0 {
		final = values[len(values)-1]
	}
	total := TotalReturn(final, initialCapital)
	out["total_return"] = total
	out["annualized_return"] = AnnualizedFromTotalReturn(total, len(values))
	out["final_value"] = final
	out["initial_capital"] = initialCapital

	maxDD := MaxDrawdown(values)
	out["volatility"] = Volatility(returns)
	out["sharpe_ratio"] = SharpeRatio(returns, c.RiskFreeRate)
	out["sortino_ratio"] = SortinoRatio(returns, c.RiskFreeRate)
	out["max_drawdown"] = maxDD
	out["calmar_ratio"] = CalmarRatio(returns, maxDD)
	out["recovery_factor"] = RecoveryFactor(returns, maxDD)
	out["var_95"] = VaR(returns, 5)
	out["cvar_95"] = CVaR(returns, 5)
	out["skewness"] = Skewness(returns)
	out["kurtosis"] = Kurtosis(returns)

	st := ComputeTradeStats(RealizedProfits(trades))
	out["closed_trades"] = float64(st.Trades)
	out["winning_trades"] = float64(st.Winning)
	out["losing_trades"] = float64(st.Losing)
	out["win_rate"] = st.WinRate
	out["profit_factor"] = st.ProfitFactor
	out["avg_win"] = st.AvgWin
	out["avg_loss"] = st.AvgLoss
	out["largest_win"] = st.LargestWin
	out["largest_loss"] = st.LargestLoss
	return out
}

// LedgerTotals are the cumulative ledger figures reported in a summary.
type LedgerTotals struct {
	TotalTrades   int
	WinningTrades int
	TradingCosts  float64
	Taxes         float64
}

// Summary computes the engine-level metric mapping. Annualised return
// compounds the mean per-step return; win_rate is winning sells over every
// recorded trade, buys included.
func Summary(values []float64, initialCapital float64, totals LedgerTotals, riskFreeRate float64) map[string]float64 {
	returns := Returns(values)
	var final float64
	if len(values) > 0 {
		final = values[len(values)-1]
	}

	return map[string]float64{
		"total_return":             TotalReturn(final, initialCapital),
		"annualized_return":        AnnualizedFromMeanReturn(returns),
		"volatility":               Volatility(returns),
		"sharpe_ratio":             SharpeRatio(returns, riskFreeRate),
		"max_drawdown":             MaxDrawdown(values),
		"win_rate":                 float64(totals.WinningTrades) / float64(max(totals.TotalTrades, 1)),
		"total_trades":             float64(totals.TotalTrades),
		"total_commission_paid":    totals.TradingCosts,
		"total_trading_costs_paid": totals.TradingCosts,
		"total_taxes_paid":         totals.Taxes,
		"final_portfolio_value":    final,
	}
}
