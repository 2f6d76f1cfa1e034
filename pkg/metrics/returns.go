// Package metrics computes performance statistics from a portfolio value
// history and its realized trades.
//
// Degenerate inputs (empty or single-point series, zero variance, no losing
// trades) yield defined values rather than errors: 0 in general and +Inf for
// a profit factor with wins but no losses.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear annualises per-step statistics.
const TradingDaysPerYear = 252

// DefaultRiskFreeRate is the annual risk-free rate used by Sharpe and Sortino.
const DefaultRiskFreeRate = 0.02

// Returns converts a value series into simple per-step returns. A step from
// a non-positive value is skipped.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, (values[i]-prev)/prev)
	}
	return out
}

// TotalReturn is (final - initial) / initial, or 0 without capital.
func TotalReturn(final, initial float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (final - initial) / initial
}

// AnnualizedFromMeanReturn compounds the mean per-step return over a trading
// year: (1 + mean)^252 - 1. This is the engine summary form.
func AnnualizedFromMeanReturn(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return math.Pow(1+mean(returns), TradingDaysPerYear) - 1
}

// AnnualizedFromTotalReturn scales the total return by the number of
// observations: (1 + total)^(252/n) - 1. Zero for n <= 1.
func AnnualizedFromTotalReturn(totalReturn float64, n int) float64 {
	if n <= 1 || totalReturn <= -1 {
		return 0
	}
	return math.Pow(1+totalReturn, TradingDaysPerYear/float64(n)) - 1
}

// Volatility is the annualised sample standard deviation of returns.
func Volatility(returns []float64) float64 {
	return stdDev(returns) * math.Sqrt(TradingDaysPerYear)
}

// SharpeRatio is (mean x 252 - rf) / volatility, or 0 when volatility is 0.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	vol := Volatility(returns)
	if len(returns) == 0 || vol == 0 || math.IsNaN(vol) {
		return 0
	}
	return (mean(returns)*TradingDaysPerYear - riskFreeRate) / vol
}

// SortinoRatio divides the annualised excess return by the annualised sample
// deviation of negative returns only. Zero with fewer than two negative returns.
func SortinoRatio(returns []float64, riskFreeRate float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	dd := stdDev(downside) * math.Sqrt(TradingDaysPerYear)
	if dd <= 0 {
		return 0
	}
	return (mean(returns)*TradingDaysPerYear - riskFreeRate) / dd
}

// MaxDrawdown is the largest fractional decline from a running peak of the
// value series, reported as a positive fraction.
func MaxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := values[0]
	var maxDD float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// MaxDrawdownFromReturns compounds returns into a growth curve starting at 1
// and measures its maximum drawdown.
func MaxDrawdownFromReturns(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	curve := make([]float64, len(returns)+1)
	curve[0] = 1
	for i, r := range returns {
		curve[i+1] = curve[i] * (1 + r)
	}
	return MaxDrawdown(curve)
}

// CalmarRatio is the annualised mean return over the maximum drawdown, or 0
// without a drawdown.
func CalmarRatio(returns []float64, maxDrawdown float64) float64 {
	if maxDrawdown <= 0 || len(returns) == 0 {
		return 0
	}
	return mean(returns) * TradingDaysPerYear / maxDrawdown
}

// RecoveryFactor reports the same ratio as CalmarRatio under its own name.
func RecoveryFactor(returns []float64, maxDrawdown float64) float64 {
	return CalmarRatio(returns, maxDrawdown)
}

// VaR returns the pct-th percentile of returns (e.g. 5 for 95% VaR), using
// linear interpolation between order statistics.
func VaR(returns []float64, pct float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	pos := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// CVaR is the mean of the returns at or below the pct-th percentile.
func CVaR(returns []float64, pct float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	threshold := VaR(returns, pct)
	var tail []float64
	for _, r := range returns {
		if r <= threshold {
			tail = append(tail, r)
		}
	}
	return mean(tail)
}

// Skewness is the adjusted Fisher-Pearson sample skewness. Zero for fewer
// than three observations or a constant series.
func Skewness(returns []float64) float64 {
	n := float64(len(returns))
	if n < 3 {
		return 0
	}
	m := mean(returns)
	var m2, m3 float64
	for _, r := range returns {
		d := r - m
		m2 += d * d
		m3 += d * d * d
	}
	m2 /= n
	m3 /= n
	if m2 == 0 {
		return 0
	}
	g1 := m3 / math.Pow(m2, 1.5)
	return g1 * math.Sqrt(n*(n-1)) / (n - 2)
}

// Kurtosis is the bias-corrected sample excess kurtosis. Zero for fewer than
// four observations or a constant series.
func Kurtosis(returns []float64) float64 {
	n := float64(len(returns))
	if n < 4 {
		return 0
	}
	m := mean(returns)
	var s2, s4 float64
	for _, r := range returns {
		d := r - m
		s2 += d * d
		s4 += d * d * d * d
	}
	variance := s2 / (n - 1)
	if variance == 0 {
		return 0
	}
	a := n * (n + 1) / ((n - 1) * (n - 2) * (n - 3))
	b := 3 * (n - 1) * (n - 1) / ((n - 2) * (n - 3))
	return a*s4/(variance*variance) - b
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// stdDev is the sample standard deviation; 0 for fewer than two values.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}
