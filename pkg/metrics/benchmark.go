package metrics

import (
	"gonum.org/v1/gonum/stat"
)

// BenchmarkComparison relates strategy returns to a benchmark's.
type BenchmarkComparison struct {
	TrackingError    float64
	InformationRatio float64
	Beta             float64
	Alpha            float64
	Correlation      float64
}

// CompareWithBenchmark aligns the two return series on their common prefix
// and compares them. ok is false when there is nothing to compare.
func CompareWithBenchmark(strategy, benchmark []float64, riskFreeRate float64) (cmp BenchmarkComparison, ok bool) {
	n := min(len(strategy), len(benchmark))
	if n < 2 {
		return cmp, false
	}
	s, b := strategy[:n], benchmark[:n]

	excess := make([]float64, n)
	for i := range s {
		excess[i] = s[i] - b[i]
	}
	cmp.TrackingError = Volatility(excess)
	if cmp.TrackingError > 0 {
		cmp.InformationRatio = mean(excess) * TradingDaysPerYear / cmp.TrackingError
	}

	// Beta divides the sample covariance by the population variance of the
	// benchmark, and alpha nets the annual risk-free rate from daily means.
	ms, mb := mean(s), mean(b)
	varS, varB := stat.PopVariance(s, nil), stat.PopVariance(b, nil)
	if varB > 0 {
		cmp.Beta = stat.Covariance(s, b, nil) / varB
	}
	if varS > 0 && varB > 0 {
		cmp.Correlation = stat.Correlation(s, b, nil)
	}
	cmp.Alpha = ((ms - riskFreeRate) - cmp.Beta*(mb-riskFreeRate)) * TradingDaysPerYear
	return cmp, true
}

// Map renders the comparison with its conventional metric names.
func (c BenchmarkComparison) Map() map[string]float64 {
	return map[string]float64{
		"tracking_error":    c.TrackingError,
		"information_ratio": c.InformationRatio,
		"beta":              c.Beta,
		"alpha":             c.Alpha,
		"correlation":       c.Correlation,
	}
}
