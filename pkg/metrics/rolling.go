package metrics

import (
	"math"
)

// DefaultRollingWindow is one trading year of observations.
const DefaultRollingWindow = 252

// RollingPoint holds the trailing-window statistics ending at Index.
type RollingPoint struct {
	Index       int
	Return      float64
	Volatility  float64
	Sharpe      float64
	MaxDrawdown float64
}

// Rolling computes annualised return, volatility, Sharpe and drawdown over
// each trailing window of returns. The first point ends at index window-1.
func Rolling(returns []float64, window int, riskFreeRate float64) []RollingPoint {
	if window < 2 || len(returns) < window {
		return nil
	}
	out := make([]RollingPoint, 0, len(returns)-window+1)
	for end := window; end <= len(returns); end++ {
		seg := returns[end-window : end]
		ret := mean(seg) * TradingDaysPerYear
		vol := Volatility(seg)
		sharpe := math.NaN()
		if vol > 0 {
			sharpe = (ret - riskFreeRate) / vol
		}
		out = append(out, RollingPoint{
			Index:       end - 1,
			Return:      ret,
			Volatility:  vol,
			Sharpe:      sharpe,
			MaxDrawdown: MaxDrawdownFromReturns(seg),
		})
	}
	return out
}
