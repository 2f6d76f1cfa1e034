// Package indicators computes technical indicator series from closing prices.
//
// Every function returns a slice aligned with its input. Positions where the
// indicator is not yet defined (warm-up) hold NaN.
package indicators

import (
	"math"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// Closes extracts the closing prices of bars.
func Closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Valid reports whether v is a usable indicator value.
func Valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SMA returns the simple moving average over window values.
func SMA(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// RollingStd returns the sample standard deviation (n-1 denominator) over
// window values. Undefined for windows shorter than 2.
func RollingStd(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		seg := values[i-window+1 : i+1]
		var mean float64
		for _, v := range seg {
			mean += v
		}
		mean /= float64(window)
		var ss float64
		for _, v := range seg {
			ss += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(ss / float64(window-1))
	}
	return out
}

// EMA returns the exponentially weighted mean with alpha = 2/(span+1).
// Weights are normalised over the observations seen so far, so the first
// value equals the first input and no warm-up NaNs are produced.
func EMA(values []float64, span int) []float64 {
	out := nanSlice(len(values))
	if span < 1 {
		return out
	}
	decay := 1 - 2/(float64(span)+1)
	var num, den float64
	for i, v := range values {
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}

// RSI returns the relative strength index using rolling-mean average gain
// and loss over period changes. A window with no losses yields 100; a window
// with neither gains nor losses is undefined.
func RSI(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if period <= 0 || n == 0 {
		return out
	}

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else if delta < 0 {
			losses[i] = -delta
		}
	}

	avgGain := SMA(gains, period)
	avgLoss := SMA(losses, period)
	for i := range out {
		g, l := avgGain[i], avgLoss[i]
		if math.IsNaN(g) || math.IsNaN(l) {
			continue
		}
		switch {
		case l == 0 && g == 0:
			// undefined
		case l == 0:
			out[i] = 100
		default:
			rs := g / l
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// MACD returns the MACD line (fast EMA minus slow EMA), its signal EMA and
// the histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig = EMA(line, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// Bollinger returns bands at numStd sample standard deviations around the
// window-period SMA.
func Bollinger(closes []float64, window int, numStd float64) (upper, middle, lower []float64) {
	middle = SMA(closes, window)
	std := RollingStd(closes, window)
	upper = make([]float64, len(closes))
	lower = make([]float64, len(closes))
	for i := range closes {
		upper[i] = middle[i] + numStd*std[i]
		lower[i] = middle[i] - numStd*std[i]
	}
	return upper, middle, lower
}

// ZScore returns (value - SMA) / rolling std over window values.
func ZScore(values []float64, window int) []float64 {
	mean := SMA(values, window)
	std := RollingStd(values, window)
	out := nanSlice(len(values))
	for i, v := range values {
		if Valid(mean[i]) && Valid(std[i]) && std[i] > 0 {
			out[i] = (v - mean[i]) / std[i]
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Crossovers
// ---------------------------------------------------------------------------

// CrossedAbove reports whether a moved from at-or-below b at idx-1 to
// strictly above b at idx. Undefined values never cross.
func CrossedAbove(a, b []float64, idx int) bool {
	if idx < 1 || idx >= len(a) || idx >= len(b) {
		return false
	}
	prevA, prevB, currA, currB := a[idx-1], b[idx-1], a[idx], b[idx]
	if !Valid(prevA) || !Valid(prevB) || !Valid(currA) || !Valid(currB) {
		return false
	}
	return prevA <= prevB && currA > currB
}

// CrossedBelow reports whether a moved from at-or-above b at idx-1 to
// strictly below b at idx.
func CrossedBelow(a, b []float64, idx int) bool {
	if idx < 1 || idx >= len(a) || idx >= len(b) {
		return false
	}
	prevA, prevB, currA, currB := a[idx-1], b[idx-1], a[idx], b[idx]
	if !Valid(prevA) || !Valid(prevB) || !Valid(currA) || !Valid(currB) {
		return false
	}
	return prevA >= prevB && currA < currB
}

// Last returns the final element of s, or NaN when s is empty.
func Last(s []float64) float64 {
	if len(s) == 0 {
		return math.NaN()
	}
	return s[len(s)-1]
}
