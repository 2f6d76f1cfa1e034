package indicators

import (
	"math"
	"testing"
)

const eps = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Errorf("warm-up values should be NaN: %v", got)
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !approx(got[i+2], w) {
			t.Errorf("SMA[%d] = %f, want %f", i+2, got[i+2], w)
		}
	}
}

func TestRollingStd(t *testing.T) {
	got := RollingStd([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8)
	// sample std of the classic example is sqrt(32/7)
	if !approx(got[7], math.Sqrt(32.0/7.0)) {
		t.Errorf("RollingStd = %f, want %f", got[7], math.Sqrt(32.0/7.0))
	}
	if !math.IsNaN(RollingStd([]float64{1, 2}, 1)[1]) {
		t.Error("window below 2 should be undefined")
	}
}

func TestEMAAdjusted(t *testing.T) {
	// span 3 => alpha 0.5, decay 0.5
	got := EMA([]float64{1, 2, 3}, 3)
	if !approx(got[0], 1) {
		t.Errorf("EMA[0] = %f, want 1", got[0])
	}
	// (2 + 0.5*1) / 1.5
	if !approx(got[1], 2.5/1.5) {
		t.Errorf("EMA[1] = %f, want %f", got[1], 2.5/1.5)
	}
	// (3 + 0.5*2 + 0.25*1) / 1.75
	if !approx(got[2], 4.25/1.75) {
		t.Errorf("EMA[2] = %f, want %f", got[2], 4.25/1.75)
	}
}

func TestRSI(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6}
	got := RSI(rising, 3)
	if !math.IsNaN(got[1]) {
		t.Errorf("RSI[1] should be warm-up NaN, got %f", got[1])
	}
	if !approx(got[5], 100) {
		t.Errorf("RSI of a monotonic rise = %f, want 100", got[5])
	}

	flat := []float64{5, 5, 5, 5, 5}
	if v := RSI(flat, 3)[4]; !math.IsNaN(v) {
		t.Errorf("RSI of a flat series = %f, want NaN", v)
	}

	mixed := []float64{10, 11, 10, 11, 10}
	// last 3 changes: -1, +1, -1 => avg gain 1/3, avg loss 2/3 => rs 0.5
	if v := RSI(mixed, 3)[4]; !approx(v, 100-100/1.5) {
		t.Errorf("RSI = %f, want %f", v, 100-100/1.5)
	}
}

func TestMACD(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	line, sig, hist := MACD(closes, 12, 26, 9)
	if len(line) != 40 || len(sig) != 40 || len(hist) != 40 {
		t.Fatal("MACD outputs must align with input")
	}
	if line[39] <= 0 {
		t.Errorf("uptrend MACD line = %f, want positive", line[39])
	}
	if !approx(hist[39], line[39]-sig[39]) {
		t.Error("histogram must equal line minus signal")
	}
}

func TestBollinger(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	upper, middle, lower := Bollinger(closes, 5, 2)
	std := math.Sqrt(2.5)
	if !approx(middle[4], 3) || !approx(upper[4], 3+2*std) || !approx(lower[4], 3-2*std) {
		t.Errorf("bands = %f/%f/%f", upper[4], middle[4], lower[4])
	}
}

func TestZScore(t *testing.T) {
	z := ZScore([]float64{1, 2, 3, 4, 5}, 5)
	if !approx(z[4], 2/math.Sqrt(2.5)) {
		t.Errorf("ZScore = %f", z[4])
	}
	if !math.IsNaN(ZScore([]float64{3, 3, 3}, 3)[2]) {
		t.Error("zero-variance window should be undefined")
	}
}

func TestCrossovers(t *testing.T) {
	a := []float64{1, 2, 4, 3}
	b := []float64{2, 2, 3, 3.5}
	if CrossedAbove(a, b, 1) {
		t.Error("equal is not above")
	}
	if !CrossedAbove(a, b, 2) {
		t.Error("expected cross above at 2")
	}
	if !CrossedBelow(a, b, 3) {
		t.Error("expected cross below at 3")
	}
	if CrossedAbove(a, b, 0) {
		t.Error("no cross possible at index 0")
	}
	nan := []float64{math.NaN(), 5}
	if CrossedAbove(nan, []float64{1, 1}, 1) {
		t.Error("undefined values must not cross")
	}
}
