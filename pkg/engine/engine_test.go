package engine

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SebStoll/stocks-backtesting/pkg/strategy"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// makeBars generates daily bars with a linear close series.
func makeBars(n int, startPrice, step float64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		price := startPrice + float64(i)*step
		bars[i] = types.Bar{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:      price - 0.2,
			High:      price + 1.0,
			Low:       price - 1.0,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func barsFromCloses(closes ...float64) []types.Bar {
	bars := makeBars(len(closes), 0, 0)
	for i, c := range closes {
		bars[i].Close = c
	}
	return bars
}

func frictionless() Config {
	cfg := DefaultConfig()
	cfg.TradingCosts = types.TradingCostConfig{CostType: types.CostPercentage}
	cfg.Tax = types.TaxConfig{}
	return cfg
}

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, newTestLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// scripted emits a fixed signal per bar index and records what it saw.
type scripted struct {
	strategy.Base
	script  map[int]types.Signal
	seenMax []int
}

func newScripted(script map[int]types.Signal) *scripted {
	return &scripted{Base: strategy.NewBase("scripted", "AAPL"), script: script}
}

func (s *scripted) Initialize([]types.Bar) { s.seenMax = nil }

func (s *scripted) GenerateSignals(bars []types.Bar) map[string]types.Signal {
	i := len(bars) - 1
	s.seenMax = append(s.seenMax, len(bars))
	if sig, ok := s.script[i]; ok {
		return map[string]types.Signal{"AAPL": sig}
	}
	return map[string]types.Signal{"AAPL": types.Hold}
}

func (s *scripted) Parameters() map[string]any { return map[string]any{} }

func TestEmptyBars(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	_, err := e.Run(nil, strategy.NewBuyAndHold("AAPL"))
	if !errors.Is(err, ErrEmptyRange) {
		t.Fatalf("err = %v, want ErrEmptyRange", err)
	}
	if e.State() != StateFailed {
		t.Errorf("state = %s, want failed", e.State())
	}
}

func TestDateRangeOutsideData(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	bars := makeBars(10, 100, 1)
	_, err := e.Run(bars, strategy.NewBuyAndHold("AAPL"),
		WithDateRange(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{}))
	if !errors.Is(err, ErrEmptyRange) {
		t.Fatalf("err = %v, want ErrEmptyRange", err)
	}
}

func TestDateRangeFilters(t *testing.T) {
	e := mustEngine(t, frictionless())
	bars := makeBars(10, 100, 1)
	res, err := e.Run(bars, strategy.NewBuyAndHold("AAPL"),
		WithDateRange(bars[2].Timestamp, bars[5].Timestamp))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bars) != 4 {
		t.Errorf("bars = %d, want 4", len(res.Bars))
	}
	if got := res.Trades()[0].Price; !got.Equal(decimal.NewFromInt(102)) {
		t.Errorf("entry price = %s, want 102", got)
	}
}

func TestUnorderedBarsRejected(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	bars := makeBars(3, 100, 1)
	bars[2].Timestamp = bars[0].Timestamp
	if _, err := e.Run(bars, strategy.NewBuyAndHold("AAPL")); !errors.Is(err, types.ErrUnorderedBars) {
		t.Fatalf("err = %v, want ErrUnorderedBars", err)
	}
}

func TestMissingPriceIsFatal(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	bars := makeBars(3, 100, 1)
	bars[1].Close = math.NaN()
	if _, err := e.Run(bars, strategy.NewBuyAndHold("AAPL")); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("err = %v, want ErrNoPrice", err)
	}
}

func TestBuyAndHoldSizing(t *testing.T) {
	e := mustEngine(t, frictionless())
	res, err := e.Run(makeBars(5, 100, 10), strategy.NewBuyAndHold("AAPL"))
	if err != nil {
		t.Fatal(err)
	}
	trades := res.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	// floor(10000 * 0.95 / 100) = 95
	if trades[0].Shares != 95 {
		t.Errorf("shares = %d, want 95", trades[0].Shares)
	}
	// 500 cash + 95 * 140
	if !res.FinalValue().Equal(decimal.NewFromInt(13800)) {
		t.Errorf("final value = %s, want 13800", res.FinalValue())
	}
	if e.State() != StateCompleted {
		t.Errorf("state = %s, want completed", e.State())
	}
}

func TestSnapshotsPerBarPlusFinal(t *testing.T) {
	e := mustEngine(t, frictionless())
	bars := makeBars(6, 100, 1)
	res, err := e.Run(bars, strategy.NewBuyAndHold("AAPL"))
	if err != nil {
		t.Fatal(err)
	}
	h := res.History()
	if len(h) != len(bars)+1 {
		t.Fatalf("snapshots = %d, want %d", len(h), len(bars)+1)
	}
	if !h[len(h)-1].Timestamp.Equal(bars[len(bars)-1].Timestamp) {
		t.Error("final snapshot should carry the last bar's timestamp")
	}
	// The first snapshot precedes the first buy.
	if !h[0].Value.Equal(decimal.NewFromInt(10000)) || h[0].TotalTrades != 0 {
		t.Errorf("first snapshot = %+v", h[0])
	}
}

func TestFinalBarTradeReflected(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	bars := makeBars(3, 100, 0)
	res, err := e.Run(bars, newScripted(map[int]types.Signal{0: types.Buy, 2: types.Sell}))
	if err != nil {
		t.Fatal(err)
	}
	if pos := res.Portfolio.PositionSize("AAPL"); pos != 0 {
		t.Fatalf("position = %d, want flat", pos)
	}
	if !res.FinalValue().Equal(res.Portfolio.Cash()) {
		t.Errorf("final value %s should equal cash %s after final-bar sale", res.FinalValue(), res.Portfolio.Cash())
	}
	if res.Metrics["final_portfolio_value"] != res.Portfolio.Cash().InexactFloat64() {
		t.Error("summary final value must include the final-bar sale")
	}
}

func TestBuyOnlyWhenFlat(t *testing.T) {
	e := mustEngine(t, frictionless())
	res, err := e.Run(makeBars(5, 100, 1), newScripted(map[int]types.Signal{
		0: types.Buy, 1: types.Buy, 2: types.Sell, 3: types.Sell, 4: types.Buy,
	}))
	if err != nil {
		t.Fatal(err)
	}
	trades := res.Trades()
	if len(trades) != 3 {
		t.Fatalf("trades = %d, want 3 (buy, sell, buy)", len(trades))
	}
	if trades[0].Side != types.SideBuy || trades[1].Side != types.SideSell || trades[2].Side != types.SideBuy {
		t.Errorf("unexpected sides: %s %s %s", trades[0].Side, trades[1].Side, trades[2].Side)
	}
	if trades[1].Shares != trades[0].Shares {
		t.Error("SELL must exit the whole position")
	}
}

func TestWinRateCountsEveryTrade(t *testing.T) {
	e := mustEngine(t, frictionless())
	res, err := e.Run(barsFromCloses(100, 120, 120), newScripted(map[int]types.Signal{0: types.Buy, 1: types.Sell}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Metrics["total_trades"] != 2 {
		t.Fatalf("total_trades = %f, want 2", res.Metrics["total_trades"])
	}
	if got := res.Metrics["win_rate"]; got != 0.5 {
		t.Errorf("summary win_rate = %f, want 1 winning / 2 trades", got)
	}
	if got := res.Performance["win_rate"]; got != 1 {
		t.Errorf("per-sale win_rate = %f, want 1", got)
	}
}

func TestEngineInjectsLoggerIntoStrategy(t *testing.T) {
	logger := newTestLogger()
	e, err := NewEngine(frictionless(), logger)
	if err != nil {
		t.Fatal(err)
	}
	s := newScripted(nil)
	if _, err := e.Run(makeBars(3, 100, 1), s); err != nil {
		t.Fatal(err)
	}
	if s.Logger() != logger {
		t.Error("strategy should log through the engine's logger")
	}
}

func TestCausality(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	s := newScripted(nil)
	bars := makeBars(20, 100, 1)
	if _, err := e.Run(bars, s); err != nil {
		t.Fatal(err)
	}
	if len(s.seenMax) != len(bars) {
		t.Fatalf("strategy called %d times, want %d", len(s.seenMax), len(bars))
	}
	for i, n := range s.seenMax {
		if n != i+1 {
			t.Errorf("call %d saw %d bars, want %d", i, n, i+1)
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	strat, err := strategy.NewMovingAverage("AAPL", strategy.MovingAverageParams{ShortWindow: 3, LongWindow: 8})
	if err != nil {
		t.Fatal(err)
	}
	bars := make([]types.Bar, 0, 60)
	for i, b := range makeBars(60, 100, 0) {
		b.Close = 100 + 10*math.Sin(float64(i)/4)
		bars = append(bars, b)
	}

	first, err := e.Run(bars, strat)
	if err != nil {
		t.Fatal(err)
	}
	firstTrades := first.Trades()
	firstValue := first.FinalValue()
	firstMetrics := first.Metrics

	second, err := e.Run(bars, strat)
	if err != nil {
		t.Fatal(err)
	}
	if len(firstTrades) == 0 {
		t.Fatal("expected the oscillating series to trigger trades")
	}
	if len(second.Trades()) != len(firstTrades) {
		t.Fatalf("trade count %d vs %d", len(second.Trades()), len(firstTrades))
	}
	if !second.FinalValue().Equal(firstValue) {
		t.Errorf("final value %s vs %s", second.FinalValue(), firstValue)
	}
	for k, v := range firstMetrics {
		if second.Metrics[k] != v {
			t.Errorf("metric %s: %f vs %f", k, second.Metrics[k], v)
		}
	}
}

func TestSingleBarDegenerateMetrics(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	res, err := e.Run(makeBars(1, 100, 0), newScripted(nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Metrics["win_rate"] != 0 || res.Metrics["sharpe_ratio"] != 0 {
		t.Errorf("metrics = %v", res.Metrics)
	}
	if res.Performance["win_rate"] != 0 || res.Performance["sharpe_ratio"] != 0 {
		t.Errorf("performance = %v", res.Performance)
	}
}

func TestRejectedBuyIsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCapital = 50
	cfg.TradingCosts = types.TradingCostConfig{CostType: types.CostFixed, FixedAmount: 10, ApplyOnBuy: true, ApplyOnSell: true}
	e := mustEngine(t, cfg)
	// floor(50*0.95/45) = 1 share, but the fixed cost lifts the total to 55.
	res, err := e.Run(barsFromCloses(45, 45, 45), newScripted(map[int]types.Signal{0: types.Buy}))
	if err != nil {
		t.Fatalf("rejection must not abort the run: %v", err)
	}
	if len(res.Trades()) != 0 {
		t.Errorf("trades = %d, want 0", len(res.Trades()))
	}
	if !res.FinalValue().Equal(decimal.NewFromInt(50)) {
		t.Errorf("final value = %s, want 50", res.FinalValue())
	}
}

func TestSignalsForOtherSymbolsIgnored(t *testing.T) {
	e := mustEngine(t, frictionless())
	s := &otherSymbol{Base: strategy.NewBase("other", "MSFT")}
	res, err := e.Run(makeBars(3, 100, 1), s)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades()) != 0 {
		t.Error("signals for an unpriced symbol must be ignored")
	}
}

type otherSymbol struct{ strategy.Base }

func (s *otherSymbol) GenerateSignals([]types.Bar) map[string]types.Signal {
	return map[string]types.Signal{"MSFT": types.Buy}
}

func (s *otherSymbol) Parameters() map[string]any { return nil }

func TestNewEngineRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CashBuffer = 1.5
	if _, err := NewEngine(cfg, nil); err == nil {
		t.Error("expected error for cash buffer above 1")
	}
	cfg = DefaultConfig()
	cfg.Tax.Rate = -0.1
	if _, err := NewEngine(cfg, nil); err == nil {
		t.Error("expected error for negative tax rate")
	}
}

func TestResultBenchmarkComparison(t *testing.T) {
	bars := make([]types.Bar, 0, 30)
	for i, b := range makeBars(30, 100, 0) {
		b.Close = 100 + 5*math.Sin(float64(i)/3) + float64(i)
		bars = append(bars, b)
	}
	a, err := mustEngine(t, frictionless()).Run(bars, strategy.NewBuyAndHold("AAPL"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := mustEngine(t, frictionless()).Run(bars, strategy.NewBuyAndHold("AAPL"))
	if err != nil {
		t.Fatal(err)
	}
	cmp, ok := a.CompareWith(b, 0.02)
	if !ok {
		t.Fatal("expected a comparison")
	}
	if math.Abs(cmp.Correlation-1) > 1e-9 || cmp.TrackingError != 0 {
		t.Errorf("identical runs: %+v", cmp)
	}
}
