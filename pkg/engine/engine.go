// Package engine implements the bar-by-bar backtest loop.
//
// At each bar the engine marks the portfolio to the bar's close, asks the
// strategy for signals using only bars up to and including the current one,
// and executes them at that close. BUY opens a position only when flat,
// sized to a fixed fraction of cash; SELL exits the whole position. After the
// last bar the portfolio is marked once more so the final value reflects any
// trade made on that bar.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SebStoll/stocks-backtesting/pkg/metrics"
	"github.com/SebStoll/stocks-backtesting/pkg/portfolio"
	"github.com/SebStoll/stocks-backtesting/pkg/strategy"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

var (
	// ErrEmptyRange is returned when no bars remain after date filtering.
	ErrEmptyRange = errors.New("no data available for the specified date range")

	// ErrNoPrice is returned when a bar has no usable closing price.
	ErrNoPrice = errors.New("no price available for bar")
)

// DefaultCashBuffer is the fraction of cash committed to a new position.
const DefaultCashBuffer = 0.95

// Config configures an Engine.
type Config struct {
	InitialCapital float64
	Symbol         string
	TradingCosts   types.TradingCostConfig
	Tax            types.TaxConfig

	// CashBuffer is the fraction of cash a BUY may spend. Zero means
	// DefaultCashBuffer.
	CashBuffer float64

	RiskFreeRate float64
}

// DefaultConfig returns 10,000 of capital, default costs and tax, and a 2%
// risk-free rate.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10000,
		Symbol:         strategy.DefaultSymbol,
		TradingCosts:   types.DefaultTradingCostConfig(),
		Tax:            types.DefaultTaxConfig(),
		CashBuffer:     DefaultCashBuffer,
		RiskFreeRate:   metrics.DefaultRiskFreeRate,
	}
}

// State is the lifecycle phase of the engine's latest run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Engine owns one Portfolio and runs strategies against bar series. An
// Engine must not run two backtests concurrently.
type Engine struct {
	cfg       Config
	portfolio *portfolio.Portfolio
	buffer    decimal.Decimal
	state     State
	logger    *slog.Logger
}

// NewEngine validates cfg and creates an Engine with a fresh Portfolio.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Symbol == "" {
		cfg.Symbol = strategy.DefaultSymbol
	}
	if cfg.CashBuffer == 0 {
		cfg.CashBuffer = DefaultCashBuffer
	}
	if cfg.CashBuffer < 0 || cfg.CashBuffer > 1 {
		return nil, fmt.Errorf("cash buffer must be in (0, 1], got %f", cfg.CashBuffer)
	}

	p, err := portfolio.New(cfg.InitialCapital, cfg.TradingCosts, cfg.Tax, logger)
	if err != nil {
		return nil, fmt.Errorf("creating portfolio: %w", err)
	}

	logger.Info("Engine initialised",
		"symbol", cfg.Symbol,
		"initial_capital", cfg.InitialCapital,
		"cost_type", cfg.TradingCosts.CostType,
		"tax_rate", cfg.Tax.Rate,
	)
	return &Engine{
		cfg:       cfg,
		portfolio: p,
		buffer:    decimal.NewFromFloat(cfg.CashBuffer),
		state:     StateIdle,
		logger:    logger,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Portfolio returns the ledger of the latest run.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.portfolio }

// State returns the lifecycle phase of the latest run.
func (e *Engine) State() State { return e.state }

// RunOption adjusts a single run.
type RunOption func(*runOptions)

type runOptions struct {
	start, end time.Time
}

// WithDateRange restricts the run to bars in [start, end]. Zero times are
// unbounded.
func WithDateRange(start, end time.Time) RunOption {
	return func(o *runOptions) {
		o.start = start
		o.end = end
	}
}

// Run backtests strat over bars and returns the result. The portfolio is
// reset first, so repeated runs with identical inputs give identical results.
func (e *Engine) Run(bars []types.Bar, strat strategy.Strategy, opts ...RunOption) (*Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	e.state = StateRunning
	res, err := e.run(bars, strat, o)
	if err != nil {
		e.state = StateFailed
		e.logger.Error("Backtest failed", "strategy", strat.Name(), "error", err)
		return nil, err
	}
	e.state = StateCompleted
	return res, nil
}

func (e *Engine) run(bars []types.Bar, strat strategy.Strategy, o runOptions) (*Result, error) {
	bars = types.FilterBars(bars, o.start, o.end)
	if len(bars) == 0 {
		return nil, ErrEmptyRange
	}
	if err := types.ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("validating bars: %w", err)
	}

	e.portfolio.Reset()
	if ls, ok := strat.(strategy.LoggerSetter); ok {
		ls.SetLogger(e.logger)
	}
	strat.Initialize(bars)

	e.logger.Info("Backtest started",
		"strategy", strat.Name(),
		"symbol", e.cfg.Symbol,
		"bars", len(bars),
		"start", bars[0].Timestamp.Format("2006-01-02"),
		"end", bars[len(bars)-1].Timestamp.Format("2006-01-02"),
	)
	startedAt := time.Now()

	var prices map[string]float64
	for i, bar := range bars {
		price := bar.Close
		if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			return nil, fmt.Errorf("%w: %s at %s", ErrNoPrice, e.cfg.Symbol, bar.Timestamp.Format(time.RFC3339))
		}
		prices = map[string]float64{e.cfg.Symbol: price}

		e.portfolio.UpdateValue(prices, bar.Timestamp)

		signals := strat.GenerateSignals(bars[:i+1])
		e.execute(signals, prices, bar.Timestamp)
	}

	last := bars[len(bars)-1]
	e.portfolio.UpdateValue(prices, last.Timestamp)

	res := newResult(e, bars, strat, startedAt)
	e.logger.Info("Backtest completed",
		"strategy", strat.Name(),
		"trades", len(res.Trades()),
		"final_value", res.FinalValue().StringFixed(2),
		"total_return", res.Metrics["total_return"],
		"elapsed", time.Since(startedAt),
	)
	return res, nil
}

// execute applies signals in symbol order. Rejected orders are logged and
// skipped; they never abort the run.
func (e *Engine) execute(signals map[string]types.Signal, prices map[string]float64, ts time.Time) {
	symbols := make([]string, 0, len(signals))
	for sym := range signals {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		sig := signals[sym]
		if sig == types.Hold {
			continue
		}
		price, ok := prices[sym]
		if !ok {
			e.logger.Debug("Ignoring signal for unpriced symbol", "symbol", sym, "signal", sig)
			continue
		}

		switch sig {
		case types.Buy:
			e.buy(sym, price, ts)
		case types.Sell:
			e.sell(sym, price, ts)
		default:
			e.logger.Warn("Unknown signal", "symbol", sym, "signal", sig)
		}
	}
}

func (e *Engine) buy(sym string, price float64, ts time.Time) {
	if e.portfolio.PositionSize(sym) != 0 {
		return
	}
	budget := e.portfolio.Cash().Mul(e.buffer)
	shares := budget.Div(decimal.NewFromFloat(price)).Floor().IntPart()
	if shares <= 0 {
		e.logger.Debug("Cash too low for one share", "symbol", sym, "price", price)
		return
	}
	if !e.portfolio.CanBuy(sym, shares, price) {
		e.logger.Warn("Insufficient funds to buy",
			"symbol", sym, "shares", shares, "price", price,
			"cash", e.portfolio.Cash().StringFixed(2),
		)
		return
	}
	if _, err := e.portfolio.Buy(sym, shares, price, ts); err != nil {
		e.logger.Warn("Buy rejected", "symbol", sym, "shares", shares, "error", err)
	}
}

func (e *Engine) sell(sym string, price float64, ts time.Time) {
	shares := e.portfolio.PositionSize(sym)
	if shares <= 0 {
		return
	}
	if _, err := e.portfolio.Sell(sym, shares, price, ts); err != nil {
		e.logger.Warn("Sell rejected", "symbol", sym, "shares", shares, "error", err)
	}
}
