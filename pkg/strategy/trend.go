package strategy

import (
	"fmt"

	"github.com/SebStoll/stocks-backtesting/pkg/indicators"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// ---------------------------------------------------------------------------
// Buy and hold
// ---------------------------------------------------------------------------

// BuyAndHold buys on the first bar and holds thereafter.
type BuyAndHold struct {
	Base
	bought bool
}

// NewBuyAndHold returns a BuyAndHold strategy for symbol.
func NewBuyAndHold(symbol string) *BuyAndHold {
	return &BuyAndHold{Base: NewBase("Buy and Hold", symbol)}
}

// Initialize rearms the single buy so repeated runs behave identically.
func (s *BuyAndHold) Initialize([]types.Bar) {
	s.bought = false
}

// GenerateSignals emits BUY exactly once.
func (s *BuyAndHold) GenerateSignals(bars []types.Bar) map[string]types.Signal {
	if s.bought || len(bars) == 0 {
		return s.hold()
	}
	s.bought = true
	return s.emit(types.Buy)
}

// Parameters returns the symbol only.
func (s *BuyAndHold) Parameters() map[string]any {
	return map[string]any{"symbol": s.symbol}
}

// ---------------------------------------------------------------------------
// Moving average crossover
// ---------------------------------------------------------------------------

// MovingAverageParams configures the SMA crossover.
type MovingAverageParams struct {
	ShortWindow int `yaml:"short_window"`
	LongWindow  int `yaml:"long_window"`
}

// DefaultMovingAverageParams returns 20/50.
func DefaultMovingAverageParams() MovingAverageParams {
	return MovingAverageParams{ShortWindow: 20, LongWindow: 50}
}

func (p MovingAverageParams) validate() error {
	if p.ShortWindow <= 0 || p.LongWindow <= 0 {
		return invalid("windows must be positive, got %d/%d", p.ShortWindow, p.LongWindow)
	}
	if p.ShortWindow >= p.LongWindow {
		return invalid("short window (%d) must be less than long window (%d)", p.ShortWindow, p.LongWindow)
	}
	return nil
}

// MovingAverage buys when the short SMA crosses above the long SMA and sells
// on the reverse cross.
type MovingAverage struct {
	Base
	params MovingAverageParams
}

// NewMovingAverage validates p and returns the strategy.
func NewMovingAverage(symbol string, p MovingAverageParams) (*MovingAverage, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &MovingAverage{
		Base:   NewBase(fmt.Sprintf("MA Crossover (%d/%d)", p.ShortWindow, p.LongWindow), symbol),
		params: p,
	}, nil
}

// GenerateSignals needs long+1 bars to compare two consecutive averages.
func (s *MovingAverage) GenerateSignals(bars []types.Bar) map[string]types.Signal {
	need := s.params.LongWindow + 1
	if len(bars) < need {
		return s.hold()
	}
	closes := indicators.Closes(bars[len(bars)-need:])
	short := indicators.SMA(closes, s.params.ShortWindow)
	long := indicators.SMA(closes, s.params.LongWindow)
	last := len(closes) - 1

	switch {
	case indicators.CrossedAbove(short, long, last):
		return s.emit(types.Buy)
	case indicators.CrossedBelow(short, long, last):
		return s.emit(types.Sell)
	}
	return s.hold()
}

// Parameters returns the window sizes and symbol.
func (s *MovingAverage) Parameters() map[string]any {
	m := paramsMap(s.params)
	m["symbol"] = s.symbol
	return m
}

// SetParameters updates the windows; the change is rejected as a whole if
// the result is invalid.
func (s *MovingAverage) SetParameters(params map[string]any) error {
	p := s.params
	if err := DecodeParams(params, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	s.params = p
	s.name = fmt.Sprintf("MA Crossover (%d/%d)", p.ShortWindow, p.LongWindow)
	return nil
}

// ---------------------------------------------------------------------------
// MACD
// ---------------------------------------------------------------------------

// MACDParams configures the MACD signal-line crossover.
type MACDParams struct {
	FastPeriod   int `yaml:"fast_period"`
	SlowPeriod   int `yaml:"slow_period"`
	SignalPeriod int `yaml:"signal_period"`
}

// DefaultMACDParams returns 12/26/9.
func DefaultMACDParams() MACDParams {
	return MACDParams{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9}
}

func (p MACDParams) validate() error {
	if p.FastPeriod <= 0 || p.SlowPeriod <= 0 || p.SignalPeriod <= 0 {
		return invalid("periods must be positive, got %d/%d/%d", p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
	}
	if p.FastPeriod >= p.SlowPeriod {
		return invalid("fast period (%d) must be less than slow period (%d)", p.FastPeriod, p.SlowPeriod)
	}
	return nil
}

// MACD buys when the MACD line crosses above its signal line and sells on
// the reverse cross.
type MACD struct {
	Base
	params MACDParams
}

// NewMACD validates p and returns the strategy.
func NewMACD(symbol string, p MACDParams) (*MACD, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &MACD{
		Base:   NewBase(fmt.Sprintf("MACD (%d/%d/%d)", p.FastPeriod, p.SlowPeriod, p.SignalPeriod), symbol),
		params: p,
	}, nil
}

// GenerateSignals needs slow+signal+1 bars. The averages are computed over
// the whole history seen so far.
func (s *MACD) GenerateSignals(bars []types.Bar) map[string]types.Signal {
	if len(bars) < s.params.SlowPeriod+s.params.SignalPeriod+1 {
		return s.hold()
	}
	line, sig, _ := indicators.MACD(indicators.Closes(bars),
		s.params.FastPeriod, s.params.SlowPeriod, s.params.SignalPeriod)
	last := len(line) - 1

	switch {
	case indicators.CrossedAbove(line, sig, last):
		return s.emit(types.Buy)
	case indicators.CrossedBelow(line, sig, last):
		return s.emit(types.Sell)
	}
	return s.hold()
}

// Parameters returns the periods and symbol.
func (s *MACD) Parameters() map[string]any {
	m := paramsMap(s.params)
	m["symbol"] = s.symbol
	return m
}

// SetParameters updates the periods.
func (s *MACD) SetParameters(params map[string]any) error {
	p := s.params
	if err := DecodeParams(params, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	s.params = p
	s.name = fmt.Sprintf("MACD (%d/%d/%d)", p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
	return nil
}
