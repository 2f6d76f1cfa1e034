package strategy

import (
	"fmt"

	"github.com/SebStoll/stocks-backtesting/pkg/indicators"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// ---------------------------------------------------------------------------
// RSI
// ---------------------------------------------------------------------------

// RSIParams configures the RSI threshold strategy.
type RSIParams struct {
	Period     int     `yaml:"period"`
	Oversold   float64 `yaml:"oversold_threshold"`
	Overbought float64 `yaml:"overbought_threshold"`
}

// DefaultRSIParams returns 14 / 30 / 70.
func DefaultRSIParams() RSIParams {
	return RSIParams{Period: 14, Oversold: 30, Overbought: 70}
}

func validateThresholds(oversold, overbought float64) error {
	if oversold < 0 || oversold > 100 || overbought < 0 || overbought > 100 {
		return invalid("thresholds must lie in [0, 100], got %.1f/%.1f", oversold, overbought)
	}
	if oversold >= overbought {
		return invalid("oversold (%.1f) must be less than overbought (%.1f)", oversold, overbought)
	}
	return nil
}

func (p RSIParams) validate() error {
	if p.Period <= 0 {
		return invalid("period must be positive, got %d", p.Period)
	}
	return validateThresholds(p.Oversold, p.Overbought)
}

// RSI buys while RSI is below the oversold threshold and sells while it is
// above the overbought threshold.
type RSI struct {
	Base
	params RSIParams
}

// NewRSI validates p and returns the strategy.
func NewRSI(symbol string, p RSIParams) (*RSI, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &RSI{
		Base:   NewBase(fmt.Sprintf("RSI (%d, %.0f/%.0f)", p.Period, p.Oversold, p.Overbought), symbol),
		params: p,
	}, nil
}

// GenerateSignals needs period+1 bars.
func (s *RSI) GenerateSignals(bars []types.Bar) map[string]types.Signal {
	need := s.params.Period + 1
	if len(bars) < need {
		return s.hold()
	}
	rsi := indicators.Last(indicators.RSI(indicators.Closes(bars[len(bars)-need:]), s.params.Period))
	if !indicators.Valid(rsi) {
		return s.hold()
	}
	switch {
	case rsi < s.params.Oversold:
		return s.emit(types.Buy)
	case rsi > s.params.Overbought:
		return s.emit(types.Sell)
	}
	return s.hold()
}

// Parameters returns the period, thresholds and symbol.
func (s *RSI) Parameters() map[string]any {
	m := paramsMap(s.params)
	m["symbol"] = s.symbol
	return m
}

// SetParameters updates period and thresholds.
func (s *RSI) SetParameters(params map[string]any) error {
	p := s.params
	if err := DecodeParams(params, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	s.params = p
	s.name = fmt.Sprintf("RSI (%d, %.0f/%.0f)", p.Period, p.Oversold, p.Overbought)
	return nil
}

// ---------------------------------------------------------------------------
// Bollinger bands with RSI confirmation
// ---------------------------------------------------------------------------

// BollingerParams configures the band/RSI strategy.
type BollingerParams struct {
	Period        int     `yaml:"period"`
	StdDev        float64 `yaml:"std_dev"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
}

// DefaultBollingerParams returns 20 bars, 2 deviations, RSI 14 at 30/70.
func DefaultBollingerParams() BollingerParams {
	return BollingerParams{Period: 20, StdDev: 2.0, RSIPeriod: 14, RSIOversold: 30, RSIOverbought: 70}
}

func (p BollingerParams) validate() error {
	if p.Period < 2 || p.RSIPeriod <= 0 {
		return invalid("period must be at least 2 and rsi period positive, got %d/%d", p.Period, p.RSIPeriod)
	}
	if p.StdDev <= 0 {
		return invalid("std dev multiplier must be positive, got %f", p.StdDev)
	}
	return validateThresholds(p.RSIOversold, p.RSIOverbought)
}

// BollingerBands buys at or below the lower band when RSI confirms oversold
// and sells at or above the upper band when RSI confirms overbought.
type BollingerBands struct {
	Base
	params BollingerParams
}

// NewBollingerBands validates p and returns the strategy.
func NewBollingerBands(symbol string, p BollingerParams) (*BollingerBands, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &BollingerBands{
		Base:   NewBase(fmt.Sprintf("Bollinger Bands (%d, %.1f)", p.Period, p.StdDev), symbol),
		params: p,
	}, nil
}

// GenerateSignals needs max(period, rsi period)+1 bars.
func (s *BollingerBands) GenerateSignals(bars []types.Bar) map[string]types.Signal {
	need := max(s.params.Period, s.params.RSIPeriod) + 1
	if len(bars) < need {
		return s.hold()
	}
	closes := indicators.Closes(bars[len(bars)-need:])
	upper, _, lower := indicators.Bollinger(closes, s.params.Period, s.params.StdDev)
	rsi := indicators.Last(indicators.RSI(closes, s.params.RSIPeriod))
	up, lo, price := indicators.Last(upper), indicators.Last(lower), indicators.Last(closes)
	if !indicators.Valid(up) || !indicators.Valid(lo) || !indicators.Valid(rsi) {
		return s.hold()
	}

	switch {
	case price <= lo && rsi < s.params.RSIOversold:
		return s.emit(types.Buy)
	case price >= up && rsi > s.params.RSIOverbought:
		return s.emit(types.Sell)
	}
	return s.hold()
}

// Parameters returns the band and RSI settings and symbol.
func (s *BollingerBands) Parameters() map[string]any {
	m := paramsMap(s.params)
	m["symbol"] = s.symbol
	return m
}

// SetParameters updates the band and RSI settings.
func (s *BollingerBands) SetParameters(params map[string]any) error {
	p := s.params
	if err := DecodeParams(params, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	s.params = p
	s.name = fmt.Sprintf("Bollinger Bands (%d, %.1f)", p.Period, p.StdDev)
	return nil
}

// ---------------------------------------------------------------------------
// Mean reversion
// ---------------------------------------------------------------------------

// MeanReversionParams configures the z-score strategy.
type MeanReversionParams struct {
	LookbackPeriod int     `yaml:"lookback_period"`
	EntryThreshold float64 `yaml:"entry_threshold"`
	ExitThreshold  float64 `yaml:"exit_threshold"`
}

// DefaultMeanReversionParams returns lookback 20, entry 2.0, exit 0.5.
func DefaultMeanReversionParams() MeanReversionParams {
	return MeanReversionParams{LookbackPeriod: 20, EntryThreshold: 2.0, ExitThreshold: 0.5}
}

func (p MeanReversionParams) validate() error {
	if p.LookbackPeriod < 2 {
		return invalid("lookback must be at least 2, got %d", p.LookbackPeriod)
	}
	if p.EntryThreshold <= 0 {
		return invalid("entry threshold must be positive, got %f", p.EntryThreshold)
	}
	return nil
}

// MeanReversion buys when price sits more than the entry threshold standard
// deviations below its rolling mean and sells when it is more than the exit
// threshold above it.
type MeanReversion struct {
	Base
	params MeanReversionParams
}

// NewMeanReversion validates p and returns the strategy.
func NewMeanReversion(symbol string, p MeanReversionParams) (*MeanReversion, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &MeanReversion{
		Base:   NewBase(fmt.Sprintf("Mean Reversion (%d)", p.LookbackPeriod), symbol),
		params: p,
	}, nil
}

// GenerateSignals needs lookback+1 bars.
func (s *MeanReversion) GenerateSignals(bars []types.Bar) map[string]types.Signal {
	need := s.params.LookbackPeriod + 1
	if len(bars) < need {
		return s.hold()
	}
	z := indicators.Last(indicators.ZScore(indicators.Closes(bars[len(bars)-need:]), s.params.LookbackPeriod))
	if !indicators.Valid(z) {
		return s.hold()
	}
	switch {
	case z < -s.params.EntryThreshold:
		return s.emit(types.Buy)
	case z > s.params.ExitThreshold:
		return s.emit(types.Sell)
	}
	return s.hold()
}

// Parameters returns the lookback, thresholds and symbol.
func (s *MeanReversion) Parameters() map[string]any {
	m := paramsMap(s.params)
	m["symbol"] = s.symbol
	return m
}

// SetParameters updates the lookback and thresholds.
func (s *MeanReversion) SetParameters(params map[string]any) error {
	p := s.params
	if err := DecodeParams(params, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	s.params = p
	s.name = fmt.Sprintf("Mean Reversion (%d)", p.LookbackPeriod)
	return nil
}
