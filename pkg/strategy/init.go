package strategy

// Registry names of the built-in strategies.
const (
	NameBuyAndHold     = "buy_and_hold"
	NameMovingAverage  = "moving_average"
	NameRSI            = "rsi"
	NameMACD           = "macd"
	NameBollingerBands = "bollinger_bands"
	NameMeanReversion  = "mean_reversion"
)

// init registers the built-in strategies on package load.
func init() {
	Register(NameBuyAndHold, func(symbol string, params map[string]any) (Strategy, error) {
		s := NewBuyAndHold(symbol)
		if err := DecodeParams(params, &struct{}{}); err != nil {
			return nil, err
		}
		return s, nil
	})
	Register(NameMovingAverage, func(symbol string, params map[string]any) (Strategy, error) {
		p := DefaultMovingAverageParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewMovingAverage(symbol, p)
	})
	Register(NameRSI, func(symbol string, params map[string]any) (Strategy, error) {
		p := DefaultRSIParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewRSI(symbol, p)
	})
	Register(NameMACD, func(symbol string, params map[string]any) (Strategy, error) {
		p := DefaultMACDParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewMACD(symbol, p)
	})
	Register(NameBollingerBands, func(symbol string, params map[string]any) (Strategy, error) {
		p := DefaultBollingerParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewBollingerBands(symbol, p)
	})
	Register(NameMeanReversion, func(symbol string, params map[string]any) (Strategy, error) {
		p := DefaultMeanReversionParams()
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewMeanReversion(symbol, p)
	})
}
