package metrics

import (
	"math"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// TradeStats summarises realized profits. Only sales realize profit, so buys
// are ignored. A sale with zero profit counts as a loss.
type TradeStats struct {
	Trades       int
	Winning      int
	Losing       int
	WinRate      float64
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
	AvgWin       float64
	AvgLoss      float64
	LargestWin   float64
	LargestLoss  float64
}

// RealizedProfits extracts the profit of every sale in order.
func RealizedProfits(trades []types.Trade) []float64 {
	var out []float64
	for _, t := range trades {
		if t.Side == types.SideSell {
			out = append(out, t.Profit.InexactFloat64())
		}
	}
	return out
}

// ComputeTradeStats derives win/loss statistics from realized profits.
func ComputeTradeStats(profits []float64) TradeStats {
	var st TradeStats
	st.Trades = len(profits)
	if st.Trades == 0 {
		return st
	}

	for _, p := range profits {
		if p > 0 {
			st.Winning++
			st.GrossProfit += p
			st.LargestWin = math.Max(st.LargestWin, p)
		} else {
			st.Losing++
			st.GrossLoss += -p
			st.LargestLoss = math.Min(st.LargestLoss, p)
		}
	}

	st.WinRate = float64(st.Winning) / float64(st.Trades)
	if st.Winning > 0 {
		st.AvgWin = st.GrossProfit / float64(st.Winning)
	}
	if st.Losing > 0 {
		st.AvgLoss = -st.GrossLoss / float64(st.Losing)
	}

	switch {
	case st.GrossLoss > 0:
		st.ProfitFactor = st.GrossProfit / st.GrossLoss
	case st.Winning > 0:
		st.ProfitFactor = math.Inf(1)
	}
	return st
}
