// Package portfolio implements the cash and position ledger of a backtest.
//
// All money is held as decimal.Decimal. Cost basis is weighted-average and
// includes the entry trading cost, so realized profit on a sale is net of
// costs on both sides. Tax is charged only on realized gains at sale time.
//
// A Portfolio is not safe for concurrent use. Parallel backtests must each
// own an independent Portfolio.
package portfolio

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SebStoll/stocks-backtesting/pkg/costs"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

var (
	// ErrInvalidOrder is returned for non-positive share counts or prices.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInsufficientFunds is returned when cash cannot cover notional plus costs.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares is returned when selling more than is held.
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Stats are the running trade counters of a Portfolio.
type Stats struct {
	TotalTrades       int
	WinningTrades     int
	LosingTrades      int
	TotalTradingCosts decimal.Decimal
	TotalTaxes        decimal.Decimal
}

// Portfolio tracks cash, holdings, trades and value history.
type Portfolio struct {
	initialCapital decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]types.PositionRecord
	lastPrices     map[string]decimal.Decimal
	trades         []types.Trade
	history        []types.Snapshot
	stats          Stats

	costs  *costs.CostModel
	tax    *costs.TaxEngine
	logger *slog.Logger
}

// New creates a Portfolio holding initialCapital in cash.
func New(initialCapital float64, costCfg types.TradingCostConfig, taxCfg types.TaxConfig, logger *slog.Logger) (*Portfolio, error) {
	if initialCapital < 0 {
		return nil, fmt.Errorf("initial capital must be non-negative, got %f", initialCapital)
	}
	cm, err := costs.NewCostModel(costCfg)
	if err != nil {
		return nil, err
	}
	te, err := costs.NewTaxEngine(taxCfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Portfolio{
		initialCapital: decimal.NewFromFloat(initialCapital),
		costs:          cm,
		tax:            te,
		logger:         logger,
	}
	p.Reset()

	logger.Debug("Portfolio initialised",
		"initial_capital", p.initialCapital.String(),
		"costs", cm.String(),
		"tax_rate", taxCfg.Rate,
	)
	return p, nil
}

// Reset returns the portfolio to its freshly constructed state.
// Calling it repeatedly has the same effect as calling it once.
func (p *Portfolio) Reset() {
	p.cash = p.initialCapital
	p.positions = make(map[string]types.PositionRecord)
	p.lastPrices = make(map[string]decimal.Decimal)
	p.trades = nil
	p.history = nil
	p.stats = Stats{TotalTradingCosts: decimal.Zero, TotalTaxes: decimal.Zero}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// CanBuy reports whether cash covers shares x price plus the buy-side cost.
func (p *Portfolio) CanBuy(symbol string, shares int64, price float64) bool {
	if symbol == "" || shares <= 0 || price <= 0 {
		return false
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(shares))
	total := notional.Add(p.costs.Cost(notional, types.SideBuy))
	return total.LessThanOrEqual(p.cash)
}

// CanSell reports whether at least shares of symbol are held.
func (p *Portfolio) CanSell(symbol string, shares int64) bool {
	return shares > 0 && p.positions[symbol].Shares >= shares
}

// Buy purchases shares of symbol at price. On error the ledger is unchanged.
func (p *Portfolio) Buy(symbol string, shares int64, price float64, ts time.Time) (types.Trade, error) {
	if symbol == "" || shares <= 0 || price <= 0 {
		return types.Trade{}, fmt.Errorf("%w: buy %d %s @ %f", ErrInvalidOrder, shares, symbol, price)
	}

	px := decimal.NewFromFloat(price)
	notional := px.Mul(decimal.NewFromInt(shares))
	cost := p.costs.Cost(notional, types.SideBuy)
	total := notional.Add(cost)

	if total.GreaterThan(p.cash) {
		return types.Trade{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds,
			total.StringFixed(2), p.cash.StringFixed(2))
	}

	p.cash = p.cash.Sub(total)
	pos := p.positions[symbol]
	pos.Shares += shares
	pos.CostBasis = pos.CostBasis.Add(total)
	p.positions[symbol] = pos
	p.lastPrices[symbol] = px

	p.stats.TotalTrades++
	p.stats.TotalTradingCosts = p.stats.TotalTradingCosts.Add(cost)

	trade := types.Trade{
		Timestamp:           ts,
		Symbol:              symbol,
		Side:                types.SideBuy,
		Shares:              shares,
		Price:               px,
		TradeValue:          notional,
		TradingCost:         cost,
		TotalCost:           total,
		CashAfter:           p.cash,
		PortfolioValueAfter: p.markedValue(),
	}
	p.trades = append(p.trades, trade)

	p.logger.Debug("Bought",
		"symbol", symbol,
		"shares", shares,
		"price", price,
		"cost", cost.StringFixed(2),
		"cash_after", p.cash.StringFixed(2),
	)
	return trade, nil
}

// Sell disposes of shares of symbol at price. The consumed cost basis is the
// weighted average share of the position; realized profit is taxed per the
// tax engine. On error the ledger is unchanged.
func (p *Portfolio) Sell(symbol string, shares int64, price float64, ts time.Time) (types.Trade, error) {
	if symbol == "" || shares <= 0 || price <= 0 {
		return types.Trade{}, fmt.Errorf("%w: sell %d %s @ %f", ErrInvalidOrder, shares, symbol, price)
	}
	pos := p.positions[symbol]
	if pos.Shares < shares {
		return types.Trade{}, fmt.Errorf("%w: selling %d %s, holding %d", ErrInsufficientShares,
			shares, symbol, pos.Shares)
	}

	px := decimal.NewFromFloat(price)
	notional := px.Mul(decimal.NewFromInt(shares))
	cost := p.costs.Cost(notional, types.SideSell)
	gross := notional.Sub(cost)

	basisSold := pos.CostBasis
	if shares < pos.Shares {
		basisSold = pos.CostBasis.Mul(decimal.NewFromInt(shares)).Div(decimal.NewFromInt(pos.Shares))
	}
	profit := gross.Sub(basisSold)
	tax := p.tax.Tax(profit)
	net := gross.Sub(tax)

	// A fixed cost larger than the notional would overdraw the account.
	if p.cash.Add(net).IsNegative() {
		return types.Trade{}, fmt.Errorf("%w: sale nets %s against cash %s", ErrInsufficientFunds,
			net.StringFixed(2), p.cash.StringFixed(2))
	}

	p.cash = p.cash.Add(net)
	pos.Shares -= shares
	if pos.Shares == 0 {
		delete(p.positions, symbol)
	} else {
		pos.CostBasis = pos.CostBasis.Sub(basisSold)
		p.positions[symbol] = pos
	}
	p.lastPrices[symbol] = px

	p.stats.TotalTrades++
	p.stats.TotalTradingCosts = p.stats.TotalTradingCosts.Add(cost)
	p.stats.TotalTaxes = p.stats.TotalTaxes.Add(tax)
	if profit.IsPositive() {
		p.stats.WinningTrades++
	} else {
		p.stats.LosingTrades++
	}

	trade := types.Trade{
		Timestamp:           ts,
		Symbol:              symbol,
		Side:                types.SideSell,
		Shares:              shares,
		Price:               px,
		TradeValue:          notional,
		TradingCost:         cost,
		GrossProceeds:       gross,
		Profit:              profit,
		TaxPaid:             tax,
		NetProceeds:         net,
		CashAfter:           p.cash,
		PortfolioValueAfter: p.markedValue(),
	}
	p.trades = append(p.trades, trade)

	p.logger.Debug("Sold",
		"symbol", symbol,
		"shares", shares,
		"price", price,
		"profit", profit.StringFixed(2),
		"tax", tax.StringFixed(2),
		"cash_after", p.cash.StringFixed(2),
	)
	return trade, nil
}

// ---------------------------------------------------------------------------
// Valuation
// ---------------------------------------------------------------------------

// UpdateValue marks every held symbol to prices and appends a Snapshot.
// A held symbol absent from prices keeps its last known mark.
func (p *Portfolio) UpdateValue(prices map[string]float64, ts time.Time) types.Snapshot {
	for sym, price := range prices {
		p.lastPrices[sym] = decimal.NewFromFloat(price)
	}

	snap := types.Snapshot{
		Timestamp:              ts,
		Cash:                   p.cash,
		Positions:              p.Positions(),
		Value:                  p.markedValue(),
		TotalTrades:            p.stats.TotalTrades,
		CumulativeTradingCosts: p.stats.TotalTradingCosts,
		CumulativeTaxes:        p.stats.TotalTaxes,
	}
	p.history = append(p.history, snap)
	snap.Positions = maps.Clone(snap.Positions)
	return snap
}

// TotalValue returns cash plus holdings marked at prices, falling back to
// the last known mark for held symbols missing from prices. It does not
// record a snapshot.
func (p *Portfolio) TotalValue(prices map[string]float64) decimal.Decimal {
	value := p.cash
	for sym, pos := range p.positions {
		mark, ok := p.lastPrices[sym]
		if px, found := prices[sym]; found {
			mark, ok = decimal.NewFromFloat(px), true
		}
		if ok {
			value = value.Add(mark.Mul(decimal.NewFromInt(pos.Shares)))
		}
	}
	return value
}

// CashRatio returns cash as a fraction of total value, or 1 when the
// portfolio is worth nothing.
func (p *Portfolio) CashRatio(prices map[string]float64) float64 {
	total := p.TotalValue(prices)
	if !total.IsPositive() {
		return 1
	}
	return p.cash.Div(total).InexactFloat64()
}

func (p *Portfolio) markedValue() decimal.Decimal {
	return p.TotalValue(nil)
}

// ---------------------------------------------------------------------------
// Read-only views
// ---------------------------------------------------------------------------

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// InitialCapital returns the starting cash balance.
func (p *Portfolio) InitialCapital() decimal.Decimal { return p.initialCapital }

// PositionSize returns the number of shares of symbol held.
func (p *Portfolio) PositionSize(symbol string) int64 { return p.positions[symbol].Shares }

// Position returns the holding of symbol; the zero record when flat.
func (p *Portfolio) Position(symbol string) types.PositionRecord {
	pos, ok := p.positions[symbol]
	if !ok {
		return types.PositionRecord{CostBasis: decimal.Zero}
	}
	return pos
}

// Positions returns a copy of the share counts of all open positions.
func (p *Portfolio) Positions() map[string]int64 {
	out := make(map[string]int64, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = pos.Shares
	}
	return out
}

// Trades returns a copy of the trade log in execution order.
func (p *Portfolio) Trades() []types.Trade {
	out := make([]types.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// History returns a copy of the recorded snapshots; each snapshot owns its
// positions map.
func (p *Portfolio) History() []types.Snapshot {
	out := make([]types.Snapshot, len(p.history))
	for i, s := range p.history {
		s.Positions = maps.Clone(s.Positions)
		out[i] = s
	}
	return out
}

// Values returns the snapshot values as float64, for metric computation.
func (p *Portfolio) Values() []float64 {
	out := make([]float64, len(p.history))
	for i, s := range p.history {
		out[i] = s.Value.InexactFloat64()
	}
	return out
}

// Stats returns the running trade counters.
func (p *Portfolio) Stats() Stats { return p.stats }
