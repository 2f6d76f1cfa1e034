package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// ---------------------------------------------------------------------------
// Row types (on-disk schema)
// ---------------------------------------------------------------------------

// TradeRow is the flat export schema of one executed trade.
type TradeRow struct {
	Timestamp           int64   `parquet:"timestamp,timestamp(millisecond)" json:"timestamp"` // Unix ms
	Symbol              string  `parquet:"symbol" json:"symbol"`
	Side                string  `parquet:"side" json:"side"`
	Shares              int64   `parquet:"shares" json:"shares"`
	Price               float64 `parquet:"price" json:"price"`
	TradeValue          float64 `parquet:"trade_value" json:"trade_value"`
	TradingCost         float64 `parquet:"trading_cost" json:"trading_cost"`
	TotalCost           float64 `parquet:"total_cost" json:"total_cost"`
	GrossProceeds       float64 `parquet:"gross_proceeds" json:"gross_proceeds"`
	Profit              float64 `parquet:"profit" json:"profit"`
	TaxPaid             float64 `parquet:"tax_paid" json:"tax_paid"`
	NetProceeds         float64 `parquet:"net_proceeds" json:"net_proceeds"`
	CashAfter           float64 `parquet:"cash_after" json:"cash_after"`
	PortfolioValueAfter float64 `parquet:"portfolio_value_after" json:"portfolio_value_after"`
}

// SnapshotRow is the flat export schema of one portfolio snapshot.
// Positions are encoded as "SYM=shares" pairs joined by ";", sorted.
type SnapshotRow struct {
	Timestamp              int64   `parquet:"timestamp,timestamp(millisecond)" json:"timestamp"` // Unix ms
	Cash                   float64 `parquet:"cash" json:"cash"`
	Value                  float64 `parquet:"portfolio_value" json:"portfolio_value"`
	Positions              string  `parquet:"positions" json:"positions"`
	TotalTrades            int64   `parquet:"total_trades" json:"total_trades"`
	CumulativeTradingCosts float64 `parquet:"cumulative_trading_costs" json:"cumulative_trading_costs"`
	CumulativeTaxes        float64 `parquet:"cumulative_taxes" json:"cumulative_taxes"`
}

var tradeColumns = []string{
	"timestamp", "symbol", "side", "shares", "price", "trade_value",
	"trading_cost", "total_cost", "gross_proceeds", "profit", "tax_paid",
	"net_proceeds", "cash_after", "portfolio_value_after",
}

var snapshotColumns = []string{
	"timestamp", "cash", "portfolio_value", "positions", "total_trades",
	"cumulative_trading_costs", "cumulative_taxes",
}

// TradeRows flattens trades into export rows.
func TradeRows(trades []types.Trade) []TradeRow {
	rows := make([]TradeRow, len(trades))
	for i, t := range trades {
		rows[i] = TradeRow{
			Timestamp:           t.Timestamp.UnixMilli(),
			Symbol:              t.Symbol,
			Side:                string(t.Side),
			Shares:              t.Shares,
			Price:               t.Price.InexactFloat64(),
			TradeValue:          t.TradeValue.InexactFloat64(),
			TradingCost:         t.TradingCost.InexactFloat64(),
			TotalCost:           t.TotalCost.InexactFloat64(),
			GrossProceeds:       t.GrossProceeds.InexactFloat64(),
			Profit:              t.Profit.InexactFloat64(),
			TaxPaid:             t.TaxPaid.InexactFloat64(),
			NetProceeds:         t.NetProceeds.InexactFloat64(),
			CashAfter:           t.CashAfter.InexactFloat64(),
			PortfolioValueAfter: t.PortfolioValueAfter.InexactFloat64(),
		}
	}
	return rows
}

// SnapshotRows flattens snapshots into export rows.
func SnapshotRows(history []types.Snapshot) []SnapshotRow {
	rows := make([]SnapshotRow, len(history))
	for i, s := range history {
		rows[i] = SnapshotRow{
			Timestamp:              s.Timestamp.UnixMilli(),
			Cash:                   s.Cash.InexactFloat64(),
			Value:                  s.Value.InexactFloat64(),
			Positions:              EncodePositions(s.Positions),
			TotalTrades:            int64(s.TotalTrades),
			CumulativeTradingCosts: s.CumulativeTradingCosts.InexactFloat64(),
			CumulativeTaxes:        s.CumulativeTaxes.InexactFloat64(),
		}
	}
	return rows
}

// EncodePositions renders a position map as "AAPL=10;MSFT=5".
func EncodePositions(positions map[string]int64) string {
	syms := make([]string, 0, len(positions))
	for s := range positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	parts := make([]string, len(syms))
	for i, s := range syms {
		parts[i] = s + "=" + strconv.FormatInt(positions[s], 10)
	}
	return strings.Join(parts, ";")
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

// WriteTradesCSV writes trades with a header row. Money columns keep full
// decimal precision.
func WriteTradesCSV(w io.Writer, trades []types.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeColumns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, t := range trades {
		rec := []string{
			t.Timestamp.Format(time.RFC3339),
			t.Symbol,
			string(t.Side),
			strconv.FormatInt(t.Shares, 10),
			t.Price.String(),
			t.TradeValue.String(),
			t.TradingCost.String(),
			t.TotalCost.String(),
			t.GrossProceeds.String(),
			t.Profit.String(),
			t.TaxPaid.String(),
			t.NetProceeds.String(),
			t.CashAfter.String(),
			t.PortfolioValueAfter.String(),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing trade: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSnapshotsCSV writes the value history with a header row.
func WriteSnapshotsCSV(w io.Writer, history []types.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(snapshotColumns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, s := range history {
		rec := []string{
			s.Timestamp.Format(time.RFC3339),
			s.Cash.String(),
			s.Value.String(),
			EncodePositions(s.Positions),
			strconv.Itoa(s.TotalTrades),
			s.CumulativeTradingCosts.String(),
			s.CumulativeTaxes.String(),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ---------------------------------------------------------------------------
// Parquet
// ---------------------------------------------------------------------------

// WriteTradesParquet writes trades to a Parquet file, creating parent
// directories as needed.
func WriteTradesParquet(path string, trades []types.Trade) error {
	if err := writeParquetFile(path, TradeRows(trades)); err != nil {
		return fmt.Errorf("writing trades to %s: %w", path, err)
	}
	return nil
}

// WriteSnapshotsParquet writes the value history to a Parquet file.
func WriteSnapshotsParquet(path string, history []types.Snapshot) error {
	if err := writeParquetFile(path, SnapshotRows(history)); err != nil {
		return fmt.Errorf("writing snapshots to %s: %w", path, err)
	}
	return nil
}

// ReadTradesParquet reads back rows written by WriteTradesParquet.
func ReadTradesParquet(path string) ([]TradeRow, error) {
	return parquet.ReadFile[TradeRow](path)
}

// ReadSnapshotsParquet reads back rows written by WriteSnapshotsParquet.
func ReadSnapshotsParquet(path string) ([]SnapshotRow, error) {
	return parquet.ReadFile[SnapshotRow](path)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}
