package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
	"github.com/SebStoll/stocks-backtesting/pkg/strategy"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func barsFromCloses(closes ...float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:      c, High: c, Low: c, Close: c, Volume: 1000,
		}
	}
	return bars
}

// buyAndHoldResult buys 95 shares at 100 (cost 19) and marks them at 121:
// final value 481 + 95*121 = 11976.
func buyAndHoldResult(t *testing.T) *engine.Result {
	t.Helper()
	e, err := engine.NewEngine(engine.DefaultConfig(), newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	strat, err := strategy.New(strategy.NameBuyAndHold, "AAPL", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Run(barsFromCloses(100, 110, 121), strat)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestSummary(t *testing.T) {
	res := buyAndHoldResult(t)
	got := map[string]string{}
	for _, f := range Summary(res) {
		got[f.Key] = f.Value
	}

	want := map[string]string{
		"strategy":        "Buy and Hold",
		"initial_capital": "$10,000.00",
		"final_value":     "$11,976.00",
		"total_return":    "19.76%",
		"total_trades":    "1",
		"win_rate":        "0.00%",
		"taxes_paid":      "$0.00",
		"commission_paid": "$19.00",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintSummary(&buf, buyAndHoldResult(t)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, s := range []string{"BACKTEST RESULTS - Buy and Hold", "Total Return: 19.76%", "Max Drawdown: 0.00%"} {
		if !strings.Contains(out, s) {
			t.Errorf("summary missing %q:\n%s", s, out)
		}
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Money(1234567.891), "$1,234,567.89"},
		{Money(-5), "-$5.00"},
		{Percent(0.25), "25.00%"},
		{Percent(math.Inf(1)), "+Inf"},
		{Number(1.234), "1.23"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestTradesCSV(t *testing.T) {
	res := buyAndHoldResult(t)
	var buf bytes.Buffer
	if err := WriteTradesCSV(&buf, res.Trades()); err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(records))
	}
	if records[0][0] != "timestamp" || records[1][2] != "BUY" || records[1][3] != "95" {
		t.Errorf("unexpected rows: %v", records)
	}
	if records[1][7] != "9519" {
		t.Errorf("total_cost = %s, want 9519", records[1][7])
	}
}

func TestSnapshotsCSV(t *testing.T) {
	res := buyAndHoldResult(t)
	var buf bytes.Buffer
	if err := WriteSnapshotsCSV(&buf, res.History()); err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// header + one snapshot per bar + final
	if len(records) != 5 {
		t.Fatalf("rows = %d, want 5", len(records))
	}
	if records[4][3] != "AAPL=95" {
		t.Errorf("positions = %q", records[4][3])
	}
}

func TestParquetRoundTrip(t *testing.T) {
	res := buyAndHoldResult(t)
	dir := t.TempDir()

	tradesPath := filepath.Join(dir, "out", "trades.parquet")
	if err := WriteTradesParquet(tradesPath, res.Trades()); err != nil {
		t.Fatal(err)
	}
	rows, err := ReadTradesParquet(tradesPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Shares != 95 || rows[0].TotalCost != 9519 {
		t.Errorf("trade rows = %+v", rows)
	}

	snapPath := filepath.Join(dir, "snapshots.parquet")
	if err := WriteSnapshotsParquet(snapPath, res.History()); err != nil {
		t.Fatal(err)
	}
	snaps, err := ReadSnapshotsParquet(snapPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 4 || snaps[3].Value != 11976 {
		t.Errorf("snapshot rows = %+v", snaps)
	}
}

func TestEncodePositions(t *testing.T) {
	got := EncodePositions(map[string]int64{"MSFT": 5, "AAPL": 10})
	if got != "AAPL=10;MSFT=5" {
		t.Errorf("got %q", got)
	}
	if EncodePositions(nil) != "" {
		t.Error("empty map should encode to empty string")
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAML(&buf, buyAndHoldResult(t)); err != nil {
		t.Fatal(err)
	}
	var doc Document
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decoding: %v\n%s", err, buf.String())
	}
	if doc.Strategy != "Buy and Hold" || doc.FinalValue != "11976.00" || doc.Bars != 3 {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.Trades) != 1 {
		t.Errorf("trades = %v", doc.Trades)
	}
}

func TestJSONMetrics(t *testing.T) {
	m := JSONMetrics(map[string]float64{
		"profit_factor": math.Inf(1),
		"sharpe_ratio":  1.5,
	})
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"profit_factor":"Infinity"`) {
		t.Errorf("json = %s", raw)
	}
}

func TestResultStruct(t *testing.T) {
	s, err := ResultStruct(buyAndHoldResult(t))
	if err != nil {
		t.Fatal(err)
	}
	if s.Fields["strategy"].GetStringValue() != "Buy and Hold" {
		t.Errorf("strategy = %v", s.Fields["strategy"])
	}
	trades := s.Fields["trades"].GetListValue().GetValues()
	if len(trades) != 1 {
		t.Fatalf("trades = %d", len(trades))
	}
	tr := trades[0].GetStructValue().Fields
	if tr["side"].GetStringValue() != "BUY" || tr["shares"].GetNumberValue() != 95 {
		t.Errorf("trade = %v", tr)
	}
	if got := s.Fields["metrics"].GetStructValue().Fields["total_trades"].GetNumberValue(); got != 1 {
		t.Errorf("total_trades = %v", got)
	}
}
