package backend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// ErrNoPriceColumn is returned when a CSV has no recognisable price column.
var ErrNoPriceColumn = errors.New("no price column found")

var timestampColumns = []string{"timestamp", "date", "datetime", "time"}

// LoadCSV loads bars from a CSV file with a header row. Column names are
// matched case-insensitively. The price is taken from "close", or failing
// that the first column whose name contains "close" or "price". Missing
// open/high/low default to the price; missing volume to 0.
func LoadCSV(path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV must have header + at least 1 data row")
	}

	headers := records[0]
	colIdx := make(map[string]int, len(headers))
	for i, h := range headers {
		colIdx[strings.TrimSpace(strings.ToLower(h))] = i
	}

	tsCol := -1
	for _, name := range timestampColumns {
		if i, ok := colIdx[name]; ok {
			tsCol = i
			break
		}
	}
	if tsCol < 0 {
		return nil, fmt.Errorf("missing timestamp column (one of %s)", strings.Join(timestampColumns, ", "))
	}

	priceCol, err := resolvePriceColumn(headers, colIdx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	optional := func(row []string, name string, fallback float64) float64 {
		i, ok := colIdx[name]
		if !ok {
			return fallback
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		if err != nil {
			return fallback
		}
		return v
	}

	bars := make([]types.Bar, 0, len(records)-1)
	for rowNum, row := range records[1:] {
		if len(row) != len(headers) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", rowNum+2, len(headers), len(row))
		}
		ts, err := ParseTimestamp(strings.TrimSpace(row[tsCol]))
		if err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", rowNum+2, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(row[priceCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d price: %w", rowNum+2, err)
		}
		bars = append(bars, types.Bar{
			Timestamp: ts,
			Open:      optional(row, "open", price),
			High:      optional(row, "high", price),
			Low:       optional(row, "low", price),
			Close:     price,
			Volume:    optional(row, "volume", 0),
		})
	}

	return Normalize(bars), nil
}

func resolvePriceColumn(headers []string, colIdx map[string]int) (int, error) {
	if i, ok := colIdx["close"]; ok {
		return i, nil
	}
	for i, h := range headers {
		name := strings.ToLower(h)
		if strings.Contains(name, "close") || strings.Contains(name, "price") {
			return i, nil
		}
	}
	return -1, ErrNoPriceColumn
}

// GlobCSV expands a pattern that may contain "**" into matching CSV paths,
// sorted.
func GlobCSV(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("expanding %q: %w", pattern, err)
	}
	out := matches[:0]
	for _, m := range matches {
		if strings.EqualFold(filepath.Ext(m), ".csv") {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SymbolFromPath derives a symbol from a file name, e.g. "data/aapl.csv" -> "AAPL".
func SymbolFromPath(path string) string {
	base := filepath.Base(path)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

// CSVSource serves bars from <Dir>/<SYMBOL>.csv files. The interval is
// ignored; files hold a single interval.
type CSVSource struct {
	Dir    string
	Logger *slog.Logger
}

// GetBars loads the symbol's file and keeps bars in [start, end].
func (s *CSVSource) GetBars(_ context.Context, symbol, _ string, start, end time.Time) ([]types.Bar, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var path string
	for _, name := range []string{symbol, strings.ToLower(symbol)} {
		p := filepath.Join(s.Dir, name+".csv")
		if _, err := os.Stat(p); err == nil {
			path = p
			break
		}
	}
	if path == "" {
		return nil, fmt.Errorf("%w: no CSV for %s in %s", ErrNoData, symbol, s.Dir)
	}

	bars, err := LoadCSV(path)
	if err != nil {
		return nil, err
	}
	bars = types.FilterBars(bars, start, end)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w for %s in %s", ErrNoData, symbol, path)
	}
	logger.Info("Loaded bars from CSV", "symbol", symbol, "file", path, "bars", len(bars))
	return bars, nil
}
