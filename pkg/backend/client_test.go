package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// newTestServer creates an httptest.Server that returns canned responses
// for /api/bars and counts requests.
func newTestServer(barsResp *barsResponse, hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/bars":
			if barsResp == nil {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(apiError{Detail: "no data"})
				return
			}
			json.NewEncoder(w).Encode(barsResp)
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(apiError{Detail: "unknown path"})
		}
	}))
}

var (
	testStart = mustTime("2024-01-02T00:00:00Z")
	testEnd   = mustTime("2024-01-03T00:00:00Z")
)

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGetBars(t *testing.T) {
	canned := &barsResponse{
		Symbol:    "AAPL",
		Timeframe: "1Hour",
		Count:     2,
		Bars: []barPayload{
			{Timestamp: "2024-01-02T10:00:00Z", Open: 100, High: 105, Low: 99, Close: 103, Volume: 1000},
			{Timestamp: "2024-01-02T11:00:00Z", Open: 103, High: 107, Low: 102, Close: 106, Volume: 1200},
		},
	}

	ts := newTestServer(canned, nil)
	defer ts.Close()

	client := NewClient(ts.URL, nil)
	bars, err := client.GetBars(context.Background(), "AAPL", "1Hour", testStart, testEnd)
	if err != nil {
		t.Fatalf("GetBars returned error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Open != 100 {
		t.Errorf("expected bar[0].Open=100, got %f", bars[0].Open)
	}
	if bars[1].Close != 106 {
		t.Errorf("expected bar[1].Close=106, got %f", bars[1].Close)
	}
}

func TestGetBarsNormalizes(t *testing.T) {
	canned := &barsResponse{
		Bars: []barPayload{
			{Timestamp: "2024-01-02T12:00:00Z", Close: 3},
			{Timestamp: "2024-01-02T10:00:00Z", Close: 1},
			{Timestamp: "2024-01-02T11:00:00Z", Close: 2},
			{Timestamp: "2024-01-02T11:00:00Z", Close: 99},
			{Timestamp: "not a time", Close: 5},
		},
	}
	ts := newTestServer(canned, nil)
	defer ts.Close()

	bars, err := NewClient(ts.URL, nil).GetBars(context.Background(), "AAPL", "1Hour", testStart, testEnd)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars after dedupe, got %d", len(bars))
	}
	for i, want := range []float64{1, 2, 3} {
		if bars[i].Close != want {
			t.Errorf("bar %d close = %f, want %f", i, bars[i].Close, want)
		}
	}
	if err := types.ValidateBars(bars); err != nil {
		t.Errorf("normalized bars invalid: %v", err)
	}
}

func TestGetBarsEmptyIsNoData(t *testing.T) {
	ts := newTestServer(&barsResponse{Symbol: "AAPL"}, nil)
	defer ts.Close()

	_, err := NewClient(ts.URL, nil).GetBars(context.Background(), "AAPL", "1Day", testStart, testEnd)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestGetBarsNotFound(t *testing.T) {
	var hits atomic.Int32
	ts := newTestServer(nil, &hits)
	defer ts.Close()

	_, err := NewClient(ts.URL, &Config{RetryInterval: time.Millisecond}).
		GetBars(context.Background(), "ZZZZ", "1Day", testStart, testEnd)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
	if hits.Load() != 1 {
		t.Errorf("404 should not be retried, got %d requests", hits.Load())
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(barsResponse{Bars: []barPayload{{Timestamp: "2024-01-02", Close: 10}}})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, &Config{MaxRetries: 3, RetryInterval: time.Millisecond})
	bars, err := client.GetBars(context.Background(), "AAPL", "1Day", testStart, testEnd)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 1 || calls.Load() != 3 {
		t.Errorf("bars=%d calls=%d, want 1 bar after 3 calls", len(bars), calls.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, &Config{MaxRetries: 2, RetryInterval: time.Millisecond})
	if _, err := client.GetBars(context.Background(), "AAPL", "1Day", testStart, testEnd); err == nil {
		t.Fatal("expected error after retries")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls.Load())
	}
}

func TestCacheHit(t *testing.T) {
	var hits atomic.Int32
	canned := &barsResponse{Bars: []barPayload{{Timestamp: "2024-01-02T10:00:00Z", Close: 1}}}
	ts := newTestServer(canned, &hits)
	defer ts.Close()

	client := NewClient(ts.URL, &Config{EnableCache: true})
	for i := 0; i < 3; i++ {
		if _, err := client.GetBars(context.Background(), "AAPL", "1Hour", testStart, testEnd); err != nil {
			t.Fatal(err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	bars := []types.Bar{{Timestamp: now, Close: 1}}
	c.Set(context.Background(), "k", bars, time.Minute)
	bars[0].Close = 99

	got, ok, _ := c.Get(context.Background(), "k")
	if !ok || got[0].Close != 1 {
		t.Fatalf("cached bars = %v, ok=%v", got, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Error("expired entry served")
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []string{
		"2024-01-02T10:00:00Z",
		"2024-01-02T10:00:00+00:00",
		"2024-01-02T10:00:00",
		"2024-01-02 10:00:00",
		"2024-01-02",
	}
	for _, c := range cases {
		if _, err := ParseTimestamp(c); err != nil {
			t.Errorf("ParseTimestamp(%q): %v", c, err)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for bad timestamp")
	}
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "aapl.csv",
		"Date,Open,High,Low,Close,Adj Close,Volume\n"+
			"2024-01-03,11,12,10,11.5,11.4,2000\n"+
			"2024-01-02,10,11,9,10.5,10.4,1000\n")

	bars, err := LoadCSV(p)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}
	if bars[0].Close != 10.5 || bars[1].Close != 11.5 {
		t.Errorf("closes = %f, %f; want sorted 10.5, 11.5", bars[0].Close, bars[1].Close)
	}
	if bars[1].Volume != 2000 {
		t.Errorf("volume = %f", bars[1].Volume)
	}
}

func TestLoadCSVPriceFallback(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "x.csv", "timestamp,last_price\n2024-01-02,42\n")
	bars, err := LoadCSV(p)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if bars[0].Close != 42 || bars[0].Open != 42 || bars[0].Volume != 0 {
		t.Errorf("bar = %+v", bars[0])
	}

	p = writeFile(t, dir, "y.csv", "timestamp,volume\n2024-01-02,42\n")
	if _, err := LoadCSV(p); !errors.Is(err, ErrNoPriceColumn) {
		t.Errorf("err = %v, want ErrNoPriceColumn", err)
	}
}

func TestCSVSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "MSFT.csv", "date,close\n2024-01-01,1\n2024-01-02,2\n2024-01-03,3\n")

	src := &CSVSource{Dir: dir}
	bars, err := src.GetBars(context.Background(), "MSFT", "1Day",
		mustTime("2024-01-02T00:00:00Z"), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Errorf("bars = %d, want 2", len(bars))
	}
	if _, err := src.GetBars(context.Background(), "NOPE", "1Day", time.Time{}, time.Time{}); !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
	var _ Source = src
}

func TestGlobCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a/AAPL.csv", "date,close\n2024-01-01,1\n")
	writeFile(t, dir, "b/c/MSFT.csv", "date,close\n2024-01-01,1\n")
	writeFile(t, dir, "b/notes.txt", "x")

	got, err := GlobCSV(filepath.Join(dir, "**", "*.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("matches = %v", got)
	}
	if SymbolFromPath(got[0]) != "AAPL" || SymbolFromPath(got[1]) != "MSFT" {
		t.Errorf("symbols = %s, %s", SymbolFromPath(got[0]), SymbolFromPath(got[1]))
	}
}
