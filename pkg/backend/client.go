// Package backend provides the market-data collaborator consumed by the
// backtester: an HTTP client for a bars API and a CSV file source.
//
// Every Source returns bars for one symbol sorted by ascending timestamp
// with duplicate timestamps removed, or ErrNoData when nothing matches.
//
// Usage:
//
//	client := backend.NewClient("http://localhost:8000", nil)
//	bars, err := client.GetBars(ctx, "AAPL", "1Day", start, end)
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// ErrNoData is returned when a source has no bars for the request.
var ErrNoData = errors.New("no data available")

// Source supplies historical bars.
type Source interface {
	GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.Bar, error)
}

// DefaultTimeout is the per-request timeout applied to API calls.
const DefaultTimeout = 30 * time.Second

// MaxRetries is the number of retry attempts for transient errors.
const MaxRetries = 3

// DefaultCacheTTL bounds how long cached bars are served.
const DefaultCacheTTL = 15 * time.Minute

// Config holds optional configuration for the backend client.
type Config struct {
	// Timeout per HTTP request. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries for transient errors. Zero means the package default.
	MaxRetries int

	// Logger for debug/info output. Nil uses slog.Default().
	Logger *slog.Logger

	// EnableCache enables in-memory caching of responses.
	EnableCache bool

	// Cache, when set, is used instead of the in-memory cache.
	Cache Cache

	// CacheTTL for cached responses. Zero means DefaultCacheTTL.
	CacheTTL time.Duration

	// RetryInterval is the first backoff delay. Zero means 500ms.
	RetryInterval time.Duration
}

// Client is an HTTP client for the bars API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger
	cache      Cache
	cacheTTL   time.Duration
	retryDelay time.Duration
}

// NewClient creates a new backend API client.
//
// baseURL should include the scheme and host, e.g. "http://localhost:8000".
// A nil config uses sensible defaults.
func NewClient(baseURL string, cfg *Config) *Client {
	timeout := DefaultTimeout
	retries := MaxRetries
	logger := slog.Default()
	ttl := DefaultCacheTTL
	retryDelay := 500 * time.Millisecond
	var cache Cache

	if cfg != nil {
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		if cfg.MaxRetries > 0 {
			retries = cfg.MaxRetries
		}
		if cfg.Logger != nil {
			logger = cfg.Logger
		}
		if cfg.CacheTTL > 0 {
			ttl = cfg.CacheTTL
		}
		if cfg.RetryInterval > 0 {
			retryDelay = cfg.RetryInterval
		}
		switch {
		case cfg.Cache != nil:
			cache = cfg.Cache
		case cfg.EnableCache:
			cache = NewMemoryCache()
		}
	}

	logger.Info("Backend client initialised",
		"base_url", baseURL,
		"timeout", timeout,
		"max_retries", retries,
		"cache", cache != nil,
	)

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		logger:     logger,
		cache:      cache,
		cacheTTL:   ttl,
		retryDelay: retryDelay,
	}
}

// ---------------------------------------------------------------------------
// JSON response shapes
// ---------------------------------------------------------------------------

type barsResponse struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Count     int          `json:"count"`
	Bars      []barPayload `json:"bars"`
}

type barPayload struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

type apiError struct {
	Detail string `json:"detail"`
}

// ---------------------------------------------------------------------------
// Public Methods
// ---------------------------------------------------------------------------

// GetBars fetches OHLCV bars for symbol at interval in [start, end].
func (c *Client) GetBars(
	ctx context.Context,
	symbol, interval string,
	start, end time.Time,
) ([]types.Bar, error) {
	key := cacheKey(symbol, interval, start, end)
	if c.cache != nil {
		bars, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("Cache read failed", "key", key, "err", err)
		} else if ok {
			c.logger.Debug("Cache hit for bars", "key", key)
			return bars, nil
		}
	}

	params := url.Values{
		"symbol":          {symbol},
		"timeframe":       {interval},
		"start_timestamp": {start.Format(time.RFC3339)},
		"end_timestamp":   {end.Format(time.RFC3339)},
	}

	c.logger.Debug("Fetching bars", "symbol", symbol, "interval", interval)

	body, err := c.doGet(ctx, "/api/bars", params)
	if err != nil {
		return nil, fmt.Errorf("GetBars: %w", err)
	}

	var resp barsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("GetBars: decoding response: %w", err)
	}

	bars := make([]types.Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		ts, err := ParseTimestamp(b.Timestamp)
		if err != nil {
			c.logger.Warn("Skipping bar with unparseable timestamp", "ts", b.Timestamp, "err", err)
			continue
		}
		bars = append(bars, types.Bar{
			Timestamp: ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	bars = Normalize(bars)
	if len(bars) == 0 {
		return nil, fmt.Errorf("GetBars: %w for %s/%s (%s to %s)", ErrNoData, symbol, interval,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, bars, c.cacheTTL); err != nil {
			c.logger.Warn("Cache write failed", "key", key, "err", err)
		}
	}

	c.logger.Info("Fetched bars", "symbol", symbol, "interval", interval, "count", len(bars))
	return bars, nil
}

// Normalize sorts bars by timestamp and drops later duplicates of a
// timestamp. The input slice is reordered in place.
func Normalize(bars []types.Bar) []types.Bar {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	out := bars[:0]
	for i, b := range bars {
		if i > 0 && b.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// doGet executes a GET request, retrying transport failures and 5xx
// responses with exponential backoff.
func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	policy.MaxElapsedTime = 0

	attempt := 0
	var body []byte
	op := func() error {
		defer func() { attempt++ }()
		if attempt > 0 {
			c.logger.Debug("Retrying request", "attempt", attempt, "url", u)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("HTTP request failed", "url", u, "attempt", attempt, "err", err)
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body = data
			return nil
		case resp.StatusCode == http.StatusBadRequest:
			return backoff.Permanent(fmt.Errorf("bad request: %s", detail(data, resp.StatusCode)))
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNoData, detail(data, resp.StatusCode)))
		case resp.StatusCode >= 500:
			c.logger.Warn("Server error, will retry", "status", resp.StatusCode, "attempt", attempt)
			return fmt.Errorf("server error (status %d)", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if attempt > c.maxRetries {
			return nil, fmt.Errorf("all %d retries exhausted: %w", c.maxRetries, err)
		}
		return nil, err
	}
	return body, nil
}

func detail(body []byte, status int) string {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fmt.Sprintf("status %d", status)
}

// ParseTimestamp tries the timestamp layouts seen in bar feeds and files.
func ParseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02",
	}
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp format: %s", s)
}
