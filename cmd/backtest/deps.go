package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/SebStoll/stocks-backtesting/pkg/backend"
	"github.com/SebStoll/stocks-backtesting/pkg/persistence"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// barSet is one symbol's bars, loaded from a file or the API.
type barSet struct {
	symbol string
	bars   []types.Bar
}

// newSource builds the configured bar source: a CSV directory when set,
// otherwise the bars API with an in-memory or Redis cache. The returned
// close function releases the cache connection.
func (a *app) newSource(ctx context.Context) (backend.Source, func(), error) {
	noop := func() {}
	if a.cfg.Data.CSVDir != "" {
		return &backend.CSVSource{Dir: a.cfg.Data.CSVDir, Logger: a.logger}, noop, nil
	}
	if a.cfg.Data.APIURL == "" {
		return nil, noop, fmt.Errorf("no data source: set data.csv_dir or data.api_url")
	}

	bc := &backend.Config{
		Timeout:     a.cfg.Data.Timeout,
		Logger:      a.logger,
		EnableCache: a.cfg.Data.Cache,
		CacheTTL:    a.cfg.Data.CacheTTL,
	}
	closeFn := noop
	if a.cfg.Data.RedisAddr != "" {
		rc, err := backend.NewRedisCache(ctx, a.cfg.Data.RedisAddr, os.Getenv("BT_REDIS_PASSWORD"), a.cfg.Data.RedisDB)
		if err != nil {
			return nil, noop, fmt.Errorf("connecting to redis: %w", err)
		}
		bc.Cache = rc
		closeFn = func() { _ = rc.Close() }
		a.logger.Info("Using Redis bar cache", "addr", a.cfg.Data.RedisAddr)
	}
	return backend.NewClient(a.cfg.Data.APIURL, bc), closeFn, nil
}

// newPersister opens the configured result store, or returns nil when no
// storage is configured.
func (a *app) newPersister(ctx context.Context) (persistence.Persister, error) {
	switch {
	case a.cfg.Storage.PostgresURL != "":
		c, err := persistence.NewClient(ctx, a.cfg.Storage.PostgresURL, a.logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case a.cfg.Storage.SQLitePath != "":
		s, err := persistence.NewSQLiteStore(ctx, a.cfg.Storage.SQLitePath, a.logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

// loadBars resolves the bars to backtest. A CSV pattern (which may use **)
// yields one set per matching file; otherwise the symbol is fetched from the
// configured source.
func (a *app) loadBars(ctx context.Context, csvPattern, symbol string, start, end time.Time) ([]barSet, error) {
	if csvPattern != "" {
		files, err := backend.GlobCSV(csvPattern)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no CSV files match %q", csvPattern)
		}

		sets := make([]barSet, 0, len(files))
		for _, f := range files {
			bars, err := backend.LoadCSV(f)
			if err != nil {
				return nil, err
			}
			bars = types.FilterBars(bars, start, end)
			sym := backend.SymbolFromPath(f)
			if symbol != "" && len(files) == 1 {
				sym = symbol
			}
			a.logger.Info("Loaded bars from CSV", "file", f, "symbol", sym, "bars", len(bars))
			sets = append(sets, barSet{symbol: sym, bars: bars})
		}
		return sets, nil
	}

	src, closeFn, err := a.newSource(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	bars, err := src.GetBars(ctx, symbol, a.cfg.Data.Interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching bars for %s: %w", symbol, err)
	}
	a.logger.Info("Loaded bars", "symbol", symbol, "interval", a.cfg.Data.Interval, "bars", len(bars))
	return []barSet{{symbol: symbol, bars: bars}}, nil
}

// dateRange combines the configured range with flag overrides.
func (a *app) dateRange(startFlag, endFlag string) (time.Time, time.Time, error) {
	bt := a.cfg.Backtest
	if startFlag != "" {
		bt.Start = startFlag
	}
	if endFlag != "" {
		bt.End = endFlag
	}
	return bt.Range()
}
