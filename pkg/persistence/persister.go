package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
)

// Persister defines the interface for backtest result persistence.
// Implemented by Client (Postgres via pgx) and SQLiteStore.
type Persister interface {
	// SaveResult stores the run with its trades, snapshots, metrics and
	// period aggregates in one transaction and returns the run row's ID.
	SaveResult(ctx context.Context, runID string, r *engine.Result) (int64, error)

	// Close releases resources.
	io.Closer
}

var (
	_ Persister = (*Client)(nil)
	_ Persister = (*SQLiteStore)(nil)
)

// resultRows is everything SaveResult writes for one run.
type resultRows struct {
	run       RunRecord
	params    []byte
	trades    []TradeRecord
	snapshots []SnapshotRecord
	metrics   []MetricRecord
	periods   []PeriodAggregate
}

func buildRows(runID string, r *engine.Result) (resultRows, error) {
	run := BuildRunRecord(runID, r)
	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return resultRows{}, fmt.Errorf("encoding parameters: %w", err)
	}
	trades := r.Trades()
	return resultRows{
		run:       run,
		params:    params,
		trades:    BuildTradeRecords(trades),
		snapshots: BuildSnapshotRecords(r.History()),
		metrics:   BuildMetricRecords(r),
		periods:   AggregatePeriods(trades),
	}, nil
}
