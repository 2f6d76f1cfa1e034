package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
)

// ErrRunNotFound is returned when a stored run does not exist.
var ErrRunNotFound = errors.New("run not found")

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id          TEXT NOT NULL,
		strategy        TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		parameters      TEXT NOT NULL DEFAULT '{}',
		period_start    INTEGER,
		period_end      INTEGER,
		num_bars        INTEGER NOT NULL,
		initial_capital REAL NOT NULL,
		final_value     REAL NOT NULL,
		started_at      INTEGER,
		finished_at     INTEGER,
		UNIQUE (run_id, strategy, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_trades (
		run_pk                INTEGER NOT NULL,
		ts                    INTEGER NOT NULL,
		symbol                TEXT NOT NULL,
		side                  TEXT NOT NULL,
		shares                INTEGER NOT NULL,
		price                 REAL NOT NULL,
		trade_value           REAL NOT NULL,
		trading_cost          REAL NOT NULL,
		total_cost            REAL NOT NULL,
		gross_proceeds        REAL NOT NULL,
		profit                REAL NOT NULL,
		tax_paid              REAL NOT NULL,
		net_proceeds          REAL NOT NULL,
		cash_after            REAL NOT NULL,
		portfolio_value_after REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_snapshots (
		run_pk                   INTEGER NOT NULL,
		ts                       INTEGER NOT NULL,
		cash                     REAL NOT NULL,
		portfolio_value          REAL NOT NULL,
		positions                TEXT NOT NULL,
		total_trades             INTEGER NOT NULL,
		cumulative_trading_costs REAL NOT NULL,
		cumulative_taxes         REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_metrics (
		run_pk INTEGER NOT NULL,
		source TEXT NOT NULL,
		name   TEXT NOT NULL,
		value  REAL NOT NULL,
		PRIMARY KEY (run_pk, source, name)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_periods (
		run_pk        INTEGER NOT NULL,
		period_start  TEXT NOT NULL,
		num_sells     INTEGER NOT NULL,
		wins          INTEGER NOT NULL,
		profit_sum    REAL NOT NULL,
		profit_mean   REAL NOT NULL,
		profit_std    REAL NOT NULL,
		taxes_paid    REAL NOT NULL,
		trading_costs REAL NOT NULL,
		PRIMARY KEY (run_pk, period_start)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_runs_run_id ON backtest_runs (run_id)`,
}

var childTables = []string{"backtest_trades", "backtest_snapshots", "backtest_metrics", "backtest_periods"}

// SQLiteStore persists results to a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// the result tables.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// One writer at a time; concurrent sweeps queue on the pool.
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	logger.Info("SQLite result store opened", "path", dbPath)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult stores r under runID, replacing an earlier save of the same
// run, strategy and symbol.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, r *engine.Result) (int64, error) {
	rows, err := buildRows(runID, r)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	run := rows.run
	var old int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM backtest_runs WHERE run_id = ? AND strategy = ? AND symbol = ?`,
		run.RunID, run.Strategy, run.Symbol,
	).Scan(&old)
	switch {
	case err == nil:
		for _, table := range append(childTables, "backtest_runs") {
			col := "run_pk"
			if table == "backtest_runs" {
				col = "id"
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+col+" = ?", old); err != nil {
				return 0, fmt.Errorf("clearing previous run from %s: %w", table, err)
			}
		}
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("looking up previous run: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO backtest_runs
			(run_id, strategy, symbol, parameters, period_start, period_end,
			 num_bars, initial_capital, final_value, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Strategy, run.Symbol, string(rows.params),
		run.PeriodStart.UnixMilli(), run.PeriodEnd.UnixMilli(),
		run.NumBars, run.InitialCapital, run.FinalValue,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}

	if err := execEach(ctx, tx,
		`INSERT INTO backtest_trades VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows.trades), func(i int) []any {
			t := rows.trades[i]
			return []any{
				pk, t.Timestamp, t.Symbol, t.Side, t.Shares, t.Price,
				t.TradeValue, t.TradingCost, t.TotalCost, t.GrossProceeds, t.Profit,
				t.TaxPaid, t.NetProceeds, t.CashAfter, t.PortfolioValueAfter,
			}
		}); err != nil {
		return 0, fmt.Errorf("inserting trades: %w", err)
	}

	if err := execEach(ctx, tx,
		`INSERT INTO backtest_snapshots VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows.snapshots), func(i int) []any {
			sn := rows.snapshots[i]
			return []any{
				pk, sn.Timestamp, sn.Cash, sn.Value, sn.Positions,
				sn.TotalTrades, sn.CumulativeTradingCosts, sn.CumulativeTaxes,
			}
		}); err != nil {
		return 0, fmt.Errorf("inserting snapshots: %w", err)
	}

	if err := execEach(ctx, tx,
		`INSERT INTO backtest_metrics VALUES (?, ?, ?, ?)`,
		len(rows.metrics), func(i int) []any {
			m := rows.metrics[i]
			return []any{pk, m.Source, m.Name, m.Value}
		}); err != nil {
		return 0, fmt.Errorf("inserting metrics: %w", err)
	}

	if err := execEach(ctx, tx,
		`INSERT INTO backtest_periods VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows.periods), func(i int) []any {
			p := rows.periods[i]
			return []any{
				pk, p.Period.Start().Format("2006-01-02"), p.NumSells, p.Wins,
				p.ProfitSum, p.ProfitMean, p.ProfitStd, p.TaxesPaid, p.TradingCosts,
			}
		}); err != nil {
		return 0, fmt.Errorf("inserting period aggregates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing result transaction: %w", err)
	}

	s.logger.Info("Saved backtest result",
		"run_id", runID,
		"strategy", run.Strategy,
		"run_pk", pk,
		"trades", len(rows.trades),
		"snapshots", len(rows.snapshots),
	)
	return pk, nil
}

func execEach(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// StoredRun is a run row read back from the store.
type StoredRun struct {
	ID         int64
	RunID      string
	Strategy   string
	Symbol     string
	Parameters string
	NumBars    int
	FinalValue float64
	FinishedAt time.Time
}

// Runs lists stored runs for runID, or every run when runID is empty,
// newest first.
func (s *SQLiteStore) Runs(ctx context.Context, runID string) ([]StoredRun, error) {
	query := `SELECT id, run_id, strategy, symbol, parameters, num_bars, final_value, finished_at
		FROM backtest_runs`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []StoredRun
	for rows.Next() {
		var r StoredRun
		var finished int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Strategy, &r.Symbol, &r.Parameters,
			&r.NumBars, &r.FinalValue, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Metrics returns the stored metrics of one run row for a source.
func (s *SQLiteStore) Metrics(ctx context.Context, pk int64, source string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM backtest_metrics WHERE run_pk = ? AND source = ?`, pk, source)
	if err != nil {
		return nil, fmt.Errorf("querying metrics: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var v float64
		if err := rows.Scan(&name, &v); err != nil {
			return nil, fmt.Errorf("scanning metric: %w", err)
		}
		out[name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, pk)
	}
	return out, nil
}

// Count returns the number of rows of table that belong to run row pk.
func (s *SQLiteStore) Count(ctx context.Context, table string, pk int64) (int, error) {
	valid := false
	for _, t := range childTables {
		valid = valid || t == table
	}
	if !valid {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE run_pk = ?", pk).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}
