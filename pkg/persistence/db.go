package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
)

// postgresSchema creates the result tables if they do not exist.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id              BIGSERIAL PRIMARY KEY,
	run_id          TEXT NOT NULL,
	strategy        TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	parameters      JSONB NOT NULL DEFAULT '{}',
	period_start    TIMESTAMPTZ,
	period_end      TIMESTAMPTZ,
	num_bars        INTEGER NOT NULL,
	initial_capital DOUBLE PRECISION NOT NULL,
	final_value     DOUBLE PRECISION NOT NULL,
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ,
	CONSTRAINT uq_backtest_run UNIQUE (run_id, strategy, symbol)
);
CREATE TABLE IF NOT EXISTS backtest_trades (
	run_pk                BIGINT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	ts                    TIMESTAMPTZ NOT NULL,
	symbol                TEXT NOT NULL,
	side                  TEXT NOT NULL,
	shares                BIGINT NOT NULL,
	price                 DOUBLE PRECISION NOT NULL,
	trade_value           DOUBLE PRECISION NOT NULL,
	trading_cost          DOUBLE PRECISION NOT NULL,
	total_cost            DOUBLE PRECISION NOT NULL,
	gross_proceeds        DOUBLE PRECISION NOT NULL,
	profit                DOUBLE PRECISION NOT NULL,
	tax_paid              DOUBLE PRECISION NOT NULL,
	net_proceeds          DOUBLE PRECISION NOT NULL,
	cash_after            DOUBLE PRECISION NOT NULL,
	portfolio_value_after DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS backtest_snapshots (
	run_pk                   BIGINT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	ts                       TIMESTAMPTZ NOT NULL,
	cash                     DOUBLE PRECISION NOT NULL,
	portfolio_value          DOUBLE PRECISION NOT NULL,
	positions                TEXT NOT NULL,
	total_trades             BIGINT NOT NULL,
	cumulative_trading_costs DOUBLE PRECISION NOT NULL,
	cumulative_taxes         DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS backtest_metrics (
	run_pk BIGINT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	source TEXT NOT NULL,
	name   TEXT NOT NULL,
	value  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_pk, source, name)
);
CREATE TABLE IF NOT EXISTS backtest_periods (
	run_pk        BIGINT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	period_start  DATE NOT NULL,
	num_sells     INTEGER NOT NULL,
	wins          INTEGER NOT NULL,
	profit_sum    DOUBLE PRECISION NOT NULL,
	profit_mean   DOUBLE PRECISION NOT NULL,
	profit_std    DOUBLE PRECISION NOT NULL,
	taxes_paid    DOUBLE PRECISION NOT NULL,
	trading_costs DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_pk, period_start)
);`

// Client provides Postgres persistence for backtest results.
type Client struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewClient creates a new database client with a connection pool and makes
// sure the result tables exist.
func NewClient(ctx context.Context, connStr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Database connection pool established", "max_conns", config.MaxConns)
	return &Client{pool: pool, logger: logger}, nil
}

// Close shuts down the connection pool.
func (c *Client) Close() error {
	c.pool.Close()
	c.logger.Info("Database connection pool closed")
	return nil
}

// SaveResult inserts the run row and bulk-copies its trades, snapshots and
// metrics. Saving the same (run_id, strategy, symbol) twice replaces the
// earlier rows.
func (c *Client) SaveResult(ctx context.Context, runID string, r *engine.Result) (int64, error) {
	rows, err := buildRows(runID, r)
	if err != nil {
		return 0, err
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	run := rows.run
	if _, err := tx.Exec(ctx,
		`DELETE FROM backtest_runs WHERE run_id = $1 AND strategy = $2 AND symbol = $3`,
		run.RunID, run.Strategy, run.Symbol,
	); err != nil {
		return 0, fmt.Errorf("clearing previous run: %w", err)
	}

	var pk int64
	err = tx.QueryRow(ctx,
		`INSERT INTO backtest_runs
			(run_id, strategy, symbol, parameters, period_start, period_end,
			 num_bars, initial_capital, final_value, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		run.RunID, run.Strategy, run.Symbol, rows.params, run.PeriodStart, run.PeriodEnd,
		run.NumBars, run.InitialCapital, run.FinalValue, run.StartedAt, run.FinishedAt,
	).Scan(&pk)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}

	// Use COPY for bulk insert performance
	tradeRows := make([][]any, len(rows.trades))
	for i, t := range rows.trades {
		tradeRows[i] = []any{
			pk, time.UnixMilli(t.Timestamp).UTC(), t.Symbol, t.Side, t.Shares, t.Price,
			t.TradeValue, t.TradingCost, t.TotalCost, t.GrossProceeds, t.Profit,
			t.TaxPaid, t.NetProceeds, t.CashAfter, t.PortfolioValueAfter,
		}
	}
	tradeCount, err := tx.CopyFrom(ctx,
		pgx.Identifier{"backtest_trades"},
		[]string{
			"run_pk", "ts", "symbol", "side", "shares", "price",
			"trade_value", "trading_cost", "total_cost", "gross_proceeds", "profit",
			"tax_paid", "net_proceeds", "cash_after", "portfolio_value_after",
		},
		pgx.CopyFromRows(tradeRows),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk inserting trades: %w", err)
	}

	snapRows := make([][]any, len(rows.snapshots))
	for i, s := range rows.snapshots {
		snapRows[i] = []any{
			pk, time.UnixMilli(s.Timestamp).UTC(), s.Cash, s.Value, s.Positions,
			s.TotalTrades, s.CumulativeTradingCosts, s.CumulativeTaxes,
		}
	}
	snapCount, err := tx.CopyFrom(ctx,
		pgx.Identifier{"backtest_snapshots"},
		[]string{
			"run_pk", "ts", "cash", "portfolio_value", "positions",
			"total_trades", "cumulative_trading_costs", "cumulative_taxes",
		},
		pgx.CopyFromRows(snapRows),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk inserting snapshots: %w", err)
	}

	metricRows := make([][]any, len(rows.metrics))
	for i, m := range rows.metrics {
		metricRows[i] = []any{pk, m.Source, m.Name, m.Value}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"backtest_metrics"},
		[]string{"run_pk", "source", "name", "value"},
		pgx.CopyFromRows(metricRows),
	); err != nil {
		return 0, fmt.Errorf("bulk inserting metrics: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range rows.periods {
		batch.Queue(
			`INSERT INTO backtest_periods
				(run_pk, period_start, num_sells, wins, profit_sum, profit_mean,
				 profit_std, taxes_paid, trading_costs)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			pk, p.Period.Start(), p.NumSells, p.Wins, p.ProfitSum, p.ProfitMean,
			p.ProfitStd, p.TaxesPaid, p.TradingCosts,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("inserting period aggregates: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing result transaction: %w", err)
	}

	c.logger.Info("Saved backtest result",
		"run_id", runID,
		"strategy", run.Strategy,
		"run_pk", pk,
		"trades", tradeCount,
		"snapshots", snapCount,
	)
	return pk, nil
}
