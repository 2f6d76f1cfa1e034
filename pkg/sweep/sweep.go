// Package sweep backtests several strategies over the same bars
// concurrently. Every strategy gets its own Engine and Portfolio, so runs
// share nothing but the read-only bar slice.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
	"github.com/SebStoll/stocks-backtesting/pkg/persistence"
	"github.com/SebStoll/stocks-backtesting/pkg/runtracker"
	"github.com/SebStoll/stocks-backtesting/pkg/strategy"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// DefaultConcurrency bounds how many backtests run at once.
const DefaultConcurrency = 4

var (
	// ErrNoStrategies is returned for a request without strategies.
	ErrNoStrategies = errors.New("sweep needs at least one strategy")

	// ErrDuplicateStrategy is returned when two specs resolve to the same key.
	ErrDuplicateStrategy = errors.New("duplicate strategy key")
)

// Spec selects a registered strategy and its parameters. Label, when set,
// replaces the name as the result key so one strategy can be swept with
// several parameter sets.
type Spec struct {
	Name   string         `yaml:"name" json:"name"`
	Label  string         `yaml:"label,omitempty" json:"label,omitempty"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Key is the result key of the spec.
func (s Spec) Key() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Name
}

// Request is one sweep over a symbol's bars.
type Request struct {
	Symbol     string
	Interval   string
	Bars       []types.Bar
	Strategies []Spec
	Start      time.Time
	End        time.Time
	Persist    bool
}

// Runner executes sweeps, reporting progress to a tracker and keeping
// finished results in a Store.
type Runner struct {
	cfg         engine.Config
	tracker     *runtracker.Tracker
	store       *Store
	persister   persistence.Persister
	concurrency int
	logger      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithPersister saves every completed backtest of requests with Persist set.
func WithPersister(p persistence.Persister) Option {
	return func(r *Runner) { r.persister = p }
}

// WithConcurrency sets the number of backtests run at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithStore shares a result store, e.g. with the API server.
func WithStore(s *Store) Option {
	return func(r *Runner) { r.store = s }
}

// NewRunner creates a Runner. cfg is the template engine configuration; its
// symbol is replaced by each request's symbol.
func NewRunner(cfg engine.Config, tracker *runtracker.Tracker, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = runtracker.NewTracker(logger, "")
	}
	r := &Runner{
		cfg:         cfg,
		tracker:     tracker,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = NewStore()
	}
	return r
}

// Tracker returns the progress tracker.
func (r *Runner) Tracker() *runtracker.Tracker { return r.tracker }

// Store returns the result store.
func (r *Runner) Store() *Store { return r.store }

// Run backtests every strategy of req and returns the run ID with the
// successful results keyed by Spec.Key. A strategy that fails is recorded
// in the tracker and left out of the results; Run itself only fails for an
// invalid request or a cancelled context.
func (r *Runner) Run(ctx context.Context, req Request) (string, map[string]*engine.Result, error) {
	p, err := r.begin(req)
	if err != nil {
		return "", nil, err
	}
	results, err := r.execute(ctx, p, req)
	return p.runID, results, err
}

// Submit validates req, registers it with the tracker and runs it in the
// background. Progress and results are read from the tracker and the store.
func (r *Runner) Submit(ctx context.Context, req Request) (string, error) {
	p, err := r.begin(req)
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := r.execute(context.WithoutCancel(ctx), p, req); err != nil {
			r.logger.Error("Background sweep failed", "run_id", p.runID, "error", err)
		}
	}()
	return p.runID, nil
}

type plan struct {
	runID  string
	symbol string
	keys   []string
}

func (r *Runner) begin(req Request) (plan, error) {
	if len(req.Strategies) == 0 {
		return plan{}, ErrNoStrategies
	}
	keys := make([]string, len(req.Strategies))
	seen := make(map[string]bool, len(req.Strategies))
	for i, spec := range req.Strategies {
		k := spec.Key()
		if seen[k] {
			return plan{}, fmt.Errorf("%w: %s", ErrDuplicateStrategy, k)
		}
		seen[k] = true
		keys[i] = k
	}

	symbol := req.Symbol
	if symbol == "" {
		symbol = r.cfg.Symbol
	}
	return plan{
		runID:  r.tracker.StartRun(symbol, req.Interval, keys),
		symbol: symbol,
		keys:   keys,
	}, nil
}

func (r *Runner) execute(ctx context.Context, p plan, req Request) (map[string]*engine.Result, error) {
	runID := p.runID
	var mu sync.Mutex
	results := make(map[string]*engine.Result, len(req.Strategies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, spec := range req.Strategies {
		key := p.keys[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				r.tracker.MarkStrategyFailed(runID, key, err.Error())
				return nil
			}
			r.tracker.MarkStrategyRunning(runID, key)

			res, err := r.runOne(p.symbol, spec, req)
			if err != nil {
				r.tracker.MarkStrategyFailed(runID, key, err.Error())
				return nil
			}

			if req.Persist && r.persister != nil {
				if _, err := r.persister.SaveResult(gctx, runID, res); err != nil {
					r.logger.Error("Persisting result failed", "run_id", runID, "strategy", key, "error", err)
				}
			}

			mu.Lock()
			results[key] = res
			mu.Unlock()
			r.store.Add(runID, key, res)
			r.tracker.MarkStrategyCompleted(runID, key, runtracker.Outcome{
				Trades:      res.Stats().TotalTrades,
				FinalValue:  res.FinalValue().InexactFloat64(),
				TotalReturn: res.Metrics["total_return"],
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("sweep %s interrupted: %w", runID, err)
	}

	r.logger.Info("Sweep finished",
		"run_id", runID,
		"symbol", p.symbol,
		"succeeded", len(results),
		"strategies", len(req.Strategies),
	)
	return results, nil
}

func (r *Runner) runOne(symbol string, spec Spec, req Request) (*engine.Result, error) {
	cfg := r.cfg
	cfg.Symbol = symbol
	eng, err := engine.NewEngine(cfg, r.logger.With("strategy", spec.Key()))
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	strat, err := strategy.New(spec.Name, symbol, spec.Params)
	if err != nil {
		return nil, err
	}
	return eng.Run(req.Bars, strat, engine.WithDateRange(req.Start, req.End))
}

// ---------------------------------------------------------------------------
// Leaderboard
// ---------------------------------------------------------------------------

// Standing is one row of a sweep leaderboard.
type Standing struct {
	Key         string  `json:"strategy"`
	TotalReturn float64 `json:"total_return"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
	Trades      int     `json:"total_trades"`
	FinalValue  float64 `json:"final_value"`
}

// Leaderboard ranks results by total return, best first; ties are broken
// by key.
func Leaderboard(results map[string]*engine.Result) []Standing {
	out := make([]Standing, 0, len(results))
	for key, res := range results {
		m := res.Metrics
		out = append(out, Standing{
			Key:         key,
			TotalReturn: m["total_return"],
			SharpeRatio: m["sharpe_ratio"],
			MaxDrawdown: m["max_drawdown"],
			WinRate:     m["win_rate"],
			Trades:      int(m["total_trades"]),
			FinalValue:  m["final_portfolio_value"],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalReturn != out[j].TotalReturn {
			return out[i].TotalReturn > out[j].TotalReturn
		}
		return out[i].Key < out[j].Key
	})
	return out
}
