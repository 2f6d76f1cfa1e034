package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"gopkg.in/yaml.v3"

	"github.com/SebStoll/stocks-backtesting/pkg/config"
	"github.com/SebStoll/stocks-backtesting/pkg/engine"
	"github.com/SebStoll/stocks-backtesting/pkg/report"
	"github.com/SebStoll/stocks-backtesting/pkg/runtracker"
	"github.com/SebStoll/stocks-backtesting/pkg/strategy"
	"github.com/SebStoll/stocks-backtesting/pkg/sweep"
)

// runFlags are shared by run and sweep.
type runFlags struct {
	csv       string
	symbol    string
	start     string
	end       string
	outDir    string
	formats   []string
	persist   bool
	reportOut bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.csv, "csv", "", "CSV file or glob pattern (** supported); one backtest per file")
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Ticker symbol (defaults to backtest.symbol)")
	cmd.Flags().StringVar(&f.start, "start", "", "Start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.end, "end", "", "End date, YYYY-MM-DD")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "", "Directory for exported trades, history and reports")
	cmd.Flags().StringSliceVar(&f.formats, "format", []string{"csv"}, "Export formats: csv, parquet, yaml, json")
	cmd.Flags().BoolVar(&f.persist, "persist", false, "Save results to the configured database")
	cmd.Flags().BoolVar(&f.reportOut, "summary", true, "Print the results summary")
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func (a *app) runCmd() *cobra.Command {
	var flags runFlags
	var name string
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest a single strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if name == "" {
				name = a.cfg.Strategy.Name
			}
			p, err := mergeParams(a.cfg.Strategy, name, params)
			if err != nil {
				return err
			}
			return a.runSingle(ctx, flags, name, p)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&name, "strategy", "s", "", "Strategy name (defaults to strategy.name)")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Strategy parameter as key=value, repeatable")
	return cmd
}

func (a *app) runSingle(ctx context.Context, flags runFlags, name string, params map[string]any) error {
	start, end, err := a.dateRange(flags.start, flags.end)
	if err != nil {
		return err
	}
	symbol := flags.symbol
	if symbol == "" {
		symbol = a.cfg.Backtest.Symbol
	}
	sets, err := a.loadBars(ctx, flags.csv, symbol, start, end)
	if err != nil {
		return err
	}

	persister, err := a.newPersister(ctx)
	if err != nil {
		return err
	}
	if persister != nil {
		defer persister.Close()
	}
	runID := uuid.NewString()

	for _, set := range sets {
		cfg := a.cfg.Engine()
		cfg.Symbol = set.symbol
		eng, err := engine.NewEngine(cfg, a.logger)
		if err != nil {
			return err
		}
		strat, err := strategy.New(name, set.symbol, params)
		if err != nil {
			return err
		}
		res, err := eng.Run(set.bars, strat)
		if err != nil {
			return fmt.Errorf("backtesting %s on %s: %w", name, set.symbol, err)
		}

		if flags.reportOut {
			if err := report.PrintSummary(os.Stdout, res); err != nil {
				return err
			}
		}
		if err := a.export(flags, set.symbol+"_"+name, res); err != nil {
			return err
		}
		if flags.persist {
			if persister == nil {
				return fmt.Errorf("--persist needs storage.postgres_url or storage.sqlite_path")
			}
			if _, err := persister.SaveResult(ctx, runID, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeParams overlays --param values on the configured params when the
// strategy is the configured one. Values are parsed as YAML scalars so
// numbers and booleans keep their type.
func mergeParams(cfgStrat config.Strategy, name string, flagParams map[string]string) (map[string]any, error) {
	out := make(map[string]any)
	if cfgStrat.Name == name {
		for k, v := range cfgStrat.Params {
			out[k] = v
		}
	}
	for k, raw := range flagParams {
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("parsing --param %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// sweep
// ---------------------------------------------------------------------------

func (a *app) sweepCmd() *cobra.Command {
	var flags runFlags
	var names []string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Backtest several strategies concurrently on the same bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			specs := a.sweepSpecs(names)
			if len(specs) == 0 {
				return fmt.Errorf("no strategies: pass --strategies or set sweep in the config")
			}
			return a.runSweep(ctx, flags, specs, concurrency)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&names, "strategies", nil, "Strategy names with default parameters (defaults to the config sweep list)")
	cmd.Flags().IntVar(&concurrency, "concurrency", sweep.DefaultConcurrency, "Backtests run at once")
	return cmd
}

func (a *app) sweepSpecs(names []string) []sweep.Spec {
	var specs []sweep.Spec
	if len(names) > 0 {
		if len(names) == 1 && names[0] == "all" {
			names = strategy.Names()
		}
		for _, n := range names {
			specs = append(specs, sweep.Spec{Name: n})
		}
		return specs
	}
	for _, s := range a.cfg.Sweep {
		specs = append(specs, sweep.Spec{Name: s.Name, Label: s.Label, Params: s.Params})
	}
	return specs
}

func (a *app) runSweep(ctx context.Context, flags runFlags, specs []sweep.Spec, concurrency int) error {
	start, end, err := a.dateRange(flags.start, flags.end)
	if err != nil {
		return err
	}
	symbol := flags.symbol
	if symbol == "" {
		symbol = a.cfg.Backtest.Symbol
	}
	sets, err := a.loadBars(ctx, flags.csv, symbol, start, end)
	if err != nil {
		return err
	}

	opts := []sweep.Option{sweep.WithConcurrency(concurrency)}
	if flags.persist {
		persister, err := a.newPersister(ctx)
		if err != nil {
			return err
		}
		if persister == nil {
			return fmt.Errorf("--persist needs storage.postgres_url or storage.sqlite_path")
		}
		defer persister.Close()
		opts = append(opts, sweep.WithPersister(persister))
	}
	runner := sweep.NewRunner(a.cfg.Engine(), runtracker.NewTracker(a.logger, version), a.logger, opts...)

	for _, set := range sets {
		runID, results, err := runner.Run(ctx, sweep.Request{
			Symbol:     set.symbol,
			Interval:   a.cfg.Data.Interval,
			Bars:       set.bars,
			Strategies: specs,
			Persist:    flags.persist,
		})
		if err != nil {
			return err
		}

		if run := runner.Tracker().GetRun(runID); run != nil {
			for _, st := range run.Strategies {
				if st.ErrorMessage != "" {
					a.logger.Warn("Strategy failed", "run_id", runID, "strategy", st.StrategyName, "error", st.ErrorMessage)
				}
			}
		}
		if err := printLeaderboard(set.symbol, runID, sweep.Leaderboard(results)); err != nil {
			return err
		}
		for key, res := range results {
			if flags.reportOut && len(results) == 1 {
				if err := report.PrintSummary(os.Stdout, res); err != nil {
					return err
				}
			}
			if err := a.export(flags, set.symbol+"_"+key, res); err != nil {
				return err
			}
		}
	}
	return nil
}

func printLeaderboard(symbol, runID string, board []sweep.Standing) error {
	fmt.Printf("\nSWEEP %s (%s)\n", symbol, runID)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSTRATEGY\tTOTAL RETURN\tSHARPE\tMAX DRAWDOWN\tWIN RATE\tTRADES\tFINAL VALUE")
	for i, s := range board {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			i+1, s.Key,
			report.Percent(s.TotalReturn),
			report.Number(s.SharpeRatio),
			report.Percent(s.MaxDrawdown),
			report.Percent(s.WinRate),
			s.Trades,
			report.Money(s.FinalValue),
		)
	}
	return tw.Flush()
}

// ---------------------------------------------------------------------------
// strategies
// ---------------------------------------------------------------------------

func (a *app) strategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List registered strategies",
		Run: func(cmd *cobra.Command, args []string) {
			for _, n := range strategy.Names() {
				fmt.Println(n)
			}
			fmt.Printf("\nTotal: %d strategies\n", strategy.Count())
		},
	}
}

// ---------------------------------------------------------------------------
// Exports
// ---------------------------------------------------------------------------

// export writes the result in every requested format under flags.outDir,
// using base as the file name stem.
func (a *app) export(flags runFlags, base string, res *engine.Result) error {
	if flags.outDir == "" {
		return nil
	}
	if err := os.MkdirAll(flags.outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	stem := filepath.Join(flags.outDir, base)

	for _, format := range flags.formats {
		var err error
		switch strings.ToLower(strings.TrimSpace(format)) {
		case "csv":
			err = writeFile(stem+"_trades.csv", func(f *os.File) error { return report.WriteTradesCSV(f, res.Trades()) })
			if err == nil {
				err = writeFile(stem+"_history.csv", func(f *os.File) error { return report.WriteSnapshotsCSV(f, res.History()) })
			}
		case "parquet":
			err = report.WriteTradesParquet(stem+"_trades.parquet", res.Trades())
			if err == nil {
				err = report.WriteSnapshotsParquet(stem+"_history.parquet", res.History())
			}
		case "yaml":
			err = writeFile(stem+".yaml", func(f *os.File) error { return report.WriteYAML(f, res) })
		case "json":
			err = writeFile(stem+".json", func(f *os.File) error {
				st, err := report.ResultStruct(res)
				if err != nil {
					return err
				}
				raw, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
				if err != nil {
					return err
				}
				_, err = f.Write(raw)
				return err
			})
		default:
			err = fmt.Errorf("unknown export format %q", format)
		}
		if err != nil {
			return fmt.Errorf("exporting %s: %w", base, err)
		}
	}
	a.logger.Info("Exported results", "dir", flags.outDir, "name", base, "formats", flags.formats)
	return nil
}

func writeFile(path string, fn func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
