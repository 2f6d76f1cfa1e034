// Command backtest runs trading strategies against historical bars.
//
// Usage:
//
//	backtest run --strategy moving_average --csv data/AAPL.csv --param short_window=10
//	backtest run --strategy rsi --symbol MSFT --start 2023-01-01 --end 2023-12-31
//	backtest sweep --config backtest.yaml --csv 'data/**/*.csv' --out results/
//	backtest strategies
//	backtest serve --config backtest.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/SebStoll/stocks-backtesting/pkg/config"
)

var version = "dev"

// app carries the loaded configuration and logger to the subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "backtest",
		Short:         "Backtest trading strategies on historical stock bars",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("BT_CONFIG"), "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(a.runCmd())
	rootCmd.AddCommand(a.sweepCmd())
	rootCmd.AddCommand(a.strategiesCmd())
	rootCmd.AddCommand(a.serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = cfg.Logging.NewLogger(os.Stderr)
	slog.SetDefault(a.logger)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("backtest version %s\n", version)
		},
	}
}
