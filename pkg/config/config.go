// Package config loads the backtester configuration from a YAML file with
// BT_-prefixed environment overrides.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
	"github.com/SebStoll/stocks-backtesting/pkg/metrics"
	"github.com/SebStoll/stocks-backtesting/pkg/strategy"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// DateLayout is the layout of backtest start and end dates.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration.
type Config struct {
	Backtest     Backtest                `yaml:"backtest"`
	TradingCosts types.TradingCostConfig `yaml:"trading_costs"`
	Tax          types.TaxConfig         `yaml:"tax"`
	Strategy     Strategy                `yaml:"strategy"`
	Sweep        []Strategy              `yaml:"sweep" validate:"dive"`
	Data         Data                    `yaml:"data"`
	Storage      Storage                 `yaml:"storage"`
	Server       Server                  `yaml:"server"`
	Logging      Logging                 `yaml:"logging"`
}

// Backtest holds the run parameters of the engine.
type Backtest struct {
	InitialCapital float64 `yaml:"initial_capital" validate:"gt=0"`
	Symbol         string  `yaml:"symbol" validate:"required"`
	CashBuffer     float64 `yaml:"cash_buffer" validate:"gt=0,lte=1"`
	RiskFreeRate   float64 `yaml:"risk_free_rate" validate:"gte=0,lt=1"`
	Start          string  `yaml:"start" validate:"omitempty,datetime=2006-01-02"`
	End            string  `yaml:"end" validate:"omitempty,datetime=2006-01-02"`
}

// Strategy selects a registered strategy. Label names the result of a
// sweep entry; it defaults to Name.
type Strategy struct {
	Name   string         `yaml:"name" validate:"required"`
	Label  string         `yaml:"label,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`
}

// Data configures where bars come from. CSVDir takes precedence over APIURL.
type Data struct {
	APIURL    string        `yaml:"api_url" validate:"omitempty,url"`
	CSVDir    string        `yaml:"csv_dir"`
	Interval  string        `yaml:"interval" validate:"required"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
	Cache     bool          `yaml:"cache"`
	CacheTTL  time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db" validate:"gte=0"`
}

// Storage holds connection settings of the result stores. Both are
// optional; Postgres wins when both are set.
type Storage struct {
	PostgresURL string `yaml:"postgres_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// Server holds network listener configuration. A zero GRPCPort disables the
// gRPC health listener.
type Server struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port" validate:"gt=0,lt=65536"`
	GRPCPort int    `yaml:"grpc_port" validate:"gte=0,lt=65536"`
	Mode     string `yaml:"mode" validate:"omitempty,oneof=debug release test"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backtest: Backtest{
			InitialCapital: 10000,
			Symbol:         strategy.DefaultSymbol,
			CashBuffer:     engine.DefaultCashBuffer,
			RiskFreeRate:   metrics.DefaultRiskFreeRate,
		},
		TradingCosts: types.DefaultTradingCostConfig(),
		Tax:          types.DefaultTaxConfig(),
		Strategy:     Strategy{Name: strategy.NameBuyAndHold},
		Data: Data{
			APIURL:   "http://localhost:8000",
			Interval: "1Day",
			Timeout:  30 * time.Second,
			Cache:    true,
			CacheTTL: 15 * time.Minute,
		},
		Server: Server{
			Host:     "0.0.0.0",
			HTTPPort: 8080,
			GRPCPort: 9090,
			Mode:     "release",
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration at path over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks the BT_ environment variables and overrides the
// corresponding fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"BT_SYMBOL":       &cfg.Backtest.Symbol,
		"BT_START":        &cfg.Backtest.Start,
		"BT_END":          &cfg.Backtest.End,
		"BT_STRATEGY":     &cfg.Strategy.Name,
		"BT_API_URL":      &cfg.Data.APIURL,
		"BT_CSV_DIR":      &cfg.Data.CSVDir,
		"BT_INTERVAL":     &cfg.Data.Interval,
		"BT_REDIS_ADDR":   &cfg.Data.RedisAddr,
		"BT_POSTGRES_URL": &cfg.Storage.PostgresURL,
		"BT_SQLITE_PATH":  &cfg.Storage.SQLitePath,
		"BT_LOG_LEVEL":    &cfg.Logging.Level,
		"BT_LOG_FORMAT":   &cfg.Logging.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"BT_INITIAL_CAPITAL": &cfg.Backtest.InitialCapital,
		"BT_RISK_FREE_RATE":  &cfg.Backtest.RiskFreeRate,
		"BT_TAX_RATE":        &cfg.Tax.Rate,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"BT_HTTP_PORT": &cfg.Server.HTTPPort,
		"BT_GRPC_PORT": &cfg.Server.GRPCPort,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("BT_COST_TYPE"); v != "" {
		cfg.TradingCosts.CostType = types.CostType(strings.ToLower(v))
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section and the date range.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	start, end, err := c.Backtest.Range()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("invalid config: end %s before start %s", c.Backtest.End, c.Backtest.Start)
	}
	return nil
}

// Range parses the start and end dates; an empty date is the zero time.
func (b Backtest) Range() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if b.Start != "" {
		if start, err = time.Parse(DateLayout, b.Start); err != nil {
			return start, end, fmt.Errorf("parsing start date: %w", err)
		}
	}
	if b.End != "" {
		if end, err = time.Parse(DateLayout, b.End); err != nil {
			return start, end, fmt.Errorf("parsing end date: %w", err)
		}
	}
	return start, end, nil
}

// Engine converts the configuration into an engine configuration.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		InitialCapital: c.Backtest.InitialCapital,
		Symbol:         c.Backtest.Symbol,
		TradingCosts:   c.TradingCosts,
		Tax:            c.Tax,
		CashBuffer:     c.Backtest.CashBuffer,
		RiskFreeRate:   c.Backtest.RiskFreeRate,
	}
}

// Key is the result key of a sweep entry.
func (s Strategy) Key() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Name
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// SlogLevel maps the configured level name to a slog.Level.
func (l Logging) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a text or JSON logger writing to w.
func (l Logging) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
