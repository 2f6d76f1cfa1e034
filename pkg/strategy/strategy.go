// Package strategy defines the signal-generating Strategy abstraction and the
// built-in strategies, plus a name-keyed registry of factories.
//
// A strategy only ever sees the bars up to and including the current one; the
// engine passes bars[:i+1] at step i.
package strategy

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// ErrInvalidParameters is returned for parameter combinations a strategy
// cannot run with (e.g. a short window not below the long window).
var ErrInvalidParameters = errors.New("invalid strategy parameters")

// DefaultSymbol is used when a strategy is built without a symbol.
const DefaultSymbol = "AAPL"

// Strategy turns a causal view of history into per-symbol signals.
type Strategy interface {
	// Name is a human-readable identifier.
	Name() string

	// Initialize is called once before the run with the full bar range.
	// It must not be used to precompute signals.
	Initialize(bars []types.Bar)

	// GenerateSignals is called once per bar with bars[:i+1]. Symbols
	// absent from the result are treated as HOLD.
	GenerateSignals(bars []types.Bar) map[string]types.Signal

	// Parameters returns the current tunable parameters.
	Parameters() map[string]any
}

// ParameterSetter is implemented by strategies whose parameters can be
// changed after construction.
type ParameterSetter interface {
	SetParameters(params map[string]any) error
}

// LoggerSetter is implemented by strategies that log through an injected
// logger. The engine hands its own logger over before a run.
type LoggerSetter interface {
	SetLogger(logger *slog.Logger)
}

// Base carries the name, symbol and logger shared by every strategy.
type Base struct {
	name   string
	symbol string
	logger *slog.Logger
}

// NewBase returns a Base; an empty symbol falls back to DefaultSymbol.
func NewBase(name, symbol string) Base {
	if symbol == "" {
		symbol = DefaultSymbol
	}
	return Base{name: name, symbol: symbol}
}

// Name returns the strategy name.
func (b *Base) Name() string { return b.name }

// Symbol returns the symbol signals are emitted for.
func (b *Base) Symbol() string { return b.symbol }

// SetLogger replaces the logger; nil restores slog.Default.
func (b *Base) SetLogger(logger *slog.Logger) { b.logger = logger }

// Logger returns the injected logger, or slog.Default when none was set.
func (b *Base) Logger() *slog.Logger {
	if b.logger == nil {
		return slog.Default()
	}
	return b.logger
}

// Initialize is a no-op.
func (b *Base) Initialize([]types.Bar) {}

// SetParameters ignores every key, logging each one.
func (b *Base) SetParameters(params map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Logger().Warn("Ignoring unknown strategy parameter", "strategy", b.name, "parameter", k)
	}
	return nil
}

func (b *Base) emit(sig types.Signal) map[string]types.Signal {
	return map[string]types.Signal{b.symbol: sig}
}

func (b *Base) hold() map[string]types.Signal {
	return b.emit(types.Hold)
}

// DecodeParams overlays params onto out, a pointer to a struct with yaml
// tags. Keys without a matching field are rejected.
func DecodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return nil
}

// paramsMap renders a params struct back into a map via its yaml tags.
func paramsMap(in any) map[string]any {
	raw, err := yaml.Marshal(in)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}
