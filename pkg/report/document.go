package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"gopkg.in/yaml.v3"

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// Document is the serialisable form of a finished run.
type Document struct {
	Strategy       string             `yaml:"strategy"`
	Symbol         string             `yaml:"symbol"`
	Parameters     map[string]any     `yaml:"parameters,omitempty"`
	PeriodStart    time.Time          `yaml:"period_start"`
	PeriodEnd      time.Time          `yaml:"period_end"`
	Bars           int                `yaml:"bars"`
	InitialCapital string             `yaml:"initial_capital"`
	FinalValue     string             `yaml:"final_value"`
	Metrics        map[string]float64 `yaml:"metrics"`
	Performance    map[string]float64 `yaml:"performance"`
	Trades         []string           `yaml:"trades,omitempty"`
}

// NewDocument builds the Document for r.
func NewDocument(r *engine.Result) Document {
	doc := Document{
		Strategy:       r.StrategyName,
		Symbol:         r.Symbol,
		Parameters:     r.Parameters,
		Bars:           len(r.Bars),
		InitialCapital: r.InitialCapital().StringFixed(2),
		FinalValue:     r.FinalValue().StringFixed(2),
		Metrics:        r.Metrics,
		Performance:    r.Performance,
	}
	if len(r.Bars) > 0 {
		doc.PeriodStart = r.Bars[0].Timestamp
		doc.PeriodEnd = r.Bars[len(r.Bars)-1].Timestamp
	}
	for _, t := range r.Trades() {
		doc.Trades = append(doc.Trades, t.String())
	}
	return doc
}

// WriteYAML writes the run document as YAML. Infinite ratios are written
// as .inf.
func WriteYAML(w io.Writer, r *engine.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewDocument(r)); err != nil {
		return fmt.Errorf("encoding run document: %w", err)
	}
	return enc.Close()
}

// JSONMetrics converts a metric map into values encoding/json accepts:
// non-finite numbers become the strings "Infinity", "-Infinity" and "NaN".
func JSONMetrics(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case math.IsNaN(v):
			out[k] = "NaN"
		case math.IsInf(v, 1):
			out[k] = "Infinity"
		case math.IsInf(v, -1):
			out[k] = "-Infinity"
		default:
			out[k] = v
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Protobuf views
// ---------------------------------------------------------------------------

// MetricsStruct converts a metric map into a protobuf Struct.
func MetricsStruct(m map[string]float64) (*structpb.Struct, error) {
	fields := make(map[string]any, len(m))
	for k, v := range m {
		fields[k] = v
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("building metrics struct: %w", err)
	}
	return s, nil
}

// TradeStruct converts a trade into a protobuf Struct. Money fields are
// kept as decimal strings.
func TradeStruct(t types.Trade) (*structpb.Struct, error) {
	ts := timestamppb.New(t.Timestamp)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("trade timestamp: %w", err)
	}
	s, err := structpb.NewStruct(map[string]any{
		"timestamp":             ts.AsTime().Format(time.RFC3339Nano),
		"symbol":                t.Symbol,
		"side":                  string(t.Side),
		"shares":                t.Shares,
		"price":                 t.Price.String(),
		"trade_value":           t.TradeValue.String(),
		"trading_cost":          t.TradingCost.String(),
		"total_cost":            t.TotalCost.String(),
		"gross_proceeds":        t.GrossProceeds.String(),
		"profit":                t.Profit.String(),
		"tax_paid":              t.TaxPaid.String(),
		"net_proceeds":          t.NetProceeds.String(),
		"cash_after":            t.CashAfter.String(),
		"portfolio_value_after": t.PortfolioValueAfter.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("building trade struct: %w", err)
	}
	return s, nil
}

// TradeStructs converts every trade; it stops at the first failure.
func TradeStructs(trades []types.Trade) ([]*structpb.Struct, error) {
	out := make([]*structpb.Struct, 0, len(trades))
	for i, t := range trades {
		s, err := TradeStruct(t)
		if err != nil {
			return nil, fmt.Errorf("trade %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ResultStruct is the protobuf view of a whole run: identity, summary
// metrics, full performance and trades.
func ResultStruct(r *engine.Result) (*structpb.Struct, error) {
	metrics, err := MetricsStruct(r.Metrics)
	if err != nil {
		return nil, err
	}
	perf, err := MetricsStruct(r.Performance)
	if err != nil {
		return nil, err
	}
	trades, err := TradeStructs(r.Trades())
	if err != nil {
		return nil, err
	}
	tradeValues := make([]*structpb.Value, len(trades))
	for i, t := range trades {
		tradeValues[i] = structpb.NewStructValue(t)
	}
	params, err := structpb.NewStruct(r.Parameters)
	if err != nil {
		return nil, fmt.Errorf("building parameters struct: %w", err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"strategy":    structpb.NewStringValue(r.StrategyName),
		"symbol":      structpb.NewStringValue(r.Symbol),
		"parameters":  structpb.NewStructValue(params),
		"metrics":     structpb.NewStructValue(metrics),
		"performance": structpb.NewStructValue(perf),
		"trades":      structpb.NewListValue(&structpb.ListValue{Values: tradeValues}),
	}}, nil
}
