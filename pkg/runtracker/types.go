// Package runtracker keeps in-memory progress of strategy sweeps. The
// monitoring API reads it so dashboards can show which strategies of a sweep
// are pending, running or done, with an ETA.
package runtracker

import (
	"time"
)

// RunStatus represents the overall status of a sweep.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// StrategyStatus represents the execution status of one strategy in a sweep.
type StrategyStatus string

const (
	StrategyPending   StrategyStatus = "pending"
	StrategyRunning   StrategyStatus = "running"
	StrategyCompleted StrategyStatus = "completed"
	StrategyFailed    StrategyStatus = "failed"
)

// Outcome is what a completed backtest reports back to the tracker.
type Outcome struct {
	Trades      int
	FinalValue  float64
	TotalReturn float64
}

// StrategyExecutionState tracks one strategy's backtest within a sweep.
type StrategyExecutionState struct {
	StrategyName   string         `json:"strategy_name"`
	Status         StrategyStatus `json:"status"`
	StartTime      *time.Time     `json:"start_time"`
	EndTime        *time.Time     `json:"end_time"`
	DurationSecs   float64        `json:"duration_seconds"`
	TradesExecuted int            `json:"trades_executed"`
	FinalValue     float64        `json:"final_value"`
	TotalReturn    float64        `json:"total_return"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// SweepRun tracks one sweep: a set of strategies backtested over the same
// symbol and bars.
type SweepRun struct {
	RunID      string                   `json:"run_id"`
	Symbol     string                   `json:"symbol"`
	Interval   string                   `json:"interval"`
	StartTime  time.Time                `json:"start_time"`
	EndTime    *time.Time               `json:"end_time"`
	Status     RunStatus                `json:"status"`
	Strategies []StrategyExecutionState `json:"strategies"`
}

// Counts returns the number of completed, running, pending, and failed
// strategies in this sweep.
func (r *SweepRun) Counts() (completed, running, pending, failed int) {
	for i := range r.Strategies {
		switch r.Strategies[i].Status {
		case StrategyCompleted:
			completed++
		case StrategyRunning:
			running++
		case StrategyPending:
			pending++
		case StrategyFailed:
			failed++
		}
	}
	return
}

// TotalStrategies returns the number of strategies in this sweep.
func (r *SweepRun) TotalStrategies() int {
	return len(r.Strategies)
}

// TotalTrades sums executed trades across strategies.
func (r *SweepRun) TotalTrades() int {
	total := 0
	for i := range r.Strategies {
		total += r.Strategies[i].TradesExecuted
	}
	return total
}

// Strategy returns the state of the named strategy.
func (r *SweepRun) Strategy(name string) (StrategyExecutionState, bool) {
	for _, s := range r.Strategies {
		if s.StrategyName == name {
			return s, true
		}
	}
	return StrategyExecutionState{}, false
}

// ProgressPercent returns the share of finished strategies (0-100). Failed
// strategies count as finished.
func (r *SweepRun) ProgressPercent() int {
	total := r.TotalStrategies()
	if total == 0 {
		return 0
	}
	completed, _, _, failed := r.Counts()
	return (completed + failed) * 100 / total
}

// ElapsedSeconds returns the seconds since the sweep started, or its total
// duration once finished.
func (r *SweepRun) ElapsedSeconds() float64 {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime).Seconds()
	}
	return time.Since(r.StartTime).Seconds()
}

// EstimatedRemainingSeconds extrapolates from the average time per finished
// strategy. It is 0 until one strategy has finished.
func (r *SweepRun) EstimatedRemainingSeconds() float64 {
	completed, running, pending, failed := r.Counts()
	done := completed + failed
	if done == 0 {
		return 0
	}
	avg := r.ElapsedSeconds() / float64(done)
	return avg * float64(pending+running)
}

// ETACompletion returns the estimated time of completion, or nil if not
// calculable.
func (r *SweepRun) ETACompletion() *time.Time {
	remaining := r.EstimatedRemainingSeconds()
	if remaining <= 0 {
		return nil
	}
	eta := time.Now().Add(time.Duration(remaining * float64(time.Second)))
	return &eta
}

func (r *SweepRun) clone() *SweepRun {
	cp := *r
	cp.Strategies = make([]StrategyExecutionState, len(r.Strategies))
	copy(cp.Strategies, r.Strategies)
	return &cp
}
