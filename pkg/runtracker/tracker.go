package runtracker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracker provides thread-safe management of sweep state.
// It is the central store queried by the monitoring API endpoints.
type Tracker struct {
	mu     sync.RWMutex
	runs   map[string]*SweepRun
	logger *slog.Logger

	// startedAt is used by the status endpoint to report uptime.
	startedAt time.Time
	version   string
}

// NewTracker creates a new run tracker.
func NewTracker(logger *slog.Logger, version string) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	return &Tracker{
		runs:      make(map[string]*SweepRun),
		logger:    logger,
		startedAt: time.Now(),
		version:   version,
	}
}

// StartedAt returns the time the tracker was created.
func (t *Tracker) StartedAt() time.Time {
	return t.startedAt
}

// Version returns the version string.
func (t *Tracker) Version() string {
	return t.version
}

// UptimeSeconds returns seconds since the tracker was created.
func (t *Tracker) UptimeSeconds() float64 {
	return time.Since(t.startedAt).Seconds()
}

// StartRun registers a sweep with every strategy pending and returns its
// run ID, a random UUID.
func (t *Tracker) StartRun(symbol, interval string, strategies []string) string {
	runID := uuid.NewString()

	states := make([]StrategyExecutionState, len(strategies))
	for i, name := range strategies {
		states[i] = StrategyExecutionState{StrategyName: name, Status: StrategyPending}
	}

	run := &SweepRun{
		RunID:      runID,
		Symbol:     symbol,
		Interval:   interval,
		StartTime:  time.Now(),
		Status:     StatusRunning,
		Strategies: states,
	}

	t.mu.Lock()
	t.runs[runID] = run
	t.mu.Unlock()

	t.logger.Info("Run started",
		"run_id", runID,
		"symbol", symbol,
		"interval", interval,
		"strategies", len(strategies),
	)
	return runID
}

// update applies fn to the named strategy of a run under the write lock.
func (t *Tracker) update(op, runID, name string, fn func(run *SweepRun, s *StrategyExecutionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		t.logger.Warn(op+": run not found", "run_id", runID)
		return
	}
	for i := range run.Strategies {
		if run.Strategies[i].StrategyName == name {
			fn(run, &run.Strategies[i])
			return
		}
	}
	t.logger.Warn(op+": strategy not found in run", "run_id", runID, "strategy", name)
}

// MarkStrategyRunning marks a strategy as running within a given run.
func (t *Tracker) MarkStrategyRunning(runID, name string) {
	t.update("MarkStrategyRunning", runID, name, func(_ *SweepRun, s *StrategyExecutionState) {
		now := time.Now()
		s.Status = StrategyRunning
		s.StartTime = &now
		t.logger.Debug("Strategy marked running", "run_id", runID, "strategy", name)
	})
}

// MarkStrategyCompleted records a finished backtest's outcome and duration.
func (t *Tracker) MarkStrategyCompleted(runID, name string, out Outcome) {
	t.update("MarkStrategyCompleted", runID, name, func(run *SweepRun, s *StrategyExecutionState) {
		now := time.Now()
		s.Status = StrategyCompleted
		s.EndTime = &now
		s.TradesExecuted = out.Trades
		s.FinalValue = out.FinalValue
		s.TotalReturn = out.TotalReturn
		if s.StartTime != nil {
			s.DurationSecs = now.Sub(*s.StartTime).Seconds()
		}
		t.logger.Debug("Strategy completed",
			"run_id", runID,
			"strategy", name,
			"trades", out.Trades,
			"duration_secs", s.DurationSecs,
		)
		t.maybeFinishRunLocked(run)
	})
}

// MarkStrategyFailed marks a strategy as failed with an error message.
func (t *Tracker) MarkStrategyFailed(runID, name, errMsg string) {
	t.update("MarkStrategyFailed", runID, name, func(run *SweepRun, s *StrategyExecutionState) {
		now := time.Now()
		s.Status = StrategyFailed
		s.EndTime = &now
		s.ErrorMessage = errMsg
		if s.StartTime != nil {
			s.DurationSecs = now.Sub(*s.StartTime).Seconds()
		}
		t.logger.Warn("Strategy failed", "run_id", runID, "strategy", name, "error", errMsg)
		t.maybeFinishRunLocked(run)
	})
}

// maybeFinishRunLocked finalises the run once no strategy is pending or
// running. Must be called with t.mu held.
func (t *Tracker) maybeFinishRunLocked(run *SweepRun) {
	completed, running, pending, failed := run.Counts()
	if running > 0 || pending > 0 {
		return
	}
	now := time.Now()
	run.EndTime = &now
	if failed > 0 && completed == 0 {
		run.Status = StatusFailed
	} else {
		run.Status = StatusCompleted
	}
	t.logger.Info("Run finished",
		"run_id", run.RunID,
		"status", run.Status,
		"completed", completed,
		"failed", failed,
		"elapsed_secs", run.ElapsedSeconds(),
	)
}

// GetRun returns a copy of the run with the given ID, or nil if not found.
func (t *Tracker) GetRun(runID string) *SweepRun {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[runID]
	if !ok {
		return nil
	}
	return run.clone()
}

// ListRuns returns copies of all runs, newest first. Empty filters match
// everything; a non-positive limit means no limit.
func (t *Tracker) ListRuns(statusFilter, symbolFilter string, limit int) []*SweepRun {
	t.mu.RLock()
	result := make([]*SweepRun, 0, len(t.runs))
	for _, run := range t.runs {
		if statusFilter != "" && string(run.Status) != statusFilter {
			continue
		}
		if symbolFilter != "" && run.Symbol != symbolFilter {
			continue
		}
		result = append(result, run.clone())
	}
	t.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
