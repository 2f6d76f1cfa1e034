package runtracker

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var threeStrategies = []string{"buy_and_hold", "moving_average", "rsi"}

func TestNewTracker(t *testing.T) {
	tracker := NewTracker(nil, "1.0.0")
	if tracker == nil {
		t.Fatal("expected non-nil tracker")
	}
	if tracker.Version() != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %q", tracker.Version())
	}
	if tracker.UptimeSeconds() < 0 {
		t.Error("expected non-negative uptime")
	}
}

func TestNewTrackerDefaults(t *testing.T) {
	tracker := NewTracker(nil, "")
	if tracker.Version() != "dev" {
		t.Errorf("expected default version 'dev', got %q", tracker.Version())
	}
}

func TestStartRun(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", threeStrategies)

	if _, err := uuid.Parse(runID); err != nil {
		t.Fatalf("run ID %q is not a UUID: %v", runID, err)
	}

	run := tracker.GetRun(runID)
	if run == nil {
		t.Fatal("expected to find run by ID")
	}
	if run.Symbol != "AAPL" || run.Interval != "1Day" {
		t.Errorf("got symbol=%q interval=%q", run.Symbol, run.Interval)
	}
	if run.Status != StatusRunning {
		t.Errorf("expected status running, got %q", run.Status)
	}
	if run.TotalStrategies() != 3 {
		t.Errorf("expected 3 strategies, got %d", run.TotalStrategies())
	}

	completed, running, pending, failed := run.Counts()
	if completed != 0 || running != 0 || pending != 3 || failed != 0 {
		t.Errorf("expected (0,0,3,0), got (%d,%d,%d,%d)", completed, running, pending, failed)
	}
}

func TestStartRunUniqueIDs(t *testing.T) {
	tracker := NewTracker(nil, "test")
	a := tracker.StartRun("AAPL", "1Day", threeStrategies)
	b := tracker.StartRun("AAPL", "1Day", threeStrategies)
	if a == b {
		t.Error("expected distinct run IDs")
	}
}

func TestMarkStrategyRunning(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", []string{"rsi", "macd"})

	tracker.MarkStrategyRunning(runID, "rsi")

	run := tracker.GetRun(runID)
	completed, running, pending, failed := run.Counts()
	if completed != 0 || running != 1 || pending != 1 || failed != 0 {
		t.Errorf("expected (0,1,1,0), got (%d,%d,%d,%d)", completed, running, pending, failed)
	}

	s, ok := run.Strategy("rsi")
	if !ok {
		t.Fatal("strategy rsi missing")
	}
	if s.StartTime == nil {
		t.Error("expected start time to be set for running strategy")
	}
	if s.Status != StrategyRunning {
		t.Errorf("expected status running, got %q", s.Status)
	}
}

func TestMarkStrategyCompleted(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", []string{"rsi", "macd"})

	tracker.MarkStrategyRunning(runID, "rsi")
	tracker.MarkStrategyCompleted(runID, "rsi", Outcome{Trades: 42, FinalValue: 11000, TotalReturn: 0.1})

	run := tracker.GetRun(runID)
	completed, running, pending, failed := run.Counts()
	if completed != 1 || running != 0 || pending != 1 || failed != 0 {
		t.Errorf("expected (1,0,1,0), got (%d,%d,%d,%d)", completed, running, pending, failed)
	}

	s, _ := run.Strategy("rsi")
	if s.TradesExecuted != 42 || s.FinalValue != 11000 || s.TotalReturn != 0.1 {
		t.Errorf("outcome not recorded: %+v", s)
	}
	if s.EndTime == nil {
		t.Error("expected end time to be set")
	}
	if s.DurationSecs < 0 {
		t.Errorf("expected non-negative duration, got %f", s.DurationSecs)
	}
	if run.Status != StatusRunning {
		t.Errorf("run should still be running, got %q", run.Status)
	}
}

func TestMarkStrategyFailed(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", []string{"rsi", "macd"})

	tracker.MarkStrategyRunning(runID, "macd")
	tracker.MarkStrategyFailed(runID, "macd", "invalid parameters")

	s, _ := tracker.GetRun(runID).Strategy("macd")
	if s.Status != StrategyFailed {
		t.Errorf("expected failed, got %q", s.Status)
	}
	if s.ErrorMessage != "invalid parameters" {
		t.Errorf("expected error message, got %q", s.ErrorMessage)
	}
}

func TestRunAutoCompletes(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", []string{"rsi", "macd"})

	for _, name := range []string{"rsi", "macd"} {
		tracker.MarkStrategyRunning(runID, name)
		tracker.MarkStrategyCompleted(runID, name, Outcome{Trades: 1})
	}

	run := tracker.GetRun(runID)
	if run.Status != StatusCompleted {
		t.Errorf("expected completed, got %q", run.Status)
	}
	if run.EndTime == nil {
		t.Error("expected run end time")
	}
}

func TestRunAutoFailsWhenAllFailed(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", []string{"rsi"})

	tracker.MarkStrategyRunning(runID, "rsi")
	tracker.MarkStrategyFailed(runID, "rsi", "boom")

	if got := tracker.GetRun(runID).Status; got != StatusFailed {
		t.Errorf("expected failed, got %q", got)
	}
}

func TestRunCompletesWhenSomeFailed(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", []string{"rsi", "macd"})

	tracker.MarkStrategyCompleted(runID, "rsi", Outcome{})
	tracker.MarkStrategyFailed(runID, "macd", "boom")

	if got := tracker.GetRun(runID).Status; got != StatusCompleted {
		t.Errorf("expected completed, got %q", got)
	}
}

func TestProgressPercent(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", []string{"a", "b", "c", "d"})

	if p := tracker.GetRun(runID).ProgressPercent(); p != 0 {
		t.Errorf("expected 0%%, got %d%%", p)
	}
	tracker.MarkStrategyCompleted(runID, "a", Outcome{})
	if p := tracker.GetRun(runID).ProgressPercent(); p != 25 {
		t.Errorf("expected 25%%, got %d%%", p)
	}
	tracker.MarkStrategyFailed(runID, "b", "boom")
	if p := tracker.GetRun(runID).ProgressPercent(); p != 50 {
		t.Errorf("expected 50%% with a failure counted as done, got %d%%", p)
	}
}

func TestTotalTrades(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", []string{"a", "b"})
	tracker.MarkStrategyCompleted(runID, "a", Outcome{Trades: 3})
	tracker.MarkStrategyCompleted(runID, "b", Outcome{Trades: 4})

	if got := tracker.GetRun(runID).TotalTrades(); got != 7 {
		t.Errorf("expected 7 trades, got %d", got)
	}
}

func TestEstimatedRemainingSeconds(t *testing.T) {
	run := &SweepRun{
		StartTime: time.Now().Add(-10 * time.Second),
		Strategies: []StrategyExecutionState{
			{Status: StrategyCompleted},
			{Status: StrategyPending},
			{Status: StrategyPending},
		},
	}
	got := run.EstimatedRemainingSeconds()
	// 10s per finished strategy, two remaining
	if got < 19 || got > 21 {
		t.Errorf("expected ~20s remaining, got %f", got)
	}
	if run.ETACompletion() == nil {
		t.Error("expected an ETA")
	}
}

func TestEstimatedRemainingSecondsZeroCompleted(t *testing.T) {
	run := &SweepRun{
		StartTime:  time.Now().Add(-10 * time.Second),
		Strategies: []StrategyExecutionState{{Status: StrategyRunning}},
	}
	if got := run.EstimatedRemainingSeconds(); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
	if run.ETACompletion() != nil {
		t.Error("expected nil ETA")
	}
}

func TestListRuns(t *testing.T) {
	tracker := NewTracker(nil, "test")
	first := tracker.StartRun("AAPL", "1Day", []string{"a"})
	time.Sleep(2 * time.Millisecond)
	second := tracker.StartRun("MSFT", "1Day", []string{"a"})
	tracker.MarkStrategyCompleted(first, "a", Outcome{})

	all := tracker.ListRuns("", "", 0)
	if len(all) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(all))
	}
	if all[0].RunID != second {
		t.Error("expected newest run first")
	}

	if got := tracker.ListRuns(string(StatusCompleted), "", 0); len(got) != 1 || got[0].RunID != first {
		t.Errorf("status filter returned %d runs", len(got))
	}
	if got := tracker.ListRuns("", "MSFT", 0); len(got) != 1 || got[0].RunID != second {
		t.Errorf("symbol filter returned %d runs", len(got))
	}
	if got := tracker.ListRuns("", "", 1); len(got) != 1 {
		t.Errorf("limit returned %d runs", len(got))
	}
}

func TestGetRunNotFound(t *testing.T) {
	tracker := NewTracker(nil, "test")
	if tracker.GetRun("missing") != nil {
		t.Error("expected nil for unknown run")
	}
}

func TestGetRunReturnsCopy(t *testing.T) {
	tracker := NewTracker(nil, "test")
	runID := tracker.StartRun("AAPL", "1Day", []string{"a"})

	run := tracker.GetRun(runID)
	run.Strategies[0].Status = StrategyFailed

	if s, _ := tracker.GetRun(runID).Strategy("a"); s.Status != StrategyPending {
		t.Error("mutating a returned run changed tracker state")
	}
}

func TestMarkUnknownRunOrStrategy(t *testing.T) {
	tracker := NewTracker(nil, "test")
	tracker.MarkStrategyRunning("missing", "a")

	runID := tracker.StartRun("AAPL", "1Day", []string{"a"})
	tracker.MarkStrategyCompleted(runID, "nope", Outcome{})
	if s, _ := tracker.GetRun(runID).Strategy("a"); s.Status != StrategyPending {
		t.Errorf("unknown strategy update leaked, status %q", s.Status)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	tracker := NewTracker(nil, "test")
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	runID := tracker.StartRun("AAPL", "1Day", names)

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			tracker.MarkStrategyRunning(runID, name)
			tracker.MarkStrategyCompleted(runID, name, Outcome{Trades: 1})
		}(name)
	}
	wg.Wait()

	run := tracker.GetRun(runID)
	if run.Status != StatusCompleted || run.TotalTrades() != len(names) {
		t.Errorf("status=%q trades=%d", run.Status, run.TotalTrades())
	}
}

func TestEmptyStrategiesProgressPercent(t *testing.T) {
	run := &SweepRun{}
	if run.ProgressPercent() != 0 {
		t.Error("expected 0 progress with no strategies")
	}
}
