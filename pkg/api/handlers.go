// Package api provides the HTTP API for monitoring sweeps and reading their
// results.
//
// Endpoints:
//
//	GET  /api/v1/status                                  - Service health check
//	GET  /api/v1/strategies                              - Registered strategies
//	GET  /api/v1/runs                                    - List runs (optional filters)
//	POST /api/v1/runs                                    - Start a sweep (needs a data source)
//	GET  /api/v1/runs/:run_id                            - Detailed run status
//	GET  /api/v1/runs/:run_id/summary                    - Run summary with leaderboard
//	GET  /api/v1/runs/:run_id/results/:strategy          - Metrics of one backtest
//	GET  /api/v1/runs/:run_id/results/:strategy/trades   - Executed trades
//	GET  /api/v1/runs/:run_id/results/:strategy/history  - Portfolio snapshots
package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SebStoll/stocks-backtesting/pkg/backend"
	"github.com/SebStoll/stocks-backtesting/pkg/engine"
	"github.com/SebStoll/stocks-backtesting/pkg/report"
	"github.com/SebStoll/stocks-backtesting/pkg/runtracker"
	"github.com/SebStoll/stocks-backtesting/pkg/strategy"
	"github.com/SebStoll/stocks-backtesting/pkg/sweep"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Server holds dependencies for the API handlers.
type Server struct {
	Tracker *runtracker.Tracker
	Store   *sweep.Store

	// Runner and Source are optional; without them POST /runs answers 503.
	Runner *sweep.Runner
	Source backend.Source

	BackendConnected bool
	Logger           *slog.Logger
}

// NewServer creates a new API server.
func NewServer(tracker *runtracker.Tracker, store *sweep.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = sweep.NewStore()
	}
	return &Server{
		Tracker: tracker,
		Store:   store,
		Logger:  logger,
	}
}

// Router builds a gin engine with recovery, request logging and all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all API routes on the provided router.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.HandleStatus)
		v1.GET("/strategies", s.HandleListStrategies)
		v1.GET("/runs", s.HandleListRuns)
		v1.POST("/runs", s.HandleStartRun)
		v1.GET("/runs/:run_id", s.HandleGetRun)
		v1.GET("/runs/:run_id/summary", s.HandleGetRunSummary)
		v1.GET("/runs/:run_id/results/:strategy", s.HandleGetResult)
		v1.GET("/runs/:run_id/results/:strategy/trades", s.HandleGetTrades)
		v1.GET("/runs/:run_id/results/:strategy/history", s.HandleGetHistory)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// ---------------------------------------------------------------------------
// Response types
// ---------------------------------------------------------------------------

type statusResponse struct {
	Status           string  `json:"status"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Version          string  `json:"version"`
	BackendConnected bool    `json:"backend_connected"`
}

type runListItem struct {
	RunID                     string  `json:"run_id"`
	Symbol                    string  `json:"symbol"`
	Interval                  string  `json:"interval"`
	StartTime                 string  `json:"start_time"`
	EndTime                   *string `json:"end_time"`
	Status                    string  `json:"status"`
	TotalStrategies           int     `json:"total_strategies"`
	CompletedStrategies       int     `json:"completed_strategies"`
	PendingStrategies         int     `json:"pending_strategies"`
	FailedStrategies          int     `json:"failed_strategies"`
	ProgressPercent           int     `json:"progress_percent"`
	ElapsedTimeSeconds        float64 `json:"elapsed_time_seconds"`
	EstimatedRemainingSeconds float64 `json:"estimated_remaining_seconds"`
}

type runListResponse struct {
	Runs      []runListItem `json:"runs"`
	TotalRuns int           `json:"total_runs"`
}

type strategyItem struct {
	StrategyName   string  `json:"strategy_name"`
	Status         string  `json:"status"`
	StartTime      *string `json:"start_time"`
	EndTime        *string `json:"end_time"`
	DurationSecs   float64 `json:"duration_seconds"`
	TradesExecuted int     `json:"trades_executed"`
	FinalValue     float64 `json:"final_value"`
	TotalReturn    float64 `json:"total_return"`
	ErrorMessage   *string `json:"error_message"`
}

type runDetailResponse struct {
	runListItem
	Strategies []strategyItem `json:"strategies"`
}

type countDetail struct {
	Count   int `json:"count"`
	Percent int `json:"percent"`
}

type runSummaryResponse struct {
	RunID                     string           `json:"run_id"`
	Symbol                    string           `json:"symbol"`
	Interval                  string           `json:"interval"`
	TotalStrategies           int              `json:"total_strategies"`
	Completed                 countDetail      `json:"completed"`
	Running                   countDetail      `json:"running"`
	Pending                   countDetail      `json:"pending"`
	Failed                    countDetail      `json:"failed"`
	TotalTrades               int              `json:"total_trades"`
	AvgTradesPerStrategy      float64          `json:"avg_trades_per_strategy"`
	ElapsedTimeSeconds        float64          `json:"elapsed_time_seconds"`
	EstimatedTotalTimeSeconds float64          `json:"estimated_total_time_seconds"`
	ETACompletion             *string          `json:"eta_completion"`
	Leaderboard               []sweep.Standing `json:"leaderboard"`
}

type resultResponse struct {
	RunID       string         `json:"run_id"`
	Strategy    string         `json:"strategy"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Parameters  map[string]any `json:"parameters"`
	Bars        int            `json:"bars"`
	Summary     []report.Field `json:"summary"`
	Metrics     map[string]any `json:"metrics"`
	Performance map[string]any `json:"performance"`
}

type tradesResponse struct {
	Trades []report.TradeRow `json:"trades"`
	Count  int               `json:"count"`
}

type historyResponse struct {
	Snapshots []report.SnapshotRow `json:"snapshots"`
	Count     int                  `json:"count"`
}

type startRunRequest struct {
	Symbol     string       `json:"symbol" binding:"required"`
	Interval   string       `json:"interval"`
	Start      time.Time    `json:"start" binding:"required"`
	End        time.Time    `json:"end" binding:"required"`
	Strategies []sweep.Spec `json:"strategies" binding:"required,min=1,dive"`
	Persist    bool         `json:"persist"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
	Bars  int    `json:"bars"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// HandleStatus returns overall service health and readiness.
func (s *Server) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Status:           "healthy",
		UptimeSeconds:    s.Tracker.UptimeSeconds(),
		Version:          s.Tracker.Version(),
		BackendConnected: s.BackendConnected,
	})
}

// HandleListStrategies returns the registered strategy names.
func (s *Server) HandleListStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": strategy.Names(), "count": strategy.Count()})
}

// HandleListRuns returns all sweeps with summary statistics.
func (s *Server) HandleListRuns(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs := s.Tracker.ListRuns(c.Query("status"), c.Query("symbol"), limit)
	items := make([]runListItem, len(runs))
	for i, run := range runs {
		items[i] = buildRunListItem(run)
	}
	c.JSON(http.StatusOK, runListResponse{Runs: items, TotalRuns: len(items)})
}

// HandleStartRun fetches bars from the data source and starts a sweep in the
// background. It answers 202 with the run ID.
func (s *Server) HandleStartRun(c *gin.Context) {
	if s.Runner == nil || s.Source == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "no data source configured"})
		return
	}

	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	for _, spec := range req.Strategies {
		if !strategy.Has(spec.Name) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown strategy: " + spec.Name})
			return
		}
	}
	if req.Interval == "" {
		req.Interval = "1Day"
	}

	bars, err := s.Source.GetBars(c.Request.Context(), req.Symbol, req.Interval, req.Start, req.End)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, backend.ErrNoData) {
			status = http.StatusNotFound
		}
		s.Logger.Warn("Fetching bars for sweep failed", "symbol", req.Symbol, "error", err)
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}

	runID, err := s.Runner.Submit(c.Request.Context(), sweep.Request{
		Symbol:     req.Symbol,
		Interval:   req.Interval,
		Bars:       bars,
		Strategies: req.Strategies,
		Persist:    req.Persist,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, startRunResponse{RunID: runID, Bars: len(bars)})
}

// HandleGetRun returns detailed status of a run including per-strategy
// execution state.
func (s *Server) HandleGetRun(c *gin.Context) {
	run := s.lookupRun(c)
	if run == nil {
		return
	}

	items := make([]strategyItem, len(run.Strategies))
	for i, st := range run.Strategies {
		items[i] = buildStrategyItem(st)
	}
	c.JSON(http.StatusOK, runDetailResponse{
		runListItem: buildRunListItem(run),
		Strategies:  items,
	})
}

// HandleGetRunSummary returns high-level stats for a run, suitable for
// dashboards, with the leaderboard of finished backtests.
func (s *Server) HandleGetRunSummary(c *gin.Context) {
	run := s.lookupRun(c)
	if run == nil {
		return
	}

	completed, running, pending, failed := run.Counts()
	total := run.TotalStrategies()
	totalTrades := run.TotalTrades()

	var avgTrades float64
	if completed > 0 {
		avgTrades = float64(totalTrades) / float64(completed)
	}

	elapsed := run.ElapsedSeconds()
	estimatedTotal := elapsed
	if done := completed + failed; done > 0 && total > 0 {
		estimatedTotal = (elapsed / float64(done)) * float64(total)
	}

	pct := func(count, tot int) int {
		if tot == 0 {
			return 0
		}
		return count * 100 / tot
	}

	results, _ := s.Store.Results(run.RunID)
	c.JSON(http.StatusOK, runSummaryResponse{
		RunID:                     run.RunID,
		Symbol:                    run.Symbol,
		Interval:                  run.Interval,
		TotalStrategies:           total,
		Completed:                 countDetail{Count: completed, Percent: pct(completed, total)},
		Running:                   countDetail{Count: running, Percent: pct(running, total)},
		Pending:                   countDetail{Count: pending, Percent: pct(pending, total)},
		Failed:                    countDetail{Count: failed, Percent: pct(failed, total)},
		TotalTrades:               totalTrades,
		AvgTradesPerStrategy:      avgTrades,
		ElapsedTimeSeconds:        elapsed,
		EstimatedTotalTimeSeconds: estimatedTotal,
		ETACompletion:             formatOptionalTime(run.ETACompletion()),
		Leaderboard:               sanitizeStandings(sweep.Leaderboard(results)),
	})
}

// HandleGetResult returns the metrics of one finished backtest.
func (s *Server) HandleGetResult(c *gin.Context) {
	res := s.lookupResult(c)
	if res == nil {
		return
	}
	c.JSON(http.StatusOK, resultResponse{
		RunID:       c.Param("run_id"),
		Strategy:    c.Param("strategy"),
		Name:        res.StrategyName,
		Symbol:      res.Symbol,
		Parameters:  res.Parameters,
		Bars:        len(res.Bars),
		Summary:     report.Summary(res),
		Metrics:     report.JSONMetrics(res.Metrics),
		Performance: report.JSONMetrics(res.Performance),
	})
}

// HandleGetTrades returns the executed trades of one backtest.
func (s *Server) HandleGetTrades(c *gin.Context) {
	res := s.lookupResult(c)
	if res == nil {
		return
	}
	rows := report.TradeRows(res.Trades())
	c.JSON(http.StatusOK, tradesResponse{Trades: rows, Count: len(rows)})
}

// HandleGetHistory returns the portfolio snapshots of one backtest.
func (s *Server) HandleGetHistory(c *gin.Context) {
	res := s.lookupResult(c)
	if res == nil {
		return
	}
	rows := report.SnapshotRows(res.History())
	c.JSON(http.StatusOK, historyResponse{Snapshots: rows, Count: len(rows)})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// lookupRun writes a 404 and returns nil when the run is unknown.
func (s *Server) lookupRun(c *gin.Context) *runtracker.SweepRun {
	run := s.Tracker.GetRun(c.Param("run_id"))
	if run == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
	}
	return run
}

func (s *Server) lookupResult(c *gin.Context) *engine.Result {
	if s.lookupRun(c) == nil {
		return nil
	}
	res, ok := s.Store.Get(c.Param("run_id"), c.Param("strategy"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "result not found"})
		return nil
	}
	return res
}

func buildRunListItem(run *runtracker.SweepRun) runListItem {
	completed, _, pending, failed := run.Counts()
	return runListItem{
		RunID:                     run.RunID,
		Symbol:                    run.Symbol,
		Interval:                  run.Interval,
		StartTime:                 run.StartTime.UTC().Format(timeLayout),
		EndTime:                   formatOptionalTime(run.EndTime),
		Status:                    string(run.Status),
		TotalStrategies:           run.TotalStrategies(),
		CompletedStrategies:       completed,
		PendingStrategies:         pending,
		FailedStrategies:          failed,
		ProgressPercent:           run.ProgressPercent(),
		ElapsedTimeSeconds:        run.ElapsedSeconds(),
		EstimatedRemainingSeconds: run.EstimatedRemainingSeconds(),
	}
}

func buildStrategyItem(st runtracker.StrategyExecutionState) strategyItem {
	item := strategyItem{
		StrategyName:   st.StrategyName,
		Status:         string(st.Status),
		StartTime:      formatOptionalTime(st.StartTime),
		EndTime:        formatOptionalTime(st.EndTime),
		DurationSecs:   st.DurationSecs,
		TradesExecuted: st.TradesExecuted,
		FinalValue:     st.FinalValue,
		TotalReturn:    st.TotalReturn,
	}
	if st.ErrorMessage != "" {
		msg := st.ErrorMessage
		item.ErrorMessage = &msg
	}
	return item
}

// sanitizeStandings zeroes ratios encoding/json cannot represent.
func sanitizeStandings(rows []sweep.Standing) []sweep.Standing {
	for i := range rows {
		for _, v := range []*float64{&rows[i].TotalReturn, &rows[i].SharpeRatio, &rows[i].MaxDrawdown, &rows[i].WinRate} {
			if math.IsInf(*v, 0) || math.IsNaN(*v) {
				*v = 0
			}
		}
	}
	return rows
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}
