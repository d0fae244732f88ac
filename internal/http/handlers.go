// Package http serves the operational API: health, run inspection, manual runs, metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/julienvalera/velib-harvester/internal/gate"
	"github.com/julienvalera/velib-harvester/internal/lifecycle"
	"github.com/julienvalera/velib-harvester/internal/observability"
	"github.com/julienvalera/velib-harvester/internal/service"
)

// Harvester is the run surface the handlers need. *service.HarvestService implements it.
type Harvester interface {
	Run(ctx context.Context) (service.RunResult, error)
	LastRun() (service.RunResult, bool)
	Running() bool
}

// HealthConfig holds the degraded threshold and optional dependency checks for /health.
type HealthConfig struct {
	// DegradedErrorPct is the failed-run share (percent) of the window at which health
	// turns degraded. Zero disables the check.
	DegradedErrorPct int
	// Checks are dependency checks reported under "checks"; a failing check does not
	// change the overall status.
	Checks map[string]func(ctx context.Context) error
	// Watermark reads the stored watermark. When nil, /health falls back to the value
	// written by the last run that passed the gate.
	Watermark func(ctx context.Context) (int64, bool, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	harvester        Harvester
	runs             observability.RunWindowCounter
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. runs may be nil, which disables degraded detection.
func NewHandler(harvester Harvester, runs observability.RunWindowCounter, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		harvester:    harvester,
		runs:         runs,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if h.healthConfig != nil {
		for name, check := range h.healthConfig.Checks {
			if err := check(r.Context()); err != nil {
				checks[name] = "unhealthy"
				observability.LoggerFrom(r.Context(), h.logger).Debug("health check failed",
					zap.String("check", name), zap.Error(err))
			} else {
				checks[name] = "healthy"
			}
		}
	}

	resp := map[string]interface{}{
		"status":     result.status,
		"service":    observability.ServiceName,
		"checks":     checks,
		"runRunning": h.harvester.Running(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	if h.runs != nil {
		failed, total := h.runs.FailureRate()
		resp["runsInWindow"] = total
		resp["failedRunsInWindow"] = failed
	}
	last, hasLast := h.harvester.LastRun()
	if hasLast {
		resp["lastRun"] = newRunView(last)
	}
	if wm, ok := h.currentWatermark(r.Context(), last, hasLast); ok {
		resp["watermark"] = wm
	}
	writeJSON(w, result.statusCode, resp)
}

// currentWatermark returns the stored watermark, or the one written by the last run when
// no reader is configured. A run that failed before the gate wrote nothing.
func (h *Handler) currentWatermark(ctx context.Context, last service.RunResult, hasLast bool) (int64, bool) {
	if h.healthConfig != nil && h.healthConfig.Watermark != nil {
		wm, ok, err := h.healthConfig.Watermark(ctx)
		if err != nil {
			observability.LoggerFrom(ctx, h.logger).Debug("watermark read failed", zap.Error(err))
			return 0, false
		}
		return wm, ok
	}
	if !hasLast {
		return 0, false
	}
	switch last.GateState {
	case gate.CheckedAdvanced.String(), gate.CheckedStale.String():
		return last.Watermark, true
	}
	return 0, false
}

// computeHealthStatus evaluates conditions in priority order: shutting-down > degraded > ok.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.runs != nil && h.healthConfig != nil && h.healthConfig.DegradedErrorPct > 0 {
		failed, total := h.runs.FailureRate()
		if total > 0 && failed*100 >= h.healthConfig.DegradedErrorPct*total {
			return healthResult{"degraded", http.StatusServiceUnavailable, "run_failure_rate"}
		}
	}
	return healthResult{"ok", http.StatusOK, ""}
}

// GetLatestRun handles GET /runs/latest.
func (h *Handler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	last, ok := h.harvester.LastRun()
	if !ok {
		writeError(w, r, http.StatusNotFound, "NO_RUNS", "no harvest run has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, newRunView(last))
}

// PostRun handles POST /runs: executes one run now and returns its result. The run is
// detached from client cancellation so a dropped connection cannot cut it halfway.
func (h *Handler) PostRun(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFrom(r.Context(), h.logger)
	res, err := h.harvester.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		writeError(w, r, http.StatusConflict, "RUN_IN_PROGRESS", "a harvest run is already in progress")
		return
	case errors.Is(err, service.ErrShuttingDown):
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "service is shutting down")
		return
	case err != nil:
		logger.Info("manual run failed", zap.String("run_id", res.RunID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, newRunView(res))
		return
	}
	logger.Info("manual run finished", zap.String("run_id", res.RunID), zap.String("outcome", string(res.Outcome)))
	writeJSON(w, http.StatusOK, newRunView(res))
}

// runView is the JSON rendering of a service.RunResult.
type runView struct {
	RunID                string `json:"runId"`
	Outcome              string `json:"outcome"`
	Stage                string `json:"stage"`
	GateState            string `json:"gateState,omitempty"`
	InformationTimestamp int64  `json:"informationTimestamp,omitempty"`
	StatusTimestamp      int64  `json:"statusTimestamp,omitempty"`
	PreviousWatermark    int64  `json:"previousWatermark"`
	Watermark            int64  `json:"watermark"`
	SnapshotKey          string `json:"snapshotKey,omitempty"`
	SnapshotBytes        int    `json:"snapshotBytes,omitempty"`
	Stations             int    `json:"stations"`
	JoinMisses           int    `json:"joinMisses"`
	Duplicates           int    `json:"duplicates"`
	StartedAt            string `json:"startedAt"`
	DurationMs           int64  `json:"durationMs"`
	Error                string `json:"error,omitempty"`
}

func newRunView(r service.RunResult) runView {
	return runView{
		RunID:                r.RunID,
		Outcome:              string(r.Outcome),
		Stage:                r.Stage,
		GateState:            r.GateState,
		InformationTimestamp: r.InformationTimestamp,
		StatusTimestamp:      r.StatusTimestamp,
		PreviousWatermark:    r.PreviousWatermark,
		Watermark:            r.Watermark,
		SnapshotKey:          r.SnapshotKey,
		SnapshotBytes:        r.SnapshotBytes,
		Stations:             r.Stations,
		JoinMisses:           r.JoinMisses,
		Duplicates:           r.Duplicates,
		StartedAt:            r.StartedAt.UTC().Format(time.RFC3339),
		DurationMs:           r.Duration.Milliseconds(),
		Error:                r.Error,
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
