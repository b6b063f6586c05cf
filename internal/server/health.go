package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/sadewadee/saori/internal/module"
)

var startTime = time.Now()

// HealthHandler serves health check and readiness endpoints.
type HealthHandler struct {
	pool Pool
}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(p Pool) *HealthHandler {
	return &HealthHandler{pool: p}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ready", "/readyz":
		h.readiness(w)
	default:
		h.liveness(w)
	}
}

func (h *HealthHandler) liveness(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(startTime).String(),
		"version": module.Version,
	})
}

// readiness reports ready while at least one worker is up and not busy.
func (h *HealthHandler) readiness(w http.ResponseWriter) {
	stats := h.pool.Stats()

	status := http.StatusOK
	statusStr := "ready"
	if stats.TotalWorkers == 0 || stats.IdleWorkers == 0 {
		status = http.StatusServiceUnavailable
		statusStr = "not_ready"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, status, map[string]any{
		"status":         statusStr,
		"uptime_seconds": time.Since(startTime).Seconds(),
		"workers": map[string]any{
			"total": stats.TotalWorkers,
			"busy":  stats.BusyWorkers,
			"idle":  stats.IdleWorkers,
		},
		"requests_total": stats.TotalRequests,
		"memory": map[string]any{
			"alloc_mb":  mem.Alloc / 1024 / 1024,
			"gc_cycles": mem.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
