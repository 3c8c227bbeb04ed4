package handlers

import (
	"net/http"
	"time"

	"github.com/eargollo/studiowatch/internal/scheduler"
	"github.com/eargollo/studiowatch/internal/watcher"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Watcher *watcher.Orchestrator
	Sched   *scheduler.Scheduler
	Version string
}

type statusResponse struct {
	Version string         `json:"version"`
	Watcher watcher.Status `json:"watcher"`
	Rescan  scheduleInfo   `json:"rescan"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// ServeHTTP returns the watcher status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: h.Version,
		Watcher: h.Watcher.Status(r.Context()),
	}
	if h.Sched != nil {
		resp.Rescan = scheduleInfo{Cron: h.Sched.CronExpr(), NextRunAt: h.Sched.NextRunAt()}
	}
	writeJSON(w, http.StatusOK, resp)
}
