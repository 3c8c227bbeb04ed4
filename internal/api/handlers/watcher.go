package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eargollo/studiowatch/internal/config"
	"github.com/eargollo/studiowatch/internal/db"
	"github.com/eargollo/studiowatch/internal/watcher"
)

// WatcherHandler handles the /api/watcher control endpoints.
type WatcherHandler struct {
	DB      *sql.DB
	Watcher *watcher.Orchestrator
}

// Start handles POST /api/watcher/start. Overrides in the body are saved so
// the next process start uses them too.
func (h *WatcherHandler) Start(w http.ResponseWriter, r *http.Request) {
	var opts watcher.StartOptions
	if err := decodeBody(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if opts.StabilizeMs < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_STABILIZE_MS", "stabilize_ms must not be negative")
		return
	}

	if err := h.Watcher.Start(opts); err != nil {
		if errors.Is(err, watcher.ErrNoWatchPath) {
			writeError(w, http.StatusBadRequest, "NO_WATCH_PATH", err.Error())
			return
		}
		slog.Error("watcher start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	h.persist(opts)
	writeJSON(w, http.StatusOK, h.Watcher.Status(r.Context()))
}

// Stop handles POST /api/watcher/stop.
func (h *WatcherHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.Watcher.Stop()
	writeJSON(w, http.StatusOK, h.Watcher.Status(r.Context()))
}

// Scan handles POST /api/watcher/scan.
func (h *WatcherHandler) Scan(w http.ResponseWriter, r *http.Request) {
	n, err := h.Watcher.Scan(r.Context())
	if errors.Is(err, watcher.ErrNotRunning) {
		writeError(w, http.StatusConflict, "NOT_RUNNING", err.Error())
		return
	}
	if err != nil {
		slog.Error("watcher scan", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"spawned": n})
}

func (h *WatcherHandler) persist(opts watcher.StartOptions) {
	if h.DB == nil {
		return
	}
	if opts.WatchPath != "" {
		if err := db.SaveSetting(h.DB, config.SettingWatchPath, opts.WatchPath); err != nil {
			slog.Warn("watcher start: persist watch path", "error", err)
		}
	}
	if opts.StabilizeMs > 0 {
		if err := db.SaveSetting(h.DB, config.SettingStabilizeMs, strconv.Itoa(opts.StabilizeMs)); err != nil {
			slog.Warn("watcher start: persist stabilize_ms", "error", err)
		}
	}
}
