package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/eargollo/studiowatch/internal/media"
	"github.com/eargollo/studiowatch/internal/watcher"
	"github.com/eargollo/studiowatch/internal/watchlog"
)

// WatchLogHandler handles the /api/watch-log endpoints.
type WatchLogHandler struct {
	Store   *watchlog.Store
	Watcher *watcher.Orchestrator
}

// Unmatched handles GET /api/watch-log/unmatched.
func (h *WatchLogHandler) Unmatched(w http.ResponseWriter, r *http.Request) {
	items, err := h.Watcher.Unmatched(r.Context())
	if err != nil {
		slog.Error("watch log unmatched", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeList(w, items)
}

// Recent handles GET /api/watch-log/recent?limit=.
func (h *WatchLogHandler) Recent(w http.ResponseWriter, r *http.Request) {
	items, err := h.Watcher.Recent(r.Context(), parseLimit(r))
	if err != nil {
		slog.Error("watch log recent", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeList(w, items)
}

// Pending handles GET /api/watch-log/pending.
func (h *WatchLogHandler) Pending(w http.ResponseWriter, r *http.Request) {
	items, err := h.Watcher.Pending(r.Context())
	if err != nil {
		slog.Error("watch log pending", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeList(w, items)
}

type linkRequest struct {
	CatalogID string `json:"catalog_id"`
	Title     string `json:"title"`
}

// Link handles POST /api/watch-log/{id}/link.
func (h *WatchLogHandler) Link(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid watch log ID")
		return
	}
	var req linkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	req.CatalogID = strings.TrimSpace(req.CatalogID)
	if req.CatalogID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_CATALOG_ID", "catalog_id is required")
		return
	}

	e, err := h.Watcher.ManualLink(r.Context(), id, req.CatalogID, strings.TrimSpace(req.Title))
	if errors.Is(err, watchlog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "watch log entry not found")
		return
	}
	if err != nil {
		slog.Error("watch log link", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type imageInfo struct {
	media.Image
	Meta media.ShotInfo `json:"meta"`
}

// Images handles GET /api/watch-log/{id}/images.
func (h *WatchLogHandler) Images(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	imgs, err := media.CollectImages(e.FolderPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "FOLDER_UNAVAILABLE", err.Error())
		return
	}
	out := make([]imageInfo, len(imgs))
	for i, img := range imgs {
		out[i] = imageInfo{Image: img, Meta: media.ReadShotInfo(img.Path)}
	}
	writeList(w, out)
}

// Thumbnail handles GET /api/watch-log/{id}/thumbnail: a JPEG of the
// folder's first image.
func (h *WatchLogHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	imgs, err := media.CollectImages(e.FolderPath)
	if err != nil || len(imgs) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no previewable image")
		return
	}

	var thumb []byte
	for _, img := range imgs {
		if thumb, err = media.Thumbnail(img.Path, 320, 320); err == nil && thumb != nil {
			break
		}
	}
	if thumb == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no previewable image")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(thumb)
}

func (h *WatchLogHandler) entry(w http.ResponseWriter, r *http.Request) (*watchlog.Entry, bool) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid watch log ID")
		return nil, false
	}
	e, err := h.Store.Get(r.Context(), id)
	if errors.Is(err, watchlog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "watch log entry not found")
		return nil, false
	}
	if err != nil {
		slog.Error("watch log get", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return nil, false
	}
	return e, true
}
