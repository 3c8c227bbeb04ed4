package handlers

import "net/http"

// Invalidator drops cached catalog snapshots.
type Invalidator interface {
	Invalidate()
}

// CatalogHandler handles POST /api/catalog/invalidate.
type CatalogHandler struct {
	Cache Invalidator
}

// Invalidate forces the next match to refetch the catalog.
func (h *CatalogHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	h.Cache.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}
