package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"safestep/pkg/model"
	"safestep/pkg/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// HistoryHandler serves the record of past walks.
type HistoryHandler struct {
	store store.WalkStore
}

// NewHistoryHandler creates a new HistoryHandler. Returns nil without a store.
func NewHistoryHandler(st store.WalkStore) *HistoryHandler {
	if st == nil {
		return nil
	}
	return &HistoryHandler{store: st}
}

// HandleRecent returns the most recent walks, newest first.
// GET /api/walks?limit=20
func (h *HistoryHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	walks, err := h.store.RecentWalks(r.Context(), limit)
	if err != nil {
		slog.Error("HistoryHandler: failed to load walks", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if walks == nil {
		walks = []*model.WalkRecord{}
	}
	writeJSON(w, http.StatusOK, walks)
}

// HandleGet returns one walk by token.
// GET /api/walks/{token}
func (h *HistoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetWalk(r.Context(), r.PathValue("token"))
	if err != nil {
		slog.Error("HistoryHandler: failed to load walk", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "walk not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
