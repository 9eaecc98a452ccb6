package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleTargetOnline returns the derived presence for one target.
// Unknown targets (not in any group) are 404.
func (s *Server) handleTargetOnline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.bridge.GroupByTarget(id); !ok {
		writeNotFound(w, "target not found")
		return
	}
	writeJSON(w, http.StatusOK, s.buildOnlineView(id))
}

// handleTargetHistory returns recent DP changes for one target,
// newest first. Limit via ?limit=N.
func (s *Server) handleTargetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	if _, ok := s.bridge.GroupByTarget(id); !ok {
		writeNotFound(w, "target not found")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = v
	}

	entries, err := s.history.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("history query failed", "target_id", id, "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"targetId": id,
		"entries":  entries,
		"count":    len(entries),
	})
}
