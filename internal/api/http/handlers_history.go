package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hlsvod/internal/domain"
)

type watchHistoryRequest struct {
	Path     string  `json:"path"`
	Name     string  `json:"name"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

// handleWatchHistory serves resume positions. Without a configured store
// the endpoint reports itself disabled rather than erroring per request.
func (s *Server) handleWatchHistory(w http.ResponseWriter, r *http.Request) {
	if s.watchHistory == nil {
		writeError(w, http.StatusServiceUnavailable, "history_disabled", "watch history not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if path := strings.TrimSpace(r.URL.Query().Get("path")); path != "" {
			wp, err := s.watchHistory.Get(r.Context(), path)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeError(w, http.StatusNotFound, "not_found", "no position recorded")
					return
				}
				writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, wp)
			return
		}

		limit := 20
		if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
				return
			}
			limit = parsed
		}
		items, err := s.watchHistory.ListRecent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, items)

	case http.MethodPut, http.MethodPost:
		var req watchHistoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
			return
		}
		if req.Position < 0 || req.Duration < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "position and duration must be >= 0")
			return
		}
		wp := domain.WatchPosition{
			Path:      req.Path,
			Name:      req.Name,
			Position:  req.Position,
			Duration:  req.Duration,
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.watchHistory.Upsert(r.Context(), wp); err != nil {
			writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, wp)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
