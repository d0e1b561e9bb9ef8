package server

import (
	"errors"
	"net/http"
	"strconv"

	"iptrack/internal/api/dto"
	"iptrack/internal/database"
)

func (s *Server) listRequestLogs(w http.ResponseWriter, r *http.Request) {
	page := pageFromRequest(r)

	logs, total, err := s.store.ListRequestLogs(r.Context(), page)
	if err != nil {
		writeError(w, "Failed to load request logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newPage(logs, total, page))
}

func (s *Server) getRequestLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, "Invalid request log id", http.StatusBadRequest)
		return
	}

	entry, err := s.store.GetRequestLog(r.Context(), id)
	if errors.Is(err, database.ErrRequestLogNotFound) {
		writeError(w, "Request log not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "Failed to load request log", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) getRequestLogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRequestLogStats(r.Context())
	if err != nil {
		writeError(w, "Failed to compute statistics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func newPage[T any](items []T, total int64, page database.Page) dto.Page[T] {
	if items == nil {
		items = []T{}
	}
	return dto.Page[T]{Count: total, Page: page.Number, PageSize: page.Size, Results: items}
}
