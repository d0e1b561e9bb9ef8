package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"iptrack/internal/api/dto"
	"iptrack/internal/database"
)

func (s *Server) listSuspiciousIPs(w http.ResponseWriter, r *http.Request) {
	page := pageFromRequest(r)
	flaggedOnly, _ := strconv.ParseBool(r.URL.Query().Get("flagged"))

	entries, total, err := s.store.ListSuspiciousIPs(r.Context(), page, flaggedOnly)
	if err != nil {
		writeError(w, "Failed to load suspicious IPs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newPage(entries, total, page))
}

func (s *Server) getSuspiciousIP(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	entry, err := s.store.GetSuspiciousIP(r.Context(), address)
	if errors.Is(err, database.ErrSuspiciousNotFound) {
		writeError(w, "Suspicious IP not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "Failed to load suspicious IP", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) updateSuspiciousIP(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	var req dto.SuspiciousUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Flagged == nil {
		writeError(w, "Request body must contain \"flagged\"", http.StatusBadRequest)
		return
	}

	entry, err := s.store.SetSuspiciousFlag(r.Context(), address, *req.Flagged)
	if errors.Is(err, database.ErrSuspiciousNotFound) {
		writeError(w, "Suspicious IP not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "Failed to update suspicious IP", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) promoteSuspiciousIP(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	outcome, err := s.blocks.Promote(r.Context(), address)
	if errors.Is(err, database.ErrSuspiciousNotFound) {
		writeError(w, "Suspicious IP not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "Failed to block suspicious IP", http.StatusInternalServerError)
		return
	}

	if !outcome.Created {
		writeJSON(w, http.StatusOK, dto.BlockResponse{
			Message: fmt.Sprintf("IP address %s is already blocked", address),
			Entry:   outcome.Entry,
		})
		return
	}

	writeJSON(w, http.StatusCreated, dto.BlockResponse{
		Message: fmt.Sprintf("IP %s has been blocked", address),
		Created: true,
		Entry:   outcome.Entry,
	})
}

// promoteSuspiciousIPs is the bulk form: every listed address is promoted
// independently and reported individually.
func (s *Server) promoteSuspiciousIPs(w http.ResponseWriter, r *http.Request) {
	var req dto.BulkPromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IPAddresses) == 0 {
		writeError(w, "Request body must contain \"ip_addresses\"", http.StatusBadRequest)
		return
	}

	outcomes, err := s.blocks.PromoteAll(r.Context(), req.IPAddresses)
	if err != nil {
		writeError(w, "Request canceled", http.StatusServiceUnavailable)
		return
	}

	blocked := 0
	for _, outcome := range outcomes {
		if outcome.Created {
			blocked++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("%d suspicious IPs have been blocked", blocked),
		"results": outcomes,
	})
}
