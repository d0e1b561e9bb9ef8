package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"

	"iptrack/internal/api/dto"
	"iptrack/internal/blocklist"
	"iptrack/internal/database"
	"iptrack/internal/support"
)

func (s *Server) listBlockedIPs(w http.ResponseWriter, r *http.Request) {
	page := pageFromRequest(r)

	entries, total, err := s.store.ListBlockedIPs(r.Context(), page)
	if err != nil {
		writeError(w, "Failed to load blocked IPs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newPage(entries, total, page))
}

func (s *Server) blockIP(w http.ResponseWriter, r *http.Request) {
	var req dto.BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, created, err := s.blocks.Block(r.Context(), req.IPAddress, req.Reason)
	if err != nil {
		if errors.Is(err, blocklist.ErrInvalidAddress) || errors.Is(err, blocklist.ErrInvalidReason) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error("Failed to block IP", "ip", req.IPAddress, "error", err)
		writeError(w, "Failed to block IP", http.StatusInternalServerError)
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, dto.BlockResponse{
			Message: fmt.Sprintf("IP address %s is already blocked", entry.IPAddress),
			Entry:   entry,
		})
		return
	}

	writeJSON(w, http.StatusCreated, dto.BlockResponse{
		Message: fmt.Sprintf("Successfully blocked IP %s", entry.IPAddress),
		Created: true,
		Entry:   entry,
	})
}

// pathAddress returns the normalized {address} path value or writes a 400.
func pathAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.PathValue("address")
	address := support.NormalizeIP(raw)
	if address == "" {
		writeError(w, fmt.Sprintf("%q is not a valid IP address", raw), http.StatusBadRequest)
		return "", false
	}
	return address, true
}

func (s *Server) getBlockedIP(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	entry, err := s.store.GetBlockedIP(r.Context(), address)
	if errors.Is(err, database.ErrBlockedNotFound) {
		writeError(w, "IP address is not blocked", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "Failed to load blocked IP", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) updateBlockedIP(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	var req dto.BlockUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := s.blocks.UpdateReason(r.Context(), address, req.Reason)
	switch {
	case errors.Is(err, blocklist.ErrInvalidReason):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, database.ErrBlockedNotFound):
		writeError(w, "IP address is not blocked", http.StatusNotFound)
	case err != nil:
		log.Error("Failed to update block reason", "ip", address, "error", err)
		writeError(w, "Failed to update blocked IP", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) deleteBlockedIP(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	removed, err := s.blocks.Unblock(r.Context(), address)
	if err != nil {
		writeError(w, "Failed to unblock IP", http.StatusInternalServerError)
		return
	}
	if !removed {
		writeError(w, "IP address is not blocked", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unblockIP(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	removed, err := s.blocks.Unblock(r.Context(), address)
	if err != nil {
		writeError(w, "Failed to unblock IP", http.StatusInternalServerError)
		return
	}
	if !removed {
		writeError(w, "IP address is not blocked", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("IP %s has been unblocked", address)})
}
