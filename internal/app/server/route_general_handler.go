package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"iptrack/internal/api/dto"
	"iptrack/internal/config"
	"iptrack/internal/database"
	"iptrack/internal/jobs/runtime"
)

const overviewLimit = 50

func getGlobalSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func saveSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := config.SetConfig(newConfig); err != nil {
		writeError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Configuration updated successfully"})
}

// getOverview lists the latest requests, newest first.
func (s *Server) getOverview(w http.ResponseWriter, r *http.Request) {
	logs, total, err := s.store.ListRequestLogs(r.Context(), database.Page{Number: 1, Size: overviewLimit})
	if err != nil {
		writeError(w, "Failed to load request logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.LogOverview{TotalLogs: total, RecentLogs: logs})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "database": err.Error()})
		return
	}

	instances, err := runtime.CountActiveInstances(ctx, s.redis)
	if err != nil {
		log.Warn("Failed to count active instances", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "instances": instances})
}

func (s *Server) runDetection(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil {
		writeError(w, "Anomaly detection is not available", http.StatusServiceUnavailable)
		return
	}

	flagged, err := s.detector.RunOnce(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, "Anomaly detection failed", http.StatusInternalServerError)
		return
	}
	if flagged == nil {
		flagged = []string{}
	}
	writeJSON(w, http.StatusOK, dto.DetectionResult{Flagged: flagged})
}
