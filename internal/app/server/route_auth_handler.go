package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"iptrack/internal/api/dto"
	"iptrack/internal/auth"
)

func loginAdmin(w http.ResponseWriter, r *http.Request) {
	var credentials dto.Credentials
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := auth.CheckAdminCredentials(credentials.Username, credentials.Password); err != nil {
		if errors.Is(err, auth.ErrAdminNotConfigured) {
			log.Warn("Login attempted but ADMIN_PASSWORD_HASH is not set")
			writeError(w, "Login is disabled", http.StatusServiceUnavailable)
			return
		}
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(credentials.Username, auth.RoleAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func checkLogin(w http.ResponseWriter, r *http.Request) {
	subject, err := auth.SubjectFromRequest(r)
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": subject})
}
