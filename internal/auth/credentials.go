package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"iptrack/internal/support"
)

var (
	ErrAdminNotConfigured = errors.New("auth: admin credentials are not configured")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// CheckAdminCredentials verifies username and password against
// ADMIN_USERNAME and the bcrypt hash in ADMIN_PASSWORD_HASH.
func CheckAdminCredentials(username, password string) error {
	expectedUser := strings.TrimSpace(support.GetEnv("ADMIN_USERNAME", "admin"))
	hash := strings.TrimSpace(support.GetEnv("ADMIN_PASSWORD_HASH", ""))
	if hash == "" {
		return ErrAdminNotConfigured
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(expectedUser)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}
