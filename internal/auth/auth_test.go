package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT("operator", RoleAdmin)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims["role"] != RoleAdmin {
		t.Fatalf("role = %v", claims["role"])
	}
	if sub, _ := claims.GetSubject(); sub != "operator" {
		t.Fatalf("subject = %q", sub)
	}
}

func TestValidateJWT_RejectsTampered(t *testing.T) {
	token, err := GenerateJWT("operator", RoleAdmin)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateJWT(token + "x"); err == nil {
		t.Fatalf("tampered token must be rejected")
	}
	if _, err := ValidateJWT("garbage"); err == nil {
		t.Fatalf("garbage token must be rejected")
	}
}

func TestIsAdmin(t *testing.T) {
	handler := IsAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	adminToken, _ := GenerateJWT("operator", RoleAdmin)
	viewerToken, _ := GenerateJWT("viewer", "viewer")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + viewerToken, want: http.StatusForbidden},
		{name: "admin", header: "Bearer " + adminToken, want: http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/blocked", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestCheckAdminCredentials(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	t.Setenv("ADMIN_USERNAME", "root")
	t.Setenv("ADMIN_PASSWORD_HASH", string(hash))

	if err := CheckAdminCredentials("root", "s3cret"); err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
	if err := CheckAdminCredentials("root", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := CheckAdminCredentials("admin", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong user, got %v", err)
	}
}

func TestCheckAdminCredentials_NotConfigured(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD_HASH", "")
	if err := CheckAdminCredentials("admin", "x"); !errors.Is(err, ErrAdminNotConfigured) {
		t.Fatalf("expected ErrAdminNotConfigured, got %v", err)
	}
}
