package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"iptrack/internal/support"
)

const (
	RoleAdmin = "admin"

	tokenIssuer   = "iptrack"
	tokenLifetime = 24 * time.Hour
)

var (
	secretOnce sync.Once
	secret     []byte
)

func signingKey() []byte {
	secretOnce.Do(func() {
		if value := support.GetEnv("JWT_SECRET", ""); value != "" {
			secret = []byte(value)
			return
		}

		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("auth: generate jwt secret: %v", err))
		}
		secret = []byte(hex.EncodeToString(buf))
		log.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	})
	return secret
}

// GenerateJWT signs a token for subject with the given role.
func GenerateJWT(subject, role string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iss":  tokenIssuer,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey())
}

// ValidateJWT parses tokenString and returns its claims when the signature
// and expiry are valid.
func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return signingKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
