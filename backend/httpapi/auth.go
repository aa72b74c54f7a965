package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyAdminToken is returned by HashAdminToken for a blank token.
var ErrEmptyAdminToken = errors.New("admin token is required")

// HashAdminToken returns the bcrypt hash stored as adminTokenHash.
func HashAdminToken(token string, cost int) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyAdminToken
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// AdminTokenRequired guards the admin API with a bearer or X-API-Key token
// checked against a bcrypt hash. An empty hash closes the API entirely.
func AdminTokenRequired(hash string) func(http.Handler) http.Handler {
	hash = strings.TrimSpace(hash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				Error(w, -403, "admin api disabled", http.StatusForbidden)
				return
			}
			presented := ExtractAPIAccessToken(r, ExtractToken(r))
			if presented == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) != nil {
				Error(w, -401, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ExtractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}
	return ""
}

func ExtractAPIAccessToken(r *http.Request, fallback string) string {
	if raw := strings.TrimSpace(r.Header.Get("X-API-Key")); raw != "" {
		return raw
	}
	return strings.TrimSpace(fallback)
}
