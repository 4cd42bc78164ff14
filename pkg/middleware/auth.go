package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

// KeyValidator checks a raw API key.
type KeyValidator interface {
	Validate(rawKey string) error
}

// Auth rejects requests without a valid key with 401. The key is read from
// "Authorization: Bearer <key>" or the X-API-Key header.
func Auth(v KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.Validate(extractAPIKey(r)); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
