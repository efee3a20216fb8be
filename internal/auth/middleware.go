package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// HeaderName carries the caller's API key.
const HeaderName = "X-API-Key"

// APIKeyMiddleware guards mutating routes with a static key set. An empty
// key set disables auth entirely. Comparison is constant-time per key; key
// rotation works by configuring old and new keys together.
func APIKeyMiddleware(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(HeaderName)
			if provided == "" {
				unauthorized(w, "Missing API key")
				return
			}
			for _, key := range keys {
				if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			unauthorized(w, "Invalid API key")
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
