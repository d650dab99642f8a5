package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// SecretHeader authenticates trigger and operator calls.
const SecretHeader = "X-Trigger-Secret"

// RequireSecret rejects requests whose X-Trigger-Secret does not match.
// With an empty secret the routes are closed: 503 rather than open.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(want) == 0 {
				deny(w, http.StatusServiceUnavailable, "trigger secret is not configured")
				return
			}
			got := []byte(r.Header.Get(SecretHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				deny(w, http.StatusUnauthorized, "invalid trigger secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
