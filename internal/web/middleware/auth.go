package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
)

type contextKey string

const actorKey contextKey = "actor"

// Authentication requires a matching X-API-Key header. An empty key leaves
// the API open, which is how local development runs.
func Authentication(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			given := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(given), []byte(apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if actor := r.Header.Get("X-Actor"); actor != "" {
				r = r.WithContext(context.WithValue(r.Context(), actorKey, actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Actor returns the X-Actor of an authenticated request
func Actor(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}
