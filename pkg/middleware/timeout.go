// pkg/middleware/timeout.go
package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout bounds every downstream call with a request-level deadline. The
// database, config store and engine all take the request context, so expiry
// cancels them in place.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
