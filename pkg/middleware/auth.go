// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"tabgate/pkg/apperr"
	"tabgate/pkg/token"
)

type ctxIdentityKey struct{}

// WithIdentity binds the validated identity to the request context.
func WithIdentity(ctx context.Context, id token.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// IdentityFrom extracts the identity stored by the Auth stage.
func IdentityFrom(ctx context.Context) (token.Identity, bool) {
	if v := ctx.Value(ctxIdentityKey{}); v != nil {
		id, ok := v.(token.Identity)
		return id, ok
	}
	return token.Identity{}, false
}

// Auth enforces a bearer token on the request. The header must read exactly
// "Bearer <token>"; anything else fails before any tenant resource is
// touched. Validation errors keep their specific kind for the Errors stage.
func Auth(tokens *token.Service) Middleware {
	return func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request) error {
			authz := r.Header.Get("Authorization")
			if authz == "" {
				return apperr.New(apperr.AccessDenied, "authorization header missing")
			}
			if !strings.HasPrefix(authz, "Bearer ") {
				return apperr.New(apperr.AccessDenied, "invalid authorization header format")
			}
			raw := strings.TrimSpace(authz[len("Bearer "):])
			id, err := tokens.Validate(r.Context(), raw)
			if err != nil {
				return err
			}
			return next(w, r.WithContext(WithIdentity(r.Context(), id)))
		}
	}
}
