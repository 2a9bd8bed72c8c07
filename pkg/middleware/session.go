// pkg/middleware/session.go
package middleware

import (
	"context"
	"net/http"

	"tabgate/pkg/apperr"
	"tabgate/pkg/db"
)

type ctxSessionKey struct{}

// WithSession binds the request's transactional handle to the context.
func WithSession(ctx context.Context, s *db.Session) context.Context {
	return context.WithValue(ctx, ctxSessionKey{}, s)
}

// SessionFrom extracts the handle stored by the Session stage.
func SessionFrom(ctx context.Context) (*db.Session, bool) {
	if v := ctx.Value(ctxSessionKey{}); v != nil {
		s, ok := v.(*db.Session)
		return s, ok
	}
	return nil, false
}

// Session opens the tenant's transactional handle for the identity produced
// by the Auth stage and releases it on every exit path.
func Session(opener db.Opener) Middleware {
	return func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request) error {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				return apperr.New(apperr.AccessDenied, "no authenticated identity")
			}
			sess, err := opener.Open(r.Context(), id.TenantID)
			if err != nil {
				return err
			}
			defer sess.Close(r.Context())
			return next(w, r.WithContext(WithSession(r.Context(), sess)))
		}
	}
}
