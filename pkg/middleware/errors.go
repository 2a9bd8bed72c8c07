// pkg/middleware/errors.go
package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tabgate/pkg/apperr"
	"tabgate/pkg/ratelimit"
)

// Envelope is the externally visible shape of any failure. Field names are
// part of the wire contract.
type Envelope struct {
	Msg   string `json:"msg"`
	Short string `json:"short"`
	Type  string `json:"type"`
	Trace string `json:"trace"`
}

// Errors adapts an error-returning chain to http.Handler and is the single
// normalization point for failures raised anywhere downstream.
func Errors(log *zap.SugaredLogger, h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		status := statusFor(err)
		root := apperr.RootCause(err)
		msg := root.Error()
		env := Envelope{
			Msg:   msg,
			Short: firstLine(msg),
			Type:  typeName(err, root),
			Trace: err.Error(),
		}
		log.Infow("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "type", env.Type, "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(env)
	}
}

func statusFor(err error) int {
	if errors.Is(err, ratelimit.ErrExceeded) {
		return http.StatusTooManyRequests
	}
	switch apperr.KindOf(err) {
	case apperr.AccessDenied, apperr.InvalidToken, apperr.TokenExpired, apperr.MalformedToken:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

func typeName(err, root error) string {
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, ratelimit.ErrExceeded) {
		return "RateLimited"
	}
	return fmt.Sprintf("%T", root)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
