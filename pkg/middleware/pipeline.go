// pkg/middleware/pipeline.go
package middleware

import (
	"net/http"
)

// Handler is an HTTP handler that reports failures to the caller instead of
// writing them. The Errors stage at the outside of every chain is the only
// place an error turns into a response body.
type Handler func(http.ResponseWriter, *http.Request) error

// Middleware wraps a Handler with another Handler.
type Middleware func(Handler) Handler

// Chain applies middlewares to h with the first argument outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
