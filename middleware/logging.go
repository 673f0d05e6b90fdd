package middleware

import (
	"net/http"
	"time"

	"github.com/ezex-io/flowrt/logger"
)

// Middleware wraps an http.Handler with cross-cutting behavior. flowrtd
// composes Logging and Recover with its own request-local CORS middleware in
// cmd/flowrtd/middleware.go.
type Middleware func(http.Handler) http.Handler

// Logging logs incoming HTTP requests and their duration through flowrt's
// structured logger, the same one every node/bus/pipeline log line goes
// through, instead of the standard library's unstructured log.Printf.
func Logging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			duration := time.Since(start)

			logger.Info("flowrtd: request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"duration_ms", duration.Milliseconds(),
			)
		})
	}
}
