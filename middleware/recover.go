package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strings"

	"github.com/ezex-io/flowrt/logger"
)

// Recover middleware catches a panicking handler (e.g. a node's processing
// panic surfacing through a control-surface request) and logs its stack
// trace through flowrt's structured logger instead of letting it crash the
// listener goroutine.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					stack := captureStackTrace(3) // Skip 3 frames to start at panic origin
					logger.Error("flowrtd: panic recovered",
						"error", err,
						"path", r.URL.Path,
						"stack", stack,
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error": http.StatusText(http.StatusInternalServerError),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// captureStackTrace formats the stack trace in a structured and readable way
func captureStackTrace(skip int) []map[string]any {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])

	var stackTrace []map[string]any
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		// Skip runtime internal frames
		if !strings.Contains(frame.File, "runtime/") {
			stackTrace = append(stackTrace, map[string]any{
				"function": frame.Function,
				"file":     frame.File,
				"line":     frame.Line,
			})
		}
		if !more {
			break
		}
	}

	return stackTrace
}
