package main

import (
	"net/http"
	"strings"
)

// httpMiddleware wraps a handler with cross-cutting HTTP behavior, composed
// with chainMiddleware in buildRouter alongside the structured logging and
// panic-recovery middleware the middleware package provides.
type httpMiddleware func(http.Handler) http.Handler

// chainMiddleware applies mw in order, the outermost entry running first.
func chainMiddleware(mw ...httpMiddleware) httpMiddleware {
	return func(final http.Handler) http.Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			final = mw[i](final)
		}

		return final
	}
}

// corsConfig describes the cross-origin rules flowrtd's control surface and
// its browser-based telemetry dashboards need.
type corsConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

// defaultCORSConfig allows any origin to reach the control surface, since the
// reference host is meant to be driven from ad hoc local tooling and browser
// dashboards alike; deployments that need to lock this down wrap buildRouter.
func defaultCORSConfig() corsConfig {
	return corsConfig{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	}
}

// corsMiddleware answers preflight requests and stamps CORS headers on every
// response, so a browser-hosted telemetry dashboard can call flowrtd directly.
func corsMiddleware(cfg corsConfig) httpMiddleware {
	return func(next http.Handler) http.Handler {
		originHeader := strings.Join(cfg.AllowedOrigins, ", ")
		methodsHeader := strings.Join(cfg.AllowedMethods, ", ")
		headersHeader := strings.Join(cfg.AllowedHeaders, ", ")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", originHeader)
			w.Header().Set("Access-Control-Allow-Methods", methodsHeader)
			w.Header().Set("Access-Control-Allow-Headers", headersHeader)

			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
