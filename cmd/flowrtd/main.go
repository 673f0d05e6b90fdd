// Command flowrtd is the reference control-surface host: a thin net/http
// server wiring the pipeline manager, telemetry bridge, and built-in node
// set into a process that pipelines can be created, driven, and observed
// against end to end.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ezex-io/flowrt/config"
	"github.com/ezex-io/flowrt/env"
	"github.com/ezex-io/flowrt/errors"
	"github.com/ezex-io/flowrt/logger"
	"github.com/ezex-io/flowrt/manager"
	"github.com/ezex-io/flowrt/middleware"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/scheduler"
	"github.com/ezex-io/flowrt/telemetry"
	"github.com/ezex-io/flowrt/utils"

	// Registers the built-in node types into the process-wide registry.
	_ "github.com/ezex-io/flowrt/nodes/exporters"
	_ "github.com/ezex-io/flowrt/nodes/processors"
	_ "github.com/ezex-io/flowrt/nodes/sources"
)

var telemetryMetrics = struct {
	records *prometheus.CounterVec
	values  *prometheus.GaugeVec
}{
	records: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowrt_telemetry_records_total",
		Help: "Count of telemetry records emitted per pipeline/node/metric.",
	}, []string{"pipeline", "node", "metric"}),
	values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowrt_telemetry_value",
		Help: "Most recent telemetry value per pipeline/node/metric.",
	}, []string{"pipeline", "node", "metric"}),
}

func init() {
	prometheus.MustRegister(telemetryMetrics.records, telemetryMetrics.values)
}

func main() {
	logger.InitGlobalLogger()
	_ = env.LoadEnvsFromFile(".env")

	addr := env.GetEnv[string]("FLOWRT_ADDR", env.WithDefault(":8080"))

	telem := telemetry.New()
	telem.Attach(telemetry.SinkFunc(recordPrometheusMetrics))

	hub := newWebsocketHub()
	telem.Attach(telemetry.SinkFunc(hub.deliver))

	mgr := manager.New(telem)

	statusCtx, cancelStatus := context.WithCancel(context.Background())
	scheduler.Every(statusCtx, 30*time.Second).Do(func(_ context.Context) {
		logger.Info("flowrtd: status", "active_pipelines", len(mgr.List()))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           buildRouter(mgr, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	utils.TrapSignal(func() {
		cancelStatus()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = mgr.Shutdown(shutdownCtx)
		_ = srv.Shutdown(shutdownCtx)
	})

	logger.Info("flowrtd: listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("flowrtd: server failed", "error", err)
	}
}

func recordPrometheusMetrics(r telemetry.Record) error {
	telemetryMetrics.records.WithLabelValues(r.PipelineID, r.NodeID, r.Metric).Inc()

	if v, ok := asFloat(r.Value); ok {
		telemetryMetrics.values.WithLabelValues(r.PipelineID, r.NodeID, r.Metric).Set(v)
	}

	return nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func buildRouter(mgr *manager.Manager, hub *websocketHub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /pipelines", handleCreatePipeline(mgr))
	mux.HandleFunc("GET /pipelines", handleListPipelines(mgr))
	mux.HandleFunc("GET /pipelines/{id}/nodes", handleGetNodes(mgr))
	mux.HandleFunc("PUT /pipelines/{id}/config", handleUpdateConfig(mgr))
	mux.HandleFunc("PUT /pipelines/{id}/nodes/{name}/params", handleUpdateNodeParams(mgr))
	mux.HandleFunc("POST /pipelines/{id}/start", handleStartPipeline(mgr))
	mux.HandleFunc("POST /pipelines/{id}/stop", handleStopPipeline(mgr))
	mux.HandleFunc("DELETE /pipelines/{id}", handleDeletePipeline(mgr))
	mux.HandleFunc("GET /node-types", handleListNodeTypes)
	mux.HandleFunc("GET /telemetry/ws", hub.serveHTTP)
	mux.Handle("GET /metrics", promhttp.Handler())

	chain := chainMiddleware(
		httpMiddleware(middleware.Logging()),
		httpMiddleware(middleware.Recover()),
		corsMiddleware(defaultCORSConfig()),
	)

	return chain(mux)
}

func handleCreatePipeline(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		cfg, err := config.Decode(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		if err := config.Validate(cfg); err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		id, err := mgr.Create(cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)

			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func handleListPipelines(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"pipelines": mgr.List()})
	}
}

func handleGetNodes(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		p, ok := mgr.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, errors.NewKind(errors.KindConfiguration, "unknown pipeline"))

			return
		}

		writeJSON(w, http.StatusOK, p.GetNodes())
	}
}

func handleUpdateConfig(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		cfg, err := config.Decode(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		if err := mgr.UpdateConfig(id, cfg); err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleUpdateNodeParams(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		name := r.PathValue("name")

		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		if err := mgr.UpdateNodeParams(id, name, params); err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStartPipeline(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if err := mgr.Start(id); err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStopPipeline(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if err := mgr.Stop(id); err != nil {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListNodeTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, registry.ListNodeTypes())
}

func handleDeletePipeline(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if err := mgr.Delete(r.Context(), id); err != nil {
			writeError(w, http.StatusNotFound, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
