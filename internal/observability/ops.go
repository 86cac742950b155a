package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clduab11/pricehawk/internal/domain"
)

// OpsServer exposes health, Prometheus metrics, the KV-derived text metrics
// and the DLQ/router inspection endpoints on a dedicated port.
type OpsServer struct {
	bus      domain.Bus
	recorder *Recorder
	// modelStats returns the router's per-model snapshot; nil on processes
	// without a router.
	modelStats func() any
	srv        *http.Server
}

// NewOpsServer wires the ops HTTP surface. modelStats may be nil.
func NewOpsServer(port int, bus domain.Bus, recorder *Recorder, modelStats func() any) *OpsServer {
	o := &OpsServer{bus: bus, recorder: recorder, modelStats: modelStats}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/metrics/kv", o.handleKVMetrics)
	r.Get("/admin/dlq/{stream}", o.handleDLQ)
	r.Get("/admin/models", o.handleModels)

	o.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return o
}

// Start serves in the background until Shutdown.
func (o *OpsServer) Start() {
	go func() {
		if err := o.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}()
}

// Shutdown drains the server within ctx.
func (o *OpsServer) Shutdown(ctx context.Context) error {
	return o.srv.Shutdown(ctx)
}

func (o *OpsServer) handleKVMetrics(w http.ResponseWriter, r *http.Request) {
	if o.recorder == nil {
		http.Error(w, "metrics recorder not configured", http.StatusNotFound)
		return
	}
	text, err := o.recorder.RenderText(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(text))
}

// handleDLQ returns the dead-letter stream size and its newest entries.
func (o *OpsServer) handleDLQ(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	dlq := "dlq." + stream
	size, err := o.bus.XLen(r.Context(), dlq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	entries, err := o.bus.XReadLast(r.Context(), dlq, 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"stream": dlq, "size": size, "entries": entries})
}

func (o *OpsServer) handleModels(w http.ResponseWriter, _ *http.Request) {
	if o.modelStats == nil {
		http.Error(w, "router not running in this process", http.StatusNotFound)
		return
	}
	writeJSON(w, o.modelStats())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("ops response encode failed", slog.Any("error", err))
	}
}
