package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/stream-supervisor/internal/config"
	"github.com/rickgao/stream-supervisor/internal/supervisor"
	"github.com/rickgao/stream-supervisor/internal/version"
)

type handlerDeps struct {
	instanceID string
	sup        supervisor.Supervisor
	dispatcher interface{ IDs() []string }
	heartbeats interface {
		Stale(maxAge time.Duration) []string
		Forget(consumerID string)
	}
	consumers  *consumerSet
	staleAfter time.Duration
	gatherer   prometheus.Gatherer
	hub        http.Handler
	paths      config.ServerConfig
	logger     *slog.Logger
}

// newHandler creates the HTTP handler for health, metrics, the status feed and
// operator endpoints.
func newHandler(d handlerDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		mode := d.sup.Mode()
		health := struct {
			Status        string            `json:"status"`
			InstanceID    string            `json:"instance_id"`
			Version       version.BuildInfo `json:"version"`
			Mode          supervisor.Mode   `json:"mode"`
			Stats         supervisor.Stats  `json:"stats"`
			Subscriptions []string          `json:"subscriptions"`
			Stale         []string          `json:"stale"`
		}{
			Status:        "healthy",
			InstanceID:    d.instanceID,
			Version:       version.Info(),
			Mode:          mode,
			Stats:         d.sup.Stats(),
			Subscriptions: d.dispatcher.IDs(),
			Stale:         d.heartbeats.Stale(d.staleAfter),
		}
		if mode != supervisor.ModeConnected {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle(d.paths.MetricsPath, promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	mux.Handle(d.paths.StatusPath, d.hub)

	mux.HandleFunc("/debug/remove", func(w http.ResponseWriter, r *http.Request) {
		id, ok := consumerParam(w, r)
		if !ok {
			return
		}
		d.consumers.unwant(id)
		d.heartbeats.Forget(id)
		d.sup.RemoveConsumer(id)
		d.logger.Info("removal requested", "consumer", id)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/debug/admit", func(w http.ResponseWriter, r *http.Request) {
		id, ok := consumerParam(w, r)
		if !ok {
			return
		}
		c, ok := d.consumers.want(id)
		if !ok {
			http.Error(w, "unknown consumer", http.StatusNotFound)
			return
		}
		d.sup.NewConsumer(c)
		d.logger.Info("admission requested", "consumer", id)
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}

func consumerParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	id := r.URL.Query().Get("consumer")
	if id == "" {
		http.Error(w, "consumer is required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}
