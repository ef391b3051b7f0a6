// Package api exposes the service's HTTP surface: the subscriber
// WebSocket endpoint, recent events, pipeline status, health and metrics.
package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/unibosoft/quakefeed/internal/hub"
	"github.com/unibosoft/quakefeed/internal/pipeline"
	"github.com/unibosoft/quakefeed/internal/quake"
	"github.com/unibosoft/quakefeed/internal/store"
)

// StatusReporter is the slice of the pipeline controller the API needs.
type StatusReporter interface {
	State() pipeline.State
	ConnState() quake.ConnectionState
}

// RouterConfig holds the router's collaborators.
type RouterConfig struct {
	Hub       *hub.Hub
	Store     store.EventStore
	Pipelines []StatusReporter
	Logger    zerolog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	h := &Handler{
		hub:       cfg.Hub,
		store:     cfg.Store,
		pipelines: cfg.Pipelines,
		logger:    cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from other origins; fan-out data is
			// public and read-only.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.Subscribe)
	mux.HandleFunc("GET /api/events", h.RecentEvents)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
