package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/unibosoft/quakefeed/internal/hub"
	"github.com/unibosoft/quakefeed/internal/quake"
	"github.com/unibosoft/quakefeed/internal/store"
)

const (
	defaultEventsWindow = 24 * time.Hour
	maxEventsWindow     = 30 * 24 * time.Hour
)

// Handler contains the HTTP handlers.
type Handler struct {
	hub       *hub.Hub
	store     store.EventStore
	pipelines []StatusReporter
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Subscribe upgrades the connection and registers it with the fan-out
// hub. The optional "group" query parameter selects the broadcast group;
// dashboards use the default quake group.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		group = hub.GroupQuakes
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	hub.NewClient(h.hub, group, conn, h.logger).Start()
}

// RecentEvents returns stored events inside the requested window
// ("window" query parameter, Go duration, default 24h), newest first.
func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	window := defaultEventsWindow
	if v := r.URL.Query().Get("window"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid window"})
			return
		}
		window = parsed
	}
	if window > maxEventsWindow {
		window = maxEventsWindow
	}

	events, err := h.store.QueryRecent(r.Context(), window)
	if err != nil {
		h.logger.Error().Err(err).Msg("recent events query failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "query failed"})
		return
	}
	if events == nil {
		events = []quake.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// PipelineStatus is one pipeline's externally visible state.
type PipelineStatus struct {
	State      string                `json:"state"`
	Connection quake.ConnectionState `json:"connection"`
}

// Status reports every pipeline's lifecycle and connection state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	statuses := make([]PipelineStatus, 0, len(h.pipelines))
	for _, p := range h.pipelines {
		statuses = append(statuses, PipelineStatus{
			State:      string(p.State()),
			Connection: p.ConnState(),
		})
	}
	writeJSON(w, http.StatusOK, statuses)
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
