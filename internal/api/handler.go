package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obsidianstack/devicealert/internal/alerts"
	"github.com/obsidianstack/devicealert/internal/store"
	"github.com/obsidianstack/devicealert/pkg/types"
)

const maxBodyBytes = 1 << 20

// Engine is the part of the alert engine the API drives.
type Engine interface {
	HandleMessage(ctx context.Context, ev types.MessageEvent) alerts.Report
	HandleTick(ctx context.Context, deviceID string) alerts.Report
}

// StateReader exposes stored device state.
type StateReader interface {
	alerts.StateStore
	Snapshot(ctx context.Context, deviceID string) (map[string]any, error)
	Devices(ctx context.Context) ([]store.DeviceSummary, error)
}

// AlertLog returns recently dispatched alerts.
type AlertLog interface {
	Recent(deviceID string, since time.Time) []alerts.Record
}

// Stream is the live alert stream mounted at /ws/stream.
type Stream interface {
	http.Handler
	Count() int
}

// Deps wires the handler to the rest of the processor. Stream and Guard
// are optional.
type Deps struct {
	Engine  Engine
	State   StateReader
	History AlertLog
	Rules   func() alerts.RuleSet
	Stream  Stream
	Guard   func(http.Handler) http.Handler
}

// Handler serves the REST API.
type Handler struct {
	deps    Deps
	started time.Time
}

// New builds the router for every HTTP route.
func New(d Deps) http.Handler {
	h := &Handler{deps: d, started: time.Now()}

	r := chi.NewRouter()
	r.Get("/api/v1/health", h.health)
	r.Group(func(r chi.Router) {
		if d.Guard != nil {
			r.Use(d.Guard)
		}
		r.Get("/api/v1/devices", h.listDevices)
		r.Get("/api/v1/devices/{id}/state", h.deviceState)
		r.Post("/api/v1/devices/{id}/messages", h.publishMessage)
		r.Post("/api/v1/devices/{id}/tick", h.tick)
		r.Get("/api/v1/alerts", h.listAlerts)
	})
	r.Handle("/metrics", promhttp.Handler())
	if d.Stream != nil {
		r.Handle("/ws/stream", d.Stream)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if h.deps.Rules != nil {
		rs := h.deps.Rules()
		resp.Alerting = rs.Destination.Configured()
		resp.DestinationType = rs.Destination.Type
	}
	if h.deps.Stream != nil {
		resp.StreamClients = h.deps.Stream.Count()
	}
	devices, err := h.deps.State.Devices(r.Context())
	if err != nil {
		slog.Warn("api: list devices for health", "err", err)
		resp.Status = "degraded"
	}
	resp.Devices = len(devices)
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.deps.State.Devices(r.Context())
	if err != nil {
		slog.Error("api: list devices", "err", err)
		jsonErr(w, http.StatusInternalServerError, "state store unavailable")
		return
	}
	if devices == nil {
		devices = []store.DeviceSummary{}
	}
	jsonResp(w, http.StatusOK, devices)
}

func (h *Handler) deviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	snap, err := h.deps.State.Snapshot(ctx, id)
	if err != nil {
		slog.Error("api: device snapshot", "device", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "state store unavailable")
		return
	}
	if len(snap) == 0 {
		jsonErr(w, http.StatusNotFound, "device has no state")
		return
	}

	off, err := alerts.LoadOfflineState(ctx, h.deps.State, id)
	if err != nil {
		slog.Error("api: offline state", "device", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "state store unavailable")
		return
	}

	resp := DeviceStateResponse{
		DeviceID:     id,
		OfflinePhase: off.Phase.String(),
		State:        snap,
	}
	if !off.LastReminder.IsZero() {
		t := off.LastReminder.UTC()
		resp.LastReminder = &t
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) publishMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev := types.MessageEvent{
		DeviceID:    chi.URLParam(r, "id"),
		ChannelName: req.ChannelName,
	}
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &ev.Data); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid data")
			return
		}
	}
	if err := ev.Validate(); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	jsonResp(w, http.StatusOK, h.deps.Engine.HandleMessage(r.Context(), ev))
}

func (h *Handler) tick(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Engine.HandleTick(r.Context(), chi.URLParam(r, "id")))
}

// listAlerts accepts optional ?device= and ?since= (RFC 3339) filters.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	jsonResp(w, http.StatusOK, h.deps.History.Recent(q.Get("device"), since))
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
