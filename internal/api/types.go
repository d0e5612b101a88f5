package api

import (
	"encoding/json"
	"time"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status          string `json:"status"`
	Alerting        bool   `json:"alerting"`
	DestinationType string `json:"destination_type,omitempty"`
	Devices         int    `json:"devices"`
	StreamClients   int    `json:"stream_clients"`
	Uptime          string `json:"uptime"`
}

// DeviceStateResponse is the payload for GET /api/v1/devices/{id}/state.
type DeviceStateResponse struct {
	DeviceID     string         `json:"device_id"`
	OfflinePhase string         `json:"offline_phase"`
	LastReminder *time.Time     `json:"last_reminder,omitempty"`
	State        map[string]any `json:"state"`
}

// messageRequest is the body of POST /api/v1/devices/{id}/messages.
type messageRequest struct {
	ChannelName string          `json:"channel_name"`
	Data        json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}
