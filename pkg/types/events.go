package types

import "errors"

// Trigger names the kind of invocation that produced a result.
const (
	TriggerMessage = "message"
	TriggerTick    = "tick"
)

// MessageEvent is a message received on a device channel.
// Data is the decoded payload: a JSON object, array or scalar.
type MessageEvent struct {
	DeviceID    string `json:"device_id"`
	ChannelName string `json:"channel_name"`
	Data        any    `json:"data"`
}

// Validate ensures the event identifies both a device and a channel.
func (e MessageEvent) Validate() error {
	if e.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if e.ChannelName == "" {
		return errors.New("channel_name is required")
	}
	return nil
}

// TickRequest asks for one scheduled evaluation of a device.
type TickRequest struct {
	DeviceID string `json:"device_id"`
}

// EventResult summarises one invocation of the alert engine.
type EventResult struct {
	DeviceID string   `json:"device_id"`
	Trigger  string   `json:"trigger"`
	Sent     int      `json:"sent"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}
