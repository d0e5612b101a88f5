package types

import (
	"encoding/json"
	"time"
)

// DeterminationOnline is the connection determination reported for a
// device that is currently connected.
const DeterminationOnline = "online"

// Device is the identity record returned by the device-name lookup.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Label returns the best human-readable name: Name, then DisplayName,
// then the raw ID.
func (d Device) Label() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.DisplayName != "":
		return d.DisplayName
	default:
		return d.ID
	}
}

// ConnectionInfo is the connection-lookup result for one device.
// OnlineAt is zero when the platform has never reported the device online.
type ConnectionInfo struct {
	OnlineAt      time.Time `json:"online_at"`
	Determination string    `json:"determination"`
}

// Online reports whether the device is currently connected.
func (c ConnectionInfo) Online() bool {
	return c.Determination == DeterminationOnline
}

// UnmarshalJSON accepts online_at as an ISO-8601 string, a unix epoch
// number, or null.
func (c *ConnectionInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		OnlineAt      any    `json:"online_at"`
		Determination string `json:"determination"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Determination = raw.Determination
	c.OnlineAt = time.Time{}
	if ts, ok := ParseTimestamp(raw.OnlineAt); ok {
		c.OnlineAt = ts
	}
	return nil
}
