// Package bus feeds channel messages from NATS and Kafka into the alert
// engine. Both subscribers are optional and run until their context ends.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/obsidianstack/devicealert/internal/alerts"
	"github.com/obsidianstack/devicealert/internal/metrics"
	"github.com/obsidianstack/devicealert/pkg/types"
)

const maxBackoff = 30 * time.Second

// Engine is the part of the alert engine a bus drives.
type Engine interface {
	HandleMessage(ctx context.Context, ev types.MessageEvent) alerts.Report
}

// decodePayload returns the JSON value of b, or b as a string when it is
// not valid JSON. An empty payload decodes to nil.
func decodePayload(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return string(b)
	}
	return v
}

func count(bus, status string) {
	metrics.BusMessages.WithLabelValues(bus, status).Inc()
}

// sleep waits for d or until ctx ends, reporting whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
