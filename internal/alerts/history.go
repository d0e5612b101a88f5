package alerts

import (
	"sync"
	"time"
)

const maxHistoryLen = 200

// History keeps the most recent dispatched records in memory.
type History struct {
	mu      sync.Mutex
	records []Record
	max     int
}

// NewHistory returns a History holding up to max records (default 200).
func NewHistory(max int) *History {
	if max <= 0 {
		max = maxHistoryLen
	}
	return &History{max: max}
}

// Observe appends rec, evicting the oldest record when full.
func (h *History) Observe(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if len(h.records) > h.max {
		h.records = h.records[len(h.records)-h.max:]
	}
}

// Recent returns records newer than since, newest first. A zero since
// returns everything. Device filters by device ID when non-empty.
func (h *History) Recent(device string, since time.Time) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Record, 0, len(h.records))
	for i := len(h.records) - 1; i >= 0; i-- {
		r := h.records[i]
		if device != "" && r.DeviceID != device {
			continue
		}
		if !since.IsZero() && !r.At.After(since) {
			continue
		}
		out = append(out, r)
	}
	return out
}
