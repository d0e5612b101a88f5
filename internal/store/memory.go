package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// entry is a stored value together with the time it was last written.
type entry struct {
	value     any
	updatedAt time.Time
}

// Memory is a thread-safe in-process Store. State is lost on restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]entry // device -> key -> entry
	now  func() time.Time            // injectable for deterministic tests
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string]entry),
		now:  time.Now,
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, deviceID, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[deviceID][key]
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, deviceID, key string, value any) error {
	v, err := Canonical(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(deviceID, key, v)
	return nil
}

// CompareAndSet implements Store.
func (m *Memory) CompareAndSet(_ context.Context, deviceID, key string, expected, next any) (bool, error) {
	want, err := Canonical(expected)
	if err != nil {
		return false, err
	}
	v, err := Canonical(next)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.data[deviceID][key]
	switch {
	case want == nil && ok:
		return false, nil
	case want != nil && (!ok || cur.value != want):
		return false, nil
	}
	m.put(deviceID, key, v)
	return true, nil
}

// put writes or removes key. Callers hold m.mu.
func (m *Memory) put(deviceID, key string, v any) {
	if v == nil {
		if keys, ok := m.data[deviceID]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(m.data, deviceID)
			}
		}
		return
	}
	keys, ok := m.data[deviceID]
	if !ok {
		keys = make(map[string]entry)
		m.data[deviceID] = keys
	}
	keys[key] = entry{value: v, updatedAt: m.now()}
}

// Snapshot implements Store.
func (m *Memory) Snapshot(_ context.Context, deviceID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.data[deviceID]))
	for k, e := range m.data[deviceID] {
		out[k] = e.value
	}
	return out, nil
}

// Devices implements Store.
func (m *Memory) Devices(_ context.Context) ([]DeviceSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DeviceSummary, 0, len(m.data))
	for id, keys := range m.data {
		s := DeviceSummary{DeviceID: id, Keys: len(keys)}
		for _, e := range keys {
			if e.updatedAt.After(s.UpdatedAt) {
				s.UpdatedAt = e.updatedAt
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
