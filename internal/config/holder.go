package config

import "sync/atomic"

// Holder publishes the active Config. Readers take a snapshot per
// evaluation so a reload never changes rules mid-decision.
type Holder struct {
	cur atomic.Pointer[Config]
}

// NewHolder returns a Holder seeded with cfg.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.Store(cfg)
	return h
}

// Load returns the current Config snapshot. Callers must not mutate it.
func (h *Holder) Load() *Config { return h.cur.Load() }

// Store replaces the current Config.
func (h *Holder) Store(cfg *Config) { h.cur.Store(cfg) }
