package config

import "sync/atomic"

// Holder hands out an immutable configuration snapshot per evaluation cycle.
// Hot reload swaps the whole pointer atomically; readers keep the snapshot
// they already took, so a reload never changes thresholds mid-pass.
type Holder struct {
	current atomic.Pointer[Config]
}

// NewHolder seeds the holder with the startup configuration.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.current.Store(cfg)
	return h
}

// Snapshot returns the configuration in effect right now. Callers must not
// mutate the returned value.
func (h *Holder) Snapshot() *Config {
	return h.current.Load()
}

// Swap installs a freshly validated configuration. The caller is responsible
// for running LoadConfig (and therefore validation) first.
func (h *Holder) Swap(cfg *Config) {
	h.current.Store(cfg)
}
