package config

import (
	"fmt"
	"sync"
)

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. Long-running commands read through a shared Holder, so a
// reload updates config in exactly one place.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot. Thread-safe (read lock).
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path. Thread-safe without locking because
// the path is immutable after construction.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config. Thread-safe (write lock).
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Reload re-reads the file at Path and, if it is valid, swaps it in after
// re-applying the overrides. An invalid file leaves the current snapshot in
// place and returns the error.
func (h *Holder) Reload(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg, err := LoadOrDefault(h.path)
	if err != nil {
		return nil, fmt.Errorf("reloading config: %w", err)
	}

	applyOverrides(cfg, env, cli)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("reloading config: %w", err)
	}

	h.Update(cfg)

	return cfg, nil
}
