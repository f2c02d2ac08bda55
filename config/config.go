// Package config manages the global, persisted backend configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Data holds the serialisable global configuration.
// Durations are strings ("20s", "60m") so the file stays hand-editable.
type Data struct {
	// External store
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	// Gateway liveness probing
	PingInterval string `json:"ping_interval"` // server ping cadence per session
	PongTimeout  string `json:"pong_timeout"`  // no pong within this ⇒ session evicted

	// Queue behaviour
	ItemTTL         string `json:"item_ttl"`          // item hash expiry, reset on every write
	HistoryCap      int    `json:"history_cap"`       // completions kept in the history list
	FailedLimit     int    `json:"failed_limit"`      // failed items per snapshot
	HistoryLimit    int    `json:"history_limit"`     // history items per snapshot
	PendingLimit    int    `json:"pending_limit"`     // pending items per snapshot
	StalePendingAge string `json:"stale_pending_age"` // pending older than this is failed by cleanup
	CleanupInterval string `json:"cleanup_interval"`  // how often the stale cleanup runs
}

// Global is a thread-safe, disk-backed wrapper around Data.
type Global struct {
	mu      sync.RWMutex
	data    Data
	confDir string
}

// Load reads the config from confDir/config.json, filling in defaults for any
// missing fields.  Creates the directory if it does not exist.
func Load(confDir string) (*Global, error) {
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		return nil, err
	}

	g := &Global{confDir: confDir, data: defaults()}

	raw, err := os.ReadFile(filepath.Join(confDir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(raw, &g.data); err != nil {
		return nil, err
	}
	return g, nil
}

func defaults() Data {
	return Data{
		RedisAddr:       "localhost:6379",
		PingInterval:    "20s",
		PongTimeout:     "30s",
		ItemTTL:         "168h",
		HistoryCap:      100,
		FailedLimit:     20,
		HistoryLimit:    20,
		PendingLimit:    50,
		StalePendingAge: "60m",
		CleanupInterval: "10m",
	}
}

// Get returns a thread-safe copy of the current configuration.
func (g *Global) Get() Data {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data
}

// Set replaces the current configuration and persists it to disk.
func (g *Global) Set(d Data) error {
	g.mu.Lock()
	g.data = d
	g.mu.Unlock()
	return g.save()
}

func (g *Global) save() error {
	g.mu.RLock()
	raw, err := json.MarshalIndent(g.data, "", "  ")
	g.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(g.confDir, "config.json"), raw, 0o644)
}

// Duration parses s, falling back to def when s is empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
