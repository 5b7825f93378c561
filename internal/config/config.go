// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for coach-go. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// All keys are flat and top-level; the sub-structs below only group them.
package config

import (
	"time"
	_ "time/tzdata" // timezone works on hosts without a zoneinfo database
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	ServerConfig
	PollingConfig
	CacheConfig
	WatchConfig
	LoggingConfig
	NetworkConfig
}

// ServerConfig locates the backend and the persisted session.
type ServerConfig struct {
	ServerURL   string `toml:"server_url"`
	SessionFile string `toml:"session_file"`
	Timezone    string `toml:"timezone"`
}

// PollingConfig bounds the planning status poller.
type PollingConfig struct {
	PollInterval string `toml:"poll_interval"`
	MaxPolls     int    `toml:"max_polls"`
}

// CacheConfig controls the local read-query cache.
type CacheConfig struct {
	CacheEnabled bool   `toml:"cache_enabled"`
	CacheFile    string `toml:"cache_file"`
	CacheTTL     string `toml:"cache_ttl"`
}

// WatchConfig applies to the long-running watch command.
type WatchConfig struct {
	Realtime    bool   `toml:"realtime"`
	MetricsAddr string `toml:"metrics_addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	MaxRetries     int    `toml:"max_retries"`
}

// CLIOverrides holds values from command-line flags. Empty strings and nil
// pointers mean "not specified".
type CLIOverrides struct {
	ConfigPath  string
	ServerURL   string
	SessionFile string
	LogLevel    string
	NoCache     bool
	Realtime    *bool
	MetricsAddr *string
}

// Interval returns the parsed poll interval. Values are validated on load,
// so a parse failure falls back to the default.
func (p *PollingConfig) Interval() time.Duration {
	return durationOr(p.PollInterval, defaultPollInterval)
}

// TTL returns the parsed cache TTL.
func (c *CacheConfig) TTL() time.Duration {
	return durationOr(c.CacheTTL, defaultCacheTTL)
}

// Timeouts returns the parsed connect and data timeouts.
func (n *NetworkConfig) Timeouts() (connect, data time.Duration) {
	return durationOr(n.ConnectTimeout, defaultConnectTimeout), durationOr(n.DataTimeout, defaultDataTimeout)
}

// Location returns the timezone calendar dates are interpreted in. An empty
// timezone means the machine's local zone.
func (s *ServerConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}

	return loc
}

func durationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
