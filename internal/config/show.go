package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	renderServerSection(ew, &cfg.ServerConfig)
	renderPollingSection(ew, &cfg.PollingConfig)
	renderCacheSection(ew, &cfg.CacheConfig)
	renderWatchSection(ew, &cfg.WatchConfig)
	renderLoggingSection(ew, &cfg.LoggingConfig)
	renderNetworkSection(ew, &cfg.NetworkConfig)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderServerSection(ew *errWriter, s *ServerConfig) {
	ew.printf("# server\n")
	ew.printf("server_url      = %q\n", s.ServerURL)
	ew.printf("session_file    = %q\n", s.SessionFile)

	if s.Timezone != "" {
		ew.printf("timezone        = %q\n", s.Timezone)
	}

	ew.printf("\n")
}

func renderPollingSection(ew *errWriter, p *PollingConfig) {
	ew.printf("# polling\n")
	ew.printf("poll_interval   = %q\n", p.PollInterval)
	ew.printf("max_polls       = %d\n", p.MaxPolls)
	ew.printf("\n")
}

func renderCacheSection(ew *errWriter, c *CacheConfig) {
	ew.printf("# cache\n")
	ew.printf("cache_enabled   = %t\n", c.CacheEnabled)
	ew.printf("cache_file      = %q\n", c.CacheFile)
	ew.printf("cache_ttl       = %q\n", c.CacheTTL)
	ew.printf("\n")
}

func renderWatchSection(ew *errWriter, wc *WatchConfig) {
	ew.printf("# watch\n")
	ew.printf("realtime        = %t\n", wc.Realtime)

	if wc.MetricsAddr != "" {
		ew.printf("metrics_addr    = %q\n", wc.MetricsAddr)
	}

	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("# logging\n")
	ew.printf("log_level       = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("log_file        = %q\n", l.LogFile)
	}

	ew.printf("log_format      = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("# network\n")
	ew.printf("connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("user_agent      = %q\n", n.UserAgent)
	}

	ew.printf("max_retries     = %d\n", n.MaxRetries)
}
