package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ResolvePath picks the config file path: CLI > env > platform default.
func ResolvePath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags. It returns
// the validated config and the path it was read from.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	path := ResolvePath(env, cli)

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, path, err
	}

	applyOverrides(cfg, env, cli)

	if err := Validate(cfg); err != nil {
		return nil, path, fmt.Errorf("config validation: %w", err)
	}

	return cfg, path, nil
}

// applyOverrides layers env and CLI values onto cfg and fills path keys the
// file left empty.
func applyOverrides(cfg *Config, env EnvOverrides, cli CLIOverrides) {
	if env.ServerURL != "" {
		cfg.ServerURL = env.ServerURL
	}

	if env.SessionFile != "" {
		cfg.SessionFile = env.SessionFile
	}

	if cli.ServerURL != "" {
		cfg.ServerURL = cli.ServerURL
	}

	if cli.SessionFile != "" {
		cfg.SessionFile = cli.SessionFile
	}

	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}

	if cli.NoCache {
		cfg.CacheEnabled = false
	}

	if cli.Realtime != nil {
		cfg.Realtime = *cli.Realtime
	}

	if cli.MetricsAddr != nil {
		cfg.MetricsAddr = *cli.MetricsAddr
	}

	if cfg.SessionFile == "" {
		cfg.SessionFile = DefaultSessionPath()
	}

	if cfg.CacheFile == "" {
		cfg.CacheFile = DefaultCachePath()
	}
}
