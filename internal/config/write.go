package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the config file written by "config init". Every setting
// is present as a commented-out default so users can discover the options
// without reading docs.
const configTemplate = `# coach-go configuration

# Backend API root
# server_url = "https://api.example.com/v1"

# Where the login session is kept (default: platform data directory)
# session_file = ""

# IANA zone used to decide what "today" is (default: system zone)
# timezone = ""

# Planning status polling
# poll_interval = "5s"
# max_polls = 60

# Local cache of read queries
# cache_enabled = true
# cache_ttl = "10m"

# watch: subscribe to server push and expose Prometheus metrics
# realtime = false
# metrics_addr = ""

# Log verbosity: debug, info, warn, error
# log_level = "info"
# log_format = "text"
# log_file = ""

# HTTP
# connect_timeout = "10s"
# data_timeout = "60s"
# max_retries = 3
`

// CreateDefault writes the commented template to path unless a file is
// already there. It reports whether a file was created.
func CreateDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking config file: %w", err)
	}

	slog.Info("creating config file", slog.String("path", path))

	if err := atomicWriteFile(path, []byte(configTemplate)); err != nil {
		return false, err
	}

	return true, nil
}

// SetKey sets a top-level key in the config file at path, creating the file
// from the template if needed. An existing or commented-out line for the key
// is replaced in place; otherwise the key is appended. The edited file must
// still load cleanly or nothing is written.
func SetKey(path, key, value string) error {
	if !knownKeys[key] {
		if suggestion := closestMatch(key, knownKeysList); suggestion != "" {
			return fmt.Errorf("unknown config key %q, did you mean %q?", key, suggestion)
		}

		return fmt.Errorf("unknown config key %q", key)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	newLine := key + " = " + formatTOMLValue(value)
	lines := strings.Split(string(data), "\n")
	replaced := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#"))
		if lineKey, _, ok := strings.Cut(trimmed, "="); ok && strings.TrimSpace(lineKey) == key {
			lines[i] = newLine
			replaced = true

			break
		}
	}

	if !replaced {
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}

		lines = append(lines, newLine, "")
	}

	content := strings.Join(lines, "\n")

	if err := validateContent(content); err != nil {
		return err
	}

	return atomicWriteFile(path, []byte(content))
}

func validateContent(content string) error {
	cfg := DefaultConfig()

	md, err := toml.Decode(content, cfg)
	if err != nil {
		return fmt.Errorf("parsing edited config: %w", err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return err
	}

	return Validate(cfg)
}

// formatTOMLValue formats a value for TOML output. Booleans and integers
// are written bare; all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	if _, err := strconv.Atoi(value); err == nil {
		return value
	}

	return strconv.Quote(value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path, so a crash never leaves a
// partial config file. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
