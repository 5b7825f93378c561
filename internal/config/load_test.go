package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
server_url = "https://coach.example.org/api"
session_file = "/var/lib/coach/session.json"
timezone = "Europe/Helsinki"
poll_interval = "2s"
max_polls = 10
cache_enabled = false
cache_ttl = "1m"
realtime = true
metrics_addr = "127.0.0.1:9464"
log_level = "debug"
log_format = "json"
connect_timeout = "5s"
data_timeout = "30s"
user_agent = "coach-test/1.0"
max_retries = 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://coach.example.org/api", cfg.ServerURL)
	assert.Equal(t, "/var/lib/coach/session.json", cfg.SessionFile)
	assert.Equal(t, "Europe/Helsinki", cfg.Timezone)
	assert.Equal(t, "2s", cfg.PollInterval)
	assert.Equal(t, 10, cfg.MaxPolls)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, "1m", cfg.CacheTTL)
	assert.True(t, cfg.Realtime)
	assert.Equal(t, "127.0.0.1:9464", cfg.MetricsAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "5s", cfg.ConnectTimeout)
	assert.Equal(t, "30s", cfg.DataTimeout)
	assert.Equal(t, "coach-test/1.0", cfg.UserAgent)
	assert.Equal(t, 0, cfg.MaxRetries)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `log_level = "warn"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "5s", cfg.PollInterval)
	assert.True(t, cfg.CacheEnabled)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `server_url = `)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
log_level = "loud"
poll_interval = "10ms"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "poll_interval")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolvePath_Precedence(t *testing.T) {
	assert.Equal(t, DefaultConfigPath(), ResolvePath(EnvOverrides{}, CLIOverrides{}))
	assert.Equal(t, "/env.toml", ResolvePath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{}))
	assert.Equal(t, "/cli.toml",
		ResolvePath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"}))
}

func TestResolve_LayerOrder(t *testing.T) {
	path := writeTestConfig(t, `
server_url = "https://file.example.com"
session_file = "/file/session.json"
`)

	env := EnvOverrides{ConfigPath: path, ServerURL: "https://env.example.com"}

	cfg, got, err := Resolve(env, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "https://env.example.com", cfg.ServerURL, "env beats file")
	assert.Equal(t, "/file/session.json", cfg.SessionFile)

	realtime := true
	addr := ":9100"

	cfg, _, err = Resolve(env, CLIOverrides{
		ServerURL:   "http://cli.example.com",
		SessionFile: "/cli/session.json",
		LogLevel:    "debug",
		NoCache:     true,
		Realtime:    &realtime,
		MetricsAddr: &addr,
	})
	require.NoError(t, err)
	assert.Equal(t, "http://cli.example.com", cfg.ServerURL, "CLI beats env")
	assert.Equal(t, "/cli/session.json", cfg.SessionFile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.CacheEnabled)
	assert.True(t, cfg.Realtime)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestResolve_FillsDefaultPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, _, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionPath(), cfg.SessionFile)
	assert.Equal(t, DefaultCachePath(), cfg.CacheFile)
}

func TestResolve_InvalidOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	_, _, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path, ServerURL: "ftp://nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_url")
}
