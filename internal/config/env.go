package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "COACH_GO_CONFIG"
	EnvServerURL = "COACH_GO_SERVER_URL"
	EnvSession   = "COACH_GO_SESSION"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // COACH_GO_CONFIG: override config file path
	ServerURL   string // COACH_GO_SERVER_URL: backend base URL
	SessionFile string // COACH_GO_SESSION: session file path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		ServerURL:   os.Getenv(EnvServerURL),
		SessionFile: os.Getenv(EnvSession),
	}
}
