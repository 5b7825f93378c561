package config

// Default values for configuration options. These are "layer 0" of the
// override chain and work without any config file.
const (
	defaultServerURL      = "https://api.example.com/v1"
	defaultPollInterval   = "5s"
	defaultMaxPolls       = 60
	defaultCacheTTL       = "10m"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
	defaultMaxRetries     = 3
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
// Path-valued keys stay empty here and are filled by Resolve.
func DefaultConfig() *Config {
	return &Config{
		ServerConfig:  ServerConfig{ServerURL: defaultServerURL},
		PollingConfig: defaultPollingConfig(),
		CacheConfig:   defaultCacheConfig(),
		LoggingConfig: defaultLoggingConfig(),
		NetworkConfig: defaultNetworkConfig(),
	}
}

func defaultPollingConfig() PollingConfig {
	return PollingConfig{
		PollInterval: defaultPollInterval,
		MaxPolls:     defaultMaxPolls,
	}
}

func defaultCacheConfig() CacheConfig {
	return CacheConfig{
		CacheEnabled: true,
		CacheTTL:     defaultCacheTTL,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
		MaxRetries:     defaultMaxRetries,
	}
}
