package config

const (
	defaultDataDir        = "~/.local/share/stationsync"
	defaultDialTimeout    = 30
	defaultPingInterval   = 30
	defaultRequestTimeout = 60
	defaultMaxInflight    = 16
	defaultAPITimeout     = 30
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Relay: Relay{
			DialTimeout:    defaultDialTimeout,
			PingInterval:   defaultPingInterval,
			RequestTimeout: defaultRequestTimeout,
			MaxInflight:    defaultMaxInflight,
		},
		API: API{
			Timeout: defaultAPITimeout,
		},
		Storage: Storage{
			DataDir: defaultDataDir,
		},
		Logging: Logging{
			Level: defaultLogLevel,
		},
	}
}
