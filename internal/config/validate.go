package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/philsphicas/stationsync/internal/protocol"
	"github.com/philsphicas/stationsync/internal/relay"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if c.Audio.ChunkSize < 0 || c.Audio.ChunkSize > protocol.MaxChunkSize {
		return fmt.Errorf("audio.chunk_size must be between 0 and %d", protocol.MaxChunkSize)
	}
	if !ValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	if len(c.Updater.CheckCommand) > 0 && len(c.Updater.InstallCommand) == 0 {
		return errors.New("updater.check_command requires updater.install_command")
	}
	return nil
}

// ValidLogLevel reports whether level is a normalized log level name.
func ValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func (c *Config) validateRelay() error {
	if c.Relay.URL != "" {
		if _, err := relay.BuildURL(c.Relay.URL, relay.ClientType); err != nil {
			return fmt.Errorf("relay.url: %w", err)
		}
	}
	if c.Relay.DialTimeout <= 0 {
		return errors.New("relay.dial_timeout must be positive")
	}
	if c.Relay.PingInterval < 0 {
		return errors.New("relay.ping_interval must be zero or positive")
	}
	if c.Relay.RequestTimeout <= 0 {
		return errors.New("relay.request_timeout must be positive")
	}
	if c.Relay.MaxInflight < 0 {
		return errors.New("relay.max_inflight must be zero or positive")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if c.API.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an http or https URL (got %q)", c.API.BaseURL)
	}
	return nil
}
