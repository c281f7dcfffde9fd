package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables that override the file.
const (
	EnvRelayURL    = "STATIONSYNC_RELAY_URL"
	EnvToken       = "STATIONSYNC_TOKEN"
	EnvTokenFile   = "STATIONSYNC_TOKEN_FILE"
	EnvAPIURL      = "STATIONSYNC_API_URL"
	EnvMetricsAddr = "STATIONSYNC_METRICS_ADDR"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.Relay.URL = strings.TrimSpace(c.Relay.URL)
	c.Relay.Token = strings.TrimSpace(c.Relay.Token)
	c.Relay.EntraScope = strings.TrimSpace(c.Relay.EntraScope)
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.Metrics.Addr = strings.TrimSpace(c.Metrics.Addr)
	c.Updater.CheckCommand = trimArgs(c.Updater.CheckCommand)
	c.Updater.InstallCommand = trimArgs(c.Updater.InstallCommand)
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	override(&c.Relay.URL, EnvRelayURL)
	override(&c.Relay.Token, EnvToken)
	override(&c.Relay.TokenFile, EnvTokenFile)
	override(&c.API.BaseURL, EnvAPIURL)
	override(&c.Metrics.Addr, EnvMetricsAddr)
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = defaultDataDir
	}
	if c.Storage.DataDir, err = expandPath(strings.TrimSpace(c.Storage.DataDir)); err != nil {
		return fmt.Errorf("storage.data_dir: %w", err)
	}
	if c.Relay.TokenFile, err = expandPath(strings.TrimSpace(c.Relay.TokenFile)); err != nil {
		return fmt.Errorf("relay.token_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func trimArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
