package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Relay configures the relay connection and its credential.
type Relay struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	TokenFile      string `toml:"token_file"`
	EntraScope     string `toml:"entra_scope"`
	DialTimeout    int    `toml:"dial_timeout"`
	PingInterval   int    `toml:"ping_interval"`
	RequestTimeout int    `toml:"request_timeout"`
	MaxInflight    int    `toml:"max_inflight"`
}

// API configures the station API.
type API struct {
	BaseURL string `toml:"base_url"`
	Timeout int    `toml:"timeout"`
}

// Storage configures where local state lives.
type Storage struct {
	DataDir string `toml:"data_dir"`
}

// Audio configures audio streaming.
type Audio struct {
	ChunkSize int `toml:"chunk_size"`
}

// Logging configures the process logger.
type Logging struct {
	Level string `toml:"level"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Updater configures the external update commands.
type Updater struct {
	CheckCommand   []string `toml:"check_command"`
	InstallCommand []string `toml:"install_command"`
}

// Config is the complete stationsync configuration.
type Config struct {
	Relay   Relay   `toml:"relay"`
	API     API     `toml:"api"`
	Storage Storage `toml:"storage"`
	Audio   Audio   `toml:"audio"`
	Logging Logging `toml:"logging"`
	Metrics Metrics `toml:"metrics"`
	Updater Updater `toml:"updater"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stationsync/config.toml")
}

// Load locates, parses, and validates a configuration file. It returns the
// resolved path and whether a file existed there; a missing file yields the
// defaults plus environment overrides.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stationsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// DatabasePath is the station registry database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "stations.db")
}

// LockPath is the file locked by a running client.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.DataDir, "stationsync.lock")
}

// DialTimeout returns the relay dial timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Relay.DialTimeout) * time.Second
}

// PingInterval returns the keepalive period; negative when pings are off.
func (c *Config) PingInterval() time.Duration {
	if c.Relay.PingInterval == 0 {
		return -1
	}
	return time.Duration(c.Relay.PingInterval) * time.Second
}

// RequestTimeout returns the per-request handler deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Relay.RequestTimeout) * time.Second
}

// APITimeout returns the station API HTTP timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.Timeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath applies the configuration path rules (tilde expansion,
// cleaning, absolute) to pathValue.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// Sample returns the annotated sample configuration.
func Sample() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
