package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	// Automatically set GOMEMLIMIT based on cgroup memory limits (container
	// or systemd MemoryMax=). If no cgroup limit is detected, GOMEMLIMIT is
	// left at the Go default.
	"github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/philsphicas/stationsync/internal/config"
	"github.com/philsphicas/stationsync/internal/metrics"
	"github.com/philsphicas/stationsync/internal/relay"
	"github.com/spf13/cobra"
)

var version = "dev"

func init() {
	_, _ = memlimit.SetGoMemLimitWithOpts(memlimit.WithLogger(nil))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "stationsync",
		Short:        "Station sync client",
		Long:         "Keep a relay connection open and serve audio and schedule exports for local stations.",
		SilenceUsage: true,
	}

	// Global flags.
	rootCmd.PersistentFlags().String("config", "", "config file (default ~/.config/stationsync/config.toml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().String("metrics-addr", "", "address for Prometheus metrics server (e.g. :9464); overrides the config file")
	rootCmd.PersistentFlags().Int("metrics-max-events", 100, "max unique event labels in metrics (0 = unlimited)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(stationsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// loadConfig loads the configuration named by --config and applies the
// global flag overrides. It returns a logger at the resulting level.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		level = strings.ToLower(strings.TrimSpace(level))
		if !config.ValidLogLevel(level) {
			return nil, nil, fmt.Errorf("--log-level must be one of debug, info, warn, error (got %q)", level)
		}
		cfg.Logging.Level = level
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	logger := newLogger(cfg.Logging.Level)
	if exists {
		logger.Debug("loaded config", "path", resolved)
	} else {
		logger.Debug("no config file, using defaults", "path", resolved)
	}
	return cfg, logger, nil
}

// resolveTokens picks the credential source. The first configured one
// wins:
//  1. relay.token (or STATIONSYNC_TOKEN)
//  2. relay.token_file (or STATIONSYNC_TOKEN_FILE)
//  3. relay.entra_scope → Entra ID (DefaultAzureCredential)
//
// With none configured the returned source yields no token, which leaves
// the relay disconnected.
func resolveTokens(cfg *config.Config) (relay.TokenSource, error) {
	switch {
	case cfg.Relay.Token != "":
		return relay.StaticToken(cfg.Relay.Token), nil
	case cfg.Relay.TokenFile != "":
		return &relay.FileTokenSource{Path: cfg.Relay.TokenFile}, nil
	case cfg.Relay.EntraScope != "":
		ts, err := relay.NewEntraTokenSource(cfg.Relay.EntraScope)
		if err != nil {
			return nil, fmt.Errorf("entra auth: %w", err)
		}
		return ts, nil
	default:
		return relay.StaticToken(""), nil
	}
}

// resolveMetrics creates a Metrics instance and a listener for its HTTP
// server if a metrics address is configured. Both are nil when metrics
// are disabled.
func resolveMetrics(cmd *cobra.Command, cfg *config.Config) (*metrics.Metrics, net.Listener, error) {
	if cfg.Metrics.Addr == "" {
		return nil, nil, nil
	}
	maxEvents, _ := cmd.Flags().GetInt("metrics-max-events")
	if maxEvents < 0 {
		return nil, nil, fmt.Errorf("--metrics-max-events must be >= 0, got %d", maxEvents)
	}
	ln, err := net.Listen("tcp", cfg.Metrics.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listen on %s: %w", cfg.Metrics.Addr, err)
	}
	m := metrics.New()
	m.MaxEvents = maxEvents
	return m, ln, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
