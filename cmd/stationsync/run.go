package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/philsphicas/stationsync/internal/config"
	"github.com/philsphicas/stationsync/internal/relay"
	"github.com/philsphicas/stationsync/internal/rpc"
	"github.com/philsphicas/stationsync/internal/stations"
	"github.com/philsphicas/stationsync/internal/updater"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the relay and serve requests until interrupted",
		Long: `Keep a connection to the relay open, reconnecting with backoff after
every close. Relay requests stream audio files and write schedule exports
into the export folders of registered stations. The station list is
refreshed at startup and whenever the relay asks for it.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stationsync instance is already running")
	}
	defer func() { _ = lock.Unlock() }()

	store, err := stations.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := resolveTokens(cfg)
	if err != nil {
		return err
	}
	m, metricsLn, err := resolveMetrics(cmd, cfg)
	if err != nil {
		return err
	}

	events := &rpc.Events{Logger: logger}
	var syncer *stations.Syncer
	if cfg.API.BaseURL != "" {
		syncer = newSyncer(cfg, tokens, store)
		syncer.Logger = logger
		syncer.Metrics = m
		events.Stations = syncer
	} else {
		logger.Warn("station API not configured, station list will not be refreshed")
	}
	if len(cfg.Updater.InstallCommand) > 0 {
		events.Updater = &updater.CommandUpdater{
			Check:   cfg.Updater.CheckCommand,
			Install: cfg.Updater.InstallCommand,
			Logger:  logger,
		}
	}

	router := rpc.NewRouter(rpc.RouterConfig{
		Stations:  store,
		Timeout:   cfg.RequestTimeout(),
		ChunkSize: cfg.Audio.ChunkSize,
		Logger:    logger,
		Metrics:   m,
	})

	mgr := relay.New(relay.Config{
		URL:          cfg.Relay.URL,
		Tokens:       tokens,
		Requests:     router,
		Events:       events,
		DialTimeout:  cfg.DialTimeout(),
		PingInterval: cfg.PingInterval(),
		MaxInflight:  cfg.Relay.MaxInflight,
		Logger:       logger,
		Metrics:      m,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if metricsLn != nil {
		g.Go(func() error {
			return m.Serve(gctx, metricsLn, func() string { return string(mgr.Status()) }, logger)
		})
	}
	g.Go(func() error {
		for s := range mgr.Watch(gctx) {
			logger.Info("relay status", "status", string(s), "failures", mgr.Failures())
		}
		return nil
	})
	if syncer != nil {
		g.Go(func() error {
			// Failures are logged by the syncer; the cached list stays usable.
			_, _ = syncer.Refresh(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		mgr.Close()
		return nil
	})

	if cfg.Relay.URL == "" {
		logger.Warn("relay URL not configured, staying disconnected")
	}
	mgr.Connect()

	logger.Info("stationsync running", "version", version, "relay", cfg.Relay.URL, "db", store.Path())
	err = g.Wait()
	logger.Info("stationsync stopped")
	return err
}

func newSyncer(cfg *config.Config, tokens relay.TokenSource, store *stations.Store) *stations.Syncer {
	return &stations.Syncer{
		Fetcher: &stations.Client{
			BaseURL: cfg.API.BaseURL,
			Tokens:  tokens,
			HTTP:    &http.Client{Timeout: cfg.APITimeout()},
		},
		Store: store,
	}
}
