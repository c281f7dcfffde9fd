package rpc

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/philsphicas/stationsync/internal/protocol"
)

// Updater checks for and installs client updates.
type Updater interface {
	// Update reports whether a new version was installed.
	Update(ctx context.Context) (bool, error)
	Relaunch() error
}

// Refresher refetches the station list.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Events handles plain relay events. It implements relay.EventHandler.
type Events struct {
	Updater  Updater   // nil ignores update events
	Stations Refresher // nil ignores refresh events
	Logger   *slog.Logger

	updating atomic.Bool
}

// ServeEvent handles msg. Failures are logged; nothing is sent back.
func (e *Events) ServeEvent(ctx context.Context, msg protocol.Message) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch protocol.EventName(msg.Event) {
	case protocol.EventDownloadUpdate, protocol.EventUpdateAvailable:
		e.update(ctx, logger)
	case protocol.EventRefreshStations:
		if e.Stations == nil {
			return
		}
		// Refresher logs its own outcome.
		_, _ = e.Stations.Refresh(ctx)
	default:
		logger.Debug("ignoring event", "event", msg.Event)
	}
}

func (e *Events) update(ctx context.Context, logger *slog.Logger) {
	if e.Updater == nil {
		logger.Debug("no updater configured, ignoring update event")
		return
	}
	if !e.updating.CompareAndSwap(false, true) {
		logger.Info("update already in progress")
		return
	}
	defer e.updating.Store(false)

	installed, err := e.Updater.Update(ctx)
	if err != nil {
		logger.Error("update failed", "error", err)
		return
	}
	if !installed {
		logger.Info("already up to date")
		return
	}
	logger.Info("update installed, relaunching")
	if err := e.Updater.Relaunch(); err != nil {
		logger.Error("relaunch failed", "error", err)
	}
}
