package stations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/philsphicas/stationsync/internal/metrics"
)

// Fetcher returns the current station list.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Station, error)
}

// Syncer refreshes the registry from a Fetcher. Concurrent refreshes are
// serialized.
type Syncer struct {
	Fetcher Fetcher
	Store   *Store
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	mu sync.Mutex
}

// Refresh fetches the station list and replaces the registry with it. It
// returns the number of stations stored.
func (s *Syncer) Refresh(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n, err := s.refresh(ctx, logger)
	s.Metrics.StationSync(err)
	if err != nil {
		logger.Warn("station refresh failed", "error", err)
		return 0, err
	}
	logger.Info("stations refreshed", "count", n)
	return n, nil
}

func (s *Syncer) refresh(ctx context.Context, logger *slog.Logger) (int, error) {
	list, err := s.Fetcher.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		current, err := s.Store.List(ctx)
		if err != nil {
			return 0, fmt.Errorf("list stations: %w", err)
		}
		if len(current) > 0 {
			logger.Warn("station list is empty, removing every registered station", "removed", len(current))
		}
	}
	if err := s.Store.Replace(ctx, list); err != nil {
		return 0, fmt.Errorf("store stations: %w", err)
	}
	return len(list), nil
}
