// Package rpc answers requests and events that arrive over the relay.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/philsphicas/stationsync/internal/metrics"
	"github.com/philsphicas/stationsync/internal/protocol"
	"github.com/philsphicas/stationsync/internal/relay"
	"github.com/philsphicas/stationsync/internal/stations"
)

// DefaultTimeout bounds a single request handler.
const DefaultTimeout = 60 * time.Second

// StationLookup resolves a station id to its registry entry.
// Unknown ids return an error matching stations.ErrNotFound.
type StationLookup interface {
	Lookup(ctx context.Context, id int64) (stations.Station, error)
}

// RouterConfig holds the collaborators of a Router.
type RouterConfig struct {
	FS       FileSystem    // default OSFileSystem
	Stations StationLookup // nil treats every station as unknown
	Timeout  time.Duration // default DefaultTimeout

	// ChunkSize is the audio chunk size for requests that do not name one.
	// Zero means protocol.DefaultChunkSize.
	ChunkSize int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Router dispatches relay requests to their handlers. It implements
// relay.RequestHandler.
type Router struct {
	fs       FileSystem
	stations StationLookup
	timeout  time.Duration
	chunk    int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRouter returns a Router for cfg.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		fs:       cfg.FS,
		stations: cfg.Stations,
		timeout:  cfg.Timeout,
		chunk:    cfg.ChunkSize,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if r.fs == nil {
		r.fs = OSFileSystem{}
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// ServeRequest returns exactly one reply for msg. Handler errors and panics
// become request_handler_failed; a handler still running when the timeout
// expires is abandoned and request_timeout is returned. An abandoned
// handler keeps its inflight slot (see relay.HoldSlot) until it exits.
func (r *Router) ServeRequest(ctx context.Context, msg protocol.Message) protocol.Reply {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan protocol.Reply, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("request handler panicked", "event", msg.Event, "requestId", msg.RequestID, "panic", p)
				done <- protocol.ErrorReply(protocol.CodeHandlerFailed)
			}
		}()
		done <- r.dispatch(ctx, msg)
	}()

	select {
	case reply := <-done:
		return reply
	case <-ctx.Done():
		free := relay.HoldSlot(ctx)
		go func() {
			<-exited
			free()
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.logger.Warn("request timed out", "event", msg.Event, "requestId", msg.RequestID, "timeout", r.timeout)
			return protocol.ErrorReply(protocol.CodeRequestTimeout)
		}
		return protocol.ErrorReply(protocol.CodeHandlerFailed)
	}
}

func (r *Router) dispatch(ctx context.Context, msg protocol.Message) protocol.Reply {
	var (
		reply protocol.Reply
		err   error
	)
	switch protocol.RequestEvent(msg.Event) {
	case protocol.EventStreamAudio:
		reply, err = r.streamAudio(ctx, msg)
	case protocol.EventExportSchedule:
		reply, err = r.exportSchedule(ctx, msg)
	default:
		r.logger.Debug("unknown request event", "event", msg.Event, "requestId", msg.RequestID)
		return protocol.ErrorReply(protocol.CodeUnknownEvent)
	}
	if err != nil {
		r.logger.Warn("request handler failed", "event", msg.Event, "requestId", msg.RequestID, "error", err)
		return protocol.ErrorReply(protocol.CodeHandlerFailed)
	}
	return reply
}
