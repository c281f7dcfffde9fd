package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/philsphicas/stationsync/internal/metrics"
	"github.com/philsphicas/stationsync/internal/protocol"
)

// run drives one attempt: dial, authenticate, mark connected, then read
// until the socket fails. Every exit path reports a close event.
func (m *Manager) run(ctx context.Context, a *attempt, wsURL, token string) {
	logger := m.cfg.Logger.With("conn", a.id)

	dialCtx, dialCancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	start := time.Now()
	ws, _, err := websocket.Dial(dialCtx, wsURL, nil)
	dialCancel()
	m.cfg.Metrics.ObserveDialDuration(time.Since(start).Seconds())
	if err != nil {
		err = sanitizeErr(err)
		m.closedWith(a, metrics.DialReason(err, metrics.ReasonDialFailed), fmt.Errorf("dial relay: %w", err))
		return
	}
	defer func() { _ = ws.CloseNow() }()
	ws.SetReadLimit(m.cfg.ReadLimit)

	// The relay treats the first message as authentication and does not
	// acknowledge it; a rejected token shows up as a close.
	auth, _ := protocol.Encode(protocol.NewAuth(token)) // simple struct, cannot fail
	if err := m.write(ctx, ws, websocket.MessageText, auth); err != nil {
		m.closedWith(a, metrics.ReasonAuthFailed, fmt.Errorf("send auth: %w", err))
		return
	}
	if !m.opened(a, ws) {
		return
	}
	logger.Info("relay connected")

	// Cancel used by ping failure to force a reconnect.
	loopCtx, loopCancel := context.WithCancel(ctx)
	defer loopCancel()

	var (
		wg         sync.WaitGroup
		pingFailed atomic.Bool
	)
	if m.cfg.PingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingLoop(loopCtx, ws, m.cfg.PingInterval, m.cfg.PingTimeout, logger, func() {
				pingFailed.Store(true)
				loopCancel()
			})
		}()
	}

	err = m.readLoop(loopCtx, ws, logger)
	loopCancel()
	wg.Wait()
	reason := metrics.ReasonReadFailed
	if pingFailed.Load() {
		reason = metrics.ReasonPingFailed
	}
	m.closedWith(a, reason, err)
}

// readLoop decodes inbound frames in order and hands requests and events
// to their handlers, each on its own goroutine.
func (m *Manager) readLoop(ctx context.Context, ws *websocket.Conn, logger *slog.Logger) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("read relay: %w", err)
		}
		if typ != websocket.MessageText {
			m.cfg.Metrics.FrameDropped(metrics.DropBinary)
			logger.Debug("dropping binary frame", "bytes", len(data))
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			m.cfg.Metrics.FrameDropped(metrics.DropMalformed)
			logger.Debug("dropping undecodable frame", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeRequest:
			if err := m.limiter.acquire(ctx); err != nil {
				return fmt.Errorf("wait for request slot: %w", err)
			}
			reqCtx, finish := WithSlot(m.ctx, m.limiter.release)
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				defer finish()
				m.serveRequest(reqCtx, ws, msg, logger)
			}()
		case protocol.TypeEvent:
			m.cfg.Metrics.EventReceived(msg.Event)
			if m.cfg.Events == nil {
				continue
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.cfg.Events.ServeEvent(m.ctx, msg)
			}()
		default:
			m.cfg.Metrics.FrameDropped(metrics.DropType)
			logger.Debug("dropping message", "type", msg.Type)
		}
	}
}

func (m *Manager) serveRequest(ctx context.Context, ws *websocket.Conn, msg protocol.Message, logger *slog.Logger) {
	tracker := m.cfg.Metrics.RequestStarted(msg.Event)
	reply := protocol.ErrorReply(protocol.CodeUnknownEvent)
	if m.cfg.Requests != nil {
		reply = m.cfg.Requests.ServeRequest(ctx, msg)
	}
	tracker.Done(reply.ErrorCode())

	if err := m.sendReply(ws, msg.RequestID, reply); err != nil {
		logger.Warn("send reply failed", "requestId", msg.RequestID, "event", msg.Event, "error", err)
	}
}

// sendReply writes reply as a binary frame or a text response.
func (m *Manager) sendReply(ws *websocket.Conn, requestID string, reply protocol.Reply) error {
	if reply.Frame != nil {
		frame, err := protocol.EncodeFrame(*reply.Frame, reply.Data)
		if err != nil {
			return err
		}
		return m.write(m.ctx, ws, websocket.MessageBinary, frame)
	}
	resp, err := protocol.NewResponse(requestID, reply.Payload)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return m.write(m.ctx, ws, websocket.MessageText, data)
}

func (m *Manager) write(ctx context.Context, ws *websocket.Conn, typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, typ, data); err != nil {
		return err
	}
	kind := "text"
	if typ == websocket.MessageBinary {
		kind = "binary"
	}
	m.cfg.Metrics.BytesSent(kind, len(data))
	return nil
}

func pingLoop(ctx context.Context, ws *websocket.Conn, interval, timeout time.Duration, logger *slog.Logger, cancel context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, timeout)
			err := ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("ping failed, forcing reconnect", "error", err)
				cancel()
				return
			}
		}
	}
}
