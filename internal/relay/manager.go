package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/philsphicas/stationsync/internal/metrics"
	"github.com/philsphicas/stationsync/internal/protocol"
)

const (
	defaultDialTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultPingTimeout  = 10 * time.Second
	defaultReadLimit    = 32 << 20
)

// Status is the externally visible state of the relay connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// RequestHandler answers relay requests. ServeRequest must return exactly
// one reply; the manager writes it to the socket the request arrived on.
type RequestHandler interface {
	ServeRequest(ctx context.Context, msg protocol.Message) protocol.Reply
}

// EventHandler consumes fire-and-forget relay events.
type EventHandler interface {
	ServeEvent(ctx context.Context, msg protocol.Message)
}

// Config holds parameters for the relay manager.
type Config struct {
	// URL is the configured relay address; see BuildURL. Empty means the
	// relay is not configured and Connect does nothing.
	URL        string
	ClientType string // default ClientType
	Tokens     TokenSource

	Requests RequestHandler // nil answers every request with unknown_request_event
	Events   EventHandler   // nil ignores events

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval is the keepalive period. Negative disables pings.
	PingInterval time.Duration
	PingTimeout  time.Duration
	ReadLimit    int64
	MaxInflight  int // 0 = unlimited

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics // optional; nil disables metrics
}

func (c *Config) setDefaults() {
	if c.ClientType == "" {
		c.ClientType = ClientType
	}
	if c.Tokens == nil {
		c.Tokens = StaticToken("")
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = defaultPingTimeout
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// attempt is one socket lifetime, from dial to close.
type attempt struct {
	id     string
	cancel context.CancelFunc
	ws     *websocket.Conn // set once open; guarded by Manager.mu
}

// Manager owns the relay connection. It guarantees at most one live
// connection attempt and reconnects after every close with Backoff.
type Manager struct {
	cfg     Config
	limiter *inflightLimiter

	// ctx bounds request and event handlers. Disconnect leaves it alone;
	// Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	status   Status
	attempt  *attempt
	failures int
	timer    *clock.Timer
	timerGen uint64
	// epoch changes on every Disconnect; a Connect that read an older
	// value gives up.
	epoch    uint64
	closed   bool
	watchers map[chan Status]struct{}
}

// New creates a disconnected manager.
func New(cfg Config) *Manager {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		limiter:  newInflightLimiter(cfg.MaxInflight),
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusDisconnected,
		watchers: make(map[chan Status]struct{}),
	}
	cfg.Metrics.SetStatus(string(StatusDisconnected))
	return m
}

// Connect starts a connection attempt in the background. It does nothing
// if an attempt is already in flight or open, if no relay URL is
// configured, or if no token is available.
func (m *Manager) Connect() {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	m.connect(epoch)
}

// connect runs the preconditions and, unless Disconnect or Close happened
// since epoch was read, starts an attempt.
func (m *Manager) connect(epoch uint64) {
	m.mu.Lock()
	busy := m.closed || m.attempt != nil || m.epoch != epoch
	m.mu.Unlock()
	if busy {
		return
	}

	logger := m.cfg.Logger
	if strings.TrimSpace(m.cfg.URL) == "" {
		logger.Debug("relay URL not configured, not connecting")
		return
	}
	wsURL, err := BuildURL(m.cfg.URL, m.cfg.ClientType)
	if err != nil {
		logger.Warn("invalid relay URL, not connecting", "error", err)
		return
	}

	tokenCtx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	token, err := m.cfg.Tokens.Token(tokenCtx)
	cancel()
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.attempt != nil || m.epoch != epoch {
			logger.Debug("get relay token failed after disconnect", "error", err)
			return
		}
		// Treated like a failed dial so the token source is retried later.
		logger.Warn("get relay token failed", "error", err)
		m.failLocked()
		return
	}
	if token == "" {
		logger.Debug("no auth token available, not connecting")
		return
	}
	if exp, ok := TokenExpiry(token); ok && time.Now().After(exp) {
		logger.Warn("auth token has expired, the relay will likely reject it", "expiredAt", exp)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.attempt != nil || m.epoch != epoch {
		return
	}
	m.stopTimerLocked()
	ctx, cancelAttempt := context.WithCancel(m.ctx)
	a := &attempt{id: uuid.NewString(), cancel: cancelAttempt}
	m.attempt = a
	m.setStatusLocked(StatusConnecting)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, a, wsURL, token)
	}()
}

// Disconnect cancels any pending reconnect, resets the failure count,
// closes the socket if present and reports disconnected. Request handlers
// already running are not cancelled; their replies are dropped.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cleanup := m.disconnectLocked()
	m.mu.Unlock()
	cleanup()
}

// Close disconnects, cancels running handlers and waits for every
// goroutine started by the manager. Connect after Close does nothing.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	cleanup := m.disconnectLocked()
	m.mu.Unlock()
	cleanup()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) disconnectLocked() func() {
	m.epoch++
	m.stopTimerLocked()
	m.failures = 0
	m.cfg.Metrics.SetFailures(0)
	a := m.attempt
	m.attempt = nil
	m.setStatusLocked(StatusDisconnected)

	if a == nil {
		return func() {}
	}
	if a.ws == nil {
		return a.cancel
	}
	ws := a.ws
	m.wg.Add(1)
	return func() {
		go func() {
			defer m.wg.Done()
			// The read loop stays up to receive the peer's close frame.
			_ = ws.Close(websocket.StatusNormalClosure, "disconnect")
			a.cancel()
		}()
	}
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Failures returns the number of close events since the last successful
// open or Disconnect.
func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Watch returns a channel that receives the current status immediately and
// then every status change. Slow readers only see the latest status. The
// channel is closed when ctx is done or the manager is closed.
func (m *Manager) Watch(ctx context.Context) <-chan Status {
	ch := make(chan Status, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	ch <- m.status
	if m.closed {
		close(ch)
		return ch
	}
	m.watchers[ch] = struct{}{}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-ctx.Done():
		case <-m.ctx.Done():
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
	}()
	return ch
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	m.cfg.Metrics.SetStatus(string(s))
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// opened records a completed open+auth handshake. It returns false if the
// attempt was abandoned meanwhile.
func (m *Manager) opened(a *attempt, ws *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt != a {
		return false
	}
	a.ws = ws
	m.failures = 0
	m.cfg.Metrics.SetFailures(0)
	m.setStatusLocked(StatusConnected)
	return true
}

// closedWith handles the close event of attempt a. Closes of abandoned
// attempts (after Disconnect or replacement) are ignored.
func (m *Manager) closedWith(a *attempt, reason string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt != a {
		return
	}
	m.attempt = nil
	a.cancel()
	m.cfg.Metrics.ConnectionError(reason)
	m.cfg.Logger.Warn("relay connection closed", "conn", a.id, "reason", reason, "error", err)
	m.failLocked()
}

// failLocked counts a failure, recomputes the status and arms the
// reconnect timer.
func (m *Manager) failLocked() {
	m.failures++
	m.cfg.Metrics.SetFailures(m.failures)
	if m.failures < MaxFailures {
		m.setStatusLocked(StatusConnecting)
	} else {
		m.setStatusLocked(StatusDisconnected)
	}
	if m.closed {
		return
	}

	m.stopTimerLocked()
	delay := Backoff(m.failures)
	m.timerGen++
	gen := m.timerGen
	m.timer = m.cfg.Clock.AfterFunc(delay, func() { m.reconnect(gen) })
	m.cfg.Metrics.ReconnectScheduled(delay)
	m.cfg.Logger.Info("reconnect scheduled", "failures", m.failures, "delay", delay, "status", m.status)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if m.timer == nil || m.timerGen != gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	epoch := m.epoch
	m.mu.Unlock()
	m.connect(epoch)
}
