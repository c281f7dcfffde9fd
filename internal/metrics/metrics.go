// Package metrics provides Prometheus metrics for stationsync.
package metrics

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "stationsync"

// OverflowLabel is used as the event label when the number of unique
// event names exceeds MaxEvents.
const OverflowLabel = "__other__"

// Connection failure reasons.
const (
	ReasonDialFailed  = "dial_failed"
	ReasonDialTimeout = "dial_timeout"
	ReasonAuthFailed  = "auth_failed"
	ReasonReadFailed  = "read_failed"
	ReasonPingFailed  = "ping_failed"
)

// Reasons a received frame was dropped.
const (
	DropBinary    = "binary"
	DropMalformed = "malformed"
	DropType      = "unexpected_type"
)

// Statuses mirrors the relay connection statuses so the status gauge can
// be reset without importing the relay package.
var Statuses = []string{"disconnected", "connecting", "connected"}

// Metrics holds all Prometheus metrics for stationsync.
type Metrics struct {
	Registry *prometheus.Registry

	// MaxEvents is the maximum number of unique event label values. Event
	// names come from the relay peer, so this bounds cardinality. Zero
	// means unlimited.
	MaxEvents int

	relayStatus       *prometheus.GaugeVec
	consecutiveFails  prometheus.Gauge
	reconnectsTotal   prometheus.Counter
	backoffSeconds    prometheus.Histogram
	connectionErrors  *prometheus.CounterVec
	dialDuration      prometheus.Histogram
	framesDropped     *prometheus.CounterVec
	eventsTotal       *prometheus.CounterVec
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	inflightRequests  prometheus.Gauge
	bytesSent         *prometheus.CounterVec
	exportFilesTotal  prometheus.Counter
	stationSyncsTotal *prometheus.CounterVec

	eventCount atomic.Int64
	events     sync.Map // map[string]struct{}
}

// New creates a new Metrics instance with a custom Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		relayStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_status",
			Help:      "Current relay connection status (1 for the active status, 0 otherwise).",
		}, []string{"status"}),

		consecutiveFails: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_consecutive_failures",
			Help:      "Close events since the last successful open.",
		}),

		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_reconnects_total",
			Help:      "Total reconnect attempts scheduled after a close.",
		}),

		backoffSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_backoff_seconds",
			Help:      "Reconnect delays chosen by the backoff scheduler.",
			Buckets:   []float64{1, 2, 4, 8, 16, 30},
		}),

		connectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_connection_errors_total",
			Help:      "Total relay connection failures, by reason.",
		}, []string{"reason"}),

		dialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_dial_duration_seconds",
			Help:      "Time spent dialing the relay, in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped without processing, by reason.",
		}, []string{"reason"}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Plain events received from the relay.",
		}, []string{"event"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests answered, by event and result (ok or an error code).",
		}, []string{"event", "result"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request receipt to reply, in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"event"}),

		inflightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_requests",
			Help:      "Requests currently being handled.",
		}),

		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes written to the relay, by frame kind (text or binary).",
		}, []string{"kind"}),

		exportFilesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_files_written_total",
			Help:      "Files written by export-schedule requests.",
		}),

		stationSyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "station_syncs_total",
			Help:      "Station list refreshes, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.relayStatus,
		m.consecutiveFails,
		m.reconnectsTotal,
		m.backoffSeconds,
		m.connectionErrors,
		m.dialDuration,
		m.framesDropped,
		m.eventsTotal,
		m.requestsTotal,
		m.requestDuration,
		m.inflightRequests,
		m.bytesSent,
		m.exportFilesTotal,
		m.stationSyncsTotal,
	)

	return m
}

// SanitizeEvent returns event if it is within the cardinality budget,
// or OverflowLabel if the cap has been reached. Events that have been
// seen before are always returned as-is.
func (m *Metrics) SanitizeEvent(event string) string {
	if m == nil {
		return event
	}
	if m.MaxEvents <= 0 {
		return event
	}

	for {
		if _, ok := m.events.Load(event); ok {
			return event
		}

		cur := m.eventCount.Load()
		if cur >= int64(m.MaxEvents) {
			// Another goroutine may have stored this event between the
			// Load and the cap check.
			if _, ok := m.events.Load(event); ok {
				return event
			}
			return OverflowLabel
		}

		if !m.eventCount.CompareAndSwap(cur, cur+1) {
			continue
		}

		if _, loaded := m.events.LoadOrStore(event, struct{}{}); loaded {
			m.eventCount.Add(-1)
		}

		return event
	}
}

// SetStatus marks status as the active relay status.
func (m *Metrics) SetStatus(status string) {
	if m == nil {
		return
	}
	for _, s := range Statuses {
		if s == status {
			m.relayStatus.WithLabelValues(s).Set(1)
		} else {
			m.relayStatus.WithLabelValues(s).Set(0)
		}
	}
}

// SetFailures records the consecutive failure count.
func (m *Metrics) SetFailures(n int) {
	if m == nil {
		return
	}
	m.consecutiveFails.Set(float64(n))
}

// ReconnectScheduled records a reconnect timer armed with delay.
func (m *Metrics) ReconnectScheduled(delay time.Duration) {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
	m.backoffSeconds.Observe(delay.Seconds())
}

// ConnectionError records a relay connection failure.
func (m *Metrics) ConnectionError(reason string) {
	if m == nil {
		return
	}
	m.connectionErrors.WithLabelValues(reason).Inc()
}

// DialReason returns ReasonDialTimeout if err is a network timeout,
// otherwise returns fallback.
func DialReason(err error, fallback string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDialTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonDialTimeout
	}
	return fallback
}

// ObserveDialDuration records how long a relay dial took.
func (m *Metrics) ObserveDialDuration(seconds float64) {
	if m == nil {
		return
	}
	m.dialDuration.Observe(seconds)
}

// FrameDropped records an inbound frame that was ignored.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// EventReceived records a plain event.
func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(m.SanitizeEvent(event)).Inc()
}

// RequestStarted increments the inflight gauge and returns a tracker for
// the request's outcome.
func (m *Metrics) RequestStarted(event string) *RequestTracker {
	if m == nil {
		return nil
	}
	m.inflightRequests.Inc()
	return &RequestTracker{m: m, event: m.SanitizeEvent(event), start: time.Now()}
}

// BytesSent records bytes written to the relay. kind is "text" or "binary".
func (m *Metrics) BytesSent(kind string, n int) {
	if m == nil {
		return
	}
	m.bytesSent.WithLabelValues(kind).Add(float64(n))
}

// ExportFileWritten records one exported file.
func (m *Metrics) ExportFileWritten() {
	if m == nil {
		return
	}
	m.exportFilesTotal.Inc()
}

// StationSync records the outcome of a station list refresh.
func (m *Metrics) StationSync(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stationSyncsTotal.WithLabelValues(status).Inc()
}

// RequestTracker records the outcome of a single request.
type RequestTracker struct {
	m     *Metrics
	event string
	start time.Time
}

// Done records the completion of a request. errCode is the error code of
// the reply, or "" on success.
func (t *RequestTracker) Done(errCode string) {
	if t == nil {
		return
	}
	result := "ok"
	if errCode != "" {
		result = errCode
	}
	t.m.inflightRequests.Dec()
	t.m.requestsTotal.WithLabelValues(t.event, result).Inc()
	t.m.requestDuration.WithLabelValues(t.event).Observe(time.Since(t.start).Seconds())
}
