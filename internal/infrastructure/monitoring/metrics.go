package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "remodash"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be constructed without a registry in tests.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Terminal metrics
	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsExited   *prometheus.CounterVec
	SpawnFailures    prometheus.Counter
	OutputBytes      prometheus.Counter
	ViewersActive    prometheus.Gauge
	ViewersDropped   prometheus.Counter
	OperationSeconds *prometheus.HistogramVec

	// Event channel metrics
	EventSubscribers prometheus.Gauge

	// WebSocket metrics
	WSMessages *prometheus.CounterVec

	startTime time.Time

	// Snapshot for the health endpoint
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values reported by the health endpoint.
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	ActiveViewers  int64   `json:"active_viewers"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics registers every series on reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "sessions_active",
			Help:      "Number of live terminal sessions",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "sessions_created_total",
			Help:      "Total number of terminal sessions created",
		}),
		SessionsExited: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "terminal",
				Name:      "sessions_exited_total",
				Help:      "Total number of terminal sessions removed, by reason",
			},
			[]string{"reason"},
		),
		SpawnFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "spawn_failures_total",
			Help:      "Total number of shells that failed to start",
		}),
		OutputBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "output_bytes_total",
			Help:      "Total bytes read from terminal processes",
		}),
		ViewersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "viewers_active",
			Help:      "Number of attached terminal viewers",
		}),
		ViewersDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "viewers_dropped_total",
			Help:      "Total number of viewers dropped for falling behind",
		}),
		OperationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "terminal",
				Name:      "operation_duration_seconds",
				Help:      "Duration of session create and terminate calls",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation", "status"},
		),

		EventSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Number of dashboard event channel subscribers",
		}),

		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Server uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordOperation records the duration of a registry operation.
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationSeconds.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// SessionCreated counts a session entering the registry.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// SessionRemoved counts a session leaving the registry.
func (m *Metrics) SessionRemoved(reason string) {
	if m == nil {
		return
	}
	m.SessionsExited.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// IncSpawnFailures counts a shell that could not be started.
func (m *Metrics) IncSpawnFailures() {
	if m == nil {
		return
	}
	m.SpawnFailures.Inc()
}

// AddOutputBytes counts bytes read from a process.
func (m *Metrics) AddOutputBytes(n int) {
	if m == nil {
		return
	}
	m.OutputBytes.Add(float64(n))
}

// ViewerAttached increments attached viewers
func (m *Metrics) ViewerAttached() {
	if m == nil {
		return
	}
	m.ViewersActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveViewers++
	m.mu.Unlock()
}

// ViewerDetached decrements attached viewers; dropped marks a backpressure drop.
func (m *Metrics) ViewerDetached(dropped bool) {
	if m == nil {
		return
	}
	m.ViewersActive.Dec()
	if dropped {
		m.ViewersDropped.Inc()
	}
	m.mu.Lock()
	m.snapshot.ActiveViewers--
	m.mu.Unlock()
}

// SetEventSubscribers sets the number of dashboard listeners
func (m *Metrics) SetEventSubscribers(count int) {
	if m == nil {
		return
	}
	m.EventSubscribers.Set(float64(count))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// GetSnapshot returns the current counters for the health endpoint.
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
