package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the event stream client
type Metrics struct {
	// Connection metrics
	ConnectsTotal     *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	ReconnectsTotal   prometheus.Counter

	// Stream metrics
	EventsTotal *prometheus.CounterVec
	BytesRead   prometheus.Counter
	ErrorsTotal *prometheus.CounterVec
}

// Connection attempt outcomes recorded on ConnectsTotal
const (
	OutcomeOpen      = "open"
	OutcomeNoContent = "no_content"
	OutcomeRedirect  = "redirect"
	OutcomeFailed    = "failed"
)

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New returns the Metrics instance registered on the default registry.
// The default registry rejects duplicate registration, so the instance is
// created once and shared.
func New() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		ConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventsource_connects_total",
				Help: "Total number of connection attempts by outcome",
			},
			[]string{"outcome"},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventsource_active_connections",
				Help: "Number of currently open event stream connections",
			},
		),
		ReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "eventsource_reconnects_total",
				Help: "Total number of automatic reconnection attempts",
			},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventsource_events_total",
				Help: "Total number of decoded events by type",
			},
			[]string{"type"},
		),
		BytesRead: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "eventsource_bytes_read_total",
				Help: "Total bytes read from event stream responses",
			},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventsource_errors_total",
				Help: "Total number of stream errors by classification",
			},
			[]string{"type"},
		),
	}
}
