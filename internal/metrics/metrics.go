package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation results used as the "result" label
const (
	ResultApplied  = "applied"
	ResultNoop     = "noop"
	ResultRejected = "rejected"
)

// Config configures the canvas metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "scribble").
	Namespace string

	// Buckets are the histogram buckets for operation duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "scribble",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

type collectors struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	broadcastsTotal   *prometheus.CounterVec
	droppedSends      prometheus.Counter
	rateLimited       prometheus.Counter
	activeConnections prometheus.Gauge
	activeStrokes     *prometheus.GaugeVec
}

var (
	global   *collectors
	globalMu sync.RWMutex
)

// Init registers the collectors. Only the first call has an effect; the
// Record helpers are no-ops until then.
func Init(opts ...Option) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return
	}

	factory := promauto.With(config.Registry)
	global = &collectors{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "operations_total",
			Help:      "Canvas operations processed, by kind and result",
		}, []string{"op", "result"}),

		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time to apply an operation and queue its broadcast",
			Buckets:   config.Buckets,
		}, []string{"op"}),

		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "messages_queued_total",
			Help:      "Messages queued to connections, by message type",
		}, []string{"type"}),

		droppedSends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "dropped_sends_total",
			Help:      "Sends that failed because a connection queue was full or closed",
		}),

		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "rate_limited_total",
			Help:      "Inbound frames dropped by the per-connection rate limiter",
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "active_connections",
			Help:      "Number of connected canvas clients",
		}),

		activeStrokes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "active_strokes",
			Help:      "Strokes currently on each canvas",
		}, []string{"room"}),
	}
}

func current() *collectors {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

func RecordOperation(op, result string, d time.Duration) {
	if m := current(); m != nil {
		m.operationsTotal.WithLabelValues(op, result).Inc()
		m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

func RecordQueued(messageType string, count int) {
	if m := current(); m != nil && count > 0 {
		m.broadcastsTotal.WithLabelValues(messageType).Add(float64(count))
	}
}

func RecordDroppedSends(count int) {
	if m := current(); m != nil && count > 0 {
		m.droppedSends.Add(float64(count))
	}
}

func RecordRateLimited() {
	if m := current(); m != nil {
		m.rateLimited.Inc()
	}
}

func RecordConnect() {
	if m := current(); m != nil {
		m.activeConnections.Inc()
	}
}

func RecordDisconnect() {
	if m := current(); m != nil {
		m.activeConnections.Dec()
	}
}

func SetActiveStrokes(room string, count int) {
	if m := current(); m != nil {
		m.activeStrokes.WithLabelValues(room).Set(float64(count))
	}
}
