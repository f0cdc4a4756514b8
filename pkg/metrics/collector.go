// Package metrics exposes Prometheus collectors for the browser pool, the
// session registry, the content cache and the operation facade.
//
// A nil *Collector is valid and records nothing, so components can take one
// as an optional dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every browserd metric.
type Collector struct {
	processes          *prometheus.GaugeVec
	contexts           prometheus.Gauge
	capacityRejections prometheus.Counter

	sessions        prometheus.Gauge
	sessionsCreated *prometheus.CounterVec
	sessionsClosed  *prometheus.CounterVec
	reaperSweeps    prometheus.Counter

	cacheLookups *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
}

// NewCollector registers the collectors on reg under namespace. A nil reg
// uses prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}

	// Pool
	c.processes = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "processes",
			Help:      "Live browser processes by ownership",
		},
		[]string{"ownership"},
	)
	c.contexts = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "contexts",
		Help:      "Open browser contexts across all processes",
	})
	c.capacityRejections = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "capacity_rejections_total",
		Help:      "Acquire calls rejected because the pool was full",
	})

	// Sessions
	c.sessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Registered sessions",
	})
	c.sessionsCreated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Sessions created by ownership",
		},
		[]string{"ownership"},
	)
	c.sessionsClosed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Sessions closed by reason",
		},
		[]string{"reason"},
	)
	c.reaperSweeps = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "reaper_sweeps_total",
		Help:      "Idle reaper cycles run",
	})

	// Cache
	c.cacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Content cache lookups by result",
		},
		[]string{"result"},
	)

	// Operations
	c.operationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Browser operation latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "outcome"},
	)

	return c
}

// SetProcesses records the live process count for one ownership kind.
func (c *Collector) SetProcesses(ownership string, n int) {
	if c == nil {
		return
	}
	c.processes.WithLabelValues(ownership).Set(float64(n))
}

// SetContexts records the open context count.
func (c *Collector) SetContexts(n int) {
	if c == nil {
		return
	}
	c.contexts.Set(float64(n))
}

// IncCapacityRejection counts a rejected acquire.
func (c *Collector) IncCapacityRejection() {
	if c == nil {
		return
	}
	c.capacityRejections.Inc()
}

// SetSessions records the registered session count.
func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.sessions.Set(float64(n))
}

// IncSessionCreated counts a new session.
func (c *Collector) IncSessionCreated(ownership string) {
	if c == nil {
		return
	}
	c.sessionsCreated.WithLabelValues(ownership).Inc()
}

// IncSessionClosed counts a closed session; reason is "explicit", "idle" or "shutdown".
func (c *Collector) IncSessionClosed(reason string) {
	if c == nil {
		return
	}
	c.sessionsClosed.WithLabelValues(reason).Inc()
}

// IncReaperSweep counts one reaper cycle.
func (c *Collector) IncReaperSweep() {
	if c == nil {
		return
	}
	c.reaperSweeps.Inc()
}

// CacheLookup counts a cache read; result is "hit", "miss", "expired", "stale" or "error".
func (c *Collector) CacheLookup(result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveOperation records the latency of one facade call.
func (c *Collector) ObserveOperation(operation, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.operationDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}
