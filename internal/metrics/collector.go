package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records the session core's operational metrics. A nil
// *Collector is valid and records nothing, so components can run without
// a metrics backend in tests.
type Collector struct {
	// Session metrics
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionsRejected prometheus.Counter
	sessionDuration  prometheus.Histogram

	// Pool metrics
	poolLeasesActive   *prometheus.GaugeVec
	poolInstancesBuilt *prometheus.GaugeVec
	poolAcquires       *prometheus.CounterVec

	// Routing metrics
	framesRouted *prometheus.CounterVec
	modeChanges  *prometheus.CounterVec
	idleTimeouts prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a collector registered on reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of currently active sessions",
	})

	c.sessionsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of sessions admitted",
	})

	c.sessionsRejected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_rejected_total",
		Help:      "Total number of sessions rejected at admission",
	})

	c.sessionDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Session lifetime in seconds",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
	})

	c.poolLeasesActive = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_leases_active",
		Help:      "Number of currently leased instances per resource kind",
	}, []string{"kind"})

	c.poolInstancesBuilt = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_instances_built",
		Help:      "Number of constructed instances per resource kind",
	}, []string{"kind"})

	c.poolAcquires = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_acquires_total",
		Help:      "Total pool acquisitions by kind and outcome",
	}, []string{"kind", "outcome"}) // outcome: ok, exhausted, timeout

	c.framesRouted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_routed_total",
		Help:      "Total frames routed by category and outcome",
	}, []string{"category", "outcome"}) // outcome: forwarded, dropped, failed

	c.modeChanges = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mode_changes_total",
		Help:      "Total mode change requests by outcome",
	}, []string{"outcome"}) // outcome: ok, noop, invalid, rejected

	c.idleTimeouts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idle_timeouts_total",
		Help:      "Total idle timeout notifications fired",
	})

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordSessionStart records an admitted session.
func (c *Collector) RecordSessionStart() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

// RecordSessionEnd records a session teardown and its lifetime.
func (c *Collector) RecordSessionEnd(lifetime time.Duration) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.sessionDuration.Observe(lifetime.Seconds())
}

// RecordSessionRejected records an admission rejection.
func (c *Collector) RecordSessionRejected() {
	if c == nil {
		return
	}
	c.sessionsRejected.Inc()
}

// RecordPoolGauges updates the per-kind pool utilization gauges.
func (c *Collector) RecordPoolGauges(kind string, leased, built int) {
	if c == nil {
		return
	}
	c.poolLeasesActive.WithLabelValues(kind).Set(float64(leased))
	c.poolInstancesBuilt.WithLabelValues(kind).Set(float64(built))
}

// RecordPoolAcquire records one acquisition attempt outcome.
func (c *Collector) RecordPoolAcquire(kind, outcome string) {
	if c == nil {
		return
	}
	c.poolAcquires.WithLabelValues(kind, outcome).Inc()
}

// RecordFrameRouted records one routed frame outcome.
func (c *Collector) RecordFrameRouted(category, outcome string) {
	if c == nil {
		return
	}
	c.framesRouted.WithLabelValues(category, outcome).Inc()
}

// RecordModeChange records one mode change request outcome.
func (c *Collector) RecordModeChange(outcome string) {
	if c == nil {
		return
	}
	c.modeChanges.WithLabelValues(outcome).Inc()
}

// RecordIdleTimeout records one idle notification.
func (c *Collector) RecordIdleTimeout() {
	if c == nil {
		return
	}
	c.idleTimeouts.Inc()
}
