package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels attached to every engine metric.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics captures counter engine health signals: ingest volume, flush and
// reconcile outcomes, broadcast coalescing, and live subscriber population.
type Metrics struct {
	deltasApplied    *prometheus.CounterVec
	deltasRejected   *prometheus.CounterVec
	pendingWrites    prometheus.Gauge
	flushRuns        prometheus.Counter
	flushFailures    *prometheus.CounterVec
	flushDuration    prometheus.Observer
	persistRetries   prometheus.Counter
	reconcileRuns    prometheus.Counter
	reconcileErrors  prometheus.Counter
	broadcastRuns    prometheus.Counter
	broadcastPending prometheus.Counter
	milestones       prometheus.Counter
	subscribers      prometheus.Gauge
}

func New(cfg Config) *Metrics {
	return NewWith(prometheus.DefaultRegisterer, cfg)
}

func NewWith(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "tallyd"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	deltasApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tallyd_deltas_applied_total",
		Help:        "Accepted count deltas by facility and operation.",
		ConstLabels: constLabels,
	}, []string{"facility", "op"})
	deltasRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tallyd_deltas_rejected_total",
		Help:        "Deltas rejected at the request boundary by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	pendingWrites := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "tallyd_pending_writes",
		Help:        "Keys with unflushed pending deltas.",
		ConstLabels: constLabels,
	})
	flushRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tallyd_flush_runs_total",
		Help:        "Write-behind drain cycles executed.",
		ConstLabels: constLabels,
	})
	flushFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tallyd_flush_failures_total",
		Help:        "Keys whose flush failed after retries, by error class.",
		ConstLabels: constLabels,
	}, []string{"class"})
	flushDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "tallyd_flush_duration_seconds",
		Help:        "Write-behind drain cycle latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	})
	persistRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tallyd_persist_retries_total",
		Help:        "Transient persistence failures that triggered a retry.",
		ConstLabels: constLabels,
	})
	reconcileRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tallyd_reconcile_runs_total",
		Help:        "Reconciliation passes executed.",
		ConstLabels: constLabels,
	})
	reconcileErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tallyd_reconcile_errors_total",
		Help:        "Reconciliation passes that failed to pull durable truth.",
		ConstLabels: constLabels,
	})
	broadcastRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tallyd_broadcast_runs_total",
		Help:        "Broadcast executions after debounce.",
		ConstLabels: constLabels,
	})
	broadcastPending := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tallyd_broadcast_deferred_total",
		Help:        "Broadcast requests deferred because one was in flight.",
		ConstLabels: constLabels,
	})
	milestones := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tallyd_milestones_total",
		Help:        "Milestone notifications emitted.",
		ConstLabels: constLabels,
	})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "tallyd_subscribers",
		Help:        "Connected live-view subscribers.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		deltasApplied,
		deltasRejected,
		pendingWrites,
		flushRuns,
		flushFailures,
		flushDuration,
		persistRetries,
		reconcileRuns,
		reconcileErrors,
		broadcastRuns,
		broadcastPending,
		milestones,
		subscribers,
	)

	return &Metrics{
		deltasApplied:    deltasApplied,
		deltasRejected:   deltasRejected,
		pendingWrites:    pendingWrites,
		flushRuns:        flushRuns,
		flushFailures:    flushFailures,
		flushDuration:    flushDuration,
		persistRetries:   persistRetries,
		reconcileRuns:    reconcileRuns,
		reconcileErrors:  reconcileErrors,
		broadcastRuns:    broadcastRuns,
		broadcastPending: broadcastPending,
		milestones:       milestones,
		subscribers:      subscribers,
	}
}

func (m *Metrics) IncDeltaApplied(facility, op string) {
	if m == nil || m.deltasApplied == nil {
		return
	}
	m.deltasApplied.WithLabelValues(facility, op).Inc()
}

func (m *Metrics) IncDeltaRejected(reason string) {
	if m == nil || m.deltasRejected == nil {
		return
	}
	m.deltasRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetPendingWrites(depth int) {
	if m == nil || m.pendingWrites == nil {
		return
	}
	m.pendingWrites.Set(float64(depth))
}

func (m *Metrics) ObserveFlush(duration time.Duration) {
	if m == nil {
		return
	}
	if m.flushRuns != nil {
		m.flushRuns.Inc()
	}
	if m.flushDuration != nil {
		m.flushDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) IncFlushFailure(class string) {
	if m == nil || m.flushFailures == nil {
		return
	}
	m.flushFailures.WithLabelValues(class).Inc()
}

func (m *Metrics) IncPersistRetry() {
	if m == nil || m.persistRetries == nil {
		return
	}
	m.persistRetries.Inc()
}

func (m *Metrics) IncReconcileRun() {
	if m == nil || m.reconcileRuns == nil {
		return
	}
	m.reconcileRuns.Inc()
}

func (m *Metrics) IncReconcileError() {
	if m == nil || m.reconcileErrors == nil {
		return
	}
	m.reconcileErrors.Inc()
}

func (m *Metrics) IncBroadcastRun() {
	if m == nil || m.broadcastRuns == nil {
		return
	}
	m.broadcastRuns.Inc()
}

func (m *Metrics) IncBroadcastDeferred() {
	if m == nil || m.broadcastPending == nil {
		return
	}
	m.broadcastPending.Inc()
}

func (m *Metrics) IncMilestone() {
	if m == nil || m.milestones == nil {
		return
	}
	m.milestones.Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
