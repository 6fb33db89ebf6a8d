package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildMetrics holds the build lifecycle collectors. A nil *BuildMetrics is
// valid and records nothing.
type BuildMetrics struct {
	enqueued       prometheus.Counter
	rejected       *prometheus.CounterVec
	completed      prometheus.Counter
	failed         *prometheus.CounterVec
	duration       prometheus.Histogram
	inFlight       prometheus.Gauge
	swept          *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
}

// NewBuildMetrics creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests.
func NewBuildMetrics(reg prometheus.Registerer) *BuildMetrics {
	m := &BuildMetrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyx_builds_enqueued_total",
			Help: "Build jobs admitted and queued",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyx_builds_rejected_total",
			Help: "Build requests refused by the admission guard",
		}, []string{"reason"}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyx_builds_completed_total",
			Help: "Builds that produced a published bundle",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyx_builds_failed_total",
			Help: "Builds that ended in failure, by pipeline step",
		}, []string{"step"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyx_build_duration_seconds",
			Help:    "Wall time from claim to terminal status",
			Buckets: []float64{5, 15, 30, 60, 90, 120, 180, 300},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kyx_builds_in_flight",
			Help: "Builds currently executing on this process",
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyx_jobs_swept_total",
			Help: "Jobs and games repaired by the reconciliation sweep",
		}, []string{"reason"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyx_dispatch_errors_total",
			Help: "Failed attempts to hand a job to the build service",
		}, []string{"mode"}),
	}

	reg.MustRegister(
		m.enqueued, m.rejected, m.completed, m.failed,
		m.duration, m.inFlight, m.swept, m.dispatchErrors,
	)
	return m
}

func (m *BuildMetrics) RecordEnqueued() {
	if m == nil {
		return
	}
	m.enqueued.Inc()
}

func (m *BuildMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *BuildMetrics) RecordCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.completed.Inc()
	m.duration.Observe(d.Seconds())
}

func (m *BuildMetrics) RecordFailed(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(step).Inc()
	if d > 0 {
		m.duration.Observe(d.Seconds())
	}
}

// BuildStarted bumps the in-flight gauge; call the returned func when done
func (m *BuildMetrics) BuildStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *BuildMetrics) RecordSwept(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(reason).Add(float64(n))
}

func (m *BuildMetrics) RecordDispatchError(mode string) {
	if m == nil {
		return
	}
	m.dispatchErrors.WithLabelValues(mode).Inc()
}
