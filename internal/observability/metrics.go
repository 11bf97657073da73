package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

const namespace = "jobengine"

type Metrics struct {
	JobsClaimed    prometheus.Counter
	JobsCompleted  *prometheus.CounterVec
	JobsFailed     *prometheus.CounterVec
	JobsRequeued   *prometheus.CounterVec
	JobsSkipped    *prometheus.CounterVec
	JobsReaped     *prometheus.CounterVec
	JobsChained    *prometheus.CounterVec
	OwnerSkips     prometheus.Counter
	QuotaRollbacks *prometheus.CounterVec
	TickErrors     prometheus.Counter
	InFlight       prometheus.Gauge
	JobDuration    *prometheus.HistogramVec
	BreakerState   *prometheus.GaugeVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Jobs moved from PENDING to RUNNING by this process.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs marked COMPLETED.",
		}, []string{"type"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs marked FAILED, by failure class.",
		}, []string{"type", "class"}),
		JobsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_requeued_total",
			Help:      "Retryable failures re-queued with backoff.",
		}, []string{"type"}),
		JobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_skipped_total",
			Help:      "Jobs completed as skipped because of missing configuration.",
		}, []string{"type"}),
		JobsReaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reaped_total",
			Help:      "Stuck RUNNING jobs recovered by the reaper.",
		}, []string{"outcome"}),
		JobsChained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_chained_total",
			Help:      "Follow-up jobs enqueued after a successful run.",
		}, []string{"outcome"}),
		OwnerSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_owner_skips_total",
			Help:      "Due jobs left PENDING because their owner was at the running-job cap.",
		}),
		QuotaRollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rollbacks_total",
			Help:      "Compensating quota rollbacks issued for failed jobs.",
		}, []string{"result"}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_tick_errors_total",
			Help:      "Poll ticks that ended with an error or panic.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently executing in this process.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Handler execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"type", "outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Breaker state per dependency: 0 closed, 1 half-open, 2 open.",
		}, []string{"dependency"}),
	}

	registerer.MustRegister(
		m.JobsClaimed,
		m.JobsCompleted,
		m.JobsFailed,
		m.JobsRequeued,
		m.JobsSkipped,
		m.JobsReaped,
		m.JobsChained,
		m.OwnerSkips,
		m.QuotaRollbacks,
		m.TickErrors,
		m.InFlight,
		m.JobDuration,
		m.BreakerState,
	)

	return m
}

// ObserveBreaker matches guard.StateListener.
func (m *Metrics) ObserveBreaker(dependency string, _, to gobreaker.State) {
	var value float64
	switch to {
	case gobreaker.StateHalfOpen:
		value = 1
	case gobreaker.StateOpen:
		value = 2
	}
	m.BreakerState.WithLabelValues(dependency).Set(value)
}

// NewTestMetrics registers on a private registry.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
