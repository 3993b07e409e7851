// Package metrics exposes Prometheus collectors for engine activity.
// The collectors are fed through domain.LifecycleHooks so the runtime has
// no direct dependency on the metrics registry.
package metrics

import (
	"context"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine collectors.
type Metrics struct {
	runsTotal          *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	contractFailures   *prometheus.CounterVec
	checkpointsTotal   *prometheus.CounterVec
	rollbacksTotal     prometheus.Counter
	escalationsTotal   *prometheus.CounterVec
	runsInFlight       prometheus.Gauge
	healthAtEscalation prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "runs_total",
			Help:      "Finished composition runs by terminal status.",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lattice",
			Name:      "step_duration_seconds",
			Help:      "Operator unit execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		contractFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "contract_failures_total",
			Help:      "Condition check failures by severity and phase.",
		}, []string{"severity", "phase"}),
		checkpointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "checkpoints_total",
			Help:      "Checkpoints created by reason.",
		}, []string{"reason"}),
		rollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "rollbacks_total",
			Help:      "Checkpoint restorations performed.",
		}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "escalations_total",
			Help:      "Escalation decisions above autonomous, by level.",
		}, []string{"level"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lattice",
			Name:      "runs_in_flight",
			Help:      "Runs currently executing.",
		}),
		healthAtEscalation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lattice",
			Name:      "health_at_escalation",
			Help:      "Overall health score at the moment of escalation.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}

	reg.MustRegister(
		m.runsTotal, m.stepDuration, m.contractFailures, m.checkpointsTotal,
		m.rollbacksTotal, m.escalationsTotal, m.runsInFlight, m.healthAtEscalation,
	)
	return m
}

// Hooks returns lifecycle hooks feeding the collectors. Compose with other
// hooks via Chain when the caller also wants its own callbacks.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunStart: func(_ context.Context, _ *domain.RunEvent) {
			m.runsInFlight.Inc()
		},
		OnStep: func(_ context.Context, e *domain.StepEvent) {
			m.stepDuration.WithLabelValues(string(e.Kind)).Observe(e.Duration.Seconds())
		},
		OnContractFailure: func(_ context.Context, e *domain.ContractEvent) {
			m.contractFailures.WithLabelValues(string(e.Severity), string(e.Phase)).Inc()
		},
		OnCheckpoint: func(_ context.Context, e *domain.CheckpointEvent) {
			m.checkpointsTotal.WithLabelValues(e.Reason).Inc()
		},
		OnRollback: func(_ context.Context, _ *domain.CheckpointEvent) {
			m.rollbacksTotal.Inc()
		},
		OnEscalation: func(_ context.Context, e *domain.EscalationEvent) {
			m.escalationsTotal.WithLabelValues(levelLabel(e.Level)).Inc()
			m.healthAtEscalation.Observe(e.Health)
		},
		OnRunEnd: func(_ context.Context, e *domain.RunEvent) {
			m.runsInFlight.Dec()
			m.runsTotal.WithLabelValues(string(e.Status)).Inc()
		},
	}
}

func levelLabel(level int) string {
	switch level {
	case 1:
		return "advisory"
	case 2:
		return "confirmation"
	case 3:
		return "manual"
	default:
		return "autonomous"
	}
}

// Chain fans one event out to multiple hook sets, in order.
func Chain(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunStart: func(ctx context.Context, e *domain.RunEvent) {
			for _, h := range hooks {
				if h.OnRunStart != nil {
					h.OnRunStart(ctx, e)
				}
			}
		},
		OnStep: func(ctx context.Context, e *domain.StepEvent) {
			for _, h := range hooks {
				if h.OnStep != nil {
					h.OnStep(ctx, e)
				}
			}
		},
		OnContractFailure: func(ctx context.Context, e *domain.ContractEvent) {
			for _, h := range hooks {
				if h.OnContractFailure != nil {
					h.OnContractFailure(ctx, e)
				}
			}
		},
		OnCheckpoint: func(ctx context.Context, e *domain.CheckpointEvent) {
			for _, h := range hooks {
				if h.OnCheckpoint != nil {
					h.OnCheckpoint(ctx, e)
				}
			}
		},
		OnRollback: func(ctx context.Context, e *domain.CheckpointEvent) {
			for _, h := range hooks {
				if h.OnRollback != nil {
					h.OnRollback(ctx, e)
				}
			}
		},
		OnEscalation: func(ctx context.Context, e *domain.EscalationEvent) {
			for _, h := range hooks {
				if h.OnEscalation != nil {
					h.OnEscalation(ctx, e)
				}
			}
		},
		OnRunEnd: func(ctx context.Context, e *domain.RunEvent) {
			for _, h := range hooks {
				if h.OnRunEnd != nil {
					h.OnRunEnd(ctx, e)
				}
			}
		},
	}
}
