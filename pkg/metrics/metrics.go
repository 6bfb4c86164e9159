// Package metrics exposes adaptive-loop counters to Prometheus and keeps the
// in-process error statistics.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "honeyshift"

// Metrics holds every collector the loop updates. It implements
// errors.ErrorCollector.
type Metrics struct {
	Runs               *prometheus.CounterVec
	LinesSkipped       *prometheus.CounterVec
	SessionsScored     prometheus.Counter
	SuspiciousSessions prometheus.Counter
	Adaptations        *prometheus.CounterVec
	Errors             *prometheus.CounterVec
	LastRun            prometheus.Gauge

	mu    sync.Mutex
	stats errors.ErrorStats
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Adaptive runs by outcome.",
		}, []string{"outcome"}),
		LinesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_lines_skipped_total",
			Help:      "Log lines dropped while reading, by reason.",
		}, []string{"reason"}),
		SessionsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_scored_total",
			Help:      "Sessions passed through the classifier.",
		}),
		SuspiciousSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicious_sessions_total",
			Help:      "Sessions labeled suspicious.",
		}),
		Adaptations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adaptations_total",
			Help:      "Adaptation attempts by result.",
		}, []string{"result"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Structured errors by kind.",
		}, []string{"kind"}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last adaptive run started.",
		}),
		stats: newStats(),
	}

	if reg != nil {
		reg.MustRegister(m.Runs, m.LinesSkipped, m.SessionsScored, m.SuspiciousSessions,
			m.Adaptations, m.Errors, m.LastRun)
	}
	return m
}

func newStats() errors.ErrorStats {
	return errors.ErrorStats{
		ErrorsByKind:      make(map[errors.Kind]int),
		ErrorsByComponent: make(map[string]int),
		ErrorsBySeverity:  make(map[errors.Severity]int),
	}
}

// ObserveRun records the start time and outcome of one run.
func (m *Metrics) ObserveRun(started time.Time, outcome string) {
	m.LastRun.Set(float64(started.Unix()))
	m.Runs.WithLabelValues(outcome).Inc()
}

// CollectError counts err and remembers it as the most recent.
func (m *Metrics) CollectError(ctx context.Context, err *errors.MonitorError) error {
	m.Errors.WithLabelValues(string(err.Kind)).Inc()
	if err.Kind == errors.KindParseSkip {
		reason, _ := err.Details["reason"].(string)
		m.LinesSkipped.WithLabelValues(reason).Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.TotalErrors++
	m.stats.ErrorsByKind[err.Kind]++
	m.stats.ErrorsByComponent[err.Component]++
	m.stats.ErrorsBySeverity[err.Severity]++
	m.stats.LastError = err
	return nil
}

// GetErrorStats returns a copy of the error statistics.
func (m *Metrics) GetErrorStats() errors.ErrorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := newStats()
	out.TotalErrors = m.stats.TotalErrors
	out.LastError = m.stats.LastError
	for k, v := range m.stats.ErrorsByKind {
		out.ErrorsByKind[k] = v
	}
	for k, v := range m.stats.ErrorsByComponent {
		out.ErrorsByComponent[k] = v
	}
	for k, v := range m.stats.ErrorsBySeverity {
		out.ErrorsBySeverity[k] = v
	}
	return out
}
