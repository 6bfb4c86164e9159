// Package adaptive implements the detect-and-adapt loop: read the recent
// honeypot log, score every session, and reconfigure the honeypot when any
// session looks suspicious.
package adaptive

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lucid-vigil/honeyshift/pkg/actions"
	"github.com/lucid-vigil/honeyshift/pkg/classifier"
	"github.com/lucid-vigil/honeyshift/pkg/config"
	"github.com/lucid-vigil/honeyshift/pkg/cowrie"
	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/lucid-vigil/honeyshift/pkg/features"
	"github.com/lucid-vigil/honeyshift/pkg/metrics"
	"github.com/lucid-vigil/honeyshift/pkg/monitors/base"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Stage is the loop's position within a run.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageReading    Stage = "reading"
	StageExtracting Stage = "extracting"
	StageScoring    Stage = "scoring"
	StageAdapting   Stage = "adapting"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeResourceMissing  Outcome = "resource_missing"
	OutcomeNoEntries        Outcome = "no_entries"
	OutcomeNoSessions       Outcome = "no_sessions"
	OutcomeScoringFailed    Outcome = "scoring_failed"
	OutcomeClean            Outcome = "clean"
	OutcomeAdapted          Outcome = "adapted"
	OutcomeAdaptationFailed Outcome = "adaptation_failed"
	OutcomeSuppressed       Outcome = "suppressed"
	OutcomeDryRun           Outcome = "dry_run"
)

// Report describes one run.
type Report struct {
	RunID      string                     `json:"run_id"`
	StartedAt  time.Time                  `json:"started_at"`
	Duration   time.Duration              `json:"duration"`
	Entries    int                        `json:"entries"`
	Skipped    int                        `json:"skipped"`
	Dropped    int                        `json:"dropped"`
	Sessions   []classifier.ScoredSession `json:"sessions"`
	Suspicious []string                   `json:"suspicious"`
	Outcome    Outcome                    `json:"outcome"`
	Error      string                     `json:"error,omitempty"`
	Err        error                      `json:"-"`
}

// Settings are the paths and policies a Monitor runs with. Enabled, Interval
// and Watch only affect scheduling.
type Settings struct {
	LogFile        string
	HoneypotConfig string
	Window         time.Duration
	Actions        []string
	Cooldown       time.Duration
	Enabled        bool
	Interval       time.Duration
	Watch          bool
}

// SettingsFromConfig derives the settings of the named monitor from cfg. A
// monitor without a config entry is disabled; an unparseable interval is left
// at zero, which the scheduler rejects.
func SettingsFromConfig(cfg *config.Config, name string) Settings {
	settings := Settings{
		LogFile:        cfg.Paths.LogFile,
		HoneypotConfig: cfg.Paths.HoneypotConfig,
		Window:         cfg.Window,
		Actions:        actions.AdaptationChain(cfg, name),
		Cooldown:       cfg.Adaptation.Cooldown,
	}
	if mc := cfg.GetMonitorConfig(name); mc != nil {
		settings.Enabled = mc.Enabled
		settings.Watch = mc.Watch
		if d, err := time.ParseDuration(mc.Interval); err == nil {
			settings.Interval = d
		}
	}
	return settings
}

// Scorer labels session features.
type Scorer interface {
	Classify(set features.Set) ([]classifier.ScoredSession, error)
}

// Dispatcher runs the adaptation actions.
type Dispatcher interface {
	ExecuteChain(ctx context.Context, actionNames []string, data map[string]interface{}) error
	IsEnabled() bool
}

// Status is the monitor state served by the API.
type Status struct {
	Name       string                 `json:"name"`
	Stage      Stage                  `json:"stage"`
	Runs       int64                  `json:"runs"`
	LastRun    time.Time              `json:"last_run"`
	LastError  string                 `json:"last_error,omitempty"`
	Metrics    map[string]interface{} `json:"metrics,omitempty"`
	LastReport *Report                `json:"last_report,omitempty"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetrics reports runs and errors to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(mon *Monitor) { mon.now = now }
}

// Monitor runs the loop. Runs are serialized; the scorer is shared read-only.
type Monitor struct {
	*base.BaseMonitor
	settings   Settings
	scorer     Scorer
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	errHandler *errors.ErrorHandler
	limiter    *rate.Limiter
	now        func() time.Time

	runMu sync.Mutex

	mu    sync.Mutex
	stage Stage
	last  *Report
}

// NewMonitor creates the adaptive monitor.
func NewMonitor(name string, settings Settings, scorer Scorer, dispatcher Dispatcher, logger zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		BaseMonitor: base.NewBaseMonitor(name, logger),
		settings:    settings,
		scorer:      scorer,
		dispatcher:  dispatcher,
		now:         time.Now,
		stage:       StageIdle,
	}
	m.SetEnabled(settings.Enabled)
	m.SetInterval(settings.Interval)
	for _, opt := range opts {
		opt(m)
	}

	var collector errors.ErrorCollector
	if m.metrics != nil {
		collector = m.metrics
	}
	m.errHandler = errors.NewErrorHandler(m.Logger(), collector)

	if settings.Cooldown > 0 {
		m.limiter = rate.NewLimiter(rate.Every(settings.Cooldown), 1)
	}
	return m
}

// Run executes one pass; it satisfies the scheduler's Monitor interface.
func (m *Monitor) Run(ctx context.Context) {
	m.RunOnce(ctx)
}

// WatchPath returns the log file when runs should also follow its writes,
// and "" otherwise.
func (m *Monitor) WatchPath() string {
	if !m.settings.Watch {
		return ""
	}
	return m.settings.LogFile
}

// RunOnce executes one straight-line pass: Reading, Extracting, Scoring and,
// when any session is suspicious, Adapting. Recoverable problems are absorbed
// and only reflected in the report.
func (m *Monitor) RunOnce(ctx context.Context) Report {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	started := m.now()
	report := Report{RunID: uuid.NewString(), StartedAt: started}
	logger := m.Logger().With().Str("run_id", report.RunID).Logger()
	logger.Debug().Msg("Adaptive run starting.")

	m.execute(ctx, logger, &report)

	m.setStage(logger, StageIdle)
	report.Duration = m.now().Sub(started)
	if report.Err != nil {
		report.Error = report.Err.Error()
	}
	m.finish(&report)
	return report
}

func (m *Monitor) execute(ctx context.Context, logger zerolog.Logger, report *Report) {
	for _, path := range []string{m.settings.LogFile, m.settings.HoneypotConfig} {
		if _, err := os.Stat(path); err != nil {
			m.fail(ctx, report, OutcomeResourceMissing, errors.NewResourceMissingError(m.Name(), path, err))
			return
		}
	}

	m.setStage(logger, StageReading)
	cutoff := report.StartedAt.Add(-m.settings.Window)
	reader, err := cowrie.Open(m.settings.LogFile, cutoff,
		cowrie.WithLogger(logger),
		cowrie.WithSkipHandler(func(me *errors.MonitorError) {
			if m.metrics != nil {
				_ = m.metrics.CollectError(ctx, me)
			}
		}))
	if err != nil {
		me, ok := errors.As(err)
		if !ok {
			me = errors.NewResourceMissingError(m.Name(), m.settings.LogFile, err)
		}
		m.fail(ctx, report, OutcomeResourceMissing, me)
		return
	}
	defer reader.Close()

	extractor := features.NewExtractor()
	m.setStage(logger, StageExtracting)
	for reader.Next() {
		report.Entries++
		extractor.Add(reader.Entry())
	}
	report.Skipped = reader.Skipped()
	report.Dropped = extractor.Dropped()
	if err := reader.Err(); err != nil {
		m.fail(ctx, report, OutcomeResourceMissing, errors.NewResourceMissingError(m.Name(), m.settings.LogFile, err))
		return
	}
	if report.Entries == 0 {
		report.Outcome = OutcomeNoEntries
		return
	}

	set := extractor.Result()
	if len(set) == 0 {
		report.Outcome = OutcomeNoSessions
		return
	}

	m.setStage(logger, StageScoring)
	scored, err := m.scorer.Classify(set)
	if err != nil {
		m.fail(ctx, report, OutcomeScoringFailed, errors.NewArtifactError(m.Name(), "classifier", err))
		return
	}
	report.Sessions = scored
	report.Suspicious = classifier.Suspicious(scored)
	if m.metrics != nil {
		m.metrics.SessionsScored.Add(float64(len(scored)))
		m.metrics.SuspiciousSessions.Add(float64(len(report.Suspicious)))
	}
	if len(report.Suspicious) == 0 {
		report.Outcome = OutcomeClean
		return
	}

	m.setStage(logger, StageAdapting)
	m.adapt(ctx, logger, report)
}

func (m *Monitor) adapt(ctx context.Context, logger zerolog.Logger, report *Report) {
	if !m.dispatcher.IsEnabled() {
		logger.Warn().Strs("sessions", report.Suspicious).Msg("Suspicious activity detected, adaptation disabled.")
		report.Outcome = OutcomeDryRun
		m.countAdaptation("dry_run")
		return
	}

	// A failed chain hands its cooldown token back so the next run can retry.
	var reservation *rate.Reservation
	reservedAt := m.now()
	if m.limiter != nil {
		reservation = m.limiter.ReserveN(reservedAt, 1)
		if !reservation.OK() || reservation.DelayFrom(reservedAt) > 0 {
			reservation.CancelAt(reservedAt)
			logger.Warn().
				Strs("sessions", report.Suspicious).
				Dur("cooldown", m.settings.Cooldown).
				Msg("Suspicious activity detected, adaptation suppressed by cooldown.")
			report.Outcome = OutcomeSuppressed
			m.countAdaptation("suppressed")
			return
		}
	}

	logger.Warn().Strs("sessions", report.Suspicious).Msg("Suspicious activity detected. Adapting honeypot...")
	data := map[string]interface{}{
		actions.DataRunID:      report.RunID,
		actions.DataSuspicious: report.Suspicious,
	}
	if err := m.dispatcher.ExecuteChain(ctx, m.settings.Actions, data); err != nil {
		if reservation != nil {
			reservation.CancelAt(reservedAt)
		}
		report.Outcome = OutcomeAdaptationFailed
		report.Err = err
		if me, ok := errors.As(err); ok {
			_ = m.errHandler.HandleError(ctx, me)
		}
		m.countAdaptation("failed")
		return
	}
	report.Outcome = OutcomeAdapted
	m.countAdaptation("succeeded")
}

func (m *Monitor) fail(ctx context.Context, report *Report, outcome Outcome, err *errors.MonitorError) {
	report.Outcome = outcome
	report.Err = err
	_ = m.errHandler.HandleError(ctx, err)
}

func (m *Monitor) finish(report *Report) {
	m.RecordExecution(report.StartedAt, report.Err)
	m.UpdateMetrics("last_outcome", string(report.Outcome))
	m.UpdateMetrics("last_entries", report.Entries)
	m.UpdateMetrics("last_sessions", len(report.Sessions))
	m.UpdateMetrics("last_suspicious", len(report.Suspicious))
	if m.metrics != nil {
		m.metrics.ObserveRun(report.StartedAt, string(report.Outcome))
	}

	m.mu.Lock()
	r := *report
	m.last = &r
	m.mu.Unlock()

	level := zerolog.InfoLevel
	if report.Err != nil {
		level = zerolog.WarnLevel
	}
	m.LogEvent(level).
		Str("run_id", report.RunID).
		Str("outcome", string(report.Outcome)).
		AnErr("error", report.Err).
		Int("entries", report.Entries).
		Int("skipped", report.Skipped).
		Int("sessions", len(report.Sessions)).
		Int("suspicious", len(report.Suspicious)).
		Dur("duration", report.Duration).
		Msg("Adaptive run finished.")
}

func (m *Monitor) countAdaptation(result string) {
	if m.metrics != nil {
		m.metrics.Adaptations.WithLabelValues(result).Inc()
	}
}

func (m *Monitor) setStage(logger zerolog.Logger, s Stage) {
	m.mu.Lock()
	prev := m.stage
	m.stage = s
	m.mu.Unlock()
	if prev != s {
		logger.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("Stage transition.")
	}
}

// Status returns the current stage and the last run's report.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Name:    m.Name(),
		Stage:   m.stage,
		Runs:    m.GetRunCount(),
		LastRun: m.GetLastExecutionTime(),
		Metrics: m.GetMetrics(),
	}
	if err := m.GetLastError(); err != nil {
		s.LastError = err.Error()
	}
	if m.last != nil {
		r := *m.last
		s.LastReport = &r
	}
	return s
}
