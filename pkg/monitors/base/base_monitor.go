package base

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BaseMonitor provides a common foundation for monitors. It implements shared
// functionality for logging and status tracking, reducing boilerplate code in
// individual monitor implementations.
type BaseMonitor struct {
	name      string
	enabled   bool
	interval  time.Duration
	lastRun   time.Time
	lastError error
	runs      int64
	metrics   map[string]interface{}
	logger    zerolog.Logger
	mu        sync.Mutex // Protects everything above except name and logger
}

// NewBaseMonitor creates and initializes a new BaseMonitor with a given name and logger.
// It returns a pointer to the created BaseMonitor.
func NewBaseMonitor(name string, logger zerolog.Logger) *BaseMonitor {
	return &BaseMonitor{
		name:    name,
		enabled: true, // Default to enabled
		logger:  logger.With().Str("monitor", name).Logger(),
		metrics: make(map[string]interface{}),
	}
}

// Name returns the monitor's name.
func (b *BaseMonitor) Name() string {
	return b.name
}

// Logger returns the monitor's logger.
func (b *BaseMonitor) Logger() zerolog.Logger {
	return b.logger
}

// IsEnabled returns whether the monitor is enabled.
func (b *BaseMonitor) IsEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetEnabled enables or disables the monitor.
func (b *BaseMonitor) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// GetInterval returns the monitor's execution interval.
func (b *BaseMonitor) GetInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

// SetInterval sets the monitor's execution interval.
func (b *BaseMonitor) SetInterval(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interval = d
}

// GetLastError returns the last error that occurred during execution.
func (b *BaseMonitor) GetLastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// GetLastExecutionTime returns the last time the monitor was executed.
func (b *BaseMonitor) GetLastExecutionTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun
}

// GetRunCount returns how many executions have been recorded.
func (b *BaseMonitor) GetRunCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs
}

// RecordExecution stores the start time and result of one execution.
func (b *BaseMonitor) RecordExecution(started time.Time, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRun = started
	b.lastError = err
	b.runs++
}

// GetMetrics returns the monitor's collected metrics.
func (b *BaseMonitor) GetMetrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Return a copy to prevent external modification of the map
	dest := make(map[string]interface{}, len(b.metrics))
	for k, v := range b.metrics {
		dest[k] = v
	}
	return dest
}

// LogEvent starts a log event at level with the monitor's context. The caller
// adds fields and sends it with Msg.
func (b *BaseMonitor) LogEvent(level zerolog.Level) *zerolog.Event {
	return b.logger.WithLevel(level)
}

// UpdateMetrics is a helper to update a metric value.
func (b *BaseMonitor) UpdateMetrics(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[key] = value
}
