package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucid-vigil/honeyshift/pkg/config"
	"github.com/lucid-vigil/honeyshift/pkg/monitors/base"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMonitor is a mock implementation of the Monitor interface.
type MockMonitor struct {
	mock.Mock // Embed mock.Mock
}

func (m *MockMonitor) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockMonitor) Run(ctx context.Context) {
	m.Called(ctx)
}

// countingMonitor signals on runs for every call to Run.
type countingMonitor struct {
	name  string
	count atomic.Int32
	runs  chan struct{}
}

func newCountingMonitor(name string) *countingMonitor {
	return &countingMonitor{name: name, runs: make(chan struct{}, 100)}
}

func (c *countingMonitor) Name() string { return c.name }

func (c *countingMonitor) Run(ctx context.Context) {
	c.count.Add(1)
	c.runs <- struct{}{}
}

// scheduledMonitor carries its own schedule through BaseMonitor.
type scheduledMonitor struct {
	*base.BaseMonitor
	watch string
	runs  chan struct{}
}

func newScheduledMonitor(name string, enabled bool, interval time.Duration) *scheduledMonitor {
	m := &scheduledMonitor{
		BaseMonitor: base.NewBaseMonitor(name, zerolog.Nop()),
		runs:        make(chan struct{}, 100),
	}
	m.SetEnabled(enabled)
	m.SetInterval(interval)
	return m
}

func (m *scheduledMonitor) Run(ctx context.Context) { m.runs <- struct{}{} }

func (m *scheduledMonitor) WatchPath() string { return m.watch }

func waitRuns(t *testing.T, c *countingMonitor, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-c.runs:
		case <-deadline:
			t.Fatalf("monitor '%s' ran %d times, want %d", c.name, i, n)
		}
	}
}

func TestScheduler_RegisterMonitor(t *testing.T) {
	cfg := &config.Config{}
	sched := NewScheduler(cfg)

	monitor := new(MockMonitor)
	monitor.On("Name").Return("test_monitor")

	sched.RegisterMonitor(monitor)

	assert.Len(t, sched.monitors, 1)
	assert.Equal(t, monitor, sched.monitors[0])
	monitor.AssertExpectations(t)
}

func TestScheduler_Start(t *testing.T) {
	cfg := &config.Config{
		Monitors: []config.MonitorConfig{
			{Name: "monitor_enabled", Enabled: true, Interval: "20ms"},
			{Name: "monitor_disabled", Enabled: false, Interval: "20ms"},
			{Name: "monitor_invalid_interval", Enabled: true, Interval: "invalid"},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := NewScheduler(cfg)

	enabled := newCountingMonitor("monitor_enabled")
	sched.RegisterMonitor(enabled)

	disabledMonitor := new(MockMonitor)
	disabledMonitor.On("Name").Return("monitor_disabled")
	sched.RegisterMonitor(disabledMonitor)

	invalidIntervalMonitor := new(MockMonitor)
	invalidIntervalMonitor.On("Name").Return("monitor_invalid_interval")
	sched.RegisterMonitor(invalidIntervalMonitor)

	unconfigured := new(MockMonitor)
	unconfigured.On("Name").Return("monitor_unknown")
	sched.RegisterMonitor(unconfigured)

	sched.Start(ctx)

	// One immediate run plus at least two ticks.
	waitRuns(t, enabled, 3, 2*time.Second)
	cancel()
	sched.Wait()

	disabledMonitor.AssertNotCalled(t, "Run", mock.Anything)
	invalidIntervalMonitor.AssertNotCalled(t, "Run", mock.Anything)
	unconfigured.AssertNotCalled(t, "Run", mock.Anything)
}

func TestScheduler_Shutdown(t *testing.T) {
	cfg := &config.Config{
		Monitors: []config.MonitorConfig{
			{Name: "shutdown_monitor", Enabled: true, Interval: "100ms"},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := NewScheduler(cfg)

	monitor := new(MockMonitor)
	monitor.On("Name").Return("shutdown_monitor")
	// Use a WaitGroup to ensure the Run method is called at least once before shutdown
	var wg sync.WaitGroup
	wg.Add(1)
	var once sync.Once
	monitor.On("Run", mock.Anything).Run(func(args mock.Arguments) { once.Do(wg.Done) }).Return()
	sched.RegisterMonitor(monitor)

	sched.Start(ctx)

	// Wait for the monitor to run at least once
	wg.Wait()

	cancel()
	sched.Wait()

	monitor.AssertExpectations(t)
}

func TestScheduler_WatchTriggersRun(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "cowrie.json")
	require.NoError(t, os.WriteFile(logFile, nil, 0644))

	cfg := &config.Config{
		Paths: config.PathsConfig{LogFile: logFile},
		Monitors: []config.MonitorConfig{
			{Name: "adaptive_response", Enabled: true, Interval: "1h", Watch: true},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched := NewScheduler(cfg)
	mon := newCountingMonitor("adaptive_response")
	sched.RegisterMonitor(mon)
	sched.Start(ctx)

	waitRuns(t, mon, 1, 2*time.Second)

	// Writes to other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}\n"), 0644))

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"eventid":"cowrie.session.connect"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	waitRuns(t, mon, 1, 5*time.Second)

	cancel()
	sched.Wait()
}

func TestScheduler_MonitorScheduleOverridesConfig(t *testing.T) {
	cfg := &config.Config{
		Monitors: []config.MonitorConfig{
			{Name: "own_schedule", Enabled: false, Interval: "1h"},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := NewScheduler(cfg)

	enabled := newScheduledMonitor("own_schedule", true, 20*time.Millisecond)
	disabled := newScheduledMonitor("own_disabled", false, 20*time.Millisecond)
	noInterval := newScheduledMonitor("own_no_interval", true, 0)
	sched.RegisterMonitor(enabled)
	sched.RegisterMonitor(disabled)
	sched.RegisterMonitor(noInterval)

	sched.Start(ctx)

	deadline := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-enabled.runs:
		case <-deadline:
			t.Fatalf("monitor ran %d times, want 3", i)
		}
	}
	cancel()
	sched.Wait()

	assert.Empty(t, disabled.runs)
	assert.Empty(t, noInterval.runs)
}

func TestScheduler_MonitorWatchPath(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "cowrie.json")
	require.NoError(t, os.WriteFile(logFile, nil, 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched := NewScheduler(&config.Config{})
	mon := newScheduledMonitor("watching", true, time.Hour)
	mon.watch = logFile
	sched.RegisterMonitor(mon)
	sched.Start(ctx)

	select {
	case <-mon.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not run on start")
	}

	require.NoError(t, os.WriteFile(logFile, []byte("{}\n"), 0644))

	select {
	case <-mon.runs:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not run on log write")
	}

	cancel()
	sched.Wait()
}
