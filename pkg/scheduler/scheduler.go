package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lucid-vigil/honeyshift/pkg/config"
	"github.com/rs/zerolog/log"
)

// Monitor defines the interface for any monitor that can be scheduled.
type Monitor interface {
	Name() string
	Run(ctx context.Context)
}

// ConfigurableMonitor is a Monitor that carries its own schedule, seeded from
// its configuration when it was built. WatchPath returns "" when the monitor
// runs on its interval alone.
type ConfigurableMonitor interface {
	Monitor
	IsEnabled() bool
	GetInterval() time.Duration
	WatchPath() string
}

// schedule is how often a monitor runs and which file, if any, also triggers it.
type schedule struct {
	interval  time.Duration
	watchPath string
}

// Scheduler manages the registration and execution of monitors. Each monitor
// runs on its own goroutine, so its runs never overlap.
type Scheduler struct {
	monitors []Monitor
	config   *config.Config
	wg       sync.WaitGroup
}

// NewScheduler creates and returns a new Scheduler instance.
func NewScheduler(cfg *config.Config) *Scheduler {
	return &Scheduler{
		config: cfg,
	}
}

// RegisterMonitor adds a monitor to the scheduler's list.
func (s *Scheduler) RegisterMonitor(m Monitor) {
	s.monitors = append(s.monitors, m)
	log.Info().Msgf("Monitor '%s' registered.", m.Name())
}

// Start launches all enabled monitors with their configured intervals.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("Scheduler starting...")

	for _, mon := range s.monitors {
		sched, ok := s.scheduleFor(mon)
		if !ok {
			continue
		}

		var trigger <-chan struct{}
		if sched.watchPath != "" {
			trigger = s.watchFile(ctx, mon.Name(), sched.watchPath)
		}

		log.Info().Msgf("Starting monitor '%s' with interval %s", mon.Name(), sched.interval)
		s.wg.Add(1)
		go func(m Monitor, interval time.Duration) {
			defer s.wg.Done()
			s.runMonitor(ctx, m, interval, trigger)
		}(mon, sched.interval)
	}

	log.Info().Msg("All configured monitors started.")
}

// Wait blocks until every monitor goroutine has returned after ctx is done.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runMonitor(ctx context.Context, m Monitor, interval time.Duration, trigger <-chan struct{}) {
	// Run immediately on start
	log.Debug().Msgf("Running monitor '%s' for the first time.", m.Name())
	m.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Debug().Msgf("Running monitor '%s'.", m.Name())
			m.Run(ctx)
		case <-trigger:
			log.Debug().Msgf("Running monitor '%s' on log change.", m.Name())
			m.Run(ctx)
		case <-ctx.Done():
			log.Info().Msgf("Monitor '%s' received shutdown signal.", m.Name())
			return
		}
	}
}

// watchFile signals on the returned channel whenever path is written or
// recreated. The channel holds at most one pending signal, so a burst of
// writes during a run collapses into a single follow-up run. The parent
// directory is watched so rotation is seen. A nil channel is returned when
// the watch cannot be set up; the monitor then runs on its ticker alone.
func (s *Scheduler) watchFile(ctx context.Context, name, path string) <-chan struct{} {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Msgf("Failed to create watcher for monitor '%s'.", name)
		return nil
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		log.Error().Err(err).Str("path", path).Msgf("Failed to watch log for monitor '%s'.", name)
		watcher.Close()
		return nil
	}
	log.Info().Str("path", path).Msgf("Monitor '%s' watching log for changes.", name)

	trigger := make(chan struct{}, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				select {
				case trigger <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msgf("Log watcher error for monitor '%s'.", name)
			case <-ctx.Done():
				return
			}
		}
	}()
	return trigger
}

// scheduleFor resolves a monitor's schedule from the monitor itself when it
// carries one, and from the config's monitors list otherwise. It reports false
// for disabled, unconfigured or invalid monitors.
func (s *Scheduler) scheduleFor(m Monitor) (schedule, bool) {
	if cm, ok := m.(ConfigurableMonitor); ok {
		if !cm.IsEnabled() {
			log.Info().Msgf("Monitor '%s' is disabled, skipping.", m.Name())
			return schedule{}, false
		}
		if cm.GetInterval() <= 0 {
			log.Error().Msgf("Invalid interval for monitor '%s', skipping.", m.Name())
			return schedule{}, false
		}
		return schedule{interval: cm.GetInterval(), watchPath: cm.WatchPath()}, true
	}

	monitorConfig := s.getMonitorConfig(m.Name())
	if monitorConfig == nil || !monitorConfig.Enabled {
		log.Info().Msgf("Monitor '%s' is disabled or not configured, skipping.", m.Name())
		return schedule{}, false
	}

	duration, err := time.ParseDuration(monitorConfig.Interval)
	if err != nil || duration <= 0 {
		log.Error().Err(err).Msgf("Invalid interval for monitor '%s', skipping.", m.Name())
		return schedule{}, false
	}

	sched := schedule{interval: duration}
	if monitorConfig.Watch {
		sched.watchPath = s.config.Paths.LogFile
	}
	return sched, true
}

func (s *Scheduler) getMonitorConfig(name string) *config.MonitorConfig {
	return s.config.GetMonitorConfig(name)
}
