package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lucid-vigil/honeyshift/pkg/actions"
	"github.com/lucid-vigil/honeyshift/pkg/api"
	"github.com/lucid-vigil/honeyshift/pkg/classifier"
	"github.com/lucid-vigil/honeyshift/pkg/config"
	"github.com/lucid-vigil/honeyshift/pkg/export"
	"github.com/lucid-vigil/honeyshift/pkg/logger"
	"github.com/lucid-vigil/honeyshift/pkg/metrics"
	"github.com/lucid-vigil/honeyshift/pkg/monitors/adaptive"
	"github.com/lucid-vigil/honeyshift/pkg/scheduler"
	"github.com/lucid-vigil/honeyshift/pkg/training"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const usage = `Usage: honeyshift [flags] <command>

Commands:
  run      score the recent log once and adapt the honeypot if needed
  daemon   run the adaptive monitor on its schedule (and the API if enabled)
  serve    serve the prediction API only
  export   convert the honeypot log to CSV
  train    train the model and scaler from the CSV export
  verify   check that the model and scaler load

Flags:
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("honeyshift", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "Path to honeyshift.yaml")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	help := flags.BoolP("help", "h", false, "Show help message")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *help || flags.NArg() != 1 {
		flags.Usage()
		if *help {
			return 0
		}
		return 2
	}

	// Load configuration first
	cfg, err := config.LoadConfig(*configPath, flags)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	// Initialize logger based on config
	logger.InitLogger(cfg.LogLevel)

	ctx, cancel := signalContext()
	defer cancel()

	switch cmd := flags.Arg(0); cmd {
	case "run":
		return runOnce(ctx, cfg)
	case "daemon":
		return daemon(ctx, cfg)
	case "serve":
		return serve(ctx, cfg)
	case "export":
		return exportLogs(cfg)
	case "train":
		return train(cfg)
	case "verify":
		return verify(cfg)
	default:
		log.Error().Str("command", cmd).Msg("Unknown command")
		flags.Usage()
		return 2
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// loadArtifacts loads the model and scaler. Failure is fatal at startup.
func loadArtifacts(cfg *config.Config) (*classifier.Artifacts, bool) {
	artifacts, err := classifier.LoadArtifacts(cfg.Paths.Model, cfg.Paths.Scaler)
	if err != nil {
		log.Error().Err(err).Str("model", cfg.Paths.Model).Str("scaler", cfg.Paths.Scaler).Msg("Failed to load classifier artifacts")
		return nil, false
	}
	return artifacts, true
}

func newMonitor(cfg *config.Config, artifacts *classifier.Artifacts, m *metrics.Metrics) (*adaptive.Monitor, error) {
	dispatcher, err := actions.NewAdaptationDispatcher(cfg, nil)
	if err != nil {
		return nil, err
	}
	settings := adaptive.SettingsFromConfig(cfg, config.DefaultMonitorName)
	return adaptive.NewMonitor(config.DefaultMonitorName, settings, classifier.FromArtifacts(artifacts), dispatcher, logger.Component(config.DefaultMonitorName),
		adaptive.WithMetrics(m)), nil
}

func runOnce(ctx context.Context, cfg *config.Config) int {
	artifacts, ok := loadArtifacts(cfg)
	if !ok {
		return 1
	}
	mon, err := newMonitor(cfg, artifacts, metrics.New(nil))
	if err != nil {
		log.Error().Err(err).Msg("Failed to set up adaptation actions")
		return 1
	}

	report := mon.RunOnce(ctx)
	switch report.Outcome {
	case adaptive.OutcomeResourceMissing, adaptive.OutcomeScoringFailed, adaptive.OutcomeAdaptationFailed:
		return 1
	}
	return 0
}

func newRegistry() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, metrics.New(reg)
}

func daemon(ctx context.Context, cfg *config.Config) int {
	artifacts, ok := loadArtifacts(cfg)
	if !ok {
		return 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg, m := newRegistry()
	mon, err := newMonitor(cfg, artifacts, m)
	if err != nil {
		log.Error().Err(err).Msg("Failed to set up adaptation actions")
		return 1
	}

	log.Info().Msg("Honeyshift daemon starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, LogFile=%s, Window=%s", cfg.LogLevel, cfg.Paths.LogFile, cfg.Window)

	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		server := api.NewServer(api.Options{
			ExportCSV: cfg.Paths.ExportCSV,
			Predictor: classifier.FromArtifacts(artifacts),
			Status:    mon,
			Gatherer:  reg,
			Logger:    logger.Component("api"),
		})
		go func() { apiErr <- server.Start(ctx, cfg.API.Port) }()
	}

	sched := scheduler.NewScheduler(cfg)
	sched.RegisterMonitor(mon)
	sched.Start(ctx)

	code := 0
	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
			code = 1
		}
		cancel()
	}

	sched.Wait()
	log.Info().Msg("Honeyshift daemon stopped.")
	return code
}

func serve(ctx context.Context, cfg *config.Config) int {
	artifacts, ok := loadArtifacts(cfg)
	if !ok {
		return 1
	}
	reg, _ := newRegistry()
	server := api.NewServer(api.Options{
		ExportCSV: cfg.Paths.ExportCSV,
		Predictor: classifier.FromArtifacts(artifacts),
		Gatherer:  reg,
		Logger:    logger.Component("api"),
	})
	if err := server.Start(ctx, cfg.API.Port); err != nil {
		log.Error().Err(err).Msg("API server failed")
		return 1
	}
	return 0
}

func exportLogs(cfg *config.Config) int {
	summary, err := export.ExportFile(cfg.Paths.LogFile, cfg.Paths.ExportCSV, logger.Component("csv_export"))
	if err != nil {
		log.Error().Err(err).Msg("Export failed")
		return 1
	}
	log.Info().
		Int("rows", summary.Rows).
		Int("skipped", summary.Skipped).
		Int("columns", len(summary.Columns)).
		Str("path", cfg.Paths.ExportCSV).
		Msg("Logs exported.")
	return 0
}

func train(cfg *config.Config) int {
	t := cfg.Training
	result, err := training.Run(training.Options{
		CSVPath:        cfg.Paths.ExportCSV,
		ModelPath:      cfg.Paths.Model,
		ScalerPath:     cfg.Paths.Scaler,
		LabelThreshold: t.LabelThreshold,
		TestSize:       t.TestSize,
		Forest: training.ForestParams{
			NEstimators: t.NEstimators,
			MaxDepth:    t.MaxDepth,
			Seed:        t.Seed,
		},
	}, logger.Component("training"))
	if err != nil {
		log.Error().Err(err).Msg("Training failed")
		return 1
	}
	fmt.Print(result.Report.String())
	return 0
}

func verify(cfg *config.Config) int {
	artifacts, ok := loadArtifacts(cfg)
	if !ok {
		return 1
	}
	log.Info().
		Int("trees", len(artifacts.Model.Trees)).
		Strs("features", artifacts.Model.FeatureNames).
		Ints("classes", artifacts.Model.Classes).
		Msg("Model and scaler loaded successfully.")
	return 0
}
