package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikeyg42/person-detector/internal/activitylog"
	"github.com/mikeyg42/person-detector/internal/archive"
	"github.com/mikeyg42/person-detector/internal/config"
	"github.com/mikeyg42/person-detector/internal/detector"
	"github.com/mikeyg42/person-detector/internal/events"
	"github.com/mikeyg42/person-detector/internal/metrics"
	"github.com/mikeyg42/person-detector/internal/notification"
	"github.com/mikeyg42/person-detector/internal/nvr"
	"github.com/mikeyg42/person-detector/internal/pipeline"
	"github.com/mikeyg42/person-detector/internal/validate"
)

// Application struct that holds all components
type Application struct {
	config       *config.Config
	logger       *zap.Logger
	tailer       *events.Tailer
	parser       *events.Parser
	orchestrator *pipeline.Orchestrator
	mirror       *archive.MinIOMirror
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewApplication wires every pipeline collaborator from cfg.
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	loc, err := cfg.EventLocation()
	if err != nil {
		return nil, fmt.Errorf("failed to load event location: %w", err)
	}

	registry, err := config.CameraRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build camera registry: %w", err)
	}

	fetcher := nvr.New(cfg.NVR.Host, cfg.NVR.Port, cfg.NVR.APIKey,
		nvr.WithTimeout(cfg.NVR.Timeout),
		nvr.WithLogger(logger.Named("nvr")))

	darknet := detector.New(detector.Config{
		Dir:        cfg.Detector.Dir,
		Binary:     cfg.Detector.Binary,
		DataFile:   cfg.Detector.DataFile,
		CfgFile:    cfg.Detector.CfgFile,
		Weights:    cfg.Detector.Weights,
		Threshold:  cfg.Detector.Threshold,
		ReportFile: cfg.Detector.ReportFile,
		OutputFile: cfg.Detector.OutputFile,
		Timeout:    cfg.Detector.Timeout,
	}, logger.Named("detector"))

	evaluator := detector.NewEvaluator(cfg.Evaluation.Label, cfg.Evaluation.Threshold, logger.Named("evaluator"))

	archiveOpts := []archive.Option{
		archive.WithLogger(logger.Named("archive")),
		archive.WithBaseURL(cfg.Archive.BaseURL),
	}
	if cfg.Archive.Remux {
		archiveOpts = append(archiveOpts, archive.WithRemuxer(archive.NewFFmpegRemuxer(cfg.Archive.FFmpegBinary, logger.Named("ffmpeg"))))
	}

	var mirror *archive.MinIOMirror
	if mirrorCfg, ok := config.CreateMirrorConfig(cfg); ok {
		mirror, err = archive.NewMinIOMirror(ctx, mirrorCfg, logger.Named("minio-mirror"))
		if err != nil {
			return nil, fmt.Errorf("failed to create archive mirror: %w", err)
		}
		archiveOpts = append(archiveOpts, archive.WithMirror(mirror))
	}

	notifier, err := notification.NewNotifier(notification.HassConfig{
		Host:          cfg.Notification.HassHost,
		Channel:       cfg.Notification.Channel,
		Token:         cfg.Notification.Token,
		PublicRoot:    cfg.Notification.PublicRoot,
		PublicBaseURL: cfg.Notification.PublicBaseURL,
		Payload:       cfg.Notification.Payload,
		Timeout:       cfg.Notification.Timeout,
	}, logger.Named("notifier"))
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	orchestrator := pipeline.New(pipeline.Deps{
		Fetcher:   fetcher,
		Detector:  darknet,
		Evaluator: evaluator,
		Archiver:  archive.New(cfg.Archive.Root, archiveOpts...),
		Snapshots: archive.NewSnapshotLocator(registry, nil),
		Notifier:  notifier,
	}, filepath.Join(cfg.WorkDir, "recording.mp4"), logger.Named("pipeline"))

	tailer := events.NewTailer(cfg.Events.RecordLog,
		events.WithPollInterval(cfg.Events.PollInterval),
		events.WithFromStart(cfg.Events.FromStart),
		events.WithLogger(logger.Named("tailer")))

	return &Application{
		config:       cfg,
		logger:       logger,
		tailer:       tailer,
		parser:       events.NewParser(loc),
		orchestrator: orchestrator,
		mirror:       mirror,
	}, nil
}

// Cleanup releases the log handle and reports mirror counters.
func (app *Application) Cleanup() {
	if app.tailer != nil {
		if err := app.tailer.Close(); err != nil {
			app.logger.Warn("Failed to close recording log", zap.Error(err))
		}
	}
	if app.mirror != nil {
		uploads, failures := app.mirror.Stats()
		app.logger.Info("Archive mirror totals", zap.Uint64("uploads", uploads), zap.Uint64("failures", failures))
	}
}

// startProcessing follows the recording log until ctx is cancelled.
func (app *Application) startProcessing(ctx context.Context) error {
	if addr := app.config.Metrics.Listen; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, app.logger.Named("metrics")); err != nil {
				app.logger.Error("Metrics listener stopped", zap.Error(err))
			}
		}()
	}

	app.logger.Info("Watching recording log",
		zap.String("path", app.config.Events.RecordLog),
		zap.Duration("poll", app.config.Events.PollInterval))

	return pipeline.Watch(ctx, app.tailer, app.parser, app.orchestrator, app.logger.Named("watch"))
}

func runDetector(cfgPath string, debug bool) error {
	cfg, logger, closeLog, err := setup(cfgPath, debug)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := validate.ValidateConfig(cfg); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return err
	}
	if err := validate.ValidateDetectorInstall(&cfg.Detector); err != nil {
		logger.Warn("Detector install check failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create application", zap.Error(err))
		return err
	}
	defer app.Cleanup()

	if err := app.startProcessing(ctx); err != nil {
		logger.Error("Error during processing", zap.Error(err))
		return err
	}
	logger.Info("Shutting down")
	return nil
}

// setup loads .env and the config file and builds the activity logger.
func setup(cfgPath string, debug bool) (*config.Config, *zap.Logger, func(), error) {
	loaded := config.LoadEnv(nil)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logger, closeLog, err := activitylog.New(activitylog.Options{
		File:  cfg.Log.File,
		Level: activitylog.ParseLevel(cfg.Log.Level),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	zap.ReplaceGlobals(logger)

	if len(loaded) > 0 {
		logger.Debug("Loaded env files", zap.Strings("files", loaded))
	}
	return cfg, logger, closeLog, nil
}
