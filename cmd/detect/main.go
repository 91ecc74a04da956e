// Package main is the detect command: keyword-filtered live object detection.
//
// The tensor dependency pulls in go4.org/unsafe/assume-no-moving-gc, which panics on go1.24
// unless ASSUME_NO_MOVING_GC_UNSAFE_RISK_IT_WITH=go1.24 is set in the environment.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nvr-ai/go-detect/capture"
	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/detector"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/logging"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// Flags.
	flagConfig      = "config"
	flagModel       = "model"
	flagClasses     = "classes"
	flagFamily      = "classes-family"
	flagKeyword     = "keyword"
	flagSource      = "source"
	flagWindow      = "window"
	flagWindowScale = "window-scale"
	flagLogLevel    = "log-level"
	flagReadyWait   = "ready-timeout"
)

func main() {
	app := &cli.App{
		Name:  "detect",
		Usage: "run keyword-filtered object detection on a live source",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "detect objects until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Usage:   "load configuration from `FILE`",
					},
					&cli.StringFlag{
						Name:    flagModel,
						Aliases: []string{"m"},
						Usage:   "ONNX model `PATH`",
					},
					&cli.StringFlag{
						Name:  flagClasses,
						Usage: "class-name `FILE` (yaml, json or one name per line)",
					},
					&cli.StringFlag{
						Name:  flagFamily,
						Usage: "built-in class `SET` when no class file is given: coco, yolo, tf or voc",
					},
					&cli.StringFlag{
						Name:    flagKeyword,
						Aliases: []string{"k"},
						Usage:   "highlight detections whose class name contains `WORD`",
					},
					&cli.StringFlag{
						Name:    flagSource,
						Aliases: []string{"s"},
						Usage:   "camera index, video file, stream URL, image or image directory",
					},
					&cli.BoolFlag{
						Name:  flagWindow,
						Usage: "show detections in a window",
					},
					&cli.Float64Flag{
						Name:  flagWindowScale,
						Value: 1,
						Usage: "window size relative to the source",
					},
					&cli.StringFlag{
						Name:  flagLogLevel,
						Usage: "debug, info, warn or error",
					},
					&cli.DurationFlag{
						Name:  flagReadyWait,
						Value: 10 * time.Second,
						Usage: "how long to wait for the first frame",
					},
				},
				Action: runAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if c.IsSet(flagModel) {
		cfg.Model.ModelPath = c.String(flagModel)
	}
	if c.IsSet(flagClasses) {
		cfg.ClassesPath = c.String(flagClasses)
	}
	if c.IsSet(flagFamily) {
		cfg.ClassesFamily = models.ModelFamily(strings.ToLower(c.String(flagFamily)))
	}
	if c.IsSet(flagKeyword) {
		cfg.Detector.Keyword = c.String(flagKeyword)
	}
	if c.IsSet(flagSource) {
		cfg.Source = parseSource(c.String(flagSource), cfg.Source)
	}
	if c.IsSet(flagLogLevel) {
		cfg.Logging.Level = c.String(flagLogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// parseSource turns a --source value into an input configuration.
func parseSource(value string, base capture.Config) capture.Config {
	src := base
	src.Path = value

	if id, err := strconv.Atoi(value); err == nil {
		src.Type = capture.InputCamera
		src.DeviceID = id
		src.Path = ""
		return src
	}
	if strings.Contains(value, "://") {
		src.Type = capture.InputVideo
		return src
	}
	if info, err := os.Stat(value); err == nil && info.IsDir() {
		src.Type = capture.InputDirectory
		if src.FPS <= 0 {
			src.FPS = capture.DefaultConfig().FPS
		}
		return src
	}

	switch strings.ToLower(filepath.Ext(value)) {
	case ".jpg", ".jpeg", ".png", ".bmp":
		src.Type = capture.InputImage
	default:
		src.Type = capture.InputVideo
	}
	return src
}

func runAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger("detect", cfg.Logging)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	classes, err := cfg.ClassRegistry()
	if err != nil {
		return err
	}
	if classes.Len() != cfg.Model.NumClasses {
		logger.Warn("class names do not match model classes",
			zap.Int("names", classes.Len()),
			zap.Int("num_classes", cfg.Model.NumClasses),
		)
	}

	engine, err := inference.NewEngine(cfg.Engine, cfg.Model, logger.Named("engine"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, engine.Close(), inference.Shutdown())
	}()

	clk := clock.New()
	source, err := capture.Open(cfg.Source, clk, logger.Named("capture"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, source.Close())
	}()

	var (
		renderer detector.Renderer
		window   *WindowRenderer
	)
	if c.Bool(flagWindow) {
		window = NewWindowRenderer(source, c.Float64(flagWindowScale), logger.Named("window"))
		renderer = window
	} else {
		renderer = NewLogRenderer(logger.Named("detections"))
	}

	var telemetry detector.Telemetry
	if cfg.Profiler.Enabled {
		prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
			ReportInterval: cfg.Profiler.ReportInterval,
			MaxSamples:     cfg.Profiler.MaxSamples,
			Clock:          clk,
			Logger:         logger.Named("profiler"),
		})
		prof.Start()
		defer prof.Stop()
		telemetry = prof
	}

	pipeline, err := detector.New(cfg.Detector, detector.Params{
		Source:    source,
		Engine:    engine,
		Classes:   classes,
		Renderer:  renderer,
		Telemetry: telemetry,
		Clock:     clk,
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := waitForFrame(ctx, source, clk, c.Duration(flagReadyWait)); err != nil {
		return err
	}
	if err := pipeline.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	g.Go(func() error {
		stopOnSourceEnd(gctx, source, stop, logger)
		return nil
	})

	if window != nil {
		// The window must be driven from the main goroutine.
		window.Loop(gctx, pipeline)
		stop()
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := pipeline.Stop(); err != nil && !errors.Is(err, detector.ErrInvalidTransition) {
		return err
	}

	snap := pipeline.Snapshot()
	logger.Info("detection finished",
		zap.Uint64("cycles", snap.Cycles),
		zap.Stringer("state", snap.State),
		zap.Error(snap.LastError),
	)
	return snap.LastError
}

// stopOnSourceEnd calls stop when the source runs out of frames, so a finished video ends
// the run instead of leaving the pipeline on an empty input.
func stopOnSourceEnd(ctx context.Context, source capture.Source, stop func(), logger *zap.Logger) {
	select {
	case <-ctx.Done():
	case <-source.Done():
		logger.Info("input ended, stopping")
		stop()
	}
}

// waitForFrame blocks until the source has produced a frame.
func waitForFrame(ctx context.Context, source capture.Source, clk clock.Clock, timeout time.Duration) error {
	ctx, cancel := clk.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := clk.Ticker(20 * time.Millisecond)
	defer ticker.Stop()

	for source.CurrentFrame().Empty() {
		select {
		case <-ctx.Done():
			return errors.Wrap(detector.ErrSourceNotReady, "no frame received")
		case <-ticker.C:
		}
	}
	return nil
}
