// Package config - File and default configuration for the detect binary.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-detect/capture"
	"github.com/nvr-ai/go-detect/detector"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/logging"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/tracking"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Interpolations maps config names to resampling filters.
var Interpolations = map[string]resize.InterpolationFunction{
	"nearest":            resize.NearestNeighbor,
	"bilinear":           resize.Bilinear,
	"bicubic":            resize.Bicubic,
	"mitchell_netravali": resize.MitchellNetravali,
	"lanczos2":           resize.Lanczos2,
	"lanczos3":           resize.Lanczos3,
}

// ProfilerConfig controls the periodic runtime report.
type ProfilerConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`
	MaxSamples     int           `json:"max_samples" yaml:"max_samples"`
}

// Config is the complete configuration of a detect run.
type Config struct {
	// Engine selects the inference implementation.
	Engine inference.EngineType `json:"engine" yaml:"engine"`
	// Model describes the ONNX model and runtime. Its input size and class count drive the
	// detector geometry.
	Model inference.ONNXConfig `json:"model" yaml:"model"`
	// Detector holds the pipeline tunables.
	Detector detector.Config `json:"detector" yaml:"detector"`
	// Interpolation names the resize filter, see Interpolations.
	Interpolation string `json:"interpolation" yaml:"interpolation"`
	// ClassesPath is a class-name file. It takes precedence over ClassesFamily.
	ClassesPath string `json:"classes_path,omitempty" yaml:"classes_path,omitempty"`
	// ClassesFamily selects a built-in label set (coco, yolo, tf, voc) when ClassesPath is empty.
	ClassesFamily models.ModelFamily `json:"classes_family" yaml:"classes_family"`
	// Source is the frame input.
	Source capture.Config `json:"source" yaml:"source"`
	// Profiler controls the runtime report.
	Profiler ProfilerConfig `json:"profiler" yaml:"profiler"`
	// Logging controls the logger.
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// Default returns the configuration of a 640x640 COCO YOLOv8 model on CPU reading camera 0.
func Default() Config {
	return Config{
		Engine:        inference.EngineONNX,
		Model:         inference.DefaultONNXConfig(),
		Detector:      detector.DefaultConfig(),
		Interpolation: "bilinear",
		ClassesFamily: models.ModelFamilyYOLO,
		Source:        capture.DefaultConfig(),
		Profiler: ProfilerConfig{
			Enabled:        true,
			ReportInterval: 5 * time.Second,
			MaxSamples:     600,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The merged configuration, not yet validated.
//   - error: An error if the file cannot be read or parsed.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve copies the model geometry into the detector configuration and applies the
// interpolation name. It is called by Validate and by the CLI after flag overrides.
func (c *Config) Resolve() error {
	interp, ok := Interpolations[strings.ToLower(c.Interpolation)]
	if !ok {
		return errors.Errorf("unknown interpolation %q", c.Interpolation)
	}
	c.Detector.Model.Interpolation = interp
	c.Detector.Model.InputWidth = c.Model.InputWidth
	c.Detector.Model.InputHeight = c.Model.InputHeight
	c.Detector.NumClasses = c.Model.NumClasses
	return nil
}

// ClassRegistry builds the class names for the run: the ClassesPath file when set,
// otherwise the built-in set of ClassesFamily.
func (c *Config) ClassRegistry() (*models.ClassRegistry, error) {
	if c.ClassesPath != "" {
		return models.LoadClassRegistry(c.ClassesPath)
	}
	set, ok := models.ClassSet(c.ClassesFamily)
	if !ok {
		return nil, errors.Errorf("unknown classes_family %q", c.ClassesFamily)
	}
	return models.NewClassRegistry(set.Names()), nil
}

// Validate resolves derived fields and checks every section.
func (c *Config) Validate() error {
	if err := c.Resolve(); err != nil {
		return err
	}
	if c.ClassesPath == "" {
		if _, ok := models.ClassSet(c.ClassesFamily); !ok {
			return errors.Errorf("unknown classes_family %q", c.ClassesFamily)
		}
	}
	if err := c.Model.Validate(); err != nil {
		return errors.Wrap(err, "model")
	}

	nms := c.Detector.NMS
	if nms.ConfidenceThreshold < 0 || nms.ConfidenceThreshold > 1 {
		return errors.Errorf("detector.nms.confidence_threshold must be in [0, 1], got %v", nms.ConfidenceThreshold)
	}
	if nms.IoUThreshold < 0 || nms.IoUThreshold > 1 {
		return errors.Errorf("detector.nms.iou_threshold must be in [0, 1], got %v", nms.IoUThreshold)
	}
	if nms.MaxDetections < 0 {
		return errors.Errorf("detector.nms.max_detections must not be negative, got %d", nms.MaxDetections)
	}

	tr := c.Detector.Tracker
	if tr.Space != tracking.SpaceNormalized && tr.Space != tracking.SpacePixel {
		return errors.Errorf("unknown detector.tracker.space %q", tr.Space)
	}
	if tr.MatchThreshold <= 0 {
		return errors.Errorf("detector.tracker.match_threshold must be positive, got %v", tr.MatchThreshold)
	}

	s := c.Detector.Scheduler
	if s.WindowSize <= 0 || s.MinSamples <= 0 || s.MinSamples > s.WindowSize {
		return errors.Errorf("detector.scheduler needs 0 < min_samples <= window_size, got %d and %d",
			s.MinSamples, s.WindowSize)
	}
	if s.Headroom <= 0 {
		return errors.Errorf("detector.scheduler.headroom must be positive, got %v", s.Headroom)
	}
	if s.MinInterval < 0 || s.MaxInterval < s.MinInterval {
		return errors.Errorf("detector.scheduler needs 0 <= min_interval <= max_interval, got %s and %s",
			s.MinInterval, s.MaxInterval)
	}
	if c.Detector.TickInterval <= 0 {
		return errors.Errorf("detector.tick_interval must be positive, got %s", c.Detector.TickInterval)
	}

	if err := c.Source.Validate(); err != nil {
		return errors.Wrap(err, "source")
	}
	if c.Profiler.Enabled && c.Profiler.ReportInterval <= 0 {
		return errors.Errorf("profiler.report_interval must be positive, got %s", c.Profiler.ReportInterval)
	}
	return nil
}
