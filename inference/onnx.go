package inference

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// ONNXConfig describes a YOLOv8-style detection model and how to run it.
type ONNXConfig struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// SharedLibraryPath overrides the ONNX Runtime library location.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
	// InputName is the model input node name.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputName is the model output node name.
	OutputName string `json:"output_name" yaml:"output_name"`
	// InputWidth is the model input width.
	InputWidth int `json:"input_width" yaml:"input_width"`
	// InputHeight is the model input height.
	InputHeight int `json:"input_height" yaml:"input_height"`
	// NumClasses is the number of class scores per anchor.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// NumAnchors is the number of anchors in the output.
	NumAnchors int `json:"num_anchors" yaml:"num_anchors"`
	// Layout is the memory order the model input expects.
	Layout Layout `json:"layout" yaml:"layout"`
	// Provider selects the execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// Warmup is how many zero-input runs to perform after loading.
	Warmup int `json:"warmup" yaml:"warmup"`
}

// DefaultONNXConfig returns the configuration of a 640x640 COCO YOLOv8 export on CPU.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		InputName:   "images",
		OutputName:  "output0",
		InputWidth:  640,
		InputHeight: 640,
		NumClasses:  80,
		NumAnchors:  8400,
		Layout:      LayoutNCHW,
		Provider:    providers.DefaultConfig(),
		Warmup:      1,
	}
}

// Validate checks the configuration.
func (c ONNXConfig) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model_path is required")
	}
	if c.InputName == "" || c.OutputName == "" {
		return errors.New("input_name and output_name are required")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Errorf("invalid input size: %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.NumClasses <= 0 || c.NumAnchors <= 0 {
		return errors.Errorf("invalid output size: %d classes, %d anchors", c.NumClasses, c.NumAnchors)
	}
	if c.Layout != LayoutNHWC && c.Layout != LayoutNCHW {
		return errors.Errorf("unsupported input layout: %q", c.Layout)
	}
	if c.Warmup < 0 {
		return errors.Errorf("warmup must not be negative, got %d", c.Warmup)
	}
	return c.Provider.Validate()
}

func (c ONNXConfig) inputShape() ort.Shape {
	if c.Layout == LayoutNHWC {
		return ort.NewShape(1, int64(c.InputHeight), int64(c.InputWidth), 3)
	}
	return ort.NewShape(1, 3, int64(c.InputHeight), int64(c.InputWidth))
}

func (c ONNXConfig) outputShape() ort.Shape {
	return ort.NewShape(1, int64(4+c.NumClasses), int64(c.NumAnchors))
}

// envMu guards the process-wide ONNX Runtime environment.
var envMu sync.Mutex

// initEnvironment loads the native library once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// Shutdown tears down the ONNX Runtime environment. Call once after every engine is closed.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXEngine runs a detection model through ONNX Runtime with preallocated tensors.
//
// Runs are serialized; the pipeline never overlaps them, but the lock keeps Close safe
// against a run in progress.
type ONNXEngine struct {
	mu      sync.Mutex
	config  ONNXConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	logger  *zap.Logger
	closed  bool
}

// NewONNXEngine loads a model and binds its input and output tensors.
//
// Order of operations:
//  1. Environment setup: loads the native runtime once per process.
//  2. Tensor allocation: fixed-shape buffers for input/output data.
//  3. Session options: threading and the execution provider.
//  4. Session creation: loads the model and binds the tensors.
//  5. Warmup runs on a zero input.
//
// Arguments:
//   - config: The model and runtime configuration.
//   - logger: The logger for lifecycle events.
//
// Returns:
//   - *ONNXEngine: The loaded engine; the caller must Close it.
//   - error: An error if any step fails. Partially created resources are released.
func NewONNXEngine(config ONNXConfig, logger *zap.Logger) (*ONNXEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid onnx config")
	}
	if err := initEnvironment(providers.GetSharedLibPath(config.SharedLibraryPath)); err != nil {
		return nil, err
	}

	e := &ONNXEngine{config: config, logger: logger}
	if err := e.load(); err != nil {
		return nil, multierr.Append(err, e.destroy())
	}

	for i := 0; i < config.Warmup; i++ {
		if err := e.session.Run(); err != nil {
			return nil, multierr.Append(errors.Wrap(err, "warmup run failed"), e.destroy())
		}
	}

	logger.Info("model loaded",
		zap.String("model", config.ModelPath),
		zap.String("backend", string(config.Provider.Backend)),
		zap.String("layout", string(config.Layout)),
		zap.Int("warmup", config.Warmup),
	)
	return e, nil
}

func (e *ONNXEngine) load() error {
	var err error
	e.input, err = ort.NewEmptyTensor[float32](e.config.inputShape())
	if err != nil {
		return errors.Wrap(err, "error creating input tensor")
	}
	e.output, err = ort.NewEmptyTensor[float32](e.config.outputShape())
	if err != nil {
		return errors.Wrap(err, "error creating output tensor")
	}

	options, err := providers.NewSessionOptions(e.config.Provider)
	if err != nil {
		return err
	}
	defer options.Destroy()

	e.session, err = ort.NewAdvancedSession(
		e.config.ModelPath,
		[]string{e.config.InputName},
		[]string{e.config.OutputName},
		[]ort.ArbitraryTensor{e.input},
		[]ort.ArbitraryTensor{e.output},
		options,
	)
	if err != nil {
		return errors.Wrap(err, "error creating ORT session")
	}
	return nil
}

// Execute copies the input into the bound tensor, runs the model and returns a copy of the
// (1, 4+NumClasses, NumAnchors) output.
func (e *ONNXEngine) Execute(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Message: "cancelled before run", Cause: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, &InferenceError{Message: "engine is closed"}
	}

	data, err := ToLayout(input, e.config.Layout)
	if err != nil {
		return nil, &InferenceError{Message: "invalid input", Cause: err}
	}
	dst := e.input.GetData()
	if len(data) != len(dst) {
		return nil, &InferenceError{Message: "input size mismatch", Cause: errors.Errorf("got %d values, model takes %d", len(data), len(dst))}
	}
	copy(dst, data)

	start := time.Now()
	if err := e.session.Run(); err != nil {
		return nil, &InferenceError{Message: "run failed", Cause: err}
	}
	e.logger.Debug("model run", zap.Duration("took", time.Since(start)))

	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Message: "cancelled during run", Cause: err}
	}

	out := make([]float32, len(e.output.GetData()))
	copy(out, e.output.GetData())
	return tensor.New(
		tensor.WithShape(1, 4+e.config.NumClasses, e.config.NumAnchors),
		tensor.WithBacking(out),
	), nil
}

// Close releases the session and its tensors.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.destroy()
}

func (e *ONNXEngine) destroy() error {
	var err error
	if e.session != nil {
		err = multierr.Append(err, e.session.Destroy())
		e.session = nil
	}
	if e.input != nil {
		err = multierr.Append(err, e.input.Destroy())
		e.input = nil
	}
	if e.output != nil {
		err = multierr.Append(err, e.output.Destroy())
		e.output = nil
	}
	return err
}
