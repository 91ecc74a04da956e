// Package providers - Execution provider selection for ONNX Runtime sessions.
package providers

import (
	"fmt"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// Backends lists every backend a session can be configured with.
var Backends = []ProviderBackend{
	CPUProviderBackend,
	CoreMLProviderBackend,
	OpenVINOProviderBackend,
	CUDAProviderBackend,
}

// Config selects and tunes the execution provider of a session.
type Config struct {
	// Backend specifies the backend to use.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// IntraOpNumThreads sets threads for parallelizing ops, 0 for the runtime default.
	IntraOpNumThreads int `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`
	// InterOpNumThreads sets threads for parallelizing independent ops, 0 for the runtime default.
	InterOpNumThreads int `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`
	// CoreML holds the CoreML provider options.
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`
	// OpenVINO holds the OpenVINO provider options.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
	// CUDA holds the CUDA provider options.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
}

// DefaultConfig returns a CPU configuration with runtime-chosen thread counts.
func DefaultConfig() Config {
	return Config{Backend: CPUProviderBackend}
}

// Validate checks that the backend is known and thread counts are not negative.
func (c Config) Validate() error {
	known := false
	for _, b := range Backends {
		if c.Backend == b {
			known = true
			break
		}
	}
	if !known {
		return errors.Errorf("no matching provider backend registered: %q", c.Backend)
	}
	if c.IntraOpNumThreads < 0 || c.InterOpNumThreads < 0 {
		return errors.Errorf("thread counts must not be negative, got intra=%d inter=%d",
			c.IntraOpNumThreads, c.InterOpNumThreads)
	}
	return nil
}

// NewSessionOptions creates session options with the configured provider appended.
//
// Execution Providers (EPs) let ONNX Runtime leverage specialized hardware or optimized
// libraries. The CPU backend needs no explicit provider.
//
// Arguments:
//   - config: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: The options; the caller must Destroy them.
//   - error: An error if the options cannot be created or the provider is unavailable.
func NewSessionOptions(config Config) (*ort.SessionOptions, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := configure(options, config); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, config Config) error {
	if err := options.SetIntraOpNumThreads(config.IntraOpNumThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(config.InterOpNumThreads); err != nil {
		return errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}

	switch config.Backend {
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(config.CoreML.Flags); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(config.OpenVINO.ProviderOptions()); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	case CUDAProviderBackend:
		cuda, err := config.CUDA.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	case CPUProviderBackend:
	default:
		return fmt.Errorf("unsupported provider backend: %s", config.Backend)
	}
	return nil
}
