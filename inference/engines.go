package inference

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EngineType is the type of the engine
type EngineType string

const (
	// EngineONNX is the ONNX engine that uses the onnxruntime library
	EngineONNX EngineType = "onnx"
)

// Engines is a list of all supported engines
var Engines = []EngineType{EngineONNX}

// NewEngine creates the engine of the given type.
//
// Arguments:
//   - engineType: The engine implementation to use.
//   - config: The model and runtime configuration.
//   - logger: The logger for lifecycle events.
//
// Returns:
//   - Engine: The loaded engine.
//   - error: An error if the type is unknown or the model fails to load.
func NewEngine(engineType EngineType, config ONNXConfig, logger *zap.Logger) (Engine, error) {
	switch engineType {
	case EngineONNX, "":
		return NewONNXEngine(config, logger)
	default:
		return nil, errors.Errorf("unsupported engine type: %s", engineType)
	}
}
