// Package logging - Zap logger construction for the detector binaries.
package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger level and output.
type Config struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `json:"level" yaml:"level"`
	// Encoding is "console" or "json".
	Encoding string `json:"encoding" yaml:"encoding"`
	// OutputPaths defaults to stdout.
	OutputPaths []string `json:"output_paths,omitempty" yaml:"output_paths,omitempty"`
}

// DefaultConfig logs info and above to stdout in console format.
func DefaultConfig() Config {
	return Config{Level: "info", Encoding: "console"}
}

// NewLoggerConfig returns the base zap config: console output with ISO8601 timestamps,
// short callers and no stacktraces.
func NewLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger builds a named logger from config.
//
// Arguments:
//   - name: The root logger name.
//   - config: The level, encoding and outputs.
//
// Returns:
//   - *zap.Logger: The logger.
//   - error: An error if the level or encoding is unknown.
func NewLogger(name string, config Config) (*zap.Logger, error) {
	zc := NewLoggerConfig()

	if config.Level != "" {
		level, err := zapcore.ParseLevel(config.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", config.Level)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	switch config.Encoding {
	case "", "console":
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		zc.Encoding = "json"
		zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	default:
		return nil, errors.Errorf("invalid log encoding %q", config.Encoding)
	}

	if len(config.OutputPaths) > 0 {
		zc.OutputPaths = config.OutputPaths
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return logger.Named(name), nil
}
