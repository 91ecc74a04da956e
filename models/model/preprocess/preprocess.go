// Package preprocess - Letterbox preprocessing of raw frames into model input tensors.
package preprocess

import (
	"fmt"
	"image"
	"sync"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-detect/images"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// PreprocessError reports a frame that cannot be turned into model input.
type PreprocessError struct {
	Message string
	Cause   error
}

func (e *PreprocessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("preprocess: %s: %v", e.Message, e.Cause)
	}
	return "preprocess: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *PreprocessError) Unwrap() error {
	return e.Cause
}

// ModelConfig defines the model input the preprocessor produces.
type ModelConfig struct {
	// InputWidth is the expected width of the model input.
	InputWidth int `json:"input_width" yaml:"input_width"`
	// InputHeight is the expected height of the model input.
	InputHeight int `json:"input_height" yaml:"input_height"`
	// LetterboxValue is the normalized value written into padding pixels.
	LetterboxValue float32 `json:"letterbox_value" yaml:"letterbox_value"`
	// Interpolation is the resampling filter used when resizing.
	Interpolation resize.InterpolationFunction `json:"-" yaml:"-"`
}

// DefaultModelConfig returns the 640x640 configuration with black letterboxing.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		InputWidth:     640,
		InputHeight:    640,
		LetterboxValue: 0,
		Interpolation:  resize.Bilinear,
	}
}

// PreprocessingResult contains the model input tensor and the transform metadata.
type PreprocessingResult struct {
	// Tensor is the normalized NHWC input shaped (1, InputHeight, InputWidth, 3).
	Tensor *tensor.Dense
	// Padding describes how to invert the letterbox transform.
	Padding images.PaddingInfo
}

// Preprocessor letterbox-resizes and normalizes frames for a fixed-size model input.
//
// Tensor backings are pooled; every result must be handed back with Release once the
// cycle that produced it ends.
type Preprocessor struct {
	config     ModelConfig
	bufferPool *sync.Pool
	logger     *zap.Logger
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model input configuration.
//   - logger: Debug sink, nil for none.
//
// Returns:
//   - *Preprocessor: The configured preprocessor.
//   - error: An error if the model dimensions are not positive.
//
// @example
// p, err := NewPreprocessor(DefaultModelConfig(), logger)
func NewPreprocessor(config ModelConfig, logger *zap.Logger) (*Preprocessor, error) {
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		return nil, errors.Errorf("invalid model input size: %dx%d", config.InputWidth, config.InputHeight)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	size := config.InputWidth * config.InputHeight * images.ChannelsRGB
	return &Preprocessor{
		config: config,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]float32, size)
			},
		},
		logger: logger,
	}, nil
}

// Config returns the model input configuration.
func (p *Preprocessor) Config() ModelConfig {
	return p.config
}

// Preprocess performs the letterbox resize and [0,1] normalization of a frame.
//
// Arguments:
//   - frame: The raw RGB frame.
//
// Returns:
//   - *PreprocessingResult: The (1,H,W,3) tensor and its PaddingInfo.
//   - error: A *PreprocessError if the frame has no dimensions or an unreadable buffer.
//
// @example
// result, err := p.Preprocess(frame)
// defer p.Release(result)
func (p *Preprocessor) Preprocess(frame images.Frame) (*PreprocessingResult, error) {
	src, err := frame.RGBA()
	if err != nil {
		return nil, &PreprocessError{Message: "unreadable frame", Cause: err}
	}

	padding := images.Letterbox(frame.Width, frame.Height, p.config.InputWidth, p.config.InputHeight)

	resized := resize.Resize(uint(padding.NewWidth), uint(padding.NewHeight), src, p.config.Interpolation)
	if b := resized.Bounds(); b.Dx() != padding.NewWidth || b.Dy() != padding.NewHeight {
		return nil, &PreprocessError{
			Message: fmt.Sprintf("resize produced %dx%d, want %dx%d", b.Dx(), b.Dy(), padding.NewWidth, padding.NewHeight),
		}
	}

	data := p.bufferPool.Get().([]float32)
	for i := range data {
		data[i] = p.config.LetterboxValue
	}
	p.fill(data, resized, padding)

	p.logger.Debug("preprocessed frame",
		zap.Int("width", frame.Width),
		zap.Int("height", frame.Height),
		zap.Float64("scale", padding.Scale),
		zap.Int("pad_left", padding.PadLeft),
		zap.Int("pad_top", padding.PadTop),
	)

	return &PreprocessingResult{
		Tensor: tensor.New(
			tensor.WithShape(1, p.config.InputHeight, p.config.InputWidth, images.ChannelsRGB),
			tensor.WithBacking(data),
		),
		Padding: padding,
	}, nil
}

// Release returns the result's tensor backing to the pool. Safe to call with nil.
func (p *Preprocessor) Release(result *PreprocessingResult) {
	if result == nil || result.Tensor == nil {
		return
	}
	if data, ok := result.Tensor.Data().([]float32); ok && len(data) == p.config.InputWidth*p.config.InputHeight*images.ChannelsRGB {
		p.bufferPool.Put(data) //nolint:staticcheck
	}
	result.Tensor = nil
}

// fill writes the resized image into the padded NHWC buffer, scaling to [0,1].
func (p *Preprocessor) fill(data []float32, img image.Image, padding images.PaddingInfo) {
	rowStride := p.config.InputWidth * images.ChannelsRGB

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < padding.NewHeight; y++ {
			start := rgba.PixOffset(rgba.Rect.Min.X, rgba.Rect.Min.Y+y)
			row := rgba.Pix[start : start+padding.NewWidth*4]
			o := (padding.PadTop+y)*rowStride + padding.PadLeft*images.ChannelsRGB
			for x := 0; x < padding.NewWidth; x++ {
				data[o] = float32(row[x*4]) / 255.0
				data[o+1] = float32(row[x*4+1]) / 255.0
				data[o+2] = float32(row[x*4+2]) / 255.0
				o += images.ChannelsRGB
			}
		}
		return
	}

	b := img.Bounds()
	for y := 0; y < padding.NewHeight; y++ {
		o := (padding.PadTop+y)*rowStride + padding.PadLeft*images.ChannelsRGB
		for x := 0; x < padding.NewWidth; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			data[o] = float32(r>>8) / 255.0
			data[o+1] = float32(g>>8) / 255.0
			data[o+2] = float32(bl>>8) / 255.0
			o += images.ChannelsRGB
		}
	}
}
