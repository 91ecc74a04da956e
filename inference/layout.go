package inference

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Layout is the memory order of the model input.
type Layout string

const (
	// LayoutNHWC feeds the preprocessed (1, H, W, 3) tensor unchanged.
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW transposes to (1, 3, H, W), the order of most exported detectors.
	LayoutNCHW Layout = "nchw"
)

// ToLayout returns the float32 data of a (1, H, W, 3) input in the requested memory order.
//
// Arguments:
//   - input: The preprocessed NHWC tensor. It is not modified.
//   - layout: The order the model expects.
//
// Returns:
//   - []float32: The data in model order. For LayoutNHWC this aliases the input backing.
//   - error: An error if the input is not a rank 4 float32 tensor or the layout is unknown.
func ToLayout(input *tensor.Dense, layout Layout) ([]float32, error) {
	if input == nil {
		return nil, errors.New("nil input tensor")
	}
	if input.Dims() != 4 || input.Dtype() != tensor.Float32 {
		return nil, errors.Errorf("expected rank 4 float32 input, got %v %v", input.Dtype(), input.Shape())
	}

	switch layout {
	case LayoutNHWC, "":
		return input.Data().([]float32), nil
	case LayoutNCHW:
		chw, err := input.SafeT(0, 3, 1, 2)
		if err != nil {
			return nil, errors.Wrap(err, "failed to transpose input")
		}
		if err := chw.Transpose(); err != nil {
			return nil, errors.Wrap(err, "failed to transpose input")
		}
		return chw.Data().([]float32), nil
	default:
		return nil, errors.Errorf("unsupported input layout: %q", layout)
	}
}
