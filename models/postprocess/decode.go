package postprocess

import (
	"fmt"

	"gorgonia.org/tensor"
)

// DefaultNumClasses is the class count of COCO-trained YOLOv8 exports.
const DefaultNumClasses = 80

// Decoder turns a raw (1, 4+numClasses, numAnchors) detector output into candidates.
type Decoder struct {
	numClasses int
}

// NewDecoder creates a decoder for a model with numClasses output classes.
func NewDecoder(numClasses int) *Decoder {
	if numClasses <= 0 {
		numClasses = DefaultNumClasses
	}
	return &Decoder{numClasses: numClasses}
}

// NumClasses returns the class count the decoder expects.
func (d *Decoder) NumClasses() int {
	return d.numClasses
}

// Decode transposes the output to (numAnchors, 4+numClasses) and emits one candidate per
// anchor.
//
// Each anchor row holds cx, cy, w, h followed by the class scores. The candidate score is
// the highest class score and its class id the index of that score (first on ties).
//
// Arguments:
//   - output: The float32 detector output tensor.
//
// Returns:
//   - []Candidate: One candidate per anchor, in anchor order, boxes as [y1,x1,y2,x2].
//   - error: A *DecodeError if the tensor rank, shape or type is not as expected.
//
// @example
// candidates, err := NewDecoder(80).Decode(output) // output shape (1, 84, 8400)
func (d *Decoder) Decode(output *tensor.Dense) ([]Candidate, error) {
	if output == nil {
		return nil, &DecodeError{Message: "nil output tensor"}
	}

	shape := output.Shape()
	if shape.Dims() != 3 {
		return nil, &DecodeError{Message: fmt.Sprintf("expected rank 3 output, got shape %v", shape)}
	}
	rowWidth := 4 + d.numClasses
	if shape[0] != 1 || shape[1] != rowWidth {
		return nil, &DecodeError{Message: fmt.Sprintf("expected shape (1, %d, N), got %v", rowWidth, shape)}
	}
	if output.Dtype() != tensor.Float32 {
		return nil, &DecodeError{Message: fmt.Sprintf("expected float32 output, got %v", output.Dtype())}
	}

	rows, err := output.SafeT(0, 2, 1)
	if err != nil {
		return nil, &DecodeError{Message: "transpose failed", Cause: err}
	}
	if err := rows.Transpose(); err != nil {
		return nil, &DecodeError{Message: "transpose failed", Cause: err}
	}

	data, ok := rows.Data().([]float32)
	if !ok {
		return nil, &DecodeError{Message: "output backing is not []float32"}
	}

	numAnchors := shape[2]
	candidates := make([]Candidate, 0, numAnchors)
	for a := 0; a < numAnchors; a++ {
		row := data[a*rowWidth : (a+1)*rowWidth]

		classID := 0
		score := row[4]
		for c := 1; c < d.numClasses; c++ {
			if row[4+c] > score {
				score = row[4+c]
				classID = c
			}
		}

		cx, cy, w, h := row[0], row[1], row[2], row[3]
		x1 := cx - w/2
		y1 := cy - h/2
		candidates = append(candidates, Candidate{
			Box:     [4]float32{y1, x1, y1 + h, x1 + w},
			Score:   score,
			ClassID: classID,
		})
	}

	return candidates, nil
}
