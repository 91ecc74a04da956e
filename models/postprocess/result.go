// Package postprocess - Decoding, suppression and remapping of raw detector output.
package postprocess

import "github.com/nvr-ai/go-detect/images"

// Candidate is a decoded detection in model-input pixels, before suppression.
type Candidate struct {
	// The bounding box as [y1, x1, y2, x2].
	Box [4]float32
	// The confidence score of the candidate, in [0,1].
	Score float32
	// The predicted class index of the candidate.
	ClassID int
}

// Rect returns the candidate box in x1,y1,x2,y2 order.
func (c Candidate) Rect() images.Rect {
	return images.Rect{X1: c.Box[1], Y1: c.Box[0], X2: c.Box[3], Y2: c.Box[2]}
}
