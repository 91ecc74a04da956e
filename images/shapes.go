// Package images - Image geometry and frame utilities.
package images

import "github.com/chewxy/math32"

// Rect is a lightweight axis-aligned bounding box in pixel coordinates.
type Rect struct {
	// Corners in source pixels; X1<=X2 and Y1<=Y2 for a well-formed box.
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the rectangle, or 0 if it is inverted.
func (r Rect) Width() float32 {
	return math32.Max(0, r.X2-r.X1)
}

// Height returns the vertical extent of the rectangle, or 0 if it is inverted.
func (r Rect) Height() float32 {
	return math32.Max(0, r.Y2-r.Y1)
}

// Area returns the area of the rectangle in square pixels.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// CalculateIoU measures the extent of overlap between two bounding boxes as the
// ratio of their intersection area to their union area.
//
// IoU is a number between 0.0 and 1.0:
//
//   - 1.0 means the rectangles are identical.
//   - 0.0 means the rectangles don't overlap at all (touching edges included).
//
// The intersection's top-left corner is the maximum of both top-left corners and
// its bottom-right corner is the minimum of both bottom-right corners. If the
// resulting width or height is zero or negative there is no overlap and 0 is
// returned before any division happens. The union uses inclusion-exclusion:
//
//	Area(Union) = Area(A) + Area(B) - Area(Intersection)
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//
//	iouScore := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return interArea / unionArea
}
