package images

import "math"

// PaddingInfo records the letterbox transform applied to a frame so it can be inverted.
type PaddingInfo struct {
	// Scale is min(modelWidth/width, modelHeight/height).
	Scale float64 `json:"scale"`
	// PadLeft is the number of padding columns left of the resized frame.
	PadLeft int `json:"pad_left"`
	// PadTop is the number of padding rows above the resized frame.
	PadTop int `json:"pad_top"`
	// PadRight is the remainder of the horizontal padding.
	PadRight int `json:"pad_right"`
	// PadBottom is the remainder of the vertical padding.
	PadBottom int `json:"pad_bottom"`
	// NewWidth is the width of the resized frame inside the model input.
	NewWidth int `json:"new_width"`
	// NewHeight is the height of the resized frame inside the model input.
	NewHeight int `json:"new_height"`
	// OriginalWidth is the source frame width.
	OriginalWidth int `json:"original_width"`
	// OriginalHeight is the source frame height.
	OriginalHeight int `json:"original_height"`
}

// Letterbox computes the aspect-preserving resize and symmetric padding that fits a
// width x height frame into a modelWidth x modelHeight input.
//
// Arguments:
//   - width, height: The source frame dimensions (must be positive).
//   - modelWidth, modelHeight: The fixed model input dimensions.
//
// Returns:
//   - PaddingInfo: The transform; PadTop+PadBottom == modelHeight-NewHeight and
//     PadLeft+PadRight == modelWidth-NewWidth.
//
// @example
// info := Letterbox(1280, 720, 640, 640)
// // info.Scale == 0.5, info.NewWidth == 640, info.NewHeight == 360, info.PadTop == 140
func Letterbox(width, height, modelWidth, modelHeight int) PaddingInfo {
	scale := math.Min(float64(modelWidth)/float64(width), float64(modelHeight)/float64(height))

	newWidth := min(int(math.Round(float64(width)*scale)), modelWidth)
	newHeight := min(int(math.Round(float64(height)*scale)), modelHeight)
	newWidth = max(newWidth, 1)
	newHeight = max(newHeight, 1)

	padLeft := (modelWidth - newWidth) / 2
	padTop := (modelHeight - newHeight) / 2

	return PaddingInfo{
		Scale:          scale,
		PadLeft:        padLeft,
		PadTop:         padTop,
		PadRight:       modelWidth - newWidth - padLeft,
		PadBottom:      modelHeight - newHeight - padTop,
		NewWidth:       newWidth,
		NewHeight:      newHeight,
		OriginalWidth:  width,
		OriginalHeight: height,
	}
}

// DisplayRatio is the render-size to source-size ratio supplied by the renderer.
type DisplayRatio struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// IdentityRatio maps source pixels 1:1 onto the display.
var IdentityRatio = DisplayRatio{X: 1, Y: 1}

// NewDisplayRatio returns renderWidth/sourceWidth and renderHeight/sourceHeight.
// Non-positive sizes fall back to a 1:1 ratio on that axis.
func NewDisplayRatio(renderWidth, renderHeight, sourceWidth, sourceHeight int) DisplayRatio {
	ratio := IdentityRatio
	if renderWidth > 0 && sourceWidth > 0 {
		ratio.X = float64(renderWidth) / float64(sourceWidth)
	}
	if renderHeight > 0 && sourceHeight > 0 {
		ratio.Y = float64(renderHeight) / float64(sourceHeight)
	}
	return ratio
}

// ScreenBox is a box in display space.
type ScreenBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
