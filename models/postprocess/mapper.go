package postprocess

import "github.com/nvr-ai/go-detect/images"

// Unpad removes the letterbox transform from a model-pixel box, returning source-frame pixels.
//
// Arguments:
//   - box: The box in model-input pixels, x1,y1,x2,y2.
//   - padding: The letterbox transform the frame went through.
//
// Returns:
//   - [4]float64: ux1, uy1, ux2, uy2 in source-frame pixels.
func Unpad(box images.Rect, padding images.PaddingInfo) [4]float64 {
	scale := padding.Scale
	if scale <= 0 {
		scale = 1
	}
	left, top := float64(padding.PadLeft), float64(padding.PadTop)

	return [4]float64{
		(float64(box.X1) - left) / scale,
		(float64(box.Y1) - top) / scale,
		(float64(box.X2) - left) / scale,
		(float64(box.Y2) - top) / scale,
	}
}

// MapToScreen maps a model-pixel box to display space.
//
// The box is unpadded into source pixels and then scaled by the renderer's display ratio:
// x = ux1*rx, y = uy1*ry, width = (ux2-ux1)*rx, height = (uy2-uy1)*ry.
//
// @example
// screen := MapToScreen(images.Rect{X1: 100, Y1: 200, X2: 300, Y2: 400}, padding, images.IdentityRatio)
func MapToScreen(box images.Rect, padding images.PaddingInfo, ratio images.DisplayRatio) images.ScreenBox {
	u := Unpad(box, padding)
	return images.ScreenBox{
		X:      u[0] * ratio.X,
		Y:      u[1] * ratio.Y,
		Width:  (u[2] - u[0]) * ratio.X,
		Height: (u[3] - u[1]) * ratio.Y,
	}
}

// MapToModel is the inverse of MapToScreen.
func MapToModel(screen images.ScreenBox, padding images.PaddingInfo, ratio images.DisplayRatio) images.Rect {
	scale := padding.Scale
	if scale <= 0 {
		scale = 1
	}
	rx, ry := ratio.X, ratio.Y
	if rx == 0 {
		rx = 1
	}
	if ry == 0 {
		ry = 1
	}

	ux1, uy1 := screen.X/rx, screen.Y/ry
	ux2, uy2 := ux1+screen.Width/rx, uy1+screen.Height/ry
	left, top := float64(padding.PadLeft), float64(padding.PadTop)

	return images.Rect{
		X1: float32(ux1*scale + left),
		Y1: float32(uy1*scale + top),
		X2: float32(ux2*scale + left),
		Y2: float32(uy2*scale + top),
	}
}
