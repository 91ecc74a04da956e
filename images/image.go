// Package images - Frame definition for processing utilities.
package images

import (
	"image"
	"time"

	"github.com/pkg/errors"
)

// ChannelsRGB is the number of interleaved channels in a Frame's pixel buffer.
const ChannelsRGB = 3

// Frame is a raw, read-only video frame handed to the core by an acquisition source.
//
// Pixels holds Height rows of Width interleaved RGB triplets (HWC, 8 bits per channel).
type Frame struct {
	// The raw RGB pixel buffer.
	Pixels []byte
	// The width of the frame in pixels.
	Width int
	// The height of the frame in pixels.
	Height int
	// The capture time of the frame, zero if unknown.
	Timestamp time.Time
}

// Empty reports whether the frame has no usable dimensions yet.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0
}

// Validate checks that the frame has positive dimensions and a pixel buffer large
// enough to hold them.
//
// Returns:
//   - error: nil if the frame is readable.
func (f Frame) Validate() error {
	if f.Empty() {
		return errors.Errorf("invalid frame dimensions: %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * ChannelsRGB; len(f.Pixels) < want {
		return errors.Errorf("frame buffer holds %d bytes, needs %d", len(f.Pixels), want)
	}
	return nil
}

// RGBA copies the frame into an *image.RGBA so it can flow through image resizers.
//
// Returns:
//   - *image.RGBA: The copied image.
//   - error: An error if the frame is not readable.
func (f Frame) RGBA() (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	src := f.Pixels
	dst := img.Pix
	for i, j := 0, 0; i < f.Width*f.Height*ChannelsRGB; i, j = i+3, j+4 {
		dst[j] = src[i]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+2]
		dst[j+3] = 0xff
	}
	return img, nil
}

// FrameFromImage converts any image.Image into a Frame, dropping alpha.
//
// Arguments:
//   - img: The source image.
//   - ts: The capture timestamp to attach.
//
// Returns:
//   - Frame: A frame holding a copy of the image pixels.
func FrameFromImage(img image.Image, ts time.Time) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pixels := make([]byte, w*h*ChannelsRGB)

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < h; y++ {
			row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
			for x := 0; x < w; x++ {
				o := (y*w + x) * ChannelsRGB
				pixels[o] = row[x*4]
				pixels[o+1] = row[x*4+1]
				pixels[o+2] = row[x*4+2]
			}
		}
	} else {
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				pixels[i] = uint8(r >> 8)
				pixels[i+1] = uint8(g >> 8)
				pixels[i+2] = uint8(bl >> 8)
				i += 3
			}
		}
	}

	return Frame{Pixels: pixels, Width: w, Height: h, Timestamp: ts}
}
