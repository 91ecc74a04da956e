package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/nvr-ai/go-detect/capture"
	"github.com/nvr-ai/go-detect/detector"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// LogRenderer logs detection sets. Sets with keyword matches are logged at info.
type LogRenderer struct {
	logger *zap.Logger
}

// NewLogRenderer creates a renderer that writes to logger.
func NewLogRenderer(logger *zap.Logger) *LogRenderer {
	return &LogRenderer{logger: logger}
}

// RenderSize reports no display, so boxes map 1:1 onto source pixels.
func (r *LogRenderer) RenderSize() (int, int) {
	return 0, 0
}

// Render logs the set.
func (r *LogRenderer) Render(set detector.DetectionSet) {
	if set.KeywordMatchCount == 0 {
		r.logger.Debug("detections", zap.Int("total", set.TotalCount))
		return
	}

	for _, d := range set.Detections {
		if !d.IsKeywordMatch {
			continue
		}
		r.logger.Info("keyword match",
			zap.String("id", d.ID),
			zap.String("class", d.ClassName),
			zap.Float32("score", d.Score),
			zap.Float64("x", d.ScreenBox.X),
			zap.Float64("y", d.ScreenBox.Y),
			zap.Float64("width", d.ScreenBox.Width),
			zap.Float64("height", d.ScreenBox.Height),
			zap.Time("ts", set.Timestamp),
		)
	}
}

var (
	matchColor = color.RGBA{G: 255, A: 255}
	otherColor = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// WindowRenderer draws the latest detection set over the live source in an OpenCV window.
type WindowRenderer struct {
	source capture.Source
	scale  float64
	logger *zap.Logger

	mu  sync.Mutex
	set detector.DetectionSet
}

// NewWindowRenderer creates a renderer showing source at scale times its size.
func NewWindowRenderer(source capture.Source, scale float64, logger *zap.Logger) *WindowRenderer {
	if scale <= 0 {
		scale = 1
	}
	return &WindowRenderer{source: source, scale: scale, logger: logger}
}

// RenderSize returns the window content size.
func (r *WindowRenderer) RenderSize() (int, int) {
	frame := r.source.CurrentFrame()
	return int(float64(frame.Width) * r.scale), int(float64(frame.Height) * r.scale)
}

// Render stores the set for the next drawn frame.
func (r *WindowRenderer) Render(set detector.DetectionSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = set
}

func (r *WindowRenderer) latest() detector.DetectionSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set
}

// Loop shows frames until ctx is done or the window is closed with q or Esc.
// Space toggles pause.
func (r *WindowRenderer) Loop(ctx context.Context, pipeline *detector.Pipeline) {
	window := gocv.NewWindow("detect")
	defer window.Close()

	rgb := gocv.NewMat()
	defer rgb.Close()
	img := gocv.NewMat()
	defer img.Close()

	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := r.source.CurrentFrame()
		if frame.Empty() {
			continue
		}

		src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
		if err != nil {
			r.logger.Warn("failed to wrap frame", zap.Error(err))
			continue
		}
		gocv.CvtColor(src, &rgb, gocv.ColorRGBToBGR)
		src.Close()

		width, height := r.RenderSize()
		if width != frame.Width || height != frame.Height {
			gocv.Resize(rgb, &img, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
		} else {
			rgb.CopyTo(&img)
		}

		r.draw(&img, pipeline.Snapshot())
		window.IMShow(img)

		switch key := window.WaitKey(1); key {
		case 'q', 27:
			return
		case ' ':
			r.togglePause(pipeline)
		}
	}
}

func (r *WindowRenderer) draw(img *gocv.Mat, snap detector.Snapshot) {
	set := r.latest()
	for _, d := range set.Detections {
		rect := image.Rect(
			int(d.ScreenBox.X),
			int(d.ScreenBox.Y),
			int(d.ScreenBox.X+d.ScreenBox.Width),
			int(d.ScreenBox.Y+d.ScreenBox.Height),
		)
		c, thickness := otherColor, 1
		if d.IsKeywordMatch {
			c, thickness = matchColor, 2
		}
		gocv.Rectangle(img, rect, c, thickness)

		id := d.ID
		if len(id) > 8 {
			id = id[:8]
		}
		label := fmt.Sprintf("%s %.2f %s", d.ClassName, d.Score, id)
		gocv.PutText(img, label, image.Pt(rect.Min.X, rect.Min.Y-4), gocv.FontHersheyPlain, 1, c, 1)
	}

	status := fmt.Sprintf("%s | keyword: %q | matches %d/%d | interval %s",
		snap.State, snap.Keyword, set.KeywordMatchCount, set.TotalCount, snap.Interval)
	gocv.PutText(img, status, image.Pt(10, 20), gocv.FontHersheyPlain, 1.2, textColor, 2)
}

func (r *WindowRenderer) togglePause(pipeline *detector.Pipeline) {
	var err error
	switch pipeline.Snapshot().State {
	case detector.Running:
		err = pipeline.Pause()
	case detector.Paused:
		err = pipeline.Resume()
	}
	if err != nil {
		r.logger.Warn("toggle pause failed", zap.Error(err))
	}
}
