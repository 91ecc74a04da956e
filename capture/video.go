package capture

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nvr-ai/go-detect/images"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// VideoSource reads a capture device or video file on a background goroutine and keeps
// only the latest frame, converted to RGB.
type VideoSource struct {
	capture *gocv.VideoCapture
	config  Config
	clock   clock.Clock
	logger  *zap.Logger

	mu     sync.RWMutex
	latest images.Frame
	frames uint64

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// OpenVideo opens a camera or video input and starts reading it.
//
// Arguments:
//   - config: An InputCamera or InputVideo configuration.
//   - clk: Stamps frames with their read time; nil for the wall clock.
//   - logger: Receives read failures; nil for none.
//
// Returns:
//   - *VideoSource: The running source.
//   - error: An error if the input cannot be opened.
func OpenVideo(config Config, clk clock.Clock, logger *zap.Logger) (*VideoSource, error) {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	switch config.Type {
	case InputCamera:
		capture, err = gocv.OpenVideoCapture(config.DeviceID)
	case InputVideo:
		capture, err = gocv.OpenVideoCapture(config.Path)
	default:
		return nil, errors.Errorf("input type %q is not a video input", config.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s input", config.Type)
	}

	if config.Type == InputCamera && config.Resolution != "" {
		res, err := LookupResolution(config.Resolution)
		if err != nil {
			return nil, multierr.Append(err, capture.Close())
		}
		capture.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	}

	logger.Info("video input opened",
		zap.String("type", string(config.Type)),
		zap.String("path", config.Path),
		zap.Int("device_id", config.DeviceID),
		zap.Int("width", int(capture.Get(gocv.VideoCaptureFrameWidth))),
		zap.Int("height", int(capture.Get(gocv.VideoCaptureFrameHeight))),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &VideoSource{
		capture: capture,
		config:  config,
		clock:   clk,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.readLoop(ctx)
	return s, nil
}

func (s *VideoSource) readLoop(ctx context.Context) {
	defer close(s.done)

	img := gocv.NewMat()
	rgb := gocv.NewMat()
	defer func() {
		s.err = multierr.Combine(img.Close(), rgb.Close())
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if ok := s.capture.Read(&img); !ok {
			if s.config.Type == InputVideo {
				s.logger.Info("end of video input", zap.String("path", s.config.Path))
			} else {
				s.logger.Warn("capture device closed", zap.Int("device_id", s.config.DeviceID))
			}
			s.mu.Lock()
			s.latest = images.Frame{}
			s.mu.Unlock()
			return
		}
		if img.Empty() {
			continue
		}

		gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)
		frame := images.Frame{
			Pixels:    rgb.ToBytes(),
			Width:     rgb.Cols(),
			Height:    rgb.Rows(),
			Timestamp: s.clock.Now(),
		}

		s.mu.Lock()
		s.latest = frame
		s.frames++
		s.mu.Unlock()

		// Files decode faster than real time; pace them.
		if s.config.Type == InputVideo {
			if fps := s.capture.Get(gocv.VideoCaptureFPS); fps > 0 {
				s.clock.Sleep(time.Duration(float64(time.Second) / fps))
			}
		}
	}
}

// CurrentFrame returns the latest frame. The pixel buffer is not reused by the reader.
func (s *VideoSource) CurrentFrame() images.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Done is closed when the input ends or the source is closed. CurrentFrame returns an empty
// frame after the input ends.
func (s *VideoSource) Done() <-chan struct{} {
	return s.done
}

// FramesRead returns the number of frames read so far.
func (s *VideoSource) FramesRead() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Close stops the reader and releases the capture.
func (s *VideoSource) Close() error {
	s.cancel()
	<-s.done
	return multierr.Append(s.err, s.capture.Close())
}

// Open opens the source described by config.
func Open(config Config, clk clock.Clock, logger *zap.Logger) (Source, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		source Source
		err    error
	)
	switch config.Type {
	case InputImage:
		source, err = OpenImage(config.Path, clk)
	case InputDirectory:
		source, err = OpenDirectory(config.Path, config.FPS, clk)
	default:
		source, err = OpenVideo(config, clk, logger)
	}
	if err != nil {
		return nil, err
	}
	return source, nil
}
