package capture

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/nvr-ai/go-detect/images"
	"github.com/pkg/errors"
)

// ImageFile is a still image found on disk.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the number parsed from a "frame-N" file name, or the position in name order.
	Frame int
}

// ListImageFiles returns the image files in dir, ordered by frame number.
//
// Files named "frame-N.ext" sort by N; other files sort by name after them.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: The image files.
// - error: Error if the directory cannot be read.
func ListImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}

	type entry struct {
		file     ImageFile
		numbered bool
		name     string
	}

	var found []entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !supported(ext) {
			continue
		}
		number, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), "frame-"))
		found = append(found, entry{
			file:     ImageFile{Path: filepath.Join(dir, e.Name()), Frame: number},
			numbered: err == nil,
			name:     e.Name(),
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.numbered != b.numbered {
			return a.numbered
		}
		if a.numbered && a.file.Frame != b.file.Frame {
			return a.file.Frame < b.file.Frame
		}
		return a.name < b.name
	})

	files := make([]ImageFile, len(found))
	for i, f := range found {
		files[i] = f.file
		if !f.numbered {
			files[i].Frame = i
		}
	}
	return files, nil
}

func supported(ext string) bool {
	for _, s := range supportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// LoadImage decodes an image file into a frame, applying EXIF orientation.
func LoadImage(path string) (images.Frame, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return images.Frame{}, errors.Wrapf(err, "failed to decode %s", path)
	}
	return images.FrameFromImage(img, time.Time{}), nil
}

// StillSource plays back decoded still images at a fixed rate, looping at the end.
// A single image is returned on every call.
type StillSource struct {
	frames []images.Frame
	fps    float64
	clock  clock.Clock
	start  time.Time
}

// NewStillSource creates a source over already decoded frames.
//
// Arguments:
// - frames: The frames to play back, at least one.
// - fps: The playback rate; ignored for a single frame.
// - clk: The clock that drives playback; nil for the wall clock.
//
// Returns:
// - *StillSource: The source.
// - error: An error if there are no frames or the rate is not positive.
func NewStillSource(frames []images.Frame, fps float64, clk clock.Clock) (*StillSource, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames to play back")
	}
	if len(frames) > 1 && fps <= 0 {
		return nil, errors.Errorf("invalid playback fps %v", fps)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &StillSource{frames: frames, fps: fps, clock: clk, start: clk.Now()}, nil
}

// OpenImage loads a single still image as a source.
func OpenImage(path string, clk clock.Clock) (*StillSource, error) {
	frame, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return NewStillSource([]images.Frame{frame}, 0, clk)
}

// OpenDirectory loads every image in dir for playback at fps.
func OpenDirectory(dir string, fps float64, clk clock.Clock) (*StillSource, error) {
	files, err := ListImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images in %s", dir)
	}

	frames := make([]images.Frame, len(files))
	for i, f := range files {
		if frames[i], err = LoadImage(f.Path); err != nil {
			return nil, err
		}
	}
	return NewStillSource(frames, fps, clk)
}

// CurrentFrame returns the frame due at the current clock time, stamped with that time.
func (s *StillSource) CurrentFrame() images.Frame {
	now := s.clock.Now()
	i := 0
	if len(s.frames) > 1 {
		i = int(now.Sub(s.start).Seconds()*s.fps) % len(s.frames)
	}
	frame := s.frames[i]
	frame.Timestamp = now
	return frame
}

// Len returns the number of frames.
func (s *StillSource) Len() int {
	return len(s.frames)
}

// Done returns nil: stills cycle forever.
func (s *StillSource) Done() <-chan struct{} {
	return nil
}

// Close is a no-op.
func (s *StillSource) Close() error {
	return nil
}
