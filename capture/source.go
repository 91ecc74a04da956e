// Package capture - Frame acquisition from cameras, video files and still images.
package capture

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nvr-ai/go-detect/images"
	"github.com/pkg/errors"
)

// InputType is the kind of frame source.
type InputType string

const (
	// InputCamera reads a video capture device.
	InputCamera InputType = "camera"
	// InputVideo reads a video file or stream URL.
	InputVideo InputType = "video"
	// InputImage holds a single still image.
	InputImage InputType = "image"
	// InputDirectory plays back a directory of still images.
	InputDirectory InputType = "directory"
)

// Supported file extensions
var (
	supportedVideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}
	supportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}
)

// Source supplies the most recent frame without blocking.
type Source interface {
	// CurrentFrame returns the latest frame, or an empty frame before the first one arrives.
	CurrentFrame() images.Frame
	// Done is closed once the source will produce no more frames. A nil channel never ends.
	Done() <-chan struct{}
	// Close releases the source.
	Close() error
}

// Config holds the input configuration.
type Config struct {
	// Type selects the source kind.
	Type InputType `json:"type" yaml:"type"`
	// Path is the video, image or directory path, or a stream URL for InputVideo.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// DeviceID is the capture device index for InputCamera.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// FPS is the playback rate of InputDirectory.
	FPS float64 `json:"fps,omitempty" yaml:"fps,omitempty"`
	// Resolution names the capture size requested from an InputCamera, see ResolutionNames.
	// Empty keeps the device default.
	Resolution string `json:"resolution,omitempty" yaml:"resolution,omitempty"`
}

// DefaultConfig reads capture device 0.
func DefaultConfig() Config {
	return Config{Type: InputCamera, FPS: 30}
}

// Validate checks that the configured input exists and has a supported extension.
func (c Config) Validate() error {
	switch c.Type {
	case InputCamera:
		if c.DeviceID < 0 {
			return errors.Errorf("invalid device id %d", c.DeviceID)
		}
		if c.Resolution != "" {
			_, err := LookupResolution(c.Resolution)
			return err
		}
		return nil
	case InputVideo:
		if strings.Contains(c.Path, "://") {
			return nil
		}
		return errors.Wrap(validateFile(c.Path, supportedVideoExtensions), "video validation error")
	case InputImage:
		return errors.Wrap(validateFile(c.Path, supportedImageExtensions), "image validation error")
	case InputDirectory:
		info, err := os.Stat(c.Path)
		if err != nil {
			return errors.Wrapf(err, "directory not found: %s", c.Path)
		}
		if !info.IsDir() {
			return errors.Errorf("not a directory: %s", c.Path)
		}
		if c.FPS <= 0 {
			return errors.Errorf("invalid playback fps %v", c.FPS)
		}
		return nil
	default:
		return errors.Errorf("unknown input type %q", c.Type)
	}
}

// validateFile checks if the file exists and has a supported extension
func validateFile(filePath string, supportedExtensions []string) error {
	if _, err := os.Stat(filePath); err != nil {
		return errors.Errorf("file not found: %s", filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	for _, supportedExt := range supportedExtensions {
		if ext == supportedExt {
			return nil
		}
	}

	return errors.Errorf("unsupported file extension: %s. Supported extensions: %v", ext, supportedExtensions)
}
