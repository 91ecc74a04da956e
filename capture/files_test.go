package capture

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/nvr-ai/go-detect/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeImage saves a solid w x h image.
func writeImage(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	require.NoError(t, imaging.Save(imaging.New(w, h, c), path))
}

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	red := color.NRGBA{R: 255, A: 255}
	for _, name := range []string{"frame-10.png", "frame-2.png", "frame-1.jpg", "cover.png"} {
		writeImage(t, filepath.Join(dir, name), 4, 4, red)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))

	files, err := ListImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 4)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
	}
	assert.Equal(t, []string{"frame-1.jpg", "frame-2.png", "frame-10.png", "cover.png"}, names)
	assert.Equal(t, 10, files[2].Frame)
	assert.Equal(t, 3, files[3].Frame)

	_, err = ListImageFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame-1.png")
	writeImage(t, path, 6, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	frame, err := LoadImage(path)
	require.NoError(t, err)
	require.NoError(t, frame.Validate())

	assert.Equal(t, 6, frame.Width)
	assert.Equal(t, 4, frame.Height)
	assert.Equal(t, []byte{10, 20, 30}, frame.Pixels[:3])

	_, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func solid(v byte) images.Frame {
	return images.Frame{Pixels: []byte{v, v, v}, Width: 1, Height: 1}
}

func TestStillSource_Playback(t *testing.T) {
	mock := clock.NewMock()
	src, err := NewStillSource([]images.Frame{solid(1), solid(2), solid(3)}, 10, mock)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Len())

	assert.Equal(t, byte(1), src.CurrentFrame().Pixels[0])
	mock.Add(100 * time.Millisecond)
	assert.Equal(t, byte(2), src.CurrentFrame().Pixels[0])
	mock.Add(200 * time.Millisecond)
	assert.Equal(t, byte(1), src.CurrentFrame().Pixels[0], "playback loops")
	assert.Equal(t, mock.Now(), src.CurrentFrame().Timestamp)
	assert.Nil(t, src.Done(), "stills never end")
	assert.NoError(t, src.Close())
}

func TestStillSource_Invalid(t *testing.T) {
	_, err := NewStillSource(nil, 10, nil)
	assert.Error(t, err)

	_, err = NewStillSource([]images.Frame{solid(1), solid(2)}, 0, nil)
	assert.Error(t, err)

	single, err := NewStillSource([]images.Frame{solid(7)}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(7), single.CurrentFrame().Pixels[0])
}

func TestOpen_Directory(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "frame-1.png"), 8, 8, color.NRGBA{R: 255, A: 255})
	writeImage(t, filepath.Join(dir, "frame-2.png"), 8, 8, color.NRGBA{B: 255, A: 255})

	src, err := Open(Config{Type: InputDirectory, Path: dir, FPS: 5}, clock.NewMock(), nil)
	require.NoError(t, err)
	defer src.Close()

	frame := src.CurrentFrame()
	assert.False(t, frame.Empty())
	assert.Equal(t, []byte{255, 0, 0}, frame.Pixels[:3])
}

func TestOpen_Image(t *testing.T) {
	path := filepath.Join(t.TempDir(), "still.jpg")
	writeImage(t, path, 16, 9, color.NRGBA{G: 255, A: 255})

	src, err := Open(Config{Type: InputImage, Path: path}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(16, 9), image.Pt(src.CurrentFrame().Width, src.CurrentFrame().Height))
}

func TestConfig_Validate(t *testing.T) {
	dir := t.TempDir()
	still := filepath.Join(dir, "still.png")
	writeImage(t, still, 2, 2, color.NRGBA{A: 255})

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default camera", DefaultConfig(), false},
		{"negative device", Config{Type: InputCamera, DeviceID: -1}, true},
		{"camera resolution", Config{Type: InputCamera, Resolution: "720p"}, false},
		{"unknown resolution", Config{Type: InputCamera, Resolution: "8k"}, true},
		{"stream url", Config{Type: InputVideo, Path: "rtsp://camera.local/stream"}, false},
		{"missing video", Config{Type: InputVideo, Path: filepath.Join(dir, "clip.mp4")}, true},
		{"image", Config{Type: InputImage, Path: still}, false},
		{"image with video extension", Config{Type: InputVideo, Path: still}, true},
		{"directory", Config{Type: InputDirectory, Path: dir, FPS: 30}, false},
		{"directory without fps", Config{Type: InputDirectory, Path: dir}, true},
		{"file as directory", Config{Type: InputDirectory, Path: still, FPS: 30}, true},
		{"unknown", Config{Type: "screen"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
