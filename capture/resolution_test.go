package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupResolution(t *testing.T) {
	res, err := LookupResolution("1080p")
	require.NoError(t, err)
	assert.Equal(t, 1920, res.Width)
	assert.Equal(t, 1080, res.Height)
	assert.Equal(t, "1080p (1920x1080, 2.07MP)", res.String())

	_, err = LookupResolution("8k")
	assert.Error(t, err)
}

func TestResolutionNames(t *testing.T) {
	names := ResolutionNames()
	require.Len(t, names, len(resolutions))
	assert.Equal(t, "360p", names[0])
	assert.Equal(t, "vga", names[1])
	assert.Equal(t, "4k", names[len(names)-1])
}

func TestLargestResolutionWithin(t *testing.T) {
	res, ok := LargestResolutionWithin(2000, 1200)
	require.True(t, ok)
	assert.Equal(t, "1080p", res.Name)

	res, ok = LargestResolutionWithin(640, 480)
	require.True(t, ok)
	assert.Equal(t, "vga", res.Name)

	_, ok = LargestResolutionWithin(320, 240)
	assert.False(t, ok)
}
