package capture

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Resolution is a named capture size a camera can be asked for.
type Resolution struct {
	Name   string `json:"name" yaml:"name"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

// MegaPixels returns the pixel count in millions.
func (r Resolution) MegaPixels() float64 {
	return float64(r.Width*r.Height) / 1_000_000.0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%s (%dx%d, %.2fMP)", r.Name, r.Width, r.Height, r.MegaPixels())
}

// resolutions holds the common surveillance camera presets, keyed by name.
var resolutions = map[string]Resolution{
	"360p":  {Name: "360p", Width: 640, Height: 360},
	"480p":  {Name: "480p", Width: 854, Height: 480},
	"vga":   {Name: "vga", Width: 640, Height: 480},
	"540p":  {Name: "540p", Width: 960, Height: 540},
	"720p":  {Name: "720p", Width: 1280, Height: 720},
	"1080p": {Name: "1080p", Width: 1920, Height: 1080},
	"1440p": {Name: "1440p", Width: 2560, Height: 1440},
	"4mp":   {Name: "4mp", Width: 2688, Height: 1520},
	"4k":    {Name: "4k", Width: 3840, Height: 2160},
}

// LookupResolution returns the preset with the given name.
func LookupResolution(name string) (Resolution, error) {
	res, ok := resolutions[name]
	if !ok {
		return Resolution{}, errors.Errorf("unknown resolution %q, supported: %v", name, ResolutionNames())
	}
	return res, nil
}

// ResolutionNames returns the preset names from smallest to largest.
func ResolutionNames() []string {
	all := make([]Resolution, 0, len(resolutions))
	for _, res := range resolutions {
		all = append(all, res)
	}
	sort.Slice(all, func(i, j int) bool {
		if a, b := all[i].Width*all[i].Height, all[j].Width*all[j].Height; a != b {
			return a < b
		}
		return all[i].Name < all[j].Name
	})

	names := make([]string, len(all))
	for i, res := range all {
		names[i] = res.Name
	}
	return names
}

// LargestResolutionWithin returns the largest preset that fits in width x height.
func LargestResolutionWithin(width, height int) (Resolution, bool) {
	var (
		best  Resolution
		found bool
	)
	for _, res := range resolutions {
		if res.Width > width || res.Height > height {
			continue
		}
		if !found || res.Width*res.Height > best.Width*best.Height {
			best, found = res, true
		}
	}
	return best, found
}
