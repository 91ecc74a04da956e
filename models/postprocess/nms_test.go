package postprocess

import (
	"testing"

	"github.com/nvr-ai/go-detect/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// candidate builds a candidate from an x1,y1,x2,y2 box.
func candidate(x1, y1, x2, y2, score float32, class int) Candidate {
	return Candidate{Box: [4]float32{y1, x1, y2, x2}, Score: score, ClassID: class}
}

func TestApplyGreedyNMS(t *testing.T) {
	candidates := []Candidate{
		candidate(0, 0, 100, 100, 0.6, 0),
		candidate(5, 5, 105, 105, 0.9, 0),      // overlaps the first, higher score
		candidate(200, 200, 300, 300, 0.7, 2),  // separate
		candidate(400, 400, 450, 450, 0.39, 0), // below threshold
		candidate(210, 210, 310, 310, 0.65, 7), // overlaps the separate box, other class
		candidate(500, 0, 600, 100, 0.4, 1),    // exactly at threshold
	}

	kept := ApplyGreedyNMS(candidates, DefaultNMSConfig())
	require.Len(t, kept, 3)
	assert.Equal(t, candidates[1], kept[0])
	assert.Equal(t, candidates[2], kept[1])
	assert.Equal(t, candidates[5], kept[2])
}

func TestApplyGreedyNMS_Properties(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 60; i++ {
		x := float32((i * 37) % 500)
		y := float32((i * 53) % 400)
		score := float32((i*29)%100) / 100
		candidates = append(candidates, candidate(x, y, x+80, y+60, score, i%3))
	}

	config := DefaultNMSConfig()
	kept := ApplyGreedyNMS(candidates, config)
	require.NotEmpty(t, kept)

	for i := range kept {
		assert.GreaterOrEqual(t, kept[i].Score, config.ConfidenceThreshold)
		if i > 0 {
			assert.GreaterOrEqual(t, kept[i-1].Score, kept[i].Score, "keep order is score descending")
		}
		for j := i + 1; j < len(kept); j++ {
			assert.Less(t, images.CalculateIoU(kept[i].Rect(), kept[j].Rect()), config.IoUThreshold)
		}
	}

	// Suppressing the survivors again changes nothing.
	assert.Equal(t, kept, ApplyGreedyNMS(kept, config))
}

func TestApplyGreedyNMS_StableTies(t *testing.T) {
	candidates := []Candidate{
		candidate(0, 0, 10, 10, 0.8, 1),
		candidate(100, 100, 110, 110, 0.8, 2),
		candidate(2, 2, 12, 12, 0.8, 3),
	}

	kept := ApplyGreedyNMS(candidates, DefaultNMSConfig())
	require.Len(t, kept, 2)
	assert.Equal(t, 1, kept[0].ClassID)
	assert.Equal(t, 2, kept[1].ClassID)
}

func TestApplyGreedyNMS_MaxDetections(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 150; i++ {
		x := float32(i * 20)
		candidates = append(candidates, candidate(x, 0, x+10, 10, 0.9, 0))
	}

	assert.Len(t, ApplyGreedyNMS(candidates, DefaultNMSConfig()), 100)

	config := DefaultNMSConfig()
	config.MaxDetections = 0
	assert.Len(t, ApplyGreedyNMS(candidates, config), 150)
}

func TestApplyGreedyNMS_ClassAware(t *testing.T) {
	candidates := []Candidate{
		candidate(0, 0, 100, 100, 0.9, 0),
		candidate(0, 0, 100, 100, 0.8, 1),
	}

	assert.Len(t, ApplyGreedyNMS(candidates, DefaultNMSConfig()), 1)

	config := DefaultNMSConfig()
	config.ClassAware = true
	assert.Len(t, ApplyGreedyNMS(candidates, config), 2)
}

func TestApplyGreedyNMS_Empty(t *testing.T) {
	kept := ApplyGreedyNMS(nil, DefaultNMSConfig())
	assert.NotNil(t, kept)
	assert.Empty(t, kept)
}
