package postprocess

import (
	"math/rand"
	"testing"
)

// fullOutput builds a 640x640 YOLOv8 output with 8400 anchors, a quarter of them confident.
func fullOutput(b *testing.B) []anchor {
	b.Helper()
	rng := rand.New(rand.NewSource(1))
	anchors := make([]anchor, 8400)
	for i := range anchors {
		score := rng.Float32() * 0.3
		if i%4 == 0 {
			score = 0.4 + rng.Float32()*0.6
		}
		anchors[i] = anchor{
			cx:     rng.Float32() * 640,
			cy:     rng.Float32() * 640,
			w:      8 + rng.Float32()*120,
			h:      8 + rng.Float32()*120,
			scores: map[int]float32{rng.Intn(DefaultNumClasses): score},
		}
	}
	return anchors
}

func BenchmarkDecode(b *testing.B) {
	output := rawOutput(DefaultNumClasses, fullOutput(b)...)
	decoder := NewDecoder(DefaultNumClasses)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := decoder.Decode(output); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkApplyGreedyNMS(b *testing.B) {
	candidates, err := NewDecoder(DefaultNumClasses).Decode(rawOutput(DefaultNumClasses, fullOutput(b)...))
	if err != nil {
		b.Fatal(err)
	}
	config := DefaultNMSConfig()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ApplyGreedyNMS(candidates, config)
	}
}
