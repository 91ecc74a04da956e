// Package controller - Adaptive pacing of detection cycles.
package controller

import (
	"math"
	"time"
)

// SchedulerConfig holds the adaptive scheduler tunables.
type SchedulerConfig struct {
	// WindowSize is the number of recent cycle durations averaged.
	WindowSize int `json:"window_size" yaml:"window_size"`
	// MinSamples is the sample count below which FallbackInterval is used.
	MinSamples int `json:"min_samples" yaml:"min_samples"`
	// Headroom multiplies the mean cycle duration.
	Headroom float64 `json:"headroom" yaml:"headroom"`
	// MinInterval is the lower clamp of the computed interval.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`
	// MaxInterval is the upper clamp of the computed interval.
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval"`
	// FallbackInterval is used until MinSamples durations have been recorded.
	FallbackInterval time.Duration `json:"fallback_interval" yaml:"fallback_interval"`
}

// DefaultSchedulerConfig returns a 10-sample window, 1.2x headroom and a 0-500ms clamp.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WindowSize:       10,
		MinSamples:       5,
		Headroom:         1.2,
		MinInterval:      0,
		MaxInterval:      500 * time.Millisecond,
		FallbackInterval: 200 * time.Millisecond,
	}
}

// Scheduler derives the minimum spacing between detection cycles from how long recent
// cycles took.
//
// Durations are kept in a fixed-size ring; the oldest is evicted once it is full.
// A Scheduler is not safe for concurrent use.
type Scheduler struct {
	config  SchedulerConfig
	samples []time.Duration
	next    int
	count   int
}

// NewScheduler creates a scheduler with an empty timing window.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.WindowSize <= 0 {
		config.WindowSize = 10
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 1
	}
	config.MinSamples = min(config.MinSamples, config.WindowSize)
	if config.Headroom <= 0 {
		config.Headroom = 1
	}
	return &Scheduler{
		config:  config,
		samples: make([]time.Duration, config.WindowSize),
	}
}

// RecordTiming pushes a completed cycle duration, evicting the oldest when the window is full.
func (s *Scheduler) RecordTiming(d time.Duration) {
	s.samples[s.next] = max(d, 0)
	s.next = (s.next + 1) % len(s.samples)
	if s.count < len(s.samples) {
		s.count++
	}
}

// Interval returns the minimum time between cycle starts.
//
// Returns:
//   - time.Duration: FallbackInterval with fewer than MinSamples durations, otherwise
//     mean*Headroom clamped to [MinInterval, MaxInterval].
func (s *Scheduler) Interval() time.Duration {
	if s.count < s.config.MinSamples {
		return s.config.FallbackInterval
	}

	var sum float64
	for i := 0; i < s.count; i++ {
		sum += float64(s.samples[i])
	}
	interval := time.Duration(math.Round(sum / float64(s.count) * s.config.Headroom))

	if interval < s.config.MinInterval {
		return s.config.MinInterval
	}
	if interval > s.config.MaxInterval {
		return s.config.MaxInterval
	}
	return interval
}

// Samples returns how many durations are in the window.
func (s *Scheduler) Samples() int {
	return s.count
}

// Reset empties the timing window.
func (s *Scheduler) Reset() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.next = 0
	s.count = 0
}
