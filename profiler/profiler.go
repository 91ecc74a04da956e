// Package profiler - Runtime and per-stage cycle profiling for the detection pipeline.
package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nvr-ai/go-detect/detector"
	"go.uber.org/zap"
)

// Stage names reported by the profiler.
const (
	StageCycle       = "cycle"
	StagePreprocess  = "preprocess"
	StageInference   = "inference"
	StagePostprocess = "postprocess"
)

// RuntimeProfiler observes completed and failed detection cycles and periodically logs a
// report of cycle throughput, per-stage timings and process memory.
//
// It implements detector.Telemetry and is safe for concurrent use.
type RuntimeProfiler struct {
	reportInterval time.Duration
	maxSamples     int
	clock          clock.Clock
	logger         *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	startTime time.Time
	memStats  runtime.MemStats
	lastGC    uint32

	completed   int64
	failed      int64
	lastFailure string
	// completions holds the end times of recent cycles for the throughput estimate.
	completions []time.Time
	stages      map[string]*TimeTracker
}

// TimeTracker tracks timing statistics over a sliding window of samples.
type TimeTracker struct {
	name      string
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// TimingStats is a point-in-time summary of a TimeTracker.
type TimingStats struct {
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Count int64         `json:"count"`
}

// Stats is a point-in-time summary of the profiler.
type Stats struct {
	Uptime         time.Duration          `json:"uptime"`
	Completed      int64                  `json:"completed"`
	Failed         int64                  `json:"failed"`
	LastFailure    string                 `json:"last_failure,omitempty"`
	CyclesPerSec   float64                `json:"cycles_per_sec"`
	Stages         map[string]TimingStats `json:"stages"`
	Goroutines     int                    `json:"goroutines"`
	HeapAllocBytes uint64                 `json:"heap_alloc_bytes"`
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 2s)
	ReportInterval time.Duration
	// MaxSamples specifies maximum number of timing samples to keep per stage (default: 600)
	MaxSamples int
	// Clock drives reporting and throughput (default: wall clock)
	Clock clock.Clock
	// Logger receives the reports (default: no-op)
	Logger *zap.Logger
}

var _ detector.Telemetry = (*RuntimeProfiler)(nil)

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 2 * time.Second
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 600
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		clock:          opts.Clock,
		logger:         opts.Logger,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      opts.Clock.Now(),
		stages:         make(map[string]*TimeTracker),
	}
}

// Start begins periodic reporting. Calling Start on a running profiler is a no-op.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}
	rp.running = true
	rp.startTime = rp.clock.Now()

	ticker := rp.clock.Ticker(rp.reportInterval)

	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-rp.ctx.Done():
				return
			case <-ticker.C:
				rp.Report()
			}
		}
	}()
}

// Stop stops reporting and waits for the reporter to exit.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	rp.wg.Wait()
}

// CycleCompleted records the timings of a successful cycle.
func (rp *RuntimeProfiler) CycleCompleted(took time.Duration, stages detector.StageTimings) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	rp.completed++
	rp.completions = append(rp.completions, rp.clock.Now())
	if len(rp.completions) > rp.maxSamples {
		rp.completions = rp.completions[1:]
	}

	rp.record(StageCycle, took)
	rp.record(StagePreprocess, stages.Preprocess)
	rp.record(StageInference, stages.Inference)
	rp.record(StagePostprocess, stages.Postprocess)
}

// CycleFailed records a cycle that stopped the pipeline.
func (rp *RuntimeProfiler) CycleFailed(err error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	rp.failed++
	if err != nil {
		rp.lastFailure = err.Error()
	}
}

// record must be called with mu held.
func (rp *RuntimeProfiler) record(name string, duration time.Duration) {
	tracker, exists := rp.stages[name]
	if !exists {
		tracker = &TimeTracker{
			name:    name,
			minTime: duration,
			maxTime: duration,
		}
		rp.stages[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	if len(tracker.durations) > rp.maxSamples {
		// Remove oldest sample
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}

	tracker.totalTime += duration
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Stats returns the current statistics.
func (rp *RuntimeProfiler) Stats() Stats {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	runtime.ReadMemStats(&rp.memStats)
	return rp.statsLocked()
}

func (rp *RuntimeProfiler) statsLocked() Stats {
	now := rp.clock.Now()
	stats := Stats{
		Uptime:         now.Sub(rp.startTime),
		Completed:      rp.completed,
		Failed:         rp.failed,
		LastFailure:    rp.lastFailure,
		Stages:         make(map[string]TimingStats, len(rp.stages)),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: rp.memStats.HeapAlloc,
	}

	if n := len(rp.completions); n > 1 {
		if span := rp.completions[n-1].Sub(rp.completions[0]); span > 0 {
			stats.CyclesPerSec = float64(n-1) / span.Seconds()
		}
	}

	for name, tracker := range rp.stages {
		if len(tracker.durations) == 0 {
			continue
		}
		stats.Stages[name] = TimingStats{
			Avg:   tracker.totalTime / time.Duration(len(tracker.durations)),
			Min:   tracker.minTime,
			Max:   tracker.maxTime,
			Count: tracker.count,
		}
	}
	return stats
}

// Report logs the current statistics.
func (rp *RuntimeProfiler) Report() {
	rp.mu.Lock()
	runtime.ReadMemStats(&rp.memStats)
	stats := rp.statsLocked()
	newGC := rp.memStats.NumGC - rp.lastGC
	rp.lastGC = rp.memStats.NumGC
	sys := rp.memStats.Sys
	rp.mu.Unlock()

	fields := []zap.Field{
		zap.Duration("uptime", stats.Uptime.Truncate(time.Millisecond)),
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed),
		zap.Float64("cycles_per_sec", stats.CyclesPerSec),
		zap.Int("goroutines", stats.Goroutines),
		zap.String("heap_alloc", formatBytes(stats.HeapAllocBytes)),
		zap.String("sys", formatBytes(sys)),
		zap.Uint32("gc_cycles", newGC),
	}
	for _, name := range []string{StageCycle, StagePreprocess, StageInference, StagePostprocess} {
		if s, ok := stats.Stages[name]; ok {
			fields = append(fields, zap.Duration(name+"_avg", s.Avg.Truncate(time.Microsecond)))
		}
	}
	if stats.LastFailure != "" {
		fields = append(fields, zap.String("last_failure", stats.LastFailure))
	}

	rp.logger.Info("profiler report", fields...)
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
