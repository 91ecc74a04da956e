package detector

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nvr-ai/go-detect/controller"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/models/model/preprocess"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/tracking"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config holds the pipeline tunables.
type Config struct {
	// Model is the model input geometry and letterbox value.
	Model preprocess.ModelConfig `json:"model" yaml:"model"`
	// NumClasses is the number of class scores per anchor.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// NMS holds the suppression thresholds.
	NMS postprocess.NMSConfig `json:"nms" yaml:"nms"`
	// Tracker holds the identity matching tunables.
	Tracker tracking.Config `json:"tracker" yaml:"tracker"`
	// Scheduler holds the adaptive interval tunables.
	Scheduler controller.SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	// TickInterval is the cadence Run calls Tick at.
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
	// Keyword is the initial keyword.
	Keyword string `json:"keyword" yaml:"keyword"`
}

// DefaultConfig returns the 640x640, 80-class YOLOv8 configuration.
func DefaultConfig() Config {
	return Config{
		Model:        preprocess.DefaultModelConfig(),
		NumClasses:   postprocess.DefaultNumClasses,
		NMS:          postprocess.DefaultNMSConfig(),
		Tracker:      tracking.DefaultConfig(),
		Scheduler:    controller.DefaultSchedulerConfig(),
		TickInterval: 16 * time.Millisecond,
	}
}

// Params are the collaborators of a Pipeline.
type Params struct {
	// Source supplies frames. Required.
	Source FrameSource
	// Engine runs the model. May be set later with SetEngine.
	Engine inference.Engine
	// Classes names class ids. Required.
	Classes ClassNames
	// Renderer receives detection sets. Required.
	Renderer Renderer
	// Telemetry receives cycle observations, nil for none.
	Telemetry Telemetry
	// Clock drives timing, nil for the wall clock.
	Clock clock.Clock
	// Logger receives lifecycle and failure events, nil for none.
	Logger *zap.Logger
}

// Pipeline runs keyword-filtered detection cycles over a live frame source.
//
// It is externally ticked: each Tick starts at most one cycle, and only when the session
// is Running, no cycle is in flight and the adaptive interval has elapsed since the last
// cycle started. The cycle runs on its own goroutine. A generation counter, bumped on
// Stop, makes a cycle that outlives its session discard its result.
type Pipeline struct {
	config       Config
	source       FrameSource
	classes      ClassNames
	renderer     Renderer
	telemetry    Telemetry
	clock        clock.Clock
	logger       *zap.Logger
	preprocessor *preprocess.Preprocessor
	decoder      *postprocess.Decoder

	mu         sync.Mutex
	engine     inference.Engine
	state      State
	busy       bool
	generation uint64
	lastRun    time.Time
	tracker    *tracking.Tracker
	scheduler  *controller.Scheduler
	keyword    string
	cycles     uint64
	lastErr    error

	wg sync.WaitGroup
}

// New creates an Idle pipeline.
//
// Arguments:
//   - config: The pipeline tunables.
//   - params: The collaborators.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: An error if a required collaborator is missing or the model geometry is invalid.
func New(config Config, params Params) (*Pipeline, error) {
	if params.Source == nil || params.Classes == nil || params.Renderer == nil {
		return nil, errors.New("source, classes and renderer are required")
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.Telemetry == nil {
		params.Telemetry = nopTelemetry{}
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 16 * time.Millisecond
	}

	pre, err := preprocess.NewPreprocessor(config.Model, params.Logger.Named("preprocess"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create preprocessor")
	}

	trackerConfig := config.Tracker
	trackerConfig.ModelWidth = config.Model.InputWidth
	trackerConfig.ModelHeight = config.Model.InputHeight

	return &Pipeline{
		config:       config,
		source:       params.Source,
		classes:      params.Classes,
		renderer:     params.Renderer,
		telemetry:    params.Telemetry,
		clock:        params.Clock,
		logger:       params.Logger,
		preprocessor: pre,
		decoder:      postprocess.NewDecoder(config.NumClasses),
		engine:       params.Engine,
		state:        Idle,
		tracker:      tracking.New(trackerConfig, params.Logger.Named("tracker")),
		scheduler:    controller.NewScheduler(config.Scheduler),
		keyword:      config.Keyword,
	}, nil
}

// SetEngine sets the inference engine. Only allowed while Idle or Stopped.
func (p *Pipeline) SetEngine(engine inference.Engine) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Idle && p.state != Stopped {
		return errors.Wrapf(ErrInvalidTransition, "cannot swap engine while %s", p.state)
	}
	p.engine = engine
	return nil
}

// SetKeyword changes the keyword. It applies to sets emitted after the call.
func (p *Pipeline) SetKeyword(keyword string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keyword = keyword
}

// Start moves an Idle session to Running.
//
// Returns:
//   - error: ErrInvalidTransition unless Idle, ErrSourceNotReady if the source has no
//     frame, ErrModelNotLoaded if no engine is set.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Idle {
		return errors.Wrapf(ErrInvalidTransition, "cannot start while %s", p.state)
	}
	if p.source.CurrentFrame().Empty() {
		return ErrSourceNotReady
	}
	if p.engine == nil {
		return ErrModelNotLoaded
	}

	p.tracker.Reset()
	p.scheduler.Reset()
	p.lastRun = time.Time{}
	p.state = Running
	p.logger.Info("pipeline started", zap.String("keyword", p.keyword))
	return nil
}

// Pause suspends a Running session, keeping its tracking and timing state.
func (p *Pipeline) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Running {
		return errors.Wrapf(ErrInvalidTransition, "cannot pause while %s", p.state)
	}
	p.state = Paused
	p.logger.Info("pipeline paused")
	return nil
}

// Resume continues a Paused session. The interval is measured from the resume.
func (p *Pipeline) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Paused {
		return errors.Wrapf(ErrInvalidTransition, "cannot resume while %s", p.state)
	}
	p.lastRun = p.clock.Now()
	p.state = Running
	p.logger.Info("pipeline resumed")
	return nil
}

// Stop ends a Running or Paused session. Tracking and timing state is cleared and the
// result of any cycle still in flight is discarded. Stopping a Stopped session is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Stopped:
		return nil
	case Idle:
		return errors.Wrapf(ErrInvalidTransition, "cannot stop while %s", p.state)
	}
	p.stopLocked()
	p.logger.Info("pipeline stopped")
	return nil
}

// NewSession returns a Stopped session to Idle so it can be started again.
func (p *Pipeline) NewSession() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Idle:
		return nil
	case Stopped:
	default:
		return errors.Wrapf(ErrInvalidTransition, "cannot begin a new session while %s", p.state)
	}
	p.state = Idle
	p.lastErr = nil
	p.cycles = 0
	return nil
}

// stopLocked must be called with mu held.
func (p *Pipeline) stopLocked() {
	p.state = Stopped
	p.generation++
	p.tracker.Reset()
	p.scheduler.Reset()
}

// Tick starts a detection cycle if one is due.
//
// Arguments:
//   - ctx: Passed to the inference engine.
//
// Returns:
//   - bool: True if a cycle was started.
func (p *Pipeline) Tick(ctx context.Context) bool {
	p.mu.Lock()
	if p.state != Running || p.busy {
		p.mu.Unlock()
		return false
	}
	now := p.clock.Now()
	if !p.lastRun.IsZero() && now.Sub(p.lastRun) < p.scheduler.Interval() {
		p.mu.Unlock()
		return false
	}

	p.busy = true
	p.lastRun = now
	gen := p.generation
	engine := p.engine
	p.wg.Add(1)
	p.mu.Unlock()

	go p.cycle(ctx, gen, engine, now)
	return true
}

// Run calls Tick every TickInterval until ctx is done, then waits for the cycle in flight.
//
// A cycle failure stops the session and Run returns its PreprocessError or InferenceError.
// An explicit Stop does not end Run, so the host can begin a new session on the same loop.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := p.clock.Ticker(p.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Wait()
			return nil
		case <-ticker.C:
			p.Tick(ctx)
			if err := p.failure(); err != nil {
				p.Wait()
				return err
			}
		}
	}
}

// failure returns the error that stopped the current session, if any.
func (p *Pipeline) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Stopped {
		return nil
	}
	return p.lastErr
}

// Wait blocks until no cycle is in flight.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Snapshot{
		State:     p.state,
		Busy:      p.busy,
		Keyword:   p.keyword,
		Interval:  p.scheduler.Interval(),
		Cycles:    p.cycles,
		Tracks:    len(p.tracker.Records()),
		LastError: p.lastErr,
	}
}

// cycle runs one preprocess, inference and postprocess pass and applies the result.
func (p *Pipeline) cycle(ctx context.Context, gen uint64, engine inference.Engine, start time.Time) {
	defer p.wg.Done()
	defer p.release()

	var stages StageTimings
	frame := p.source.CurrentFrame()

	input, err := p.preprocessor.Preprocess(frame)
	if err != nil {
		p.fail(gen, err)
		return
	}
	defer p.preprocessor.Release(input)
	stages.Preprocess = p.clock.Since(start)

	mark := p.clock.Now()
	output, err := engine.Execute(ctx, input.Tensor)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Debug("cycle cancelled", zap.Error(err))
			return
		}
		var ierr *inference.InferenceError
		if !errors.As(err, &ierr) {
			err = &inference.InferenceError{Message: "execute failed", Cause: err}
		}
		p.fail(gen, err)
		return
	}
	stages.Inference = p.clock.Since(mark)

	mark = p.clock.Now()
	candidates, err := p.decoder.Decode(output)
	if err != nil {
		p.logger.Warn("decode failed, skipping cycle", zap.Error(err))
		return
	}
	kept := postprocess.ApplyGreedyNMS(candidates, p.config.NMS)

	renderWidth, renderHeight := p.renderer.RenderSize()
	ratio := images.NewDisplayRatio(renderWidth, renderHeight, frame.Width, frame.Height)

	observations := make([]tracking.Observation, len(kept))
	for i, c := range kept {
		observations[i] = tracking.Observation{ClassID: c.ClassID, Box: c.Rect()}
	}

	timestamp := frame.Timestamp
	if timestamp.IsZero() {
		timestamp = start
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		p.logger.Debug("discarding stale cycle", zap.Uint64("generation", gen))
		return
	}

	records := p.tracker.Resolve(observations, start)
	set := DetectionSet{
		Timestamp:  timestamp,
		Detections: make([]Detection, len(kept)),
		TotalCount: len(kept),
	}
	for i, c := range kept {
		name := p.classes.Lookup(c.ClassID)
		match := MatchesKeyword(name, p.keyword)
		if match {
			set.KeywordMatchCount++
		}
		set.Detections[i] = Detection{
			ID:             records[i].ID,
			ClassID:        c.ClassID,
			ClassName:      name,
			Score:          c.Score,
			Box:            records[i].Box,
			ScreenBox:      postprocess.MapToScreen(records[i].Box, input.Padding, ratio),
			IsKeywordMatch: match,
		}
	}
	stages.Postprocess = p.clock.Since(mark)

	took := p.clock.Since(start)
	p.scheduler.RecordTiming(took)
	p.cycles++

	p.renderer.Render(set)
	p.telemetry.CycleCompleted(took, stages)

	p.logger.Debug("cycle completed",
		zap.Duration("took", took),
		zap.Int("detections", set.TotalCount),
		zap.Int("keyword_matches", set.KeywordMatchCount),
	)
}

// fail stops the session the cycle belongs to, unless it has already ended.
func (p *Pipeline) fail(gen uint64, err error) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.stopLocked()
	p.lastErr = err
	p.mu.Unlock()

	p.logger.Error("cycle failed, pipeline stopped", zap.Error(err))
	p.telemetry.CycleFailed(err)
}

func (p *Pipeline) release() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// MatchesKeyword reports whether name contains keyword, ignoring case.
// An empty keyword matches nothing.
func MatchesKeyword(name, keyword string) bool {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(keyword))
}

type nopTelemetry struct{}

func (nopTelemetry) CycleCompleted(time.Duration, StageTimings) {}

func (nopTelemetry) CycleFailed(error) {}
