package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorgonia.org/tensor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// box is one detector output anchor in model pixels.
type box struct {
	cx, cy, w, h float32
	class        int
	score        float32
}

// yoloOutput builds a (1, 84, n) output tensor holding the given anchors.
func yoloOutput(boxes ...box) *tensor.Dense {
	n := max(len(boxes), 1)
	data := make([]float32, 84*n)
	for a, b := range boxes {
		data[0*n+a] = b.cx
		data[1*n+a] = b.cy
		data[2*n+a] = b.w
		data[3*n+a] = b.h
		data[(4+b.class)*n+a] = b.score
	}
	return tensor.New(tensor.WithShape(1, 84, n), tensor.WithBacking(data))
}

type fakeSource struct {
	mu    sync.Mutex
	frame images.Frame
}

func newFakeSource(width, height int) *fakeSource {
	return &fakeSource{frame: images.Frame{
		Pixels: make([]byte, width*height*images.ChannelsRGB),
		Width:  width,
		Height: height,
	}}
}

func (s *fakeSource) CurrentFrame() images.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *fakeSource) set(frame images.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
}

// fakeEngine returns a fixed output, optionally blocking until released.
type fakeEngine struct {
	mu      sync.Mutex
	output  *tensor.Dense
	err     error
	gate    chan struct{}
	calls   int
	entered chan struct{}
}

func (e *fakeEngine) Execute(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error) {
	e.mu.Lock()
	e.calls++
	gate, entered, output, err := e.gate, e.entered, e.output, e.err
	e.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return output, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeRenderer struct {
	mu            sync.Mutex
	width, height int
	sets          []DetectionSet
}

func (r *fakeRenderer) RenderSize() (int, int) { return r.width, r.height }

func (r *fakeRenderer) Render(set DetectionSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, set)
}

func (r *fakeRenderer) rendered() []DetectionSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DetectionSet(nil), r.sets...)
}

type fakeTelemetry struct {
	mu        sync.Mutex
	completed int
	failures  []error
}

func (t *fakeTelemetry) CycleCompleted(time.Duration, StageTimings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
}

func (t *fakeTelemetry) CycleFailed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, err)
}

type harness struct {
	pipeline  *Pipeline
	source    *fakeSource
	engine    *fakeEngine
	renderer  *fakeRenderer
	telemetry *fakeTelemetry
	clock     *clock.Mock
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T, output *tensor.Dense) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		source:    newFakeSource(1280, 720),
		engine:    &fakeEngine{output: output},
		renderer:  &fakeRenderer{},
		telemetry: &fakeTelemetry{},
		clock:     clock.NewMock(),
		logs:      logs,
	}

	p, err := New(DefaultConfig(), Params{
		Source:    h.source,
		Engine:    h.engine,
		Classes:   models.DefaultClassRegistry(),
		Renderer:  h.renderer,
		Telemetry: h.telemetry,
		Clock:     h.clock,
		Logger:    zap.New(core),
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

// runCycle ticks once and waits for the cycle to finish.
func (h *harness) runCycle(t *testing.T) {
	t.Helper()
	require.True(t, h.pipeline.Tick(context.Background()), "expected a cycle to start")
	h.pipeline.Wait()
}

// car is a car at model pixels (100..300, 240..340) of a letterboxed 1280x720 frame.
var car = box{cx: 200, cy: 290, w: 200, h: 100, class: 2, score: 0.82}

func TestPipeline_StableIDAcrossCycles(t *testing.T) {
	h := newHarness(t, yoloOutput(car))
	h.pipeline.SetKeyword("car")
	require.NoError(t, h.pipeline.Start())

	for i := 0; i < 3; i++ {
		h.runCycle(t)
		h.clock.Add(250 * time.Millisecond)
	}

	sets := h.renderer.rendered()
	require.Len(t, sets, 3)
	for _, set := range sets {
		require.Len(t, set.Detections, 1)
		d := set.Detections[0]
		assert.Equal(t, sets[0].Detections[0].ID, d.ID)
		assert.Equal(t, 2, d.ClassID)
		assert.Equal(t, "car", d.ClassName)
		assert.Equal(t, float32(0.82), d.Score)
		assert.True(t, d.IsKeywordMatch)
		assert.Equal(t, 1, set.TotalCount)
		assert.Equal(t, 1, set.KeywordMatchCount)
	}
	assert.Equal(t, 3, h.telemetry.completed)
	assert.Equal(t, uint64(3), h.pipeline.Snapshot().Cycles)
	assert.Equal(t, 1, h.pipeline.Snapshot().Tracks)

	// Stopping clears identities; the next session mints a new one.
	require.NoError(t, h.pipeline.Stop())
	assert.Equal(t, 0, h.pipeline.Snapshot().Tracks)
	require.NoError(t, h.pipeline.NewSession())
	require.NoError(t, h.pipeline.Start())
	h.runCycle(t)

	sets = h.renderer.rendered()
	require.Len(t, sets, 4)
	assert.NotEqual(t, sets[0].Detections[0].ID, sets[3].Detections[0].ID)
}

func TestPipeline_ScreenMapping(t *testing.T) {
	h := newHarness(t, yoloOutput(car))
	h.renderer.width, h.renderer.height = 640, 360
	require.NoError(t, h.pipeline.Start())
	h.runCycle(t)

	sets := h.renderer.rendered()
	require.Len(t, sets, 1)
	d := sets[0].Detections[0]

	assert.Equal(t, images.Rect{X1: 100, Y1: 240, X2: 300, Y2: 340}, d.Box)
	assert.InDelta(t, 100, d.ScreenBox.X, 1e-6)
	assert.InDelta(t, 100, d.ScreenBox.Y, 1e-6)
	assert.InDelta(t, 200, d.ScreenBox.Width, 1e-6)
	assert.InDelta(t, 100, d.ScreenBox.Height, 1e-6)
}

func TestPipeline_KeywordFiltering(t *testing.T) {
	h := newHarness(t, yoloOutput(
		car,
		box{cx: 500, cy: 300, w: 60, h: 120, class: 0, score: 0.9},
		box{cx: 400, cy: 450, w: 40, h: 40, class: 2, score: 0.3},
	))
	require.NoError(t, h.pipeline.Start())

	h.runCycle(t)
	h.pipeline.SetKeyword("CAR")
	h.clock.Add(time.Second)
	h.runCycle(t)

	sets := h.renderer.rendered()
	require.Len(t, sets, 2)

	// Empty keyword matches nothing; the low score car is suppressed.
	assert.Equal(t, 2, sets[0].TotalCount)
	assert.Equal(t, 0, sets[0].KeywordMatchCount)

	assert.Equal(t, 2, sets[1].TotalCount)
	assert.Equal(t, 1, sets[1].KeywordMatchCount)
	assert.Equal(t, "person", sets[1].Detections[0].ClassName)
	assert.False(t, sets[1].Detections[0].IsKeywordMatch)
	assert.True(t, sets[1].Detections[1].IsKeywordMatch)
}

func TestPipeline_AdaptiveInterval(t *testing.T) {
	h := newHarness(t, yoloOutput(car))
	require.NoError(t, h.pipeline.Start())

	h.runCycle(t)
	assert.False(t, h.pipeline.Tick(context.Background()), "fallback interval has not elapsed")

	h.clock.Add(199 * time.Millisecond)
	assert.False(t, h.pipeline.Tick(context.Background()))

	h.clock.Add(time.Millisecond)
	h.runCycle(t)
	assert.Equal(t, 200*time.Millisecond, h.pipeline.Snapshot().Interval)
}

func TestPipeline_SingleFlight(t *testing.T) {
	h := newHarness(t, yoloOutput(car))
	h.engine.gate = make(chan struct{})
	h.engine.entered = make(chan struct{}, 1)
	require.NoError(t, h.pipeline.Start())

	require.True(t, h.pipeline.Tick(context.Background()))
	<-h.engine.entered

	h.clock.Add(time.Second)
	assert.False(t, h.pipeline.Tick(context.Background()), "a cycle is already in flight")
	assert.True(t, h.pipeline.Snapshot().Busy)

	close(h.engine.gate)
	h.pipeline.Wait()

	assert.Equal(t, 1, h.engine.callCount())
	assert.False(t, h.pipeline.Snapshot().Busy)
	h.runCycle(t)
}

func TestPipeline_StopDiscardsInFlightResult(t *testing.T) {
	h := newHarness(t, yoloOutput(car))
	h.engine.gate = make(chan struct{})
	h.engine.entered = make(chan struct{}, 1)
	require.NoError(t, h.pipeline.Start())

	require.True(t, h.pipeline.Tick(context.Background()))
	<-h.engine.entered
	require.NoError(t, h.pipeline.Stop())

	close(h.engine.gate)
	h.pipeline.Wait()

	assert.Empty(t, h.renderer.rendered())
	snap := h.pipeline.Snapshot()
	assert.Equal(t, Stopped, snap.State)
	assert.Equal(t, 0, snap.Tracks)
	assert.Equal(t, uint64(0), snap.Cycles)
}

func TestPipeline_DecodeErrorKeepsRunning(t *testing.T) {
	bad := tensor.New(tensor.WithShape(1, 85, 10), tensor.WithBacking(make([]float32, 850)))
	h := newHarness(t, bad)
	require.NoError(t, h.pipeline.Start())

	h.runCycle(t)

	assert.Equal(t, Running, h.pipeline.Snapshot().State)
	assert.Empty(t, h.renderer.rendered())
	assert.Empty(t, h.telemetry.failures)
	assert.Equal(t, 1, h.logs.FilterMessage("decode failed, skipping cycle").FilterLevelExact(zapcore.WarnLevel).Len())

	// The failed cycle recorded no timing.
	assert.Equal(t, 200*time.Millisecond, h.pipeline.Snapshot().Interval)

	h.clock.Add(time.Second)
	h.runCycle(t)
	assert.Equal(t, 2, h.engine.callCount())
}

func TestPipeline_InferenceErrorStops(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.err = errors.New("device lost")
	require.NoError(t, h.pipeline.Start())

	h.runCycle(t)

	snap := h.pipeline.Snapshot()
	assert.Equal(t, Stopped, snap.State)
	var ierr *inference.InferenceError
	require.True(t, errors.As(snap.LastError, &ierr))
	require.Len(t, h.telemetry.failures, 1)
	assert.Equal(t, 1, h.logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	h.clock.Add(time.Second)
	assert.False(t, h.pipeline.Tick(context.Background()))

	require.NoError(t, h.pipeline.NewSession())
	assert.Equal(t, Idle, h.pipeline.Snapshot().State)
	assert.NoError(t, h.pipeline.Snapshot().LastError)
}

func TestPipeline_PreprocessErrorStops(t *testing.T) {
	h := newHarness(t, yoloOutput(car))
	require.NoError(t, h.pipeline.Start())

	h.source.set(images.Frame{Width: 1280, Height: 720, Pixels: make([]byte, 16)})
	h.runCycle(t)

	snap := h.pipeline.Snapshot()
	assert.Equal(t, Stopped, snap.State)
	assert.Error(t, snap.LastError)
	assert.Equal(t, 0, h.engine.callCount())
	require.Len(t, h.telemetry.failures, 1)
}

func TestPipeline_PauseResume(t *testing.T) {
	h := newHarness(t, yoloOutput(car))
	require.NoError(t, h.pipeline.Start())
	h.runCycle(t)

	require.NoError(t, h.pipeline.Pause())
	h.clock.Add(time.Second)
	assert.False(t, h.pipeline.Tick(context.Background()))
	assert.Equal(t, 1, h.pipeline.Snapshot().Tracks, "pause keeps tracking state")

	require.NoError(t, h.pipeline.Resume())
	assert.False(t, h.pipeline.Tick(context.Background()), "elapsed time restarts at resume")

	h.clock.Add(200 * time.Millisecond)
	h.runCycle(t)

	sets := h.renderer.rendered()
	require.Len(t, sets, 2)
	assert.Equal(t, sets[0].Detections[0].ID, sets[1].Detections[0].ID)
}

func TestPipeline_Transitions(t *testing.T) {
	h := newHarness(t, yoloOutput(car))
	p := h.pipeline

	assert.ErrorIs(t, p.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, p.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, p.Stop(), ErrInvalidTransition)
	assert.False(t, p.Tick(context.Background()), "idle pipelines do not tick")

	h.source.set(images.Frame{})
	assert.ErrorIs(t, p.Start(), ErrSourceNotReady)
	h.source.set(newFakeSource(640, 480).CurrentFrame())

	require.NoError(t, p.SetEngine(nil))
	assert.ErrorIs(t, p.Start(), ErrModelNotLoaded)
	require.NoError(t, p.SetEngine(h.engine))

	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), ErrInvalidTransition)
	assert.ErrorIs(t, p.SetEngine(h.engine), ErrInvalidTransition)
	assert.ErrorIs(t, p.NewSession(), ErrInvalidTransition)

	require.NoError(t, p.Pause())
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	assert.ErrorIs(t, p.Start(), ErrInvalidTransition)
	require.NoError(t, p.NewSession())
	require.NoError(t, p.Start())
}

func TestPipeline_Run(t *testing.T) {
	renderer := &fakeRenderer{}
	config := DefaultConfig()
	config.TickInterval = time.Millisecond

	p, err := New(config, Params{
		Source:   newFakeSource(320, 240),
		Engine:   &fakeEngine{output: yoloOutput(car)},
		Classes:  models.DefaultClassRegistry(),
		Renderer: renderer,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(renderer.rendered()) > 0 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.False(t, p.Snapshot().Busy)
}

func TestPipeline_RunReturnsOnFailure(t *testing.T) {
	config := DefaultConfig()
	config.TickInterval = time.Millisecond

	p, err := New(config, Params{
		Source:   newFakeSource(320, 240),
		Engine:   &fakeEngine{err: errors.New("device lost")},
		Classes:  models.DefaultClassRegistry(),
		Renderer: &fakeRenderer{},
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		var inferErr *inference.InferenceError
		require.True(t, errors.As(err, &inferErr), "got %v", err)
		assert.Contains(t, err.Error(), "device lost")
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept ticking after the session failed")
	}

	snap := p.Snapshot()
	assert.Equal(t, Stopped, snap.State)
	assert.False(t, snap.Busy)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), Params{})
	assert.Error(t, err)
}

func TestMatchesKeyword(t *testing.T) {
	assert.True(t, MatchesKeyword("car", "car"))
	assert.True(t, MatchesKeyword("traffic light", "LIGHT"))
	assert.True(t, MatchesKeyword("hot dog", " dog "))
	assert.False(t, MatchesKeyword("car", ""))
	assert.False(t, MatchesKeyword("car", "   "))
	assert.False(t, MatchesKeyword("bus", "car"))
}
