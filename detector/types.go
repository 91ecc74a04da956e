// Package detector - The keyword-filtered detection pipeline and its collaborators.
package detector

import (
	"time"

	"github.com/nvr-ai/go-detect/images"
)

// State is the lifecycle state of a Pipeline.
type State int

const (
	// Idle is a fresh session waiting to be started.
	Idle State = iota
	// Running ticks and runs detection cycles.
	Running
	// Paused keeps all session state but runs no cycles.
	Paused
	// Stopped has discarded tracking and timing state; start a new session to run again.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Detection is one identified object of a completed cycle.
type Detection struct {
	// ID is stable across consecutive cycles while the object keeps matching.
	ID string `json:"id"`
	// ClassID is the predicted class index.
	ClassID int `json:"class_id"`
	// ClassName is the registry label of ClassID.
	ClassName string `json:"class_name"`
	// Score is the confidence in [0,1].
	Score float32 `json:"score"`
	// Box is x1,y1,x2,y2 in model-input pixels.
	Box images.Rect `json:"box"`
	// ScreenBox is the box in display space.
	ScreenBox images.ScreenBox `json:"screen_box"`
	// IsKeywordMatch reports whether ClassName matches the session keyword.
	IsKeywordMatch bool `json:"is_keyword_match"`
}

// DetectionSet is emitted once per completed cycle.
type DetectionSet struct {
	Timestamp         time.Time   `json:"timestamp"`
	Detections        []Detection `json:"detections"`
	TotalCount        int         `json:"total_count"`
	KeywordMatchCount int         `json:"keyword_match_count"`
}

// StageTimings breaks a cycle down by stage.
type StageTimings struct {
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
}

// FrameSource supplies the most recent frame. An empty frame means the source is not ready.
type FrameSource interface {
	CurrentFrame() images.Frame
}

// ClassNames resolves class ids to labels.
type ClassNames interface {
	Lookup(classID int) string
}

// Renderer receives every completed DetectionSet.
//
// Render is called with the pipeline lock held so that no set is delivered after Stop
// returns; it must not call back into the Pipeline.
type Renderer interface {
	// RenderSize returns the display size; non-positive values mean source pixels.
	RenderSize() (width, height int)
	Render(set DetectionSet)
}

// Telemetry receives cycle-rate observations.
type Telemetry interface {
	CycleCompleted(took time.Duration, stages StageTimings)
	CycleFailed(err error)
}

// Snapshot is a read-only view of a Pipeline.
type Snapshot struct {
	State     State
	Busy      bool
	Keyword   string
	Interval  time.Duration
	Cycles    uint64
	Tracks    int
	LastError error
}
