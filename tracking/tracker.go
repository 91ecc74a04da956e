// Package tracking - Cross-frame identity assignment for suppressed detections.
package tracking

import (
	"fmt"
	"math"
	"time"

	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"github.com/nvr-ai/go-detect/images"
	"go.uber.org/zap"
)

// CoordinateSpace selects the units the match threshold is expressed in.
type CoordinateSpace string

const (
	// SpaceNormalized compares positions as a fraction of the model input size.
	SpaceNormalized CoordinateSpace = "normalized"
	// SpacePixel compares positions in model-input pixels.
	SpacePixel CoordinateSpace = "pixel"
)

// Namespace seeds the deterministic ids minted by the tracker.
var Namespace = uuid.MustParse("6f1d7c52-3b0e-4f8a-9c0d-5a1e2b3c4d5e")

// Config holds the tracker tunables.
type Config struct {
	// MatchThreshold is the largest |dx| and |dy| of the top-left corner for a match (exclusive).
	MatchThreshold float32 `json:"match_threshold" yaml:"match_threshold"`
	// Space is the unit MatchThreshold is expressed in.
	Space CoordinateSpace `json:"space" yaml:"space"`
	// ModelWidth normalizes x offsets in SpaceNormalized.
	ModelWidth int `json:"model_width" yaml:"model_width"`
	// ModelHeight normalizes y offsets in SpaceNormalized.
	ModelHeight int `json:"model_height" yaml:"model_height"`
}

// DefaultConfig matches within 15% of the 640x640 model input.
func DefaultConfig() Config {
	return Config{
		MatchThreshold: 0.15,
		Space:          SpaceNormalized,
		ModelWidth:     640,
		ModelHeight:    640,
	}
}

// Observation is a detection awaiting an identity.
type Observation struct {
	// ID is set when the detection already carries an identity.
	ID string
	// ClassID is the predicted class.
	ClassID int
	// Box is in model-input pixels.
	Box images.Rect
}

// Record is the identity and position of one detection in the previous cycle.
type Record struct {
	ID      string
	ClassID int
	Box     images.Rect
}

// Tracker assigns stable ids to detections across consecutive cycles.
//
// It keeps exactly one generation of history: records that are not matched in the
// immediately following cycle are forgotten. Matching is greedy first-match in record order,
// and each record can be claimed by only one detection per cycle.
//
// A Tracker is not safe for concurrent use; the pipeline owns it.
type Tracker struct {
	config   Config
	previous []Record
	logger   *zap.Logger
}

// New creates a tracker with no history.
func New(config Config, logger *zap.Logger) *Tracker {
	if config.Space == "" {
		config.Space = SpaceNormalized
	}
	if config.ModelWidth <= 0 {
		config.ModelWidth = 640
	}
	if config.ModelHeight <= 0 {
		config.ModelHeight = 640
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{config: config, logger: logger}
}

// Resolve assigns an id to every observation and replaces the history with the result.
//
// For each observation in order:
//  1. an id it already carries is kept;
//  2. otherwise the first unclaimed previous record of the same class whose top-left corner
//     is within the threshold on both axes lends its id;
//  3. otherwise a new id is derived from the class, the rounded position and the cycle time.
//
// Claims are exclusive: once a previous record lends its id it is skipped for the rest of
// the cycle. Accepting the first matching record regardless of claims would let two nearby
// detections of one class share an id, so this intentionally differs from a plain
// first-match lookup.
//
// Arguments:
//   - observations: The current cycle's detections, in keep order.
//   - ts: The cycle timestamp.
//
// Returns:
//   - []Record: The identified detections, in the same order as observations.
func (t *Tracker) Resolve(observations []Observation, ts time.Time) []Record {
	current := make([]Record, len(observations))
	claimed := make([]bool, len(t.previous))
	minted := 0

	for i, obs := range observations {
		id := obs.ID
		if id == "" {
			if j := t.match(obs, claimed); j >= 0 {
				claimed[j] = true
				id = t.previous[j].ID
			}
		}
		if id == "" {
			id = newID(obs, ts, minted)
			minted++
			t.logger.Debug("new track",
				zap.String("id", id),
				zap.Int("class_id", obs.ClassID),
				zap.Float32("x1", obs.Box.X1),
				zap.Float32("y1", obs.Box.Y1),
			)
		}
		current[i] = Record{ID: id, ClassID: obs.ClassID, Box: obs.Box}
	}

	t.previous = append([]Record(nil), current...)
	return current
}

// Reset forgets all history.
func (t *Tracker) Reset() {
	t.previous = nil
}

// Records returns a copy of the history used for the next match.
func (t *Tracker) Records() []Record {
	return append([]Record(nil), t.previous...)
}

func (t *Tracker) match(obs Observation, claimed []bool) int {
	for j, rec := range t.previous {
		if claimed[j] || rec.ClassID != obs.ClassID {
			continue
		}
		dx, dy := t.offset(rec.Box, obs.Box)
		if dx < t.config.MatchThreshold && dy < t.config.MatchThreshold {
			return j
		}
	}
	return -1
}

// offset returns the absolute top-left displacement between two boxes in the configured space.
func (t *Tracker) offset(a, b images.Rect) (float32, float32) {
	dx := math32.Abs(a.X1 - b.X1)
	dy := math32.Abs(a.Y1 - b.Y1)
	if t.config.Space == SpaceNormalized {
		dx /= float32(t.config.ModelWidth)
		dy /= float32(t.config.ModelHeight)
	}
	return dx, dy
}

// newID derives a deterministic id; seq separates detections minted in the same cycle.
func newID(obs Observation, ts time.Time, seq int) string {
	key := fmt.Sprintf("%d:%d:%d:%d:%d",
		obs.ClassID,
		int(math.Round(float64(obs.Box.X1))),
		int(math.Round(float64(obs.Box.Y1))),
		ts.UnixMilli(),
		seq,
	)
	return uuid.NewSHA1(Namespace, []byte(key)).String()
}
