// Package postprocess - provides Non-Maximum Suppression for detection candidates.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-detect/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"` // Candidates scoring below this are dropped.
	IoUThreshold        float32 `json:"iou_threshold" yaml:"iou_threshold"`               // Overlap at or above which a box is suppressed.
	MaxDetections       int     `json:"max_detections" yaml:"max_detections"`             // Upper bound on kept boxes, 0 for none.
	ClassAware          bool    `json:"class_aware" yaml:"class_aware"`                   // If true, suppress only within the same class.
}

// DefaultNMSConfig returns the class-agnostic defaults used for YOLOv8 output.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		ConfidenceThreshold: 0.4,
		IoUThreshold:        0.45,
		MaxDetections:       100,
	}
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Candidates below the confidence threshold are dropped, the rest are stably sorted by
// descending score and a candidate is kept only if its IoU with every kept candidate is
// below the IoU threshold. Suppression stops once MaxDetections are kept.
//
// Arguments:
//   - candidates: Decoded candidates in any order. The slice is not modified.
//   - config: NMS configuration.
//
// Returns:
//   - Kept candidates in keep order. If nothing survives, returns an empty slice.
func ApplyGreedyNMS(candidates []Candidate, config NMSConfig) []Candidate {
	sorted := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= config.ConfidenceThreshold {
			sorted = append(sorted, c)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	limit := len(sorted)
	if config.MaxDetections > 0 {
		limit = min(limit, config.MaxDetections)
	}
	kept := make([]Candidate, 0, limit)
	keptRects := make([]images.Rect, 0, limit)

	for _, c := range sorted {
		if len(kept) >= limit {
			break
		}

		rect := c.Rect()
		suppressed := false
		for i, anchor := range keptRects {
			if config.ClassAware && kept[i].ClassID != c.ClassID {
				continue
			}
			// Suppress if IoU reaches the threshold.
			if images.CalculateIoU(anchor, rect) >= config.IoUThreshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}

		kept = append(kept, c)
		keptRects = append(keptRects, rect)
	}

	return kept
}
