package stitch

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"longscribe/internal/window"
)

// ErrInvalidOptions is returned when merge tunables are out of range
var ErrInvalidOptions = errors.New("invalid merge options")

// Default merge tunables
const (
	DefaultMinSegmentSec = 0.06
	DefaultOverlapEps    = 1e-6
)

// Options holds the merge tunables
type Options struct {
	// MinSegmentSec is the shortest segment kept in the output
	MinSegmentSec float64
	// OverlapEps is the tolerance used when comparing against the running timeline
	OverlapEps float64
}

// DefaultOptions returns the default merge tunables
func DefaultOptions() Options {
	return Options{
		MinSegmentSec: DefaultMinSegmentSec,
		OverlapEps:    DefaultOverlapEps,
	}
}

// Validate checks that both tunables are finite and positive
func (o Options) Validate() error {
	if math.IsNaN(o.MinSegmentSec) || o.MinSegmentSec <= 0 {
		return fmt.Errorf("%w: min_segment_sec must be greater than zero, got %v", ErrInvalidOptions, o.MinSegmentSec)
	}
	if math.IsNaN(o.OverlapEps) || o.OverlapEps <= 0 {
		return fmt.Errorf("%w: overlap_eps must be greater than zero, got %v", ErrInvalidOptions, o.OverlapEps)
	}
	return nil
}

// Merge rebuilds one ordered, non-overlapping transcript from per-window local segments.
//
// Windows are visited in ascending index order and each window's segments in their given
// order. A window with no entry in results is unresolved and skipped. The first pass
// translates, clamps, de-duplicates against the running end of the timeline and trims left
// edges; the second pass snaps any start that still dips below the previous end and drops
// what falls under the minimum duration. Segments are never reordered and text is never split.
func Merge(windows []window.Window, results map[int][]LocalSegment, opts Options) ([]GlobalSegment, MergeStats, error) {
	var stats MergeStats
	if err := opts.Validate(); err != nil {
		return nil, stats, err
	}

	ordered := slices.Clone(windows)
	slices.SortStableFunc(ordered, func(a, b window.Window) int {
		return a.Index - b.Index
	})

	merged := make([]GlobalSegment, 0)
	lastEnd := 0.0
	nextID := 0

	for _, w := range ordered {
		segments, ok := results[w.Index]
		if !ok {
			stats.WindowsUnresolved++
			continue
		}

		for _, seg := range segments {
			if err := seg.Validate(); err != nil {
				stats.DroppedMalformed++
				continue
			}

			gs := seg.Start + w.StartSec
			ge := seg.End + w.StartSec

			// clamp to the window's own span
			if math.Min(ge, w.EndSec)-math.Max(gs, w.StartSec) <= opts.OverlapEps {
				stats.DroppedOutside++
				continue
			}
			gs = math.Max(gs, w.StartSec)
			ge = math.Min(ge, w.EndSec)

			// already covered by the timeline emitted so far
			if ge <= lastEnd+opts.OverlapEps {
				stats.DroppedOverlap++
				continue
			}
			if gs < lastEnd {
				gs = lastEnd
			}

			if ge-gs < opts.MinSegmentSec {
				stats.DroppedShort++
				continue
			}

			merged = append(merged, GlobalSegment{
				ID:    nextID,
				Start: window.RoundMillis(gs),
				End:   window.RoundMillis(ge),
				Text:  strings.TrimSpace(seg.Text),
			})
			nextID++
			lastEnd = ge
		}

		stats.Windows++
	}

	fixed := make([]GlobalSegment, 0, len(merged))
	last := 0.0
	for _, seg := range merged {
		start, end := seg.Start, seg.End
		if start < last {
			start = last
		}
		if end-start < opts.MinSegmentSec {
			stats.DroppedShort++
			continue
		}
		fixed = append(fixed, GlobalSegment{
			ID:    len(fixed),
			Start: window.RoundMillis(start),
			End:   window.RoundMillis(end),
			Text:  seg.Text,
		})
		last = end
	}

	return fixed, stats, nil
}
