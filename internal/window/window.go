package window

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidChunkLength is returned when the chunk length is not positive
	ErrInvalidChunkLength = errors.New("chunk length must be greater than zero")
	// ErrInvalidOverlap is returned when the overlap is negative
	ErrInvalidOverlap = errors.New("overlap cannot be negative")
	// ErrInvalidDuration is returned for an infinite duration
	ErrInvalidDuration = errors.New("duration must be finite")
)

// Window is one overlapping time slice of the source audio, in absolute seconds
type Window struct {
	Index    int     `json:"index"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// Duration returns the length of the window in seconds
func (w Window) Duration() float64 {
	return w.EndSec - w.StartSec
}

// String returns a human-readable representation for logging
func (w Window) String() string {
	return fmt.Sprintf("window %d: %.3f-%.3f", w.Index, w.StartSec, w.EndSec)
}

// ComputeWindows splits durationSec into windows of chunkLenSec seconds where every window
// after the first starts overlapSec seconds before its nominal boundary.
//
// Index always equals the position i used to compute the bounds, so a window discarded at
// the tail never shifts the indices of the others. Bounds are rounded to milliseconds.
func ComputeWindows(durationSec float64, chunkLenSec, overlapSec int) ([]Window, error) {
	if chunkLenSec <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkLength, chunkLenSec)
	}
	if overlapSec < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOverlap, overlapSec)
	}
	if math.IsNaN(durationSec) || durationSec <= 0 {
		return []Window{}, nil
	}
	if math.IsInf(durationSec, 1) {
		return nil, ErrInvalidDuration
	}

	chunk := float64(chunkLenSec)
	n := int(math.Ceil(durationSec / chunk))
	windows := make([]Window, 0, n)

	for i := 0; i < n; i++ {
		start := 0.0
		if i > 0 {
			start = math.Max(0, float64(i)*chunk-float64(overlapSec))
		}
		end := math.Min(durationSec, float64(i+1)*chunk)
		if end <= start {
			continue
		}
		// rounding can collapse a sub-millisecond tail
		start, end = RoundMillis(start), RoundMillis(end)
		if end <= start {
			continue
		}
		windows = append(windows, Window{Index: i, StartSec: start, EndSec: end})
	}

	return windows, nil
}

// RoundMillis rounds seconds to three decimal places
func RoundMillis(sec float64) float64 {
	return math.Round(sec*1000) / 1000
}

// ChunkName returns the artifact file name for the chunk cut from window index
func ChunkName(index int, ext string) string {
	return fmt.Sprintf("%03d.%s", index, ext)
}
