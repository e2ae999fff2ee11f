package stitch

import (
	"fmt"
	"math"
	"strings"
)

// LocalSegment is a transcribed utterance with timestamps relative to its own window
type LocalSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Validate checks that the segment has finite, ordered timestamps and non-blank text
func (ls LocalSegment) Validate() error {
	if math.IsNaN(ls.Start) || math.IsInf(ls.Start, 0) || math.IsNaN(ls.End) || math.IsInf(ls.End, 0) {
		return fmt.Errorf("timestamps must be finite")
	}

	if ls.End <= ls.Start {
		return fmt.Errorf("end must be greater than start")
	}

	if strings.TrimSpace(ls.Text) == "" {
		return fmt.Errorf("text cannot be empty")
	}

	return nil
}

// GlobalSegment is a transcribed utterance on the timeline of the full recording
type GlobalSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration returns the length of the segment in seconds
func (gs GlobalSegment) Duration() float64 {
	return gs.End - gs.Start
}

// MergeStats counts what happened to windows and segments during a merge
type MergeStats struct {
	Windows           int `json:"chunks"`
	WindowsUnresolved int `json:"unresolved"`
	DroppedOverlap    int `json:"dropped_overlap"`
	DroppedShort      int `json:"dropped_short"`
	DroppedMalformed  int `json:"dropped_malformed"`
	DroppedOutside    int `json:"dropped_outside"`
}

// Dropped returns the total number of segments that did not make it into the output
func (ms MergeStats) Dropped() int {
	return ms.DroppedOverlap + ms.DroppedShort + ms.DroppedMalformed + ms.DroppedOutside
}
