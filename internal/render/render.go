package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"longscribe/internal/stitch"
)

// FormatTimestamp renders seconds as HH:MM:SS<sep>mmm. Hours are not capped at 24.
func FormatTimestamp(sec float64, sep byte) string {
	ms := int64(math.Round(sec * 1000))
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	ms -= hours * 3_600_000
	minutes := ms / 60_000
	ms -= minutes * 60_000
	seconds := ms / 1000
	ms -= seconds * 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, seconds, sep, ms)
}

// Text renders one line per segment
func Text(segments []stitch.GlobalSegment) string {
	if len(segments) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// SRT renders SubRip cues numbered from 1 with comma-decimal timestamps
func SRT(segments []stitch.GlobalSegment) string {
	parts := make([]string, 0, len(segments)*4)
	for i, s := range segments {
		parts = append(parts,
			strconv.Itoa(i+1),
			FormatTimestamp(s.Start, ',')+" --> "+FormatTimestamp(s.End, ','),
			s.Text,
			"")
	}
	return strings.Join(parts, "\n")
}

// VTT renders a WebVTT document with dot-decimal timestamps and no cue identifiers
func VTT(segments []stitch.GlobalSegment) string {
	lines := make([]string, 0, 2+len(segments)*3)
	lines = append(lines, "WEBVTT", "")
	for _, s := range segments {
		lines = append(lines,
			FormatTimestamp(s.Start, '.')+" --> "+FormatTimestamp(s.End, '.'),
			s.Text,
			"")
	}
	return strings.Join(lines, "\n")
}
