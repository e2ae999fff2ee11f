package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"longscribe/internal/stitch"
)

// ErrUnsupportedFormat is returned for an output extension with no renderer
var ErrUnsupportedFormat = errors.New("unsupported rendering format")

// Format identifies one rendering of a transcript
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "txt"
	FormatVTT  Format = "vtt"
	FormatSRT  Format = "srt"
)

// Formats lists every rendering in the order artifacts are written
var Formats = []Format{FormatJSON, FormatText, FormatVTT, FormatSRT}

// ParseFormat maps a file extension, with or without the leading dot, to a Format
func ParseFormat(ext string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(ext, ".")))
	switch f {
	case FormatJSON, FormatText, FormatVTT, FormatSRT:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q (supported: json, txt, vtt, srt)", ErrUnsupportedFormat, ext)
}

// ParseFormats maps a list of extensions to formats in the given order, dropping
// duplicates. Entries may hold several comma separated extensions. An empty list
// selects every format.
func ParseFormats(exts []string) ([]Format, error) {
	var formats []Format
	for _, entry := range exts {
		for _, ext := range strings.Split(entry, ",") {
			ext = strings.TrimSpace(ext)
			if ext == "" {
				continue
			}
			f, err := ParseFormat(ext)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(formats, f) {
				formats = append(formats, f)
			}
		}
	}
	if len(formats) == 0 {
		return slices.Clone(Formats), nil
	}
	return formats, nil
}

// ContentType returns the MIME type stored alongside an artifact
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	case FormatSRT:
		return "application/x-subrip; charset=utf-8"
	}
	return "application/octet-stream"
}

// FileName returns the artifact name for this format
func (f Format) FileName() string {
	return "transcript." + string(f)
}

// Transcript is the canonical machine-readable record of a stitched job
type Transcript struct {
	JobID       string                 `json:"job_id"`
	Language    *string                `json:"language"`
	DurationSec float64                `json:"duration_sec"`
	Segments    []stitch.GlobalSegment `json:"segments"`
}

// NewTranscript builds the record; duration is the end of the last segment or zero.
// An empty language is recorded as null.
func NewTranscript(jobID, language string, segments []stitch.GlobalSegment) Transcript {
	t := Transcript{
		JobID:    jobID,
		Segments: segments,
	}
	if t.Segments == nil {
		t.Segments = []stitch.GlobalSegment{}
	}
	if language != "" {
		t.Language = &language
	}
	if n := len(segments); n > 0 {
		t.DurationSec = segments[n-1].End
	}
	return t
}

// MarshalTranscript encodes the transcript without HTML escaping
func MarshalTranscript(t Transcript) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ParseTranscript decodes a transcript previously produced by MarshalTranscript
func ParseTranscript(data []byte) (Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return Transcript{}, fmt.Errorf("failed to parse transcript: %w", err)
	}
	if t.Segments == nil {
		t.Segments = []stitch.GlobalSegment{}
	}
	return t, nil
}

// Artifact is one rendered output ready to be stored
type Artifact struct {
	Format      Format
	FileName    string
	ContentType string
	Data        []byte
}

// Bundle holds the transcript and every rendering derived from it
type Bundle struct {
	Transcript Transcript
	Text       string
	VTT        string
	SRT        string
}

// NewBundle renders all formats from the final segment sequence
func NewBundle(jobID, language string, segments []stitch.GlobalSegment) Bundle {
	return Bundle{
		Transcript: NewTranscript(jobID, language, segments),
		Text:       Text(segments),
		VTT:        VTT(segments),
		SRT:        SRT(segments),
	}
}

// Render returns the bytes for a single format
func (b Bundle) Render(f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return MarshalTranscript(b.Transcript)
	case FormatText:
		return []byte(b.Text), nil
	case FormatVTT:
		return []byte(b.VTT), nil
	case FormatSRT:
		return []byte(b.SRT), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
}

// Artifacts renders the given formats in order, or every format when none is given
func (b Bundle) Artifacts(formats ...Format) ([]Artifact, error) {
	if len(formats) == 0 {
		formats = Formats
	}
	artifacts := make([]Artifact, 0, len(formats))
	for _, f := range formats {
		data, err := b.Render(f)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, Artifact{
			Format:      f,
			FileName:    f.FileName(),
			ContentType: f.ContentType(),
			Data:        data,
		})
	}
	return artifacts, nil
}
