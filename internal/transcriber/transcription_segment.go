package transcriber

import (
	"encoding/json"
	"fmt"

	"longscribe/internal/stitch"
)

// TranscriptionSegment is one utterance as written by the speech worker, relative to its chunk
type TranscriptionSegment struct {
	ID           int      `json:"id"`
	Start        *float64 `json:"start"`
	End          *float64 `json:"end"`
	Text         *string  `json:"text"`
	AvgLogprob   *float64 `json:"avg_logprob,omitempty"`
	NoSpeechProb *float64 `json:"no_speech_prob,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// Validate checks that the fields the stitcher relies on are present
func (ts *TranscriptionSegment) Validate() error {
	if ts.Start == nil {
		return fmt.Errorf("start is required")
	}

	if ts.End == nil {
		return fmt.Errorf("end is required")
	}

	if ts.Text == nil {
		return fmt.Errorf("text is required")
	}

	return nil
}

// WorkerInput echoes what the worker was asked to transcribe
type WorkerInput struct {
	AudioPath     string  `json:"audio_path"`
	Language      *string `json:"language"`
	InitialPrompt *string `json:"initial_prompt"`
}

// WorkerEngine describes the model configuration the worker ran with
type WorkerEngine struct {
	Impl        string `json:"impl"`
	Model       string `json:"model"`
	Device      string `json:"device"`
	ComputeType string `json:"ctranslate2_compute_type"`
	BeamSize    int    `json:"beam_size"`
	VADFilter   bool   `json:"vad_filter"`
}

// Detected holds what the worker inferred about the audio
type Detected struct {
	Language            *string  `json:"language"`
	LanguageProbability *float64 `json:"language_probability"`
	Duration            *float64 `json:"duration"`
}

// Timing records worker wall-clock durations in seconds
type Timing struct {
	TotalS         float64 `json:"total_s"`
	InitAndConfigS float64 `json:"init_and_config_s"`
}

// WorkerOutput is the out.json document produced for one chunk
type WorkerOutput struct {
	Version    string                 `json:"version"`
	CreatedUTC string                 `json:"created_utc"`
	Input      WorkerInput            `json:"input"`
	Engine     WorkerEngine           `json:"engine"`
	Detected   Detected               `json:"detected"`
	Timing     Timing                 `json:"timing"`
	Segments   []TranscriptionSegment `json:"segments"`
}

// ParseWorkerOutput decodes an out.json document
func ParseWorkerOutput(data []byte) (*WorkerOutput, error) {
	var out WorkerOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse worker output: %w", err)
	}
	return &out, nil
}

// LocalSegments converts the worker segments for stitching. A segment missing a required
// field makes the whole document unusable.
func (wo *WorkerOutput) LocalSegments() ([]stitch.LocalSegment, error) {
	segments := make([]stitch.LocalSegment, 0, len(wo.Segments))
	for i := range wo.Segments {
		seg := &wo.Segments[i]
		if err := seg.Validate(); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		segments = append(segments, stitch.LocalSegment{
			Start: *seg.Start,
			End:   *seg.End,
			Text:  *seg.Text,
		})
	}
	return segments, nil
}

// DetectedLanguage returns the language the worker detected, or empty
func (wo *WorkerOutput) DetectedLanguage() string {
	if wo.Detected.Language == nil {
		return ""
	}
	return *wo.Detected.Language
}
