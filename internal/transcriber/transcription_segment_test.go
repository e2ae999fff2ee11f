package transcriber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWorkerOutput = `{
  "version": "1.0",
  "created_utc": "2024-05-01T12:00:00Z",
  "input": {"audio_path": "/tmp/000.mp3", "language": null, "initial_prompt": null},
  "engine": {"impl": "faster-whisper", "model": "large-v3", "device": "cuda",
             "ctranslate2_compute_type": "int8_float16", "beam_size": 5, "vad_filter": false},
  "detected": {"language": "en", "language_probability": 0.98, "duration": 601.0},
  "timing": {"total_s": 42.5, "init_and_config_s": 3.1},
  "segments": [
    {"id": 0, "start": 0.0, "end": 2.5, "text": " Hello there.", "avg_logprob": -0.2},
    {"id": 1, "start": 2.5, "end": 4.0, "text": " General Kenobi."}
  ]
}`

func TestParseWorkerOutput(t *testing.T) {
	t.Run("should decode a complete worker document", func(t *testing.T) {
		// Act
		out, err := ParseWorkerOutput([]byte(sampleWorkerOutput))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "1.0", out.Version)
		assert.Equal(t, "large-v3", out.Engine.Model)
		assert.Equal(t, "int8_float16", out.Engine.ComputeType)
		assert.Equal(t, "en", out.DetectedLanguage())
		assert.InDelta(t, 42.5, out.Timing.TotalS, 1e-9)
		assert.Len(t, out.Segments, 2)
		assert.Nil(t, out.Input.Language)
	})

	t.Run("should reject invalid JSON", func(t *testing.T) {
		_, err := ParseWorkerOutput([]byte(`{"segments": [`))

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse worker output")
	})

	t.Run("should report empty language when none detected", func(t *testing.T) {
		out, err := ParseWorkerOutput([]byte(`{"segments": []}`))

		require.NoError(t, err)
		assert.Equal(t, "", out.DetectedLanguage())
	})
}

func TestWorkerOutput_LocalSegments(t *testing.T) {
	t.Run("should convert segments in order", func(t *testing.T) {
		// Arrange
		out, err := ParseWorkerOutput([]byte(sampleWorkerOutput))
		require.NoError(t, err)

		// Act
		segments, err := out.LocalSegments()

		// Assert
		require.NoError(t, err)
		require.Len(t, segments, 2)
		assert.Equal(t, 0.0, segments[0].Start)
		assert.Equal(t, 2.5, segments[0].End)
		assert.Equal(t, " Hello there.", segments[0].Text)
		assert.Equal(t, " General Kenobi.", segments[1].Text)
	})

	t.Run("should reject a segment without end", func(t *testing.T) {
		out, err := ParseWorkerOutput([]byte(`{"segments": [{"id": 0, "start": 1.0, "text": "hi"}]}`))
		require.NoError(t, err)

		_, err = out.LocalSegments()

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "end is required")
	})

	t.Run("should reject a segment without text", func(t *testing.T) {
		out, err := ParseWorkerOutput([]byte(`{"segments": [{"id": 0, "start": 1.0, "end": 2.0}]}`))
		require.NoError(t, err)

		_, err = out.LocalSegments()

		assert.ErrorContains(t, err, "text is required")
	})

	t.Run("should accept an empty segment list", func(t *testing.T) {
		out, err := ParseWorkerOutput([]byte(`{"segments": []}`))
		require.NoError(t, err)

		segments, err := out.LocalSegments()

		assert.NoError(t, err)
		assert.Empty(t, segments)
	})
}

func TestTranscriptionSegment_Validate(t *testing.T) {
	start, end, text := 1.0, 2.0, "hi"

	assert.NoError(t, (&TranscriptionSegment{Start: &start, End: &end, Text: &text}).Validate())
	assert.ErrorContains(t, (&TranscriptionSegment{End: &end, Text: &text}).Validate(), "start is required")
	assert.ErrorContains(t, (&TranscriptionSegment{Start: &start, Text: &text}).Validate(), "end is required")
	assert.ErrorContains(t, (&TranscriptionSegment{Start: &start, End: &end}).Validate(), "text is required")
}
