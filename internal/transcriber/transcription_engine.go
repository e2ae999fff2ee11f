package transcriber

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"longscribe/internal/performance"
)

// ChunkRequest identifies one chunk to transcribe
type ChunkRequest struct {
	Index        int
	AudioPath    string
	OutPath      string
	AudioSeconds float64
}

// Engine transcribes chunks into worker output documents
type Engine interface {
	TranscribeChunk(ctx context.Context, req ChunkRequest) (*WorkerOutput, error)
}

// TranscriptionEngine drives the speech worker and records its performance
type TranscriptionEngine struct {
	logger             *zap.Logger
	model              WhisperModel
	performanceMonitor *performance.PerformanceMonitor
}

// NewTranscriptionEngine creates a new TranscriptionEngine instance
func NewTranscriptionEngine(logger *zap.Logger, model WhisperModel, monitor *performance.PerformanceMonitor) *TranscriptionEngine {
	if monitor == nil {
		monitor = performance.NewPerformanceMonitor(logger)
	}
	return &TranscriptionEngine{
		logger:             logger,
		model:              model,
		performanceMonitor: monitor,
	}
}

// TranscribeChunk runs the worker for one chunk and parses the document it wrote
func (te *TranscriptionEngine) TranscribeChunk(ctx context.Context, req ChunkRequest) (*WorkerOutput, error) {
	if te.model == nil {
		return nil, fmt.Errorf("whisper model not initialized")
	}

	te.logger.Info("transcribing chunk",
		zap.Int("window_index", req.Index),
		zap.String("audio", req.AudioPath),
		zap.Float64("audio_seconds", req.AudioSeconds))

	timer := te.performanceMonitor.StartTranscription(req.Index, req.AudioSeconds, te.model.Device())

	if err := te.model.Transcribe(ctx, req.AudioPath, req.OutPath); err != nil {
		te.performanceMonitor.EndTranscription(timer, false)
		return nil, fmt.Errorf("failed to transcribe window %d: %w", req.Index, err)
	}

	data, err := os.ReadFile(req.OutPath)
	if err != nil {
		te.performanceMonitor.EndTranscription(timer, false)
		return nil, fmt.Errorf("failed to read worker output for window %d: %w", req.Index, err)
	}

	out, err := ParseWorkerOutput(data)
	if err != nil {
		te.performanceMonitor.EndTranscription(timer, false)
		return nil, fmt.Errorf("window %d: %w", req.Index, err)
	}
	te.performanceMonitor.EndTranscription(timer, true)

	if _, err := out.LocalSegments(); err != nil {
		te.logger.Warn("worker output has malformed segments",
			zap.Int("window_index", req.Index),
			zap.Error(err))
	}

	te.logger.Info("chunk transcribed",
		zap.Int("window_index", req.Index),
		zap.Int("segments", len(out.Segments)),
		zap.String("language", out.DetectedLanguage()),
		zap.Duration("processing_time", timer.ProcessingTime))

	return out, nil
}

// GetPerformanceMonitor returns the performance monitor
func (te *TranscriptionEngine) GetPerformanceMonitor() *performance.PerformanceMonitor {
	return te.performanceMonitor
}
