package performance

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PerformanceMetrics aggregates timing of chunk transcriptions
type PerformanceMetrics struct {
	TotalTranscriptions  int64
	FailedTranscriptions int64
	TotalAudioSeconds    float64
	TotalProcessingTime  time.Duration
	GPUTranscriptions    int64
	CPUTranscriptions    int64
	AvgTranscriptionTime time.Duration
	MinTranscriptionTime time.Duration
	MaxTranscriptionTime time.Duration
	LastDevice           string
	LastProcessingTime   time.Duration
	LastAudioSeconds     float64
	LastTimestamp        time.Time
}

// RealtimeFactor returns seconds of audio transcribed per second of processing
func (m PerformanceMetrics) RealtimeFactor() float64 {
	if m.TotalProcessingTime <= 0 {
		return 0
	}
	return m.TotalAudioSeconds / m.TotalProcessingTime.Seconds()
}

// TranscriptionTimer tracks timing for one chunk
type TranscriptionTimer struct {
	StartTime      time.Time
	WindowIndex    int
	AudioSeconds   float64
	Device         string
	ProcessingTime time.Duration
}

// PerformanceMonitor handles performance tracking and reporting
type PerformanceMonitor struct {
	logger    *zap.Logger
	metrics   PerformanceMetrics
	mu        sync.RWMutex
	benchmark bool
}

// NewPerformanceMonitor creates a new performance monitor
func NewPerformanceMonitor(logger *zap.Logger) *PerformanceMonitor {
	return NewPerformanceMonitorWithBenchmark(logger, false)
}

// NewPerformanceMonitorWithBenchmark creates a performance monitor with benchmarking enabled
func NewPerformanceMonitorWithBenchmark(logger *zap.Logger, benchmark bool) *PerformanceMonitor {
	return &PerformanceMonitor{
		logger: logger,
		metrics: PerformanceMetrics{
			MinTranscriptionTime: time.Hour,
			LastTimestamp:        time.Now(),
		},
		benchmark: benchmark,
	}
}

// StartTranscription begins timing the transcription of one window's chunk
func (pm *PerformanceMonitor) StartTranscription(windowIndex int, audioSeconds float64, device string) *TranscriptionTimer {
	return &TranscriptionTimer{
		StartTime:    time.Now(),
		WindowIndex:  windowIndex,
		AudioSeconds: audioSeconds,
		Device:       device,
	}
}

// EndTranscription completes timing and updates metrics. Failed runs only bump the
// failure counter.
func (pm *PerformanceMonitor) EndTranscription(timer *TranscriptionTimer, succeeded bool) {
	timer.ProcessingTime = time.Since(timer.StartTime)

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if !succeeded {
		pm.metrics.FailedTranscriptions++
		return
	}

	pm.metrics.TotalTranscriptions++
	pm.metrics.TotalAudioSeconds += timer.AudioSeconds
	pm.metrics.TotalProcessingTime += timer.ProcessingTime
	pm.metrics.LastProcessingTime = timer.ProcessingTime
	pm.metrics.LastAudioSeconds = timer.AudioSeconds
	pm.metrics.LastDevice = timer.Device
	pm.metrics.LastTimestamp = time.Now()

	if timer.Device == "cuda" {
		pm.metrics.GPUTranscriptions++
	} else {
		pm.metrics.CPUTranscriptions++
	}

	if timer.ProcessingTime < pm.metrics.MinTranscriptionTime {
		pm.metrics.MinTranscriptionTime = timer.ProcessingTime
	}
	if timer.ProcessingTime > pm.metrics.MaxTranscriptionTime {
		pm.metrics.MaxTranscriptionTime = timer.ProcessingTime
	}

	pm.metrics.AvgTranscriptionTime = time.Duration(
		int64(pm.metrics.TotalProcessingTime) / pm.metrics.TotalTranscriptions,
	)

	if pm.benchmark {
		rtf := 0.0
		if s := timer.ProcessingTime.Seconds(); s > 0 {
			rtf = timer.AudioSeconds / s
		}
		pm.logger.Info("transcription performance",
			zap.Int("window_index", timer.WindowIndex),
			zap.String("device", timer.Device),
			zap.Float64("audio_seconds", timer.AudioSeconds),
			zap.Duration("processing_time", timer.ProcessingTime),
			zap.Float64("realtime_factor", rtf),
		)
	}
}

// GetMetrics returns a copy of current metrics
func (pm *PerformanceMonitor) GetMetrics() PerformanceMetrics {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return pm.metrics
}

// GetPerformanceSummary returns a formatted summary of performance metrics
func (pm *PerformanceMonitor) GetPerformanceSummary() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.metrics.TotalTranscriptions == 0 {
		return "No transcription metrics available"
	}

	gpuPercent := float64(pm.metrics.GPUTranscriptions) / float64(pm.metrics.TotalTranscriptions) * 100

	return fmt.Sprintf(
		"Performance Summary:\n"+
			"  Total Transcriptions: %d (%d failed)\n"+
			"  GPU Usage: %.1f%% (%d GPU, %d CPU)\n"+
			"  Avg Processing Time: %v\n"+
			"  Min/Max Processing Time: %v / %v\n"+
			"  Total Audio Processed: %.1f s\n"+
			"  Realtime Factor: x%.2f\n",
		pm.metrics.TotalTranscriptions,
		pm.metrics.FailedTranscriptions,
		gpuPercent,
		pm.metrics.GPUTranscriptions,
		pm.metrics.CPUTranscriptions,
		pm.metrics.AvgTranscriptionTime,
		pm.metrics.MinTranscriptionTime,
		pm.metrics.MaxTranscriptionTime,
		pm.metrics.TotalAudioSeconds,
		pm.metrics.RealtimeFactor(),
	)
}

// ResetMetrics clears all accumulated metrics
func (pm *PerformanceMonitor) ResetMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.metrics = PerformanceMetrics{
		MinTranscriptionTime: time.Hour,
		LastTimestamp:        time.Now(),
	}

	pm.logger.Info("performance metrics reset")
}

// LogCurrentMetrics logs the current performance metrics
func (pm *PerformanceMonitor) LogCurrentMetrics() {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	pm.logger.Info("current performance metrics",
		zap.Int64("total_transcriptions", pm.metrics.TotalTranscriptions),
		zap.Int64("failed_transcriptions", pm.metrics.FailedTranscriptions),
		zap.Int64("gpu_transcriptions", pm.metrics.GPUTranscriptions),
		zap.Int64("cpu_transcriptions", pm.metrics.CPUTranscriptions),
		zap.Float64("audio_seconds", pm.metrics.TotalAudioSeconds),
		zap.Duration("avg_processing_time", pm.metrics.AvgTranscriptionTime),
		zap.Float64("realtime_factor", pm.metrics.RealtimeFactor()),
	)
}
