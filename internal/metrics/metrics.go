package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"longscribe/internal/stitch"
)

// PushJobName is the Pushgateway job label used for every push
const PushJobName = "longscribe"

// JobMetrics holds the collectors of one pipeline run on a private registry
type JobMetrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	windows              prometheus.Counter
	windowsUnresolved    prometheus.Counter
	segmentsEmitted      prometheus.Counter
	segmentsDropped      *prometheus.CounterVec
	chunksTranscribed    *prometheus.CounterVec
	stageDuration        *prometheus.HistogramVec
	segmentDuration      prometheus.Histogram
	audioSecondsPrepared prometheus.Counter
}

// NewJobMetrics creates a new JobMetrics instance
func NewJobMetrics(logger *zap.Logger) *JobMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &JobMetrics{
		logger:   logger,
		registry: reg,
		windows: factory.NewCounter(prometheus.CounterOpts{
			Name: "longscribe_windows_total",
			Help: "Windows considered by the stitcher",
		}),
		windowsUnresolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "longscribe_windows_unresolved_total",
			Help: "Windows without a usable transcript",
		}),
		segmentsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "longscribe_segments_emitted_total",
			Help: "Segments in the stitched transcript",
		}),
		segmentsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "longscribe_segments_dropped_total",
			Help: "Segments dropped while stitching",
		}, []string{"reason"}),
		chunksTranscribed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "longscribe_chunks_transcribed_total",
			Help: "Chunks handed to the speech worker",
		}, []string{"status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "longscribe_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900, 3600},
		}, []string{"stage"}),
		segmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "longscribe_segment_duration_seconds",
			Help:    "Duration of segments in the stitched transcript",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		audioSecondsPrepared: factory.NewCounter(prometheus.CounterOpts{
			Name: "longscribe_audio_seconds_prepared_total",
			Help: "Seconds of source audio split into chunks",
		}),
	}
}

// Registry returns the registry the collectors live on
func (m *JobMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStats records the window and drop counters of a stitch
func (m *JobMetrics) ObserveStats(stats stitch.MergeStats) {
	m.windows.Add(float64(stats.Windows))
	m.windowsUnresolved.Add(float64(stats.WindowsUnresolved))
	m.segmentsDropped.WithLabelValues("overlap").Add(float64(stats.DroppedOverlap))
	m.segmentsDropped.WithLabelValues("short").Add(float64(stats.DroppedShort))
	m.segmentsDropped.WithLabelValues("malformed").Add(float64(stats.DroppedMalformed))
	m.segmentsDropped.WithLabelValues("outside").Add(float64(stats.DroppedOutside))
}

// ObserveSegments records the segments of a stitched transcript
func (m *JobMetrics) ObserveSegments(segments []stitch.GlobalSegment) {
	m.segmentsEmitted.Add(float64(len(segments)))
	for _, seg := range segments {
		m.segmentDuration.Observe(seg.Duration())
	}
}

// ObserveChunk records one speech worker run
func (m *JobMetrics) ObserveChunk(succeeded bool) {
	status := "ok"
	if !succeeded {
		status = "failed"
	}
	m.chunksTranscribed.WithLabelValues(status).Inc()
}

// ObservePrepared records the duration of a prepared source
func (m *JobMetrics) ObservePrepared(durationSec float64) {
	m.audioSecondsPrepared.Add(durationSec)
}

// ObserveStage records how long a pipeline stage took
func (m *JobMetrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Push sends the registry to a Pushgateway grouped by job id. An empty url disables pushing.
func (m *JobMetrics) Push(ctx context.Context, url, jobID string) error {
	if url == "" {
		return nil
	}

	pusher := push.New(url, PushJobName).
		Gatherer(m.registry).
		Grouping("job_id", jobID)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}

	m.logger.Debug("pushed metrics", zap.String("url", url), zap.String("job_id", jobID))
	return nil
}
