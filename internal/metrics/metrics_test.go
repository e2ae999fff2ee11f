package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"longscribe/internal/stitch"
)

func TestJobMetrics_ObserveStats(t *testing.T) {
	t.Run("should count windows and dropped segments by reason", func(t *testing.T) {
		// Arrange
		m := NewJobMetrics(zaptest.NewLogger(t))
		stats := stitch.MergeStats{
			Windows:           3,
			WindowsUnresolved: 1,
			DroppedOverlap:    4,
			DroppedShort:      2,
			DroppedMalformed:  1,
		}

		// Act
		m.ObserveStats(stats)

		// Assert
		assert.Equal(t, 3.0, testutil.ToFloat64(m.windows))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.windowsUnresolved))
		assert.Equal(t, 4.0, testutil.ToFloat64(m.segmentsDropped.WithLabelValues("overlap")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.segmentsDropped.WithLabelValues("short")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.segmentsDropped.WithLabelValues("malformed")))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.segmentsDropped.WithLabelValues("outside")))
	})
}

func TestJobMetrics_ObserveSegments(t *testing.T) {
	t.Run("should count segments and their durations", func(t *testing.T) {
		// Arrange
		m := NewJobMetrics(zaptest.NewLogger(t))
		segments := []stitch.GlobalSegment{
			{ID: 0, Start: 0, End: 1.5, Text: "a"},
			{ID: 1, Start: 2, End: 6, Text: "b"},
		}

		// Act
		m.ObserveSegments(segments)

		// Assert
		assert.Equal(t, 2.0, testutil.ToFloat64(m.segmentsEmitted))
		err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP longscribe_segment_duration_seconds Duration of segments in the stitched transcript
# TYPE longscribe_segment_duration_seconds histogram
longscribe_segment_duration_seconds_bucket{le="0.25"} 0
longscribe_segment_duration_seconds_bucket{le="0.5"} 0
longscribe_segment_duration_seconds_bucket{le="1"} 0
longscribe_segment_duration_seconds_bucket{le="2"} 1
longscribe_segment_duration_seconds_bucket{le="5"} 2
longscribe_segment_duration_seconds_bucket{le="10"} 2
longscribe_segment_duration_seconds_bucket{le="20"} 2
longscribe_segment_duration_seconds_bucket{le="30"} 2
longscribe_segment_duration_seconds_bucket{le="+Inf"} 2
longscribe_segment_duration_seconds_sum 5.5
longscribe_segment_duration_seconds_count 2
`), "longscribe_segment_duration_seconds")
		assert.NoError(t, err)
	})
}

func TestJobMetrics_ObserveChunkAndStage(t *testing.T) {
	m := NewJobMetrics(zaptest.NewLogger(t))

	m.ObserveChunk(true)
	m.ObserveChunk(true)
	m.ObserveChunk(false)
	m.ObservePrepared(1800)
	m.ObserveStage("stitch", 250*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunksTranscribed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunksTranscribed.WithLabelValues("failed")))
	assert.Equal(t, 1800.0, testutil.ToFloat64(m.audioSecondsPrepared))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))

	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP longscribe_windows_total Windows considered by the stitcher
# TYPE longscribe_windows_total counter
longscribe_windows_total 0
`), "longscribe_windows_total")
	assert.NoError(t, err)
}

func TestJobMetrics_Push(t *testing.T) {
	t.Run("should do nothing without a url", func(t *testing.T) {
		m := NewJobMetrics(zaptest.NewLogger(t))

		assert.NoError(t, m.Push(context.Background(), "", "job"))
	})

	t.Run("should push grouped by job id", func(t *testing.T) {
		// Arrange
		var mu sync.Mutex
		var paths []string
		var bodies []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			paths = append(paths, r.URL.Path)
			bodies = append(bodies, string(body))
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()
		m := NewJobMetrics(zaptest.NewLogger(t))
		m.ObserveStats(stitch.MergeStats{Windows: 3})

		// Act
		err := m.Push(context.Background(), server.URL, "job-1")

		// Assert
		require.NoError(t, err)
		mu.Lock()
		defer mu.Unlock()
		require.Len(t, paths, 1)
		assert.Equal(t, "/metrics/job/longscribe/job_id/job-1", paths[0])
		assert.NotEmpty(t, bodies[0])
	})

	t.Run("should wrap gateway errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()
		m := NewJobMetrics(zaptest.NewLogger(t))

		err := m.Push(context.Background(), server.URL, "job-1")

		assert.ErrorContains(t, err, "failed to push metrics")
	})
}
