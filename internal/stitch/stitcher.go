package stitch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"longscribe/internal/window"
)

var (
	// ErrNoResult is returned by a ResultResolver when no transcript exists for a window
	ErrNoResult = errors.New("no transcript found for window")
	// ErrMalformedResult is returned by a ResultResolver when a window's transcript cannot be decoded
	ErrMalformedResult = errors.New("malformed transcript for window")
)

// ResultResolver locates and decodes the transcript produced for one window of a job
type ResultResolver interface {
	ResolveWindowResult(ctx context.Context, jobID string, index int) ([]LocalSegment, error)
}

// Stitcher collects per-window results and merges them into one transcript
type Stitcher struct {
	logger *zap.Logger
	opts   Options
}

// NewStitcher creates a new Stitcher instance
func NewStitcher(logger *zap.Logger, opts Options) (*Stitcher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Stitcher{
		logger: logger,
		opts:   opts,
	}, nil
}

// Collect resolves the transcript of every window. Windows whose result is missing or
// malformed are left out of the returned map; any other resolver error aborts.
func (s *Stitcher) Collect(ctx context.Context, resolver ResultResolver, jobID string, windows []window.Window) (map[int][]LocalSegment, error) {
	results := make(map[int][]LocalSegment, len(windows))

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("collection cancelled: %w", err)
		}

		segments, err := resolver.ResolveWindowResult(ctx, jobID, w.Index)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoResult):
			s.logger.Warn("no transcript for window, skipping",
				zap.String("job_id", jobID),
				zap.Int("window_index", w.Index))
			continue
		case errors.Is(err, ErrMalformedResult):
			s.logger.Warn("unreadable transcript for window, skipping",
				zap.String("job_id", jobID),
				zap.Int("window_index", w.Index),
				zap.Error(err))
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("collection cancelled: %w", err)
		default:
			return nil, fmt.Errorf("failed to resolve window %d: %w", w.Index, err)
		}

		s.logger.Debug("resolved window transcript",
			zap.String("job_id", jobID),
			zap.Int("window_index", w.Index),
			zap.Int("segments", len(segments)))
		results[w.Index] = segments
	}

	return results, nil
}

// Stitch collects every window's transcript and merges them
func (s *Stitcher) Stitch(ctx context.Context, resolver ResultResolver, jobID string, windows []window.Window) ([]GlobalSegment, MergeStats, error) {
	results, err := s.Collect(ctx, resolver, jobID, windows)
	if err != nil {
		return nil, MergeStats{}, err
	}

	segments, stats, err := Merge(windows, results, s.opts)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to merge windows: %w", err)
	}

	s.logger.Info("stitched transcript",
		zap.String("job_id", jobID),
		zap.Int("windows", stats.Windows),
		zap.Int("unresolved", stats.WindowsUnresolved),
		zap.Int("segments", len(segments)),
		zap.Int("dropped", stats.Dropped()),
		zap.Int("dropped_overlap", stats.DroppedOverlap),
		zap.Int("dropped_short", stats.DroppedShort),
		zap.Int("dropped_malformed", stats.DroppedMalformed),
		zap.Int("dropped_outside", stats.DroppedOutside))

	return segments, stats, nil
}
