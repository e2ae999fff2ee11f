package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"longscribe/internal/stitch"
	"longscribe/internal/transcriber"
)

// OutputFileName is the name of the per-chunk worker document
const OutputFileName = "out.json"

// ChunkResultKey is the canonical key a chunk's worker document is uploaded to
func ChunkResultKey(chunkPrefix, jobID string, index int) string {
	return fmt.Sprintf("%s/%s/%05d/%s", chunkPrefix, jobID, index, OutputFileName)
}

// WindowResultResolver finds per-window worker documents in the results store
type WindowResultResolver struct {
	store       Store
	chunkPrefix string
	logger      *zap.Logger
}

// NewWindowResultResolver creates a resolver reading below chunkPrefix/<job>/
func NewWindowResultResolver(store Store, chunkPrefix string, logger *zap.Logger) *WindowResultResolver {
	return &WindowResultResolver{
		store:       store,
		chunkPrefix: strings.TrimSuffix(chunkPrefix, "/"),
		logger:      logger,
	}
}

// candidates lists the known per-chunk layouts in lookup order
func (r *WindowResultResolver) candidates(jobID string, index int) []string {
	base := r.chunkPrefix + "/" + jobID
	return []string{
		ChunkResultKey(r.chunkPrefix, jobID, index),
		fmt.Sprintf("%s/%d/%s", base, index, OutputFileName),
		fmt.Sprintf("%s/chunk-%d/%s", base, index, OutputFileName),
	}
}

// FindKey returns the key holding the worker document for index, or ErrNotFound.
// Known layouts are tried first, then a listing of the job prefix is matched on the
// parent directory. A job with a single document resolves it for window 0.
func (r *WindowResultResolver) FindKey(ctx context.Context, jobID string, index int) (string, error) {
	for _, key := range r.candidates(jobID, index) {
		ok, err := r.store.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}

	keys, err := r.store.List(ctx, r.chunkPrefix+"/"+jobID+"/")
	if err != nil {
		return "", err
	}

	var outputs []string
	for _, key := range keys {
		if path.Base(key) != OutputFileName {
			continue
		}
		outputs = append(outputs, key)
		parent := path.Base(path.Dir(key))
		if parent == fmt.Sprintf("%05d", index) ||
			parent == fmt.Sprintf("%d", index) ||
			parent == fmt.Sprintf("chunk-%d", index) {
			return key, nil
		}
	}

	if len(outputs) == 1 && index == 0 {
		r.logger.Debug("using the only worker document of the job",
			zap.String("job_id", jobID),
			zap.String("key", outputs[0]))
		return outputs[0], nil
	}

	return "", fmt.Errorf("window %d of job %s: %w", index, jobID, ErrNotFound)
}

// ResolveWindowResult loads and decodes the worker document of one window
func (r *WindowResultResolver) ResolveWindowResult(ctx context.Context, jobID string, index int) ([]stitch.LocalSegment, error) {
	key, err := r.FindKey(ctx, jobID, index)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", stitch.ErrNoResult, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to locate window %d: %w", index, err)
	}

	data, err := r.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", stitch.ErrNoResult, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.store.URI(key), err)
	}

	out, err := transcriber.ParseWorkerOutput(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", stitch.ErrMalformedResult, r.store.URI(key), err)
	}

	segments, err := out.LocalSegments()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed worker document %s: %v", stitch.ErrMalformedResult, r.store.URI(key), err)
	}

	return segments, nil
}
