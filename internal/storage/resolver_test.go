package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"longscribe/internal/stitch"
	"longscribe/internal/window"
)

const workerDoc = `{"detected":{"language":"en"},"segments":[{"id":0,"start":0.5,"end":1.5,"text":" hi"}]}`

func newTestResolver(t *testing.T, objects map[string]string) *WindowResultResolver {
	t.Helper()
	store := newTestLocalStore(t)
	for key, body := range objects {
		require.NoError(t, store.Put(context.Background(), key, []byte(body), "application/json"))
	}
	return NewWindowResultResolver(store, "chunks/", zaptest.NewLogger(t))
}

// deniedStore fails every lookup the way S3 does for a missing permission
type deniedStore struct {
	Store
}

var errAccessDenied = errors.New("AccessDenied: 403")

func (d deniedStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, errAccessDenied
}

func (d deniedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, errAccessDenied
}

func TestChunkResultKey(t *testing.T) {
	assert.Equal(t, "chunks/job-1/00012/out.json", ChunkResultKey("chunks", "job-1", 12))
}

func TestWindowResultResolver_FindKey(t *testing.T) {
	tests := []struct {
		name     string
		objects  map[string]string
		index    int
		expected string
	}{
		{
			name:     "zero padded layout",
			objects:  map[string]string{"chunks/job/00003/out.json": workerDoc},
			index:    3,
			expected: "chunks/job/00003/out.json",
		},
		{
			name:     "plain index layout",
			objects:  map[string]string{"chunks/job/3/out.json": workerDoc},
			index:    3,
			expected: "chunks/job/3/out.json",
		},
		{
			name:     "chunk dash layout",
			objects:  map[string]string{"chunks/job/chunk-3/out.json": workerDoc},
			index:    3,
			expected: "chunks/job/chunk-3/out.json",
		},
		{
			name:     "padded layout wins over others",
			objects:  map[string]string{"chunks/job/3/out.json": workerDoc, "chunks/job/00003/out.json": workerDoc},
			index:    3,
			expected: "chunks/job/00003/out.json",
		},
		{
			name:     "nested directory matched by listing",
			objects:  map[string]string{"chunks/job/run-a/00003/out.json": workerDoc},
			index:    3,
			expected: "chunks/job/run-a/00003/out.json",
		},
		{
			name:     "single document for window zero",
			objects:  map[string]string{"chunks/job/whatever/out.json": workerDoc},
			index:    0,
			expected: "chunks/job/whatever/out.json",
		},
	}

	for _, tt := range tests {
		t.Run("should resolve "+tt.name, func(t *testing.T) {
			// Arrange
			resolver := newTestResolver(t, tt.objects)

			// Act
			key, err := resolver.FindKey(context.Background(), "job", tt.index)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tt.expected, key)
		})
	}

	t.Run("should not reuse a single document for later windows", func(t *testing.T) {
		resolver := newTestResolver(t, map[string]string{"chunks/job/whatever/out.json": workerDoc})

		_, err := resolver.FindKey(context.Background(), "job", 1)

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should not match index 1 against 10", func(t *testing.T) {
		resolver := newTestResolver(t, map[string]string{
			"chunks/job/x/10/out.json": workerDoc,
			"chunks/job/x/11/out.json": workerDoc,
		})

		_, err := resolver.FindKey(context.Background(), "job", 1)

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should ignore other jobs", func(t *testing.T) {
		resolver := newTestResolver(t, map[string]string{"chunks/other/00000/out.json": workerDoc})

		_, err := resolver.FindKey(context.Background(), "job", 0)

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestWindowResultResolver_ResolveWindowResult(t *testing.T) {
	t.Run("should decode local segments", func(t *testing.T) {
		// Arrange
		resolver := newTestResolver(t, map[string]string{"chunks/job/00000/out.json": workerDoc})

		// Act
		segments, err := resolver.ResolveWindowResult(context.Background(), "job", 0)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []stitch.LocalSegment{{Start: 0.5, End: 1.5, Text: " hi"}}, segments)
	})

	t.Run("should report ErrNoResult for a missing window", func(t *testing.T) {
		resolver := newTestResolver(t, nil)

		_, err := resolver.ResolveWindowResult(context.Background(), "job", 4)

		assert.ErrorIs(t, err, stitch.ErrNoResult)
	})

	t.Run("should reject an undecodable document", func(t *testing.T) {
		resolver := newTestResolver(t, map[string]string{"chunks/job/00000/out.json": "{"})

		_, err := resolver.ResolveWindowResult(context.Background(), "job", 0)

		assert.ErrorIs(t, err, stitch.ErrMalformedResult)
		assert.NotErrorIs(t, err, stitch.ErrNoResult)
	})

	t.Run("should reject a document with a segment missing its end", func(t *testing.T) {
		resolver := newTestResolver(t, map[string]string{
			"chunks/job/00000/out.json": `{"segments":[{"id":0,"start":1,"text":"a"}]}`,
		})

		_, err := resolver.ResolveWindowResult(context.Background(), "job", 0)

		assert.ErrorIs(t, err, stitch.ErrMalformedResult)
		assert.ErrorContains(t, err, "malformed worker document")
	})

	t.Run("should surface store failures as neither missing nor malformed", func(t *testing.T) {
		resolver := NewWindowResultResolver(deniedStore{Store: newTestLocalStore(t)}, "chunks", zaptest.NewLogger(t))

		_, err := resolver.ResolveWindowResult(context.Background(), "job", 0)

		assert.ErrorIs(t, err, errAccessDenied)
		assert.NotErrorIs(t, err, stitch.ErrNoResult)
		assert.NotErrorIs(t, err, stitch.ErrMalformedResult)
	})

	t.Run("should feed the stitcher", func(t *testing.T) {
		resolver := newTestResolver(t, map[string]string{"chunks/job/00000/out.json": workerDoc})
		stitcher, err := stitch.NewStitcher(zaptest.NewLogger(t), stitch.DefaultOptions())
		require.NoError(t, err)

		windows := []window.Window{{Index: 0, StartSec: 0, EndSec: 10}, {Index: 1, StartSec: 9, EndSec: 19}}

		results, err := stitcher.Collect(context.Background(), resolver, "job", windows)

		require.NoError(t, err)
		assert.Len(t, results, 1)
		assert.Contains(t, results, 0)
	})
}
