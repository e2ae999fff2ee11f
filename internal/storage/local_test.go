package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func TestLocalStore_PutGet(t *testing.T) {
	t.Run("should round trip object data", func(t *testing.T) {
		// Arrange
		store := newTestLocalStore(t)
		ctx := context.Background()

		// Act
		err := store.Put(ctx, "final/job/transcript.txt", []byte("hello\n"), "text/plain")
		require.NoError(t, err)
		data, getErr := store.Get(ctx, "final/job/transcript.txt")

		// Assert
		require.NoError(t, getErr)
		assert.Equal(t, "hello\n", string(data))
	})

	t.Run("should return ErrNotFound for a missing key", func(t *testing.T) {
		store := newTestLocalStore(t)

		_, err := store.Get(context.Background(), "missing")

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should honour a cancelled context", func(t *testing.T) {
		store := newTestLocalStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, store.Put(ctx, "k", []byte("v"), ""), context.Canceled)
	})
}

func TestLocalStore_Exists(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "chunks/job/00000/out.json", []byte("{}"), "application/json"))

	ok, err := store.Exists(ctx, "chunks/job/00000/out.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "chunks/job/00001/out.json")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Exists(ctx, "chunks/job")
	require.NoError(t, err)
	assert.False(t, ok, "directories are not objects")
}

func TestLocalStore_List(t *testing.T) {
	// Arrange
	store := newTestLocalStore(t)
	ctx := context.Background()
	for _, key := range []string{"chunks/b/001.mp3", "chunks/a/001.mp3", "chunks/a/000.mp3", "manifests/a.jsonl"} {
		require.NoError(t, store.Put(ctx, key, []byte("x"), ""))
	}

	// Act
	keys, err := store.List(ctx, "chunks/a/")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"chunks/a/000.mp3", "chunks/a/001.mp3"}, keys)
}

func TestLocalStore_UploadDownload(t *testing.T) {
	// Arrange
	store := newTestLocalStore(t)
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "000.mp3")
	require.NoError(t, os.WriteFile(src, []byte("audio"), 0o644))

	// Act
	require.NoError(t, store.Upload(ctx, src, "chunks/job/000.mp3", "audio/mpeg"))
	dst := filepath.Join(t.TempDir(), "nested", "copy.mp3")
	require.NoError(t, store.Download(ctx, "chunks/job/000.mp3", dst))

	// Assert
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
	assert.True(t, strings.HasPrefix(store.URI("chunks/job/000.mp3"), "file://"))
	assert.True(t, strings.HasSuffix(store.URI("chunks/job/000.mp3"), "/chunks/job/000.mp3"))

	assert.ErrorIs(t, store.Download(ctx, "chunks/job/missing.mp3", dst), ErrNotFound)
}
