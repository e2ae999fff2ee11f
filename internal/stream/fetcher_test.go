package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestIsSourceURL(t *testing.T) {
	assert.True(t, IsSourceURL("https://cdn.example.com/show.mp3"))
	assert.True(t, IsSourceURL("http://localhost:8080/a.wav"))
	assert.False(t, IsSourceURL("audio/job-1/show.mp3"))
	assert.False(t, IsSourceURL("s3://bucket/show.mp3"))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "show.mp3", BaseName("https://cdn.example.com/podcasts/show.mp3?token=abc"))
	assert.Equal(t, "episode.m4a", BaseName("https://cdn.example.com/episode.m4a#t=10"))
	assert.Equal(t, "source", BaseName("https://cdn.example.com"))
	assert.Equal(t, "source", BaseName("https://cdn.example.com/"))
	assert.Equal(t, "source", BaseName("https://cdn.example.com?id=7"))
	assert.Equal(t, "show.mp3", BaseName("https://cdn.example.com/a%20b/show.mp3"))
}

func TestSourceFetcher_Fetch(t *testing.T) {
	t.Run("should download the body to the local path", func(t *testing.T) {
		// Arrange
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "identity", r.Header.Get("Accept-Encoding"))
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("fake audio bytes"))
		}))
		defer server.Close()

		fetcher := NewSourceFetcher(zaptest.NewLogger(t), 3, 0)
		dst := filepath.Join(t.TempDir(), "nested", "show.mp3")

		// Act
		err := fetcher.Fetch(context.Background(), server.URL+"/show.mp3", dst)

		// Assert
		require.NoError(t, err)
		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "fake audio bytes", string(data))
	})

	t.Run("should retry after a failed attempt", func(t *testing.T) {
		// Arrange
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok"))
		}))
		defer server.Close()

		fetcher := NewSourceFetcher(zaptest.NewLogger(t), 3, 1)

		// Act
		err := fetcher.Fetch(context.Background(), server.URL, filepath.Join(t.TempDir(), "a.mp3"))

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, int32(2), attempts.Load())
	})

	t.Run("should stop after the configured number of attempts", func(t *testing.T) {
		// Arrange
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		fetcher := NewSourceFetcher(zaptest.NewLogger(t), 3, 0)

		// Act
		err := fetcher.Fetch(context.Background(), server.URL, filepath.Join(t.TempDir(), "a.mp3"))

		// Assert
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Contains(t, err.Error(), "status 404")
		assert.Equal(t, int32(3), attempts.Load())
	})

	t.Run("should back off exponentially between attempts", func(t *testing.T) {
		// Arrange
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		fetcher := NewSourceFetcher(zaptest.NewLogger(t), 3, 20)

		// Act
		start := time.Now()
		err := fetcher.Fetch(context.Background(), server.URL, filepath.Join(t.TempDir(), "a.mp3"))

		// Assert
		assert.Error(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("should give up when the context is cancelled during backoff", func(t *testing.T) {
		// Arrange
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		fetcher := NewSourceFetcher(zaptest.NewLogger(t), 5, 10_000)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		// Act
		err := fetcher.Fetch(ctx, server.URL, filepath.Join(t.TempDir(), "a.mp3"))

		// Assert
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "status 502")
	})
}
