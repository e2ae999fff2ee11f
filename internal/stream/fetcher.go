package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned once every download attempt has failed
var ErrRetriesExhausted = errors.New("maximum retry attempts exceeded")

// IsSourceURL reports whether source names an http(s) URL rather than a storage key
func IsSourceURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// BaseName returns the file name of a source URL's path, or "source" when the URL has
// no usable path
func BaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "source"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "source"
	}
	return name
}

// SourceFetcher downloads remote source recordings over HTTP
type SourceFetcher struct {
	client        *http.Client
	logger        *zap.Logger
	maxRetries    int
	baseBackoffMs int
}

// NewSourceFetcher creates a new SourceFetcher instance
func NewSourceFetcher(logger *zap.Logger, maxRetries, baseBackoffMs int) *SourceFetcher {
	return NewSourceFetcherWithClient(logger, createStreamingHTTPClient(), maxRetries, baseBackoffMs)
}

// NewSourceFetcherWithClient creates a SourceFetcher that uses client for requests
func NewSourceFetcherWithClient(logger *zap.Logger, client *http.Client, maxRetries, baseBackoffMs int) *SourceFetcher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if baseBackoffMs < 0 {
		baseBackoffMs = 0
	}
	return &SourceFetcher{
		client:        client,
		logger:        logger,
		maxRetries:    maxRetries,
		baseBackoffMs: baseBackoffMs,
	}
}

// createStreamingHTTPClient bounds connection setup but not the body read, since a
// multi-hour recording can take a long time to transfer
func createStreamingHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}

	return &http.Client{Transport: transport}
}

// fetchOnce performs a single GET of rawURL into localPath
func (f *SourceFetcher) fetchOnce(ctx context.Context, rawURL, localPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "audio/*,video/*,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to fetch %s: status %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	n, err := io.Copy(out, resp.Body)
	if err != nil {
		out.Close()
		return n, fmt.Errorf("failed to read %s after %d bytes: %w", rawURL, n, err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("failed to write %s: %w", localPath, err)
	}

	f.logger.Debug("source response",
		zap.String("url", rawURL),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Int64("bytes", n))
	return n, nil
}

// Fetch downloads rawURL to localPath, retrying with exponential backoff. Every attempt
// restarts the transfer from the beginning.
func (f *SourceFetcher) Fetch(ctx context.Context, rawURL, localPath string) error {
	var lastErr error

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		f.logger.Info("fetching source",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt))

		n, err := f.fetchOnce(ctx, rawURL, localPath)
		if err == nil {
			f.logger.Info("fetched source",
				zap.String("url", rawURL),
				zap.String("path", localPath),
				zap.Int64("bytes", n),
				zap.Int("attempt", attempt))
			return nil
		}

		lastErr = err
		f.logger.Warn("source fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == f.maxRetries {
			break
		}

		backoff := time.Duration(f.baseBackoffMs*(1<<(attempt-1))) * time.Millisecond
		f.logger.Info("waiting before retry",
			zap.String("url", rawURL),
			zap.Duration("backoff", backoff),
			zap.Int("next_attempt", attempt+1))

		select {
		case <-ctx.Done():
			return fmt.Errorf("source fetch cancelled: %w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(backoff):
		}
	}

	f.logger.Error("maximum retry attempts exceeded",
		zap.String("url", rawURL),
		zap.Int("max_retries", f.maxRetries))

	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, f.maxRetries, lastErr)
}
