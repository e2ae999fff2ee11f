package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store
var ErrNotFound = errors.New("object not found")

// Store is the durable object storage shared by the pipeline stages
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key starting with prefix, in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
	Download(ctx context.Context, key, localPath string) error
	Upload(ctx context.Context, localPath, key, contentType string) error
	URI(key string) string
}

// ParseURI splits an s3://bucket/key URI
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("not an S3 URI: %q", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("bad S3 URI %q: %w", uri, err)
	}
	bucket, key = u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("bad S3 URI: %q", uri)
	}
	return bucket, key, nil
}
