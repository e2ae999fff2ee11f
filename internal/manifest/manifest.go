package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"longscribe/internal/window"
)

// Entry is one manifest line describing a window and where its chunk was stored
type Entry struct {
	Index        int     `json:"index"`
	StartSec     float64 `json:"start_sec"`
	EndSec       float64 `json:"end_sec"`
	ChunkURI     string  `json:"s3_uri,omitempty"`
	JobID        string  `json:"job_id,omitempty"`
	SourceBucket string  `json:"source_bucket,omitempty"`
	SourceKey    string  `json:"source_key,omitempty"`
}

// Window returns the window this entry describes
func (e Entry) Window() window.Window {
	return window.Window{Index: e.Index, StartSec: e.StartSec, EndSec: e.EndSec}
}

// NewEntries attaches provenance to each window. chunkURI may be nil.
func NewEntries(windows []window.Window, jobID, sourceBucket, sourceKey string, chunkURI func(index int) string) []Entry {
	entries := make([]Entry, 0, len(windows))
	for _, w := range windows {
		e := Entry{
			Index:        w.Index,
			StartSec:     w.StartSec,
			EndSec:       w.EndSec,
			JobID:        jobID,
			SourceBucket: sourceBucket,
			SourceKey:    sourceKey,
		}
		if chunkURI != nil {
			e.ChunkURI = chunkURI(w.Index)
		}
		entries = append(entries, e)
	}
	return entries
}

// Windows extracts the windows from entries, preserving order
func Windows(entries []Entry) []window.Window {
	windows := make([]window.Window, 0, len(entries))
	for _, e := range entries {
		windows = append(windows, e.Window())
	}
	return windows
}

// Writer appends manifest entries as JSON lines
type Writer struct {
	writer io.Writer
	logger *zap.Logger
}

// NewWriter creates a new Writer instance
func NewWriter(writer io.Writer, logger *zap.Logger) *Writer {
	return &Writer{
		writer: writer,
		logger: logger,
	}
}

// WriteEntry writes a single entry as one JSON line
func (mw *Writer) WriteEntry(entry Entry) error {
	if entry.EndSec <= entry.StartSec {
		mw.logger.Error("invalid manifest entry", zap.Int("index", entry.Index))
		return fmt.Errorf("invalid manifest entry %d: end_sec must be greater than start_sec", entry.Index)
	}

	var line bytes.Buffer
	enc := json.NewEncoder(&line)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to marshal manifest entry: %w", err)
	}

	if _, err := mw.writer.Write(line.Bytes()); err != nil {
		mw.logger.Error("failed to write manifest entry", zap.Error(err))
		return fmt.Errorf("failed to write manifest entry: %w", err)
	}

	mw.logger.Debug("wrote manifest entry",
		zap.Int("index", entry.Index),
		zap.Float64("start_sec", entry.StartSec),
		zap.Float64("end_sec", entry.EndSec))

	return nil
}

// Encode renders entries as a JSONL document
func Encode(entries []Entry, logger *zap.Logger) ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf, logger)
	for _, e := range entries {
		if err := w.WriteEntry(e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type rawEntry struct {
	Index        *int     `json:"index"`
	StartSec     *float64 `json:"start_sec"`
	EndSec       *float64 `json:"end_sec"`
	ChunkURI     string   `json:"s3_uri"`
	JobID        string   `json:"job_id"`
	SourceBucket string   `json:"source_bucket"`
	SourceKey    string   `json:"source_key"`
}

// Parse reads a JSONL manifest, skipping blank lines, and returns entries sorted by index.
// Every line must carry index, start_sec and end_sec.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw rawEntry
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", lineNo, err)
		}
		switch {
		case raw.Index == nil:
			return nil, fmt.Errorf("manifest line %d: missing index", lineNo)
		case raw.StartSec == nil:
			return nil, fmt.Errorf("manifest line %d: missing start_sec", lineNo)
		case raw.EndSec == nil:
			return nil, fmt.Errorf("manifest line %d: missing end_sec", lineNo)
		}

		entries = append(entries, Entry{
			Index:        *raw.Index,
			StartSec:     *raw.StartSec,
			EndSec:       *raw.EndSec,
			ChunkURI:     raw.ChunkURI,
			JobID:        raw.JobID,
			SourceBucket: raw.SourceBucket,
			SourceKey:    raw.SourceKey,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		return a.Index - b.Index
	})
	return entries, nil
}

// JobIDFromManifestKey derives the job id from a key such as "manifests/<job-id>.jsonl"
func JobIDFromManifestKey(key string) string {
	return strings.TrimSuffix(path.Base(key), ".jsonl")
}

// JobIDFromSourceKey derives a job id from an uploaded source object key. It prefers the
// segment after "audio/", then the first path segment, and otherwise falls back to a
// name-based UUID of the object URI so the same upload always maps to the same job.
func JobIDFromSourceKey(bucket, key string) string {
	parts := strings.Split(key, "/")
	if i := slices.Index(parts, "audio"); i >= 0 && i+1 < len(parts) {
		return parts[i+1]
	}
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("s3://%s/%s", bucket, key))).String()
}

// JobIDFromSourceURL derives a stable job id from a remote source URL
func JobIDFromSourceURL(rawURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL)).String()
}
