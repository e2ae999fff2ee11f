package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"longscribe/internal/config"
	"longscribe/internal/manifest"
	"longscribe/internal/metrics"
	"longscribe/internal/notify"
	"longscribe/internal/performance"
	"longscribe/internal/processor"
	"longscribe/internal/render"
	"longscribe/internal/stitch"
	"longscribe/internal/storage"
	"longscribe/internal/stream"
	"longscribe/internal/transcriber"
	"longscribe/internal/window"
)

// ErrNoWindows is returned by Prepare when the source has no usable audio
var ErrNoWindows = errors.New("no chunks computed (empty or invalid audio?)")

// MediaProcessor probes and cuts source audio
type MediaProcessor interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Cut(ctx context.Context, in string, start, end float64, out, ext string) error
}

// SourceFetcher downloads a source recording given by URL
type SourceFetcher interface {
	Fetch(ctx context.Context, rawURL, localPath string) error
}

// Dependencies are the collaborators an Application drives. Ingest holds source audio,
// chunks and manifests; Results holds worker documents and final transcripts.
type Dependencies struct {
	Ingest    storage.Store
	Results   storage.Store
	Fetcher   SourceFetcher
	Processor MediaProcessor
	Engine    transcriber.Engine
	Monitor   *performance.PerformanceMonitor
	Notifier  notify.Notifier
	Metrics   *metrics.JobMetrics
}

// Application orchestrates the prepare, transcribe and stitch stages of a job
type Application struct {
	config    *config.Configuration
	logger    *zap.Logger
	ingest    storage.Store
	results   storage.Store
	fetcher   SourceFetcher
	processor MediaProcessor
	engine    transcriber.Engine
	monitor   *performance.PerformanceMonitor
	notifier  notify.Notifier
	metrics   *metrics.JobMetrics
	stitcher  *stitch.Stitcher
	formats   []render.Format
}

// PrepareResult describes the chunks and manifest produced for a source
type PrepareResult struct {
	JobID       string   `json:"job_id"`
	Manifest    string   `json:"manifest"`
	Chunks      []string `json:"chunks"`
	ChunkCount  int      `json:"chunk_count"`
	DurationSec float64  `json:"duration_sec"`
}

// TranscribeResult describes the worker documents produced for a job
type TranscribeResult struct {
	JobID       string   `json:"job_id"`
	Outputs     []string `json:"outputs"`
	Transcribed int      `json:"transcribed"`
	Failed      []int    `json:"failed"`
}

// StitchResult describes the final transcript of a job
type StitchResult struct {
	JobID    string            `json:"job_id"`
	Outputs  map[string]string `json:"outputs"`
	Segments int               `json:"segments"`
	Stats    stitch.MergeStats `json:"meta"`
}

// NewApplication creates an Application from a validated configuration and its dependencies
func NewApplication(cfg *config.Configuration, logger *zap.Logger, deps Dependencies) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Ingest == nil || deps.Results == nil {
		return nil, fmt.Errorf("ingest and results stores are required")
	}

	stitcher, err := stitch.NewStitcher(logger, stitch.Options{
		MinSegmentSec: cfg.GetMinSegmentSec(),
		OverlapEps:    cfg.GetOverlapEps(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stitcher: %w", err)
	}

	formats, err := render.ParseFormats(cfg.GetOutputFormats())
	if err != nil {
		return nil, fmt.Errorf("%w: stitch.formats: %v", config.ErrInvalidConfig, err)
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	jobMetrics := deps.Metrics
	if jobMetrics == nil {
		jobMetrics = metrics.NewJobMetrics(logger)
	}

	return &Application{
		config:    cfg,
		logger:    logger,
		ingest:    deps.Ingest,
		results:   deps.Results,
		fetcher:   deps.Fetcher,
		processor: deps.Processor,
		engine:    deps.Engine,
		monitor:   deps.Monitor,
		notifier:  notify.BestEffort{Notifier: notifier, Logger: logger},
		metrics:   jobMetrics,
		stitcher:  stitcher,
		formats:   formats,
	}, nil
}

// ChunkKey is where the audio of window index is stored in the ingest store
func (app *Application) ChunkKey(jobID string, index int) string {
	return path.Join(app.config.GetChunkPrefix(), jobID, window.ChunkName(index, app.config.GetChunkExt()))
}

// ManifestKey is where the manifest of a job is stored in the ingest store
func (app *Application) ManifestKey(jobID string) string {
	return path.Join(app.config.GetManifestPrefix(), jobID+".jsonl")
}

// FinalKey is where a rendered transcript is stored in the results store
func (app *Application) FinalKey(jobID string, f render.Format) string {
	return path.Join(app.config.GetFinalPrefix(), jobID, f.FileName())
}

func (app *Application) workDir(pattern string) (string, error) {
	dir, err := os.MkdirTemp(app.config.GetWorkDir(), pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	return dir, nil
}

// Prepare splits the source into overlapping chunks and writes the job manifest. The
// source is a key in the ingest store or an http(s) URL.
func (app *Application) Prepare(ctx context.Context, source string) (*PrepareResult, error) {
	if app.processor == nil {
		return nil, fmt.Errorf("audio processor not configured")
	}
	started := time.Now()

	fromURL := stream.IsSourceURL(source)
	sourceBucket, sourceKey := app.config.GetIngestBucket(), source
	jobID := manifest.JobIDFromSourceKey(sourceBucket, sourceKey)
	sourceURI := app.ingest.URI(sourceKey)
	if fromURL {
		if app.fetcher == nil {
			return nil, fmt.Errorf("source fetcher not configured")
		}
		sourceBucket = ""
		jobID = manifest.JobIDFromSourceURL(source)
		sourceURI = source
	}
	log := app.logger.With(zap.String("job_id", jobID))
	log.Info("preparing job", zap.String("source", sourceURI))

	dir, err := app.workDir("prepare-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	var localIn string
	if fromURL {
		localIn = filepath.Join(dir, stream.BaseName(source))
		if err := app.fetcher.Fetch(ctx, source, localIn); err != nil {
			return nil, fmt.Errorf("failed to fetch source: %w", err)
		}
	} else {
		localIn = filepath.Join(dir, path.Base(sourceKey))
		if err := app.ingest.Download(ctx, sourceKey, localIn); err != nil {
			return nil, fmt.Errorf("failed to download source: %w", err)
		}
	}

	duration, err := app.processor.ProbeDuration(ctx, localIn)
	if err != nil {
		return nil, err
	}
	log.Info("probed source", zap.Float64("duration_sec", duration))

	windows, err := window.ComputeWindows(duration, app.config.GetChunkLenSec(), app.config.GetOverlapSec())
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, ErrNoWindows
	}

	ext := app.config.GetChunkExt()
	chunks := make([]string, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(app.config.GetWorkerConcurrency())
	for i, w := range windows {
		g.Go(func() error {
			localOut := filepath.Join(dir, window.ChunkName(w.Index, ext))
			if err := app.processor.Cut(gctx, localIn, w.StartSec, w.EndSec, localOut, ext); err != nil {
				return fmt.Errorf("%s: %w", w, err)
			}
			key := app.ChunkKey(jobID, w.Index)
			if err := app.ingest.Upload(gctx, localOut, key, processor.ContentType(ext)); err != nil {
				return fmt.Errorf("failed to upload chunk %d: %w", w.Index, err)
			}
			chunks[i] = app.ingest.URI(key)
			log.Info("uploaded chunk", zap.Int("window_index", w.Index), zap.String("uri", chunks[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := manifest.NewEntries(windows, jobID, sourceBucket, sourceKey, func(index int) string {
		return app.ingest.URI(app.ChunkKey(jobID, index))
	})
	data, err := manifest.Encode(entries, app.logger)
	if err != nil {
		return nil, err
	}
	manifestKey := app.ManifestKey(jobID)
	if err := app.ingest.Put(ctx, manifestKey, data, "application/json"); err != nil {
		return nil, fmt.Errorf("failed to upload manifest: %w", err)
	}
	log.Info("uploaded manifest", zap.String("uri", app.ingest.URI(manifestKey)))

	app.metrics.ObservePrepared(duration)
	app.metrics.ObserveStage("prepare", time.Since(started))

	return &PrepareResult{
		JobID:       jobID,
		Manifest:    app.ingest.URI(manifestKey),
		Chunks:      chunks,
		ChunkCount:  len(chunks),
		DurationSec: duration,
	}, nil
}

// loadManifest reads and parses the manifest under manifestKey
func (app *Application) loadManifest(ctx context.Context, manifestKey string) (string, []manifest.Entry, error) {
	data, err := app.ingest.Get(ctx, manifestKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	entries, err := manifest.Parse(bytes.NewReader(data))
	if err != nil {
		return "", nil, err
	}
	return manifest.JobIDFromManifestKey(manifestKey), entries, nil
}

// chunkKeyFor returns the ingest key of an entry's chunk, preferring the recorded URI
func (app *Application) chunkKeyFor(jobID string, e manifest.Entry) string {
	if _, key, err := storage.ParseURI(e.ChunkURI); err == nil {
		return key
	}
	return app.ChunkKey(jobID, e.Index)
}

// Transcribe runs the speech worker over every chunk in the manifest and stores each
// worker document in the results store. Failed chunks are logged and reported, not retried.
func (app *Application) Transcribe(ctx context.Context, manifestKey string) (*TranscribeResult, error) {
	if app.engine == nil {
		return nil, fmt.Errorf("transcription engine not configured")
	}
	started := time.Now()

	jobID, entries, err := app.loadManifest(ctx, manifestKey)
	if err != nil {
		return nil, err
	}
	log := app.logger.With(zap.String("job_id", jobID))
	log.Info("transcribing job", zap.Int("chunks", len(entries)))

	dir, err := app.workDir("transcribe-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	var (
		mu      sync.Mutex
		outputs []string
		failed  []int
	)

	var g errgroup.Group
	g.SetLimit(app.config.GetWorkerConcurrency())
	for _, e := range entries {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			uri, err := app.transcribeEntry(ctx, dir, jobID, e)
			app.metrics.ObserveChunk(err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("chunk transcription failed", zap.Int("window_index", e.Index), zap.Error(err))
				failed = append(failed, e.Index)
				return nil
			}
			outputs = append(outputs, uri)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transcription cancelled: %w", err)
	}

	sort.Strings(outputs)
	sort.Ints(failed)
	if app.monitor != nil {
		app.monitor.LogCurrentMetrics()
	}
	app.metrics.ObserveStage("transcribe", time.Since(started))

	log.Info("transcription finished", zap.Int("transcribed", len(outputs)), zap.Ints("failed", failed))
	return &TranscribeResult{
		JobID:       jobID,
		Outputs:     outputs,
		Transcribed: len(outputs),
		Failed:      failed,
	}, nil
}

func (app *Application) transcribeEntry(ctx context.Context, dir, jobID string, e manifest.Entry) (string, error) {
	chunkKey := app.chunkKeyFor(jobID, e)
	localAudio := filepath.Join(dir, path.Base(chunkKey))
	if err := app.ingest.Download(ctx, chunkKey, localAudio); err != nil {
		return "", fmt.Errorf("failed to download chunk: %w", err)
	}
	defer os.Remove(localAudio)

	outDir := filepath.Join(dir, fmt.Sprintf("%05d", e.Index))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outPath := filepath.Join(outDir, storage.OutputFileName)

	if _, err := app.engine.TranscribeChunk(ctx, transcriber.ChunkRequest{
		Index:        e.Index,
		AudioPath:    localAudio,
		OutPath:      outPath,
		AudioSeconds: e.EndSec - e.StartSec,
	}); err != nil {
		return "", err
	}

	key := storage.ChunkResultKey(app.config.GetChunkPrefix(), jobID, e.Index)
	if err := app.results.Upload(ctx, outPath, key, "application/json"); err != nil {
		return "", fmt.Errorf("failed to upload worker output: %w", err)
	}
	return app.results.URI(key), nil
}

// Stitch merges the per-window worker documents of the job described by manifestKey,
// stores every rendering under the final prefix and reports the outcome. An empty language
// falls back to the language the worker was forced to, if any.
func (app *Application) Stitch(ctx context.Context, manifestKey, language string) (*StitchResult, error) {
	started := time.Now()
	if language == "" {
		language = app.config.GetWorkerLanguage()
	}

	jobID, entries, err := app.loadManifest(ctx, manifestKey)
	if err != nil {
		return nil, err
	}

	result, err := app.stitch(ctx, jobID, entries, language)
	if err != nil {
		app.notifier.Notify(ctx, notify.Event{JobID: jobID, Status: notify.StatusFailed})
		return nil, err
	}

	app.notifier.Notify(ctx, notify.Event{
		JobID:   jobID,
		Status:  notify.StatusCompleted,
		Outputs: result.Outputs,
		Meta:    result.Stats,
	})

	app.metrics.ObserveStats(result.Stats)
	app.metrics.ObserveStage("stitch", time.Since(started))
	if err := app.metrics.Push(ctx, app.config.GetPushgatewayURL(), jobID); err != nil {
		app.logger.Warn("metrics push failed", zap.String("job_id", jobID), zap.Error(err))
	}

	return result, nil
}

func (app *Application) stitch(ctx context.Context, jobID string, entries []manifest.Entry, language string) (*StitchResult, error) {
	resolver := storage.NewWindowResultResolver(app.results, app.config.GetChunkPrefix(), app.logger)
	segments, stats, err := app.stitcher.Stitch(ctx, resolver, jobID, manifest.Windows(entries))
	if err != nil {
		return nil, err
	}

	artifacts, err := render.NewBundle(jobID, language, segments).Artifacts(app.formats...)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		key := app.FinalKey(jobID, a.Format)
		if err := app.results.Put(ctx, key, a.Data, a.ContentType); err != nil {
			return nil, fmt.Errorf("failed to store %s transcript: %w", a.Format, err)
		}
		outputs[string(a.Format)] = app.results.URI(key)
	}

	app.metrics.ObserveSegments(segments)

	app.logger.Info("stored transcript",
		zap.String("job_id", jobID),
		zap.Int("segments", len(segments)),
		zap.String("json", outputs[string(render.FormatJSON)]))

	return &StitchResult{
		JobID:    jobID,
		Outputs:  outputs,
		Segments: len(segments),
		Stats:    stats,
	}, nil
}

// RunResult collects the results of every stage of a full run
type RunResult struct {
	Prepare    *PrepareResult    `json:"prepare"`
	Transcribe *TranscribeResult `json:"transcribe"`
	Stitch     *StitchResult     `json:"stitch"`
}

// Run executes prepare, transcribe and stitch for one source object
func (app *Application) Run(ctx context.Context, sourceKey, language string) (*RunResult, error) {
	prepared, err := app.Prepare(ctx, sourceKey)
	if err != nil {
		return nil, fmt.Errorf("prepare failed: %w", err)
	}
	manifestKey := app.ManifestKey(prepared.JobID)

	transcribed, err := app.Transcribe(ctx, manifestKey)
	if err != nil {
		return nil, fmt.Errorf("transcribe failed: %w", err)
	}

	stitched, err := app.Stitch(ctx, manifestKey, language)
	if err != nil {
		return nil, fmt.Errorf("stitch failed: %w", err)
	}

	return &RunResult{Prepare: prepared, Transcribe: transcribed, Stitch: stitched}, nil
}
