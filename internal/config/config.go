package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"longscribe/internal/render"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Storage backends
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// envBindings maps configuration keys to the environment variable names the
// pipeline has always been deployed with
var envBindings = map[string]string{
	"window.chunk_len_sec":    "CHUNK_LEN_SEC",
	"window.overlap_sec":      "OVERLAP_SEC",
	"window.chunk_ext":        "CHUNK_EXT",
	"stitch.min_segment_sec":  "MIN_SEGMENT_SECONDS",
	"stitch.formats":          "OUTPUT_FORMATS",
	"storage.backend":         "STORAGE_BACKEND",
	"storage.ingest_bucket":   "INGEST_BUCKET",
	"storage.results_bucket":  "RESULTS_BUCKET",
	"storage.chunk_prefix":    "CHUNK_PREFIX_BASE",
	"storage.manifest_prefix": "MANIFEST_PREFIX_BASE",
	"aws.region":              "AWS_REGION",
	"ffmpeg.path":             "FFMPEG_PATH",
	"ffmpeg.probe_path":       "FFPROBE_PATH",
	"worker.device":           "WHISPER_DEVICE",
	"notify.job_table":        "JOB_TABLE_NAME",
	"notify.topic_arn":        "SNS_TOPIC_ARN",
	"metrics.pushgateway_url": "PUSHGATEWAY_URL",
	"source.max_retries":      "STREAM_MAX_RETRIES",
	"source.base_backoff_ms":  "STREAM_BASE_BACKOFF_MS",
	"log.level":               "LOG_LEVEL",
}

// Configuration provides type-safe access to application settings
type Configuration struct {
	viper *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("window.chunk_len_sec", 600)
	v.SetDefault("window.overlap_sec", 1)
	v.SetDefault("window.chunk_ext", "mp3")

	v.SetDefault("stitch.min_segment_sec", 0.06)
	v.SetDefault("stitch.overlap_eps", 1e-6)
	v.SetDefault("stitch.formats", []string{"json", "txt", "vtt", "srt"})

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local_root", "./data")
	v.SetDefault("storage.ingest_bucket", "")
	v.SetDefault("storage.results_bucket", "")
	v.SetDefault("storage.chunk_prefix", "chunks")
	v.SetDefault("storage.manifest_prefix", "manifests")
	v.SetDefault("storage.final_prefix", "final")
	v.SetDefault("storage.work_dir", "")

	v.SetDefault("aws.region", "")

	v.SetDefault("ffmpeg.path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	v.SetDefault("worker.command", "whisper-worker")
	v.SetDefault("worker.model", "large-v3")
	v.SetDefault("worker.device", "auto")
	v.SetDefault("worker.language", "")
	v.SetDefault("worker.beam_size", 5)
	v.SetDefault("worker.vad_filter", false)
	v.SetDefault("worker.temperature", 0.0)
	v.SetDefault("worker.compute_type", "int8_float16")
	v.SetDefault("worker.initial_prompt", "")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.benchmark", false)

	v.SetDefault("notify.job_table", "")
	v.SetDefault("notify.topic_arn", "")

	v.SetDefault("metrics.pushgateway_url", "")

	v.SetDefault("source.max_retries", 5)
	v.SetDefault("source.base_backoff_ms", 1000)

	v.SetDefault("log.level", "info")
}

// NewConfiguration creates a new Configuration instance with default settings
func NewConfiguration() *Configuration {
	v := viper.New()
	setDefaults(v)
	return &Configuration{viper: v}
}

// NewConfigurationFromFile creates a Configuration instance from a config file
func NewConfigurationFromFile(configFile string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	return &Configuration{viper: v}, nil
}

// NewConfigurationFromEnv creates a Configuration instance that reads from environment
// variables. Variables in dotenv files are loaded first without overriding the environment.
func NewConfigurationFromEnv(dotenvFiles ...string) (*Configuration, error) {
	if err := loadDotEnv(dotenvFiles...); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	// Set up environment variable mapping
	v.SetEnvPrefix("LONGSCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map specific environment variables
	for key, env := range envBindings {
		if err := v.BindEnv(key, "LONGSCRIBE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	return &Configuration{viper: v}, nil
}

// loadDotEnv loads the given dotenv files, defaulting to .env; missing files are ignored
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Set overrides a single key, used for command line flags
func (c *Configuration) Set(key string, value any) {
	c.viper.Set(key, value)
}

// GetChunkLenSec returns the nominal window length in seconds
func (c *Configuration) GetChunkLenSec() int {
	return c.viper.GetInt("window.chunk_len_sec")
}

// GetOverlapSec returns how far each window reaches back into its predecessor
func (c *Configuration) GetOverlapSec() int {
	return c.viper.GetInt("window.overlap_sec")
}

// GetChunkExt returns the audio extension chunks are cut to
func (c *Configuration) GetChunkExt() string {
	return strings.ToLower(c.viper.GetString("window.chunk_ext"))
}

// GetMinSegmentSec returns the shortest segment kept by the stitcher
func (c *Configuration) GetMinSegmentSec() float64 {
	return c.viper.GetFloat64("stitch.min_segment_sec")
}

// GetOverlapEps returns the stitcher's comparison tolerance
func (c *Configuration) GetOverlapEps() float64 {
	return c.viper.GetFloat64("stitch.overlap_eps")
}

// GetOutputFormats returns the transcript renderings to write, as file extensions
func (c *Configuration) GetOutputFormats() []string {
	return c.viper.GetStringSlice("stitch.formats")
}

// GetStorageBackend returns local or s3
func (c *Configuration) GetStorageBackend() string {
	return strings.ToLower(c.viper.GetString("storage.backend"))
}

// GetLocalRoot returns the root directory of the local backend
func (c *Configuration) GetLocalRoot() string {
	return c.viper.GetString("storage.local_root")
}

// GetIngestBucket returns the bucket holding source audio, chunks and manifests
func (c *Configuration) GetIngestBucket() string {
	return c.viper.GetString("storage.ingest_bucket")
}

// GetResultsBucket returns the bucket holding worker documents and final transcripts
func (c *Configuration) GetResultsBucket() string {
	return c.viper.GetString("storage.results_bucket")
}

// GetChunkPrefix returns the key prefix of chunk audio and worker documents
func (c *Configuration) GetChunkPrefix() string {
	return strings.Trim(c.viper.GetString("storage.chunk_prefix"), "/")
}

// GetManifestPrefix returns the key prefix of manifests
func (c *Configuration) GetManifestPrefix() string {
	return strings.Trim(c.viper.GetString("storage.manifest_prefix"), "/")
}

// GetFinalPrefix returns the key prefix of rendered transcripts
func (c *Configuration) GetFinalPrefix() string {
	return strings.Trim(c.viper.GetString("storage.final_prefix"), "/")
}

// GetWorkDir returns the parent directory for scratch files, empty for the system default
func (c *Configuration) GetWorkDir() string {
	return c.viper.GetString("storage.work_dir")
}

// GetAWSRegion returns the AWS region override
func (c *Configuration) GetAWSRegion() string {
	return c.viper.GetString("aws.region")
}

// GetFFmpegPath returns the ffmpeg override path
func (c *Configuration) GetFFmpegPath() string {
	return c.viper.GetString("ffmpeg.path")
}

// GetFFprobePath returns the ffprobe override path
func (c *Configuration) GetFFprobePath() string {
	return c.viper.GetString("ffmpeg.probe_path")
}

// GetWorkerCommand returns the speech worker executable
func (c *Configuration) GetWorkerCommand() string {
	return c.viper.GetString("worker.command")
}

// GetWorkerModel returns the speech model name passed to the worker
func (c *Configuration) GetWorkerModel() string {
	return c.viper.GetString("worker.model")
}

// GetWorkerDevice returns auto, cpu or cuda
func (c *Configuration) GetWorkerDevice() string {
	return strings.ToLower(c.viper.GetString("worker.device"))
}

// GetWorkerLanguage returns the forced language, empty for auto-detection
func (c *Configuration) GetWorkerLanguage() string {
	return c.viper.GetString("worker.language")
}

// GetWorkerBeamSize returns the decoder beam size
func (c *Configuration) GetWorkerBeamSize() int {
	return c.viper.GetInt("worker.beam_size")
}

// GetWorkerVADFilter reports whether voice activity filtering is enabled
func (c *Configuration) GetWorkerVADFilter() bool {
	return c.viper.GetBool("worker.vad_filter")
}

// GetWorkerTemperature returns the decoding temperature
func (c *Configuration) GetWorkerTemperature() float64 {
	return c.viper.GetFloat64("worker.temperature")
}

// GetWorkerComputeType returns the CTranslate2 compute type
func (c *Configuration) GetWorkerComputeType() string {
	return c.viper.GetString("worker.compute_type")
}

// GetWorkerInitialPrompt returns the prompt prepended to every chunk
func (c *Configuration) GetWorkerInitialPrompt() string {
	return c.viper.GetString("worker.initial_prompt")
}

// GetWorkerConcurrency returns how many chunks are cut or transcribed at once
func (c *Configuration) GetWorkerConcurrency() int {
	return c.viper.GetInt("worker.concurrency")
}

// GetWorkerBenchmark reports whether per-chunk performance is logged
func (c *Configuration) GetWorkerBenchmark() bool {
	return c.viper.GetBool("worker.benchmark")
}

// GetJobTable returns the DynamoDB job status table, empty to disable
func (c *Configuration) GetJobTable() string {
	return c.viper.GetString("notify.job_table")
}

// GetTopicARN returns the SNS completion topic, empty to disable
func (c *Configuration) GetTopicARN() string {
	return c.viper.GetString("notify.topic_arn")
}

// GetPushgatewayURL returns the Prometheus Pushgateway URL, empty to disable
func (c *Configuration) GetPushgatewayURL() string {
	return c.viper.GetString("metrics.pushgateway_url")
}

// GetSourceMaxRetries returns how many attempts an HTTP source download gets
func (c *Configuration) GetSourceMaxRetries() int {
	return c.viper.GetInt("source.max_retries")
}

// GetSourceBaseBackoffMs returns the first retry delay, doubled on every attempt
func (c *Configuration) GetSourceBaseBackoffMs() int {
	return c.viper.GetInt("source.base_backoff_ms")
}

// GetLogLevel returns the configured log level
func (c *Configuration) GetLogLevel() string {
	return c.viper.GetString("log.level")
}

// Validate checks the settings that would otherwise fail deep inside a job
func (c *Configuration) Validate() error {
	chunkLen := c.GetChunkLenSec()
	overlap := c.GetOverlapSec()

	if chunkLen <= 0 {
		return fmt.Errorf("%w: window.chunk_len_sec must be positive, got %d", ErrInvalidConfig, chunkLen)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: window.overlap_sec must not be negative, got %d", ErrInvalidConfig, overlap)
	}
	if overlap >= chunkLen {
		return fmt.Errorf("%w: window.overlap_sec (%d) must be less than window.chunk_len_sec (%d)", ErrInvalidConfig, overlap, chunkLen)
	}
	if ext := c.GetChunkExt(); ext != "mp3" && ext != "wav" {
		return fmt.Errorf("%w: window.chunk_ext must be mp3 or wav, got %q", ErrInvalidConfig, ext)
	}
	if v := c.GetMinSegmentSec(); v <= 0 {
		return fmt.Errorf("%w: stitch.min_segment_sec must be positive, got %g", ErrInvalidConfig, v)
	}
	if v := c.GetOverlapEps(); v <= 0 {
		return fmt.Errorf("%w: stitch.overlap_eps must be positive, got %g", ErrInvalidConfig, v)
	}

	if _, err := render.ParseFormats(c.GetOutputFormats()); err != nil {
		return fmt.Errorf("%w: stitch.formats: %v", ErrInvalidConfig, err)
	}

	switch backend := c.GetStorageBackend(); backend {
	case BackendLocal:
	case BackendS3:
		if c.GetIngestBucket() == "" || c.GetResultsBucket() == "" {
			return fmt.Errorf("%w: storage.backend s3 requires storage.ingest_bucket and storage.results_bucket", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalidConfig, backend)
	}

	switch device := c.GetWorkerDevice(); device {
	case "", "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("%w: worker.device must be auto, cpu or cuda, got %q", ErrInvalidConfig, device)
	}
	if n := c.GetWorkerConcurrency(); n < 1 {
		return fmt.Errorf("%w: worker.concurrency must be at least 1, got %d", ErrInvalidConfig, n)
	}
	if n := c.GetSourceMaxRetries(); n < 1 {
		return fmt.Errorf("%w: source.max_retries must be at least 1, got %d", ErrInvalidConfig, n)
	}
	if n := c.GetSourceBaseBackoffMs(); n < 0 {
		return fmt.Errorf("%w: source.base_backoff_ms must not be negative, got %d", ErrInvalidConfig, n)
	}

	return nil
}
