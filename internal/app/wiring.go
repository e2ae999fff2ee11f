package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"longscribe/internal/config"
	"longscribe/internal/gpu"
	"longscribe/internal/metrics"
	"longscribe/internal/notify"
	"longscribe/internal/performance"
	"longscribe/internal/processor"
	"longscribe/internal/storage"
	"longscribe/internal/stream"
	"longscribe/internal/transcriber"
)

// NewApplicationFromConfig builds every dependency described by cfg. AWS clients are
// only created when a component needs them; missing ffmpeg only disables Prepare.
func NewApplicationFromConfig(ctx context.Context, cfg *config.Configuration, logger *zap.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		var opts []func(*awsconfig.LoadOptions) error
		if region := cfg.GetAWSRegion(); region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		loaded, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		awsCfg = &loaded
		return loaded, nil
	}

	deps := Dependencies{Metrics: metrics.NewJobMetrics(logger)}

	switch cfg.GetStorageBackend() {
	case config.BackendS3:
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(ac)
		deps.Ingest = storage.NewS3Store(client, cfg.GetIngestBucket(), logger)
		deps.Results = storage.NewS3Store(client, cfg.GetResultsBucket(), logger)
	default:
		local, err := storage.NewLocalStore(cfg.GetLocalRoot(), logger)
		if err != nil {
			return nil, err
		}
		deps.Ingest = local
		deps.Results = local
	}

	deps.Fetcher = stream.NewSourceFetcher(logger, cfg.GetSourceMaxRetries(), cfg.GetSourceBaseBackoffMs())

	if proc, err := processor.NewAudioProcessorFromCandidates(logger, cfg.GetFFmpegPath(), cfg.GetFFprobePath()); err != nil {
		logger.Warn("audio tools unavailable, prepare is disabled", zap.Error(err))
	} else {
		deps.Processor = proc
	}

	device := gpu.NewGPUDetector(logger).SelectDevice(ctx, cfg.GetWorkerDevice())
	model := transcriber.NewWhisperCommandModel(logger, transcriber.WorkerSettings{
		Command:       cfg.GetWorkerCommand(),
		Model:         cfg.GetWorkerModel(),
		Device:        device,
		Language:      cfg.GetWorkerLanguage(),
		BeamSize:      cfg.GetWorkerBeamSize(),
		VADFilter:     cfg.GetWorkerVADFilter(),
		Temperature:   cfg.GetWorkerTemperature(),
		ComputeType:   cfg.GetWorkerComputeType(),
		InitialPrompt: cfg.GetWorkerInitialPrompt(),
	})
	deps.Monitor = performance.NewPerformanceMonitorWithBenchmark(logger, cfg.GetWorkerBenchmark())
	deps.Engine = transcriber.NewTranscriptionEngine(logger, model, deps.Monitor)

	var notifiers notify.Multi
	if table := cfg.GetJobTable(); table != "" {
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notify.NewStatusUpdater(dynamodb.NewFromConfig(ac), table, logger))
	}
	if topic := cfg.GetTopicARN(); topic != "" {
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notify.NewPublisher(sns.NewFromConfig(ac), topic, logger))
	}
	if len(notifiers) > 0 {
		deps.Notifier = notifiers
	}

	logger.Info("application configured",
		zap.String("storage_backend", cfg.GetStorageBackend()),
		zap.String("worker_device", device),
		zap.Int("notifiers", len(notifiers)))

	return NewApplication(cfg, logger, deps)
}
