package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"longscribe/internal/app"
	"longscribe/internal/config"
	"longscribe/internal/logger"
	"longscribe/internal/window"
)

type rootOptions struct {
	configFile  string
	logLevel    string
	development bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "longscribe",
		Short:         "Transcribe long recordings by splitting them into overlapping chunks and stitching the results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file (default: environment variables)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.development, "dev", false, "human readable console logging")

	root.AddCommand(
		newWindowsCommand(opts),
		newPrepareCommand(opts),
		newTranscribeCommand(opts),
		newStitchCommand(opts),
		newRunCommand(opts),
		newVersionCommand(),
	)
	return root
}

// loadConfiguration reads the config file when given, the environment otherwise
func (o *rootOptions) loadConfiguration() (*config.Configuration, error) {
	if o.configFile != "" {
		return config.NewConfigurationFromFile(o.configFile)
	}
	return config.NewConfigurationFromEnv()
}

func (o *rootOptions) newLogger(cfg *config.Configuration) (*zap.Logger, error) {
	level := cfg.GetLogLevel()
	if o.logLevel != "" {
		level = o.logLevel
	}
	return logger.NewLoggerWithLevel(level, o.development)
}

// runWithApplication builds the application, runs fn until it returns or a signal
// arrives, and prints its result as JSON
func (o *rootOptions) runWithApplication(cmd *cobra.Command, fn func(ctx context.Context, application *app.Application) (any, error)) error {
	cfg, err := o.loadConfiguration()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := o.newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplicationFromConfig(ctx, cfg, log)
	if err != nil {
		log.Error("failed to create application", zap.Error(err), zap.String("component", "main"))
		return fmt.Errorf("failed to create application: %w", err)
	}

	result, err := fn(ctx, application)
	if err != nil {
		log.Error("command failed",
			zap.String("command", cmd.Name()),
			zap.Error(err),
			zap.String("component", "main"))
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type dryRunWindow struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	T     float64 `json:"t"`
}

type dryRun struct {
	Duration    float64        `json:"duration"`
	ChunkLenSec int            `json:"chunk_len_sec"`
	OverlapSec  int            `json:"overlap_sec"`
	Windows     []dryRunWindow `json:"windows"`
	Count       int            `json:"count"`
}

func newWindowsCommand(opts *rootOptions) *cobra.Command {
	var (
		duration   float64
		chunkLen   int
		overlapSec int
	)

	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Print the chunk windows for a duration without touching any audio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfiguration()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("chunk-len") {
				chunkLen = cfg.GetChunkLenSec()
			}
			if !cmd.Flags().Changed("overlap") {
				overlapSec = cfg.GetOverlapSec()
			}

			windows, err := window.ComputeWindows(duration, chunkLen, overlapSec)
			if err != nil {
				return err
			}

			out := dryRun{
				Duration:    duration,
				ChunkLenSec: chunkLen,
				OverlapSec:  overlapSec,
				Windows:     make([]dryRunWindow, 0, len(windows)),
				Count:       len(windows),
			}
			for _, w := range windows {
				out.Windows = append(out.Windows, dryRunWindow{
					Index: w.Index,
					Start: w.StartSec,
					End:   w.EndSec,
					T:     window.RoundMillis(w.Duration()),
				})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Float64Var(&duration, "duration", 1800, "audio duration in seconds")
	cmd.Flags().IntVar(&chunkLen, "chunk-len", 600, "nominal chunk length in seconds")
	cmd.Flags().IntVar(&overlapSec, "overlap", 1, "overlap with the previous chunk in seconds")
	return cmd
}

func newPrepareCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare <source-key-or-url>",
		Short: "Split a source recording into chunks and write the job manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApplication(cmd, func(ctx context.Context, application *app.Application) (any, error) {
				return application.Prepare(ctx, args[0])
			})
		},
	}
}

func newTranscribeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <manifest-key>",
		Short: "Run the speech worker over every chunk of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApplication(cmd, func(ctx context.Context, application *app.Application) (any, error) {
				return application.Transcribe(ctx, args[0])
			})
		},
	}
}

func newStitchCommand(opts *rootOptions) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "stitch <manifest-key>",
		Short: "Merge the per-chunk transcripts of a job into txt, srt, vtt and json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApplication(cmd, func(ctx context.Context, application *app.Application) (any, error) {
				return application.Stitch(ctx, args[0], language)
			})
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "language code recorded in the transcript")
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "run <source-key-or-url>",
		Short: "Prepare, transcribe and stitch a source recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApplication(cmd, func(ctx context.Context, application *app.Application) (any, error) {
				return application.Run(ctx, args[0], language)
			})
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "language code recorded in the transcript")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "longscribe %s\n", version)
			fmt.Fprintln(cmd.OutOrStdout(), "Architecture: Go + FFmpeg + external speech worker")
		},
	}
}
