package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrBinaryNotFound is returned when none of the ffmpeg/ffprobe candidates exist
var ErrBinaryNotFound = errors.New("binary not found")

// Default lookup locations, tried after an explicit override
var (
	FFmpegCandidates  = []string{"/opt/bin/ffmpeg", "/opt/ffmpeg/ffmpeg", "ffmpeg", "ffmpeg.exe"}
	FFprobeCandidates = []string{"/opt/bin/ffprobe", "/opt/ffmpeg/ffprobe", "ffprobe", "ffprobe.exe"}
)

// FindBinary returns the first usable candidate. Bare names are looked up on PATH,
// anything with a directory must exist as given. Empty candidates are skipped.
func FindBinary(candidates ...string) (string, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if filepath.Base(c) == c {
			if p, err := exec.LookPath(c); err == nil {
				return p, nil
			}
			continue
		}
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrBinaryNotFound, strings.Join(candidates, ", "))
}

// Runner executes a command and returns its stdout and stderr
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// AudioProcessor probes and cuts audio files with ffprobe and ffmpeg
type AudioProcessor struct {
	logger      *zap.Logger
	ffmpegPath  string
	ffprobePath string
	run         Runner
}

// NewAudioProcessor creates a new AudioProcessor instance
func NewAudioProcessor(logger *zap.Logger, ffmpegPath, ffprobePath string) *AudioProcessor {
	return NewAudioProcessorWithRunner(logger, ffmpegPath, ffprobePath, execRunner)
}

// NewAudioProcessorWithRunner creates an AudioProcessor with an injected runner
func NewAudioProcessorWithRunner(logger *zap.Logger, ffmpegPath, ffprobePath string, run Runner) *AudioProcessor {
	return &AudioProcessor{
		logger:      logger,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		run:         run,
	}
}

// NewAudioProcessorFromCandidates resolves both binaries, preferring the overrides
func NewAudioProcessorFromCandidates(logger *zap.Logger, ffmpegOverride, ffprobeOverride string) (*AudioProcessor, error) {
	ffmpeg, err := FindBinary(append([]string{ffmpegOverride}, FFmpegCandidates...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to locate ffmpeg: %w", err)
	}
	ffprobe, err := FindBinary(append([]string{ffprobeOverride}, FFprobeCandidates...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to locate ffprobe: %w", err)
	}
	logger.Info("using audio tools", zap.String("ffmpeg", ffmpeg), zap.String("ffprobe", ffprobe))
	return NewAudioProcessor(logger, ffmpeg, ffprobe), nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the duration of the media at path in seconds, never negative
func (a *AudioProcessor) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{"-v", "error", "-print_format", "json", "-show_entries", "format=duration", path}
	stdout, stderr, err := a.run(ctx, a.ffprobePath, args...)
	if err != nil {
		a.logStderr(stderr)
		return 0, fmt.Errorf("failed to probe %s: %w", path, err)
	}

	var out probeOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}
	duration, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q for %s: %w", out.Format.Duration, path, err)
	}

	a.logger.Debug("probed audio duration", zap.String("path", path), zap.Float64("duration_sec", duration))
	return max(0, duration), nil
}

// CutArgs builds the ffmpeg arguments that extract [start, end) of in into out
func CutArgs(in string, start, end float64, out, ext string) ([]string, error) {
	duration := end - start
	if duration <= 0 {
		return nil, fmt.Errorf("non-positive cut duration %.3f", duration)
	}

	var codec []string
	switch strings.ToLower(ext) {
	case "wav":
		codec = []string{"-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1"}
	case "mp3":
		codec = []string{"-acodec", "libmp3lame", "-ar", "16000", "-ac", "1", "-b:a", "128k"}
	default:
		return nil, fmt.Errorf("unsupported chunk extension %q", ext)
	}

	args := []string{
		"-hide_banner", "-nostdin",
		"-ss", strconv.FormatFloat(start, 'f', -1, 64),
		"-i", in,
		"-t", strconv.FormatFloat(duration, 'f', -1, 64),
	}
	args = append(args, codec...)
	return append(args, "-y", out), nil
}

// Cut extracts [start, end) of in into out as 16 kHz mono audio
func (a *AudioProcessor) Cut(ctx context.Context, in string, start, end float64, out, ext string) error {
	args, err := CutArgs(in, start, end, out, ext)
	if err != nil {
		return err
	}

	a.logger.Debug("cutting audio chunk",
		zap.String("input", in),
		zap.Float64("start_sec", start),
		zap.Float64("end_sec", end),
		zap.String("output", out))

	_, stderr, err := a.run(ctx, a.ffmpegPath, args...)
	if err != nil {
		a.logStderr(stderr)
		return fmt.Errorf("failed to cut %s [%.3f, %.3f]: %w", in, start, end, err)
	}
	return nil
}

// logStderr logs ffmpeg/ffprobe stderr, as a warning when it reports an error
func (a *AudioProcessor) logStderr(stderr []byte) {
	output := strings.TrimSpace(string(stderr))
	if output == "" {
		return
	}
	if containsFFmpegError(output) {
		a.logger.Warn("ffmpeg stderr", zap.String("output", output))
	} else {
		a.logger.Debug("ffmpeg stderr", zap.String("output", output))
	}
}

// containsFFmpegError checks if stderr output contains actual errors vs info
func containsFFmpegError(output string) bool {
	errorIndicators := []string{
		"Error opening",
		"Invalid data",
		"No such file",
		"Permission denied",
		"Unknown encoder",
	}

	for _, indicator := range errorIndicators {
		if strings.Contains(output, indicator) {
			return true
		}
	}
	return false
}

// ContentType returns the MIME type uploaded chunks are stored with
func ContentType(ext string) string {
	if strings.EqualFold(ext, "wav") {
		return "audio/wav"
	}
	return "audio/mpeg"
}
