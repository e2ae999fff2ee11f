package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// WhisperModel transcribes one audio file and writes the worker output document to outPath
type WhisperModel interface {
	Transcribe(ctx context.Context, audioPath, outPath string) error
	Device() string
}

// WorkerSettings configures the external speech worker
type WorkerSettings struct {
	Command       string
	Model         string
	Device        string
	Language      string
	BeamSize      int
	VADFilter     bool
	Temperature   float64
	ComputeType   string
	InitialPrompt string
}

// CommandRunner executes a command with extra environment and returns its stderr
type CommandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// WhisperCommandModel runs the speech worker as a child process
type WhisperCommandModel struct {
	logger   *zap.Logger
	settings WorkerSettings
	run      CommandRunner
}

// NewWhisperCommandModel creates a worker model that executes settings.Command
func NewWhisperCommandModel(logger *zap.Logger, settings WorkerSettings) *WhisperCommandModel {
	return NewWhisperCommandModelWithRunner(logger, settings, execRunner)
}

// NewWhisperCommandModelWithRunner creates a worker model with an injected runner
func NewWhisperCommandModelWithRunner(logger *zap.Logger, settings WorkerSettings, run CommandRunner) *WhisperCommandModel {
	return &WhisperCommandModel{
		logger:   logger,
		settings: settings,
		run:      run,
	}
}

// Device returns the device the worker is told to use
func (w *WhisperCommandModel) Device() string {
	return w.settings.Device
}

// Args builds the worker command line for one chunk
func (w *WhisperCommandModel) Args(audioPath, outPath string) []string {
	s := w.settings
	args := []string{
		"--audio", audioPath,
		"--out", outPath,
		"--model", s.Model,
		"--beam_size", strconv.Itoa(s.BeamSize),
		"--temperature", strconv.FormatFloat(s.Temperature, 'f', -1, 64),
	}
	if s.Language != "" {
		args = append(args, "--language", s.Language)
	}
	if s.VADFilter {
		args = append(args, "--vad_filter")
	}
	if s.ComputeType != "" {
		args = append(args, "--compute_type", s.ComputeType)
	}
	if s.InitialPrompt != "" {
		args = append(args, "--initial_prompt", s.InitialPrompt)
	}
	return args
}

// Transcribe runs the worker for audioPath
func (w *WhisperCommandModel) Transcribe(ctx context.Context, audioPath, outPath string) error {
	if w.settings.Command == "" {
		return fmt.Errorf("worker command not configured")
	}

	var env []string
	if w.settings.Device != "" {
		env = append(env, "WHISPER_DEVICE="+w.settings.Device)
	}

	args := w.Args(audioPath, outPath)
	w.logger.Debug("running speech worker",
		zap.String("command", w.settings.Command),
		zap.Strings("args", args),
		zap.String("device", w.settings.Device))

	stderr, err := w.run(ctx, env, w.settings.Command, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			w.logger.Error("speech worker stderr", zap.String("stderr", msg))
		}
		return fmt.Errorf("speech worker failed for %s: %w", audioPath, err)
	}
	return nil
}
