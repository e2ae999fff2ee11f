package gpu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Device names understood by the speech worker
const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// CommandRunner runs a command and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// GPUDetector decides which device the speech worker should run on
type GPUDetector struct {
	logger *zap.Logger
	run    CommandRunner
	getenv func(string) string
}

// GPUInfo contains information about available GPU devices
type GPUInfo struct {
	Available     bool
	DeviceCount   int
	DeviceName    string
	DriverVersion string
}

// NewGPUDetector creates a new GPU detector instance
func NewGPUDetector(logger *zap.Logger) *GPUDetector {
	return NewGPUDetectorWithRunner(logger, execRunner, os.Getenv)
}

// NewGPUDetectorWithRunner creates a detector with injected command and environment lookups
func NewGPUDetectorWithRunner(logger *zap.Logger, run CommandRunner, getenv func(string) string) *GPUDetector {
	return &GPUDetector{
		logger: logger,
		run:    run,
		getenv: getenv,
	}
}

// DetectGPU detects NVIDIA devices with nvidia-smi, falling back to CUDA_VISIBLE_DEVICES.
// It never fails: an undetectable GPU is reported as unavailable.
func (g *GPUDetector) DetectGPU(ctx context.Context) *GPUInfo {
	gpuInfo := &GPUInfo{}

	if err := g.detectWithNvidiaSMI(ctx, gpuInfo); err != nil {
		g.logger.Debug("nvidia-smi detection failed", zap.Error(err))
		if err := g.detectWithCUDAEnv(gpuInfo); err != nil {
			g.logger.Debug("CUDA environment detection failed", zap.Error(err))
			return &GPUInfo{}
		}
	}

	g.logger.Info("GPU detection completed",
		zap.Bool("available", gpuInfo.Available),
		zap.Int("device_count", gpuInfo.DeviceCount),
		zap.String("device_name", gpuInfo.DeviceName))

	return gpuInfo
}

// detectWithNvidiaSMI counts devices with --list-gpus and reads the first device's name
func (g *GPUDetector) detectWithNvidiaSMI(ctx context.Context, gpuInfo *GPUInfo) error {
	countOutput, err := g.run(ctx, "nvidia-smi", "--list-gpus")
	if err != nil {
		return fmt.Errorf("nvidia-smi command failed: %w", err)
	}

	trimmed := strings.TrimSpace(string(countOutput))
	if trimmed == "" {
		return fmt.Errorf("no GPUs found by nvidia-smi")
	}
	gpuInfo.DeviceCount = len(strings.Split(trimmed, "\n"))
	gpuInfo.Available = true

	infoOutput, err := g.run(ctx, "nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader,nounits", "--id=0")
	if err != nil {
		g.logger.Debug("nvidia-smi info query failed", zap.Error(err))
		return nil
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(infoOutput)), "\n")
	if name, driver, ok := strings.Cut(first, ","); ok {
		gpuInfo.DeviceName = strings.TrimSpace(name)
		gpuInfo.DriverVersion = strings.TrimSpace(driver)
	}

	return nil
}

// detectWithCUDAEnv trusts CUDA_VISIBLE_DEVICES when nvidia-smi is missing
func (g *GPUDetector) detectWithCUDAEnv(gpuInfo *GPUInfo) error {
	visibleDevices := strings.TrimSpace(g.getenv("CUDA_VISIBLE_DEVICES"))
	if visibleDevices == "" {
		return fmt.Errorf("CUDA_VISIBLE_DEVICES not set")
	}
	if visibleDevices == "-1" {
		return nil
	}

	gpuInfo.DeviceCount = len(strings.Split(visibleDevices, ","))
	gpuInfo.Available = gpuInfo.DeviceCount > 0
	return nil
}

// SelectDevice returns the configured device when it is explicit (cpu or cuda) and
// otherwise picks cuda when a GPU is present.
func (g *GPUDetector) SelectDevice(ctx context.Context, configured string) string {
	switch strings.ToLower(strings.TrimSpace(configured)) {
	case DeviceCPU:
		return DeviceCPU
	case DeviceCUDA:
		return DeviceCUDA
	}

	if g.DetectGPU(ctx).Available {
		return DeviceCUDA
	}
	return DeviceCPU
}
