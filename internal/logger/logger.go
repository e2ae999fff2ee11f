package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// ServiceName is attached to every entry as the "service" field
const ServiceName = "longscribe"

// NewLogger creates a production logger, or a no-op logger if it cannot be built
func NewLogger() *zap.Logger {
	logger, err := NewProductionLogger()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NewProductionLogger creates a JSON logger at info level
func NewProductionLogger() (*zap.Logger, error) {
	return build(zap.NewProductionConfig(), "production")
}

// NewDevelopmentLogger creates a console logger at debug level
func NewDevelopmentLogger() (*zap.Logger, error) {
	return build(zap.NewDevelopmentConfig(), "development")
}

// NewLoggerWithLevel creates a production (JSON) or development (console) logger at the given level
func NewLoggerWithLevel(level string, development bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	config, kind := zap.NewProductionConfig(), "production"
	if development {
		config, kind = zap.NewDevelopmentConfig(), "development"
	}
	config.Level = lvl
	return build(config, kind)
}

func build(config zap.Config, kind string) (*zap.Logger, error) {
	logger, err := config.Build(zap.Fields(zap.String("service", ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s logger: %w", kind, err)
	}
	return logger, nil
}
