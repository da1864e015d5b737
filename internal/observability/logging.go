// Package observability wires the process-wide zap loggers.
//
// Named loggers are package variables so call sites stay terse. They
// default to a console development config and are reconfigured once by
// Init after flags/config are parsed.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	root *zap.Logger

	// CLILogger is the logger for command entry points.
	CLILogger *zap.Logger
	// PipelineLogger is the logger for the scrape/cluster workers.
	PipelineLogger *zap.Logger
	// ServerLogger is the logger for the HTTP status server.
	ServerLogger *zap.Logger
)

func init() {
	apply(zap.NewNop())
}

func apply(logger *zap.Logger) {
	root = logger
	CLILogger = logger.Named("cli")
	PipelineLogger = logger.Named("pipeline")
	ServerLogger = logger.Named("server")
}

// Init configures the process loggers.
//
// level is one of debug, info, warn, error. When json is false output
// is the human console encoding.
func Init(level string, json bool) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	apply(logger)
	return nil
}

// Sync flushes buffered log entries. Called on process exit.
func Sync() {
	if root != nil {
		_ = root.Sync()
	}
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}
