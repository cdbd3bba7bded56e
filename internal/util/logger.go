package util

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogOptions selects the encoder, level and service field of the global logger
type LogOptions struct {
	Service string
	Env     string
	// Level is one of debug, info, warn or error; empty keeps the env default
	Level string
}

var (
	logger  *zap.Logger
	service = "account-inventory"
)

// InitLogger initializes the global logger
func InitLogger(opts LogOptions) error {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if opts.Env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}
	if opts.Service != "" {
		service = opts.Service
	}

	built, err := config.Build(zap.Fields(
		zap.String("service", service),
		zap.String("env", opts.Env),
	))
	if err != nil {
		return err
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

// ServiceName is the name the service logs and traces under
func ServiceName() string {
	return service
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
