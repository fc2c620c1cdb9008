// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production.
// Development mode enables debug-level state tracing.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// Task returns the fields attached to every log line about one search task.
func Task(source string, index int, term string) []zap.Field {
	return []zap.Field{
		zap.String("source", source),
		zap.Int("task_index", index),
		zap.String("search_term", term),
	}
}

// Elapsed logs how long the named operation took since start and returns the duration.
func Elapsed(logger *zap.Logger, name string, start time.Time, fields ...zap.Field) time.Duration {
	d := time.Since(start)
	logger.Info(name+" finished", append(fields, zap.Duration("elapsed", d))...)
	return d
}
