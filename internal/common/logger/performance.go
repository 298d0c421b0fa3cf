// Package logger provides structured logging utilities for riskgate services
package logger

import (
	"time"

	"go.uber.org/zap"
)

// PerformanceLogger provides performance tracking and logging
type PerformanceLogger struct {
	logger *zap.Logger
}

// NewPerformanceLogger creates a new performance logger
func NewPerformanceLogger(logger *zap.Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger: logger.With(zap.String("log_type", "performance")),
	}
}

// Timer represents a performance timer
type Timer struct {
	logger    *zap.Logger
	operation string
	startTime time.Time
	fields    []zap.Field
}

// StartTimer starts a new performance timer
func (p *PerformanceLogger) StartTimer(operation string, fields ...zap.Field) *Timer {
	return &Timer{
		logger:    p.logger,
		operation: operation,
		startTime: time.Now(),
		fields:    fields,
	}
}

// Stop stops the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)

	fields := append(t.fields,
		zap.String("operation", t.operation),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
	)

	// Log at different levels based on duration
	switch {
	case duration > 5*time.Second:
		t.logger.Warn("Slow operation", fields...)
	case duration > 1*time.Second:
		t.logger.Info("Operation completed", fields...)
	default:
		t.logger.Debug("Operation completed", fields...)
	}

	return duration
}

// StopWithError stops the timer and logs the duration with error
func (t *Timer) StopWithError(err error) time.Duration {
	duration := time.Since(t.startTime)

	fields := append(t.fields,
		zap.String("operation", t.operation),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Error(err),
	)

	t.logger.Error("Operation failed", fields...)

	return duration
}

// LogOracleLookup logs an external enrichment lookup with its latency.
// Failures include the error but stay at Warn; a degraded oracle is not an
// application error.
func (p *PerformanceLogger) LogOracleLookup(oracle string, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("oracle", oracle),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		p.logger.Warn("Oracle lookup degraded", fields...)
		return
	}

	p.logger.Debug("Oracle lookup", fields...)
}

// LogCacheOperation logs a cache operation with hit/miss outcome
func (p *PerformanceLogger) LogCacheOperation(operation string, key string, hit bool, duration time.Duration) {
	fields := []zap.Field{
		zap.String("cache_operation", operation),
		zap.String("cache_key", key),
		zap.Bool("cache_hit", hit),
		zap.Duration("duration", duration),
	}

	p.logger.Debug("Cache operation", fields...)
}

// WarnThreshold logs a warning if duration exceeds threshold
func (p *PerformanceLogger) WarnThreshold(operation string, duration, threshold time.Duration, fields ...zap.Field) {
	if duration <= threshold {
		return
	}

	allFields := append(fields,
		zap.String("operation", operation),
		zap.Duration("duration", duration),
		zap.Duration("threshold", threshold),
	)

	p.logger.Warn("Operation exceeded threshold", allFields...)
}
