package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the narrow logging surface handed to workflow components.
type Logger interface {
	Log(format string, args ...any)
}

// newZapLogger builds the process logger. Output always goes to stdout and,
// when logFile is set, is mirrored into that file.
func newZapLogger(env, logFile string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.DisableStacktrace = true
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	if logFile != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logFile)
	}

	lg, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: build failed: %w", err)
	}
	return lg, nil
}

// zapLogger adapts a sugared zap logger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func newLogger(lg *zap.Logger) Logger {
	return &zapLogger{s: lg.Sugar()}
}

func (z *zapLogger) Log(format string, args ...any) {
	z.s.Infof(format, args...)
}

// sendLogger prefixes every line with the short id of one send operation.
type sendLogger struct {
	id   string
	base Logger
}

func (s *sendLogger) Log(format string, args ...any) {
	s.base.Log("[%s] "+format, append([]any{s.id}, args...)...)
}

type nopLogger struct{}

func (nopLogger) Log(string, ...any) {}
