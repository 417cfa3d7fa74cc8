package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger keeps the key/value call shape used across the service and writes through zap.
type Logger struct {
	s *zap.SugaredLogger
}

func NewLogger() *Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return FromZap(l)
}

// NewLoggerWithLevel builds a production logger, or a development one for "debug".
func NewLoggerWithLevel(level string) (*Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return FromZap(l), nil
}

func FromZap(l *zap.Logger) *Logger { return &Logger{s: l.Sugar()} }

func NopLogger() *Logger { return FromZap(zap.NewNop()) }

func (lg *Logger) Debug(msg string, kv ...any) { lg.s.Debugw(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.s.Infow(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.s.Warnw(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.s.Errorw(msg, kv...) }

// With returns a child logger that always carries kv.
func (lg *Logger) With(kv ...any) *Logger { return &Logger{s: lg.s.With(kv...)} }

func (lg *Logger) Sync() error { return lg.s.Sync() }
