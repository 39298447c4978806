// Package logging adapts zap to the core.Logger interface.
package logging

import (
	"fmt"
	"strings"
	"tmcnotebook/internal/core"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger at level. Development selects zap's console
// encoder; otherwise JSON is written to stderr.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Adapter implements core.Logger over a sugared zap logger. Args are
// alternating key/value pairs.
type Adapter struct {
	s *zap.SugaredLogger
}

var _ core.Logger = Adapter{}

// NewAdapter wraps l; a nil logger discards everything.
func NewAdapter(l *zap.Logger) Adapter {
	if l == nil {
		l = zap.NewNop()
	}
	return Adapter{s: l.Sugar()}
}

func (a Adapter) Debug(msg string, args ...any) { a.s.Debugw(msg, args...) }
func (a Adapter) Info(msg string, args ...any)  { a.s.Infow(msg, args...) }
func (a Adapter) Warn(msg string, args ...any)  { a.s.Warnw(msg, args...) }
func (a Adapter) Error(msg string, args ...any) { a.s.Errorw(msg, args...) }

// Sync flushes buffered entries.
func (a Adapter) Sync() error { return a.s.Sync() }
