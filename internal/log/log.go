// Package log provides the structured, leveled logger used across the
// gateway: request/response logging in internal/server and startup/fatal
// messages in cmd/tailcall.
package log

import "go.uber.org/zap"

// Logger decorates log entries with structured fields rather than formatted
// strings, so a log aggregator can index on them (requestId, field path,
// error code, ...).
type Logger interface {
	With(keysAndValues ...any) Logger

	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Fatal(msg string, keysAndValues ...any)
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production logger (JSON output, Info level).
func New() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	return &zapLogger{s: l.Sugar()}
}

// NewNop returns a Logger that discards everything, for tests that don't
// care about log output but need a non-nil Logger.
func NewNop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (l *zapLogger) With(keysAndValues ...any) Logger {
	if len(keysAndValues) == 0 {
		return l
	}
	return &zapLogger{s: l.s.With(keysAndValues...)}
}

func (l *zapLogger) Info(msg string, keysAndValues ...any)  { l.s.Infow(msg, keysAndValues...) }
func (l *zapLogger) Error(msg string, keysAndValues ...any) { l.s.Errorw(msg, keysAndValues...) }
func (l *zapLogger) Fatal(msg string, keysAndValues ...any) { l.s.Fatalw(msg, keysAndValues...) }
