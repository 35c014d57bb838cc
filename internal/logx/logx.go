// Package logx is the shared logging facade used across the core: a thin
// interface over log/slog so packages depend on a capability, not a global.
package logx

import (
	"fmt"
	"log/slog"
)

// Logger is the logging capability every package constructor accepts.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
}

type slogLogger struct {
	base   *slog.Logger
	prefix string
}

// Default returns a Logger backed by slog.Default(), prefixed with name.
func Default(name string) Logger {
	return &slogLogger{base: slog.Default(), prefix: name}
}

// From wraps an existing *slog.Logger, prefixed with name.
func From(l *slog.Logger, name string) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{base: l, prefix: name}
}

func (s *slogLogger) msg(format string, args ...any) string {
	return s.prefix + ": " + fmt.Sprintf(format, args...)
}

func (s *slogLogger) Errorf(format string, args ...any) { s.base.Error(s.msg(format, args...)) }
func (s *slogLogger) Warnf(format string, args ...any)  { s.base.Warn(s.msg(format, args...)) }
func (s *slogLogger) Infof(format string, args ...any)  { s.base.Info(s.msg(format, args...)) }
func (s *slogLogger) Debugf(format string, args ...any) { s.base.Debug(s.msg(format, args...)) }

// OrDefault returns l if non-nil, otherwise Default(name).
func OrDefault(l Logger, name string) Logger {
	if l != nil {
		return l
	}
	return Default(name)
}
