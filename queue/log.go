// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"log/slog"
)

// Additional severities used alongside the standard slog levels.
const (
	LevelTrace = slog.LevelDebug - 4
	LevelFatal = slog.LevelError + 4
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

// NopLogger returns a logger which discards every record.
func NopLogger() *slog.Logger {
	return slog.New(nopHandler{})
}

// LoggerOrNop returns log or a no-op logger if log is nil.
func LoggerOrNop(log *slog.Logger) *slog.Logger {
	if log == nil {
		return NopLogger()
	}
	return log
}

// LogError logs err at error level. Lifecycle and configuration errors are
// not fatal for the receive loop so every code shares the same level.
func LogError(ctx context.Context, log *slog.Logger, err error) {
	if err == nil || log == nil {
		return
	}
	log.ErrorContext(ctx, errorMessage(err), slog.Any("error", err))
}

// LogFatal logs err at [LevelFatal].
func LogFatal(ctx context.Context, log *slog.Logger, err error) {
	if err == nil || log == nil {
		return
	}
	log.Log(ctx, LevelFatal, errorMessage(err), slog.Any("error", err))
}

func errorMessage(err error) string {
	if qe, ok := AsError(err); ok {
		return qe.Message
	}
	return err.Error()
}
