package log

import (
	"context"
	"log/slog"
)

// NewSlogHandler adapts a Logger into a slog.Handler so dependencies that
// speak log/slog share the process formatter and outputs.
func NewSlogHandler(logger Logger) slog.Handler {
	return &slogHandler{logger: logger}
}

type slogHandler struct {
	logger Logger
	attrs  []slog.Attr
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return fromSlogLevel(level) >= h.logger.GetLevel()
}

func (h *slogHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]Field, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields = append(fields, Any(a.Key, a.Value.Any()))
	}
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, Any(a.Key, a.Value.Any()))
		return true
	})
	switch fromSlogLevel(r.Level) {
	case DebugLevel:
		h.logger.Debug(r.Message, fields...)
	case InfoLevel:
		h.logger.Info(r.Message, fields...)
	case WarnLevel:
		h.logger.Warn(r.Message, fields...)
	default:
		h.logger.Error(r.Message, fields...)
	}
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

func (h *slogHandler) WithGroup(string) slog.Handler { return h }

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level < slog.LevelInfo:
		return DebugLevel
	case level < slog.LevelWarn:
		return InfoLevel
	case level < slog.LevelError:
		return WarnLevel
	default:
		return ErrorLevel
	}
}
