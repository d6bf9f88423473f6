package telemetry

import (
	"context"
	"errors"
	"log/slog"
)

// FanoutHandler sends every record at or above its level to all handlers.
type FanoutHandler struct {
	level    slog.Leveler
	handlers []slog.Handler
}

func NewFanoutHandler(level slog.Leveler, handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{level: level, handlers: handlers}
}

func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.level.Level() {
		return false
	}
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *FanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		// Handlers may retain the record; each gets its own copy.
		errs = append(errs, handler.Handle(ctx, record.Clone()))
	}
	return errors.Join(errs...)
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &FanoutHandler{level: h.level, handlers: handlers}
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &FanoutHandler{level: h.level, handlers: handlers}
}
