// Package log decorates slog handlers with attributes pulled from the
// request context, so every layer logging with a context gets the same
// correlation fields without threading them explicitly.
package log

import (
	"context"
	"log/slog"

	"github.com/taskflare/pubsub-scheduler/internal/requestid"
)

// Extractor pulls one attribute out of a context; ok is false when the
// context carries nothing for it.
type Extractor func(ctx context.Context) (attr slog.Attr, ok bool)

// RequestID extracts the schedule-request correlation ID.
func RequestID(ctx context.Context) (slog.Attr, bool) {
	id := requestid.FromContext(ctx)
	return slog.String("request_id", id), id != ""
}

// ContextHandler wraps an slog.Handler and enriches every record with
// the configured context extractors before delegating to inner.
type ContextHandler struct {
	inner      slog.Handler
	extractors []Extractor
}

func NewContextHandler(inner slog.Handler, extractors ...Extractor) *ContextHandler {
	if len(extractors) == 0 {
		extractors = []Extractor{RequestID}
	}
	return &ContextHandler{inner: inner, extractors: extractors}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, extract := range h.extractors {
		if attr, ok := extract(ctx); ok {
			r.AddAttrs(attr)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), extractors: h.extractors}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name), extractors: h.extractors}
}
