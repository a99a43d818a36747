package logging

import (
	"context"
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
)

// ContextProvider returns attributes describing the current playback
// position. It is called for every record and must be safe from any goroutine.
type ContextProvider func() []slog.Attr

// fanout delivers each record to every sink that accepts its level. Errors
// of a failing sink are joined and do not keep the record from the others.
func fanout(sinks ...slog.Handler) slog.Handler {
	valid := make([]slog.Handler, 0, len(sinks))
	for _, h := range sinks {
		if h != nil {
			valid = append(valid, h)
		}
	}
	if len(valid) == 1 {
		return valid[0]
	}
	return slogmulti.Fanout(valid...)
}

// contextHandler appends the provider's attributes to every record.
type contextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// withContext wraps inner so records carry the attributes of provider. A nil
// provider leaves inner unchanged.
func withContext(inner slog.Handler, provider ContextProvider) slog.Handler {
	if provider == nil {
		return inner
	}
	return &contextHandler{inner: inner, provider: provider}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := h.provider(); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &contextHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}
