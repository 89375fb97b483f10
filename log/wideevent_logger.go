package log

import (
	"context"
	"io"
	"log/slog"
)

// WideEventLogger writes one line per migration run, after the run is over,
// so a sampler can decide with the whole outcome known.
type WideEventLogger struct {
	sampler Sampler
	handler slog.Handler
}

// NewWideEventLogger creates a run event logger writing loggerType records to
// w. A nil sampler keeps every event.
func NewWideEventLogger(w io.Writer, s Sampler, loggerType string, contextKeys map[string]any) *WideEventLogger {
	if s == nil {
		s = SamplerFunc(func(context.Context, *Event) bool { return true })
	}

	// The event carries its own timestamps and name.
	dropRecordFields := func(_ []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey, slog.MessageKey:
			return slog.Attr{}
		}
		return a
	}

	h := newHandler(w, loggerType, &slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: dropRecordFields})
	return &WideEventLogger{sampler: s, handler: &contextHandler{h, contextKeys}}
}

// WriteEvent finishes e and writes it when the sampler keeps it.
func (l *WideEventLogger) WriteEvent(ctx context.Context, e *Event) {
	e.Finish()
	if !l.sampler.ShouldSample(ctx, e) {
		return
	}

	slog.New(l.handler).LogAttrs(ctx, e.Level(), "", e.ToAttrs()...)
}
