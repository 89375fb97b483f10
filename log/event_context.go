package log

import "context"

const (
	// WideEventKey is the context key for the wide event of the current run.
	WideEventKey contextKey = "wideEvent"
)

// ContextWithEvent returns a copy of ctx carrying e.
func ContextWithEvent(ctx context.Context, e *Event) context.Context {
	return context.WithValue(ctx, WideEventKey, e)
}

// EventFromContext returns a wide event from context when present.
func EventFromContext(ctx context.Context) *Event {
	event, ok := ctx.Value(WideEventKey).(*Event)
	if !ok {
		return nil
	}

	return event
}
