package ragcore

import "context"

// Tracer creates spans for agent runs, model turns, and tool dispatch.
// The observer package provides an OTEL-backed implementation via NewTracer().
type Tracer interface {
	// Start creates a new span with the given name and optional attributes.
	// Callers must call Span.End() when the operation completes.
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span represents a traced operation.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	Event(name string, attrs ...SpanAttr)
	Error(err error)
	End()
}

// SpanAttr is a key-value attribute attached to a span or event.
type SpanAttr struct {
	Key   string
	Value any
}

func StringAttr(k, v string) SpanAttr {
	return SpanAttr{Key: k, Value: v}
}

func IntAttr(k string, v int) SpanAttr {
	return SpanAttr{Key: k, Value: v}
}

func BoolAttr(k string, v bool) SpanAttr {
	return SpanAttr{Key: k, Value: v}
}

// startSpan starts a span on t, or returns a no-op span when t is nil so
// call sites never branch on tracing being configured.
func startSpan(ctx context.Context, t Tracer, name string, attrs ...SpanAttr) (context.Context, Span) {
	if t == nil {
		return ctx, nopSpan{}
	}
	return t.Start(ctx, name, attrs...)
}

type nopSpan struct{}

func (nopSpan) SetAttr(...SpanAttr)        {}
func (nopSpan) Event(string, ...SpanAttr) {}
func (nopSpan) Error(error)                {}
func (nopSpan) End()                       {}
