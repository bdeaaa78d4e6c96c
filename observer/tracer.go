package observer

import (
	"context"
	"fmt"

	"github.com/nevindra/ragcore"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns a ragcore.Tracer on the global OTEL TracerProvider, so
// run, turn, and dispatch spans opened by the agent nest under the spans of
// the observer wrappers. Without Init the spans are dropped.
func NewTracer() ragcore.Tracer {
	return spanTracer{tracer: otel.Tracer(scopeName)}
}

type spanTracer struct {
	tracer trace.Tracer
}

func (t spanTracer) Start(ctx context.Context, name string, attrs ...ragcore.SpanAttr) (context.Context, ragcore.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(otelAttrs(attrs)...))
	return ctx, spanAdapter{span}
}

// spanAdapter exposes a trace.Span as a ragcore.Span.
type spanAdapter struct {
	trace.Span
}

func (s spanAdapter) SetAttr(attrs ...ragcore.SpanAttr) {
	s.SetAttributes(otelAttrs(attrs)...)
}

func (s spanAdapter) Event(name string, attrs ...ragcore.SpanAttr) {
	s.AddEvent(name, trace.WithAttributes(otelAttrs(attrs)...))
}

func (s spanAdapter) Error(err error) {
	if err == nil {
		return
	}
	s.RecordError(err)
	s.SetStatus(codes.Error, err.Error())
}

func (s spanAdapter) End() { s.Span.End() }

func otelAttrs(attrs []ragcore.SpanAttr) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = toOTELAttr(a)
	}
	return out
}

func toOTELAttr(a ragcore.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	case []string:
		return attribute.StringSlice(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprint(v))
	}
}

var (
	_ ragcore.Tracer = spanTracer{}
	_ ragcore.Span   = spanAdapter{}
)
