package observer

import (
	"context"
	"time"

	"github.com/nevindra/ragcore"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a ragcore.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner ragcore.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner ragcore.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

// WrapTools wraps every tool in ts.
func WrapTools(ts []ragcore.Tool, inst *Instruments) []ragcore.Tool {
	out := make([]ragcore.Tool, len(ts))
	for i, t := range ts {
		out[i] = WrapTool(t, inst)
	}
	return out
}

func (o *ObservedTool) Definition() ragcore.ToolDefinition { return o.inner.Definition() }

func (o *ObservedTool) FormatForLLM(raw any) string { return o.inner.FormatForLLM(raw) }

// StreamResult delegates to the wrapped tool when it customizes its
// streamed result, so wrapping does not change tool_result payloads.
func (o *ObservedTool) StreamResult(raw any) any {
	if s, ok := o.inner.(ragcore.ResultStreamer); ok {
		return s.StreamResult(raw)
	}
	return raw
}

func (o *ObservedTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	name := o.inner.Definition().Name
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(name),
		AttrToolArgCount.Int(len(args)),
	))
	defer span.End()
	start := time.Now()

	raw, err := o.inner.Execute(ctx, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	results := -1
	if agg, ok := raw.(ragcore.AggregateSearchResult); ok {
		results = agg.Len()
		span.SetAttributes(AttrToolResultCount.Int(results))
		o.recordResults(ctx, name, agg)
	}
	span.SetAttributes(AttrToolStatus.String(status))

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_count", results),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return raw, err
}

// recordResults counts retrieved results per result type.
func (o *ObservedTool) recordResults(ctx context.Context, tool string, agg ragcore.AggregateSearchResult) {
	for typ, n := range map[ragcore.ResultType]int{
		ragcore.ResultChunk:           len(agg.Chunks),
		ragcore.ResultGraph:           len(agg.Graph),
		ragcore.ResultWeb:             len(agg.Web),
		ragcore.ResultContextDocument: len(agg.ContextDocuments),
	} {
		if n == 0 {
			continue
		}
		o.inst.RetrievedResults.Add(ctx, int64(n), metric.WithAttributes(
			AttrToolName.String(tool),
			AttrResultType.String(string(typ)),
		))
	}
}

var (
	_ ragcore.Tool           = (*ObservedTool)(nil)
	_ ragcore.ResultStreamer = (*ObservedTool)(nil)
)
