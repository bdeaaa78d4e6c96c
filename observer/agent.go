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

// ObservedAgent wraps a ragcore.Agent to emit run lifecycle spans, metrics,
// and logs. The agent.execute span is the parent of every model and tool
// span opened during the run via context propagation.
type ObservedAgent struct {
	inner *ragcore.Agent
	inst  *Instruments
}

// WrapAgent returns an instrumented agent.
func WrapAgent(inner *ragcore.Agent, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, inst: inst}
}

func (o *ObservedAgent) Name() string { return o.inner.Name() }

// Execute wraps the inner agent's Execute.
func (o *ObservedAgent) Execute(ctx context.Context, task ragcore.Task) (ragcore.Result, error) {
	ctx, span := o.start(ctx, "agent.execute")
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, task)
	o.finish(ctx, span, start, result, err)
	return result, err
}

// ExecuteStream wraps the inner agent's ExecuteStream, counting events by
// type as they pass through to ch.
func (o *ObservedAgent) ExecuteStream(ctx context.Context, task ragcore.Task, ch chan<- ragcore.Event) (ragcore.Result, error) {
	ctx, span := o.start(ctx, "agent.execute_stream")
	defer span.End()
	start := time.Now()

	wrappedCh := make(chan ragcore.Event, max(cap(ch), 64))
	counts := make(map[ragcore.EventType]int)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		defer close(done)
		for ev := range wrappedCh {
			counts[ev.Type]++
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	result, err := o.inner.ExecuteStream(ctx, task, wrappedCh)
	<-done

	for typ, n := range counts {
		o.inst.StreamEvents.Add(ctx, int64(n), metric.WithAttributes(
			AttrAgentName.String(o.inner.Name()),
			AttrEventType.String(string(typ)),
		))
	}
	span.AddEvent("agent.stream.summary", trace.WithAttributes(
		attribute.Int("events.message", counts[ragcore.EventMessage]),
		attribute.Int("events.thinking", counts[ragcore.EventThinking]),
		attribute.Int("events.tool_call", counts[ragcore.EventToolCall]),
		attribute.Int("events.citation", counts[ragcore.EventCitation]),
	))
	o.finish(ctx, span, start, result, err)
	return result, err
}

func (o *ObservedAgent) start(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := o.inst.Tracer.Start(ctx, name, trace.WithAttributes(
		AttrAgentName.String(o.inner.Name()),
		AttrAgentMode.String(o.inner.Mode().String()),
	))
	span.AddEvent("agent.started")
	return ctx, span
}

func (o *ObservedAgent) finish(ctx context.Context, span trace.Span, start time.Time, result ragcore.Result, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"

	if ctx.Err() != nil && err != nil {
		status = "cancelled"
		span.AddEvent("agent.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	} else if err != nil {
		status = "error"
		span.AddEvent("agent.failed", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.AddEvent("agent.completed")
	}

	span.SetAttributes(
		AttrAgentStatus.String(status),
		AttrAgentCitations.Int(len(result.Citations)),
		AttrAgentResults.Int(len(result.SearchResults)),
		AttrTokensInput.Int(result.Usage.InputTokens),
		AttrTokensOutput.Int(result.Usage.OutputTokens),
	)

	o.inst.AgentExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrAgentName.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.AgentDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrAgentName.String(o.inner.Name()),
	))
	o.inst.Citations.Add(ctx, int64(len(result.Citations)), metric.WithAttributes(
		AttrAgentName.String(o.inner.Name()),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("agent execution completed"))
	rec.AddAttributes(
		otellog.String("agent.name", o.inner.Name()),
		otellog.String("agent.mode", o.inner.Mode().String()),
		otellog.String("agent.status", status),
		otellog.Int("agent.citations", len(result.Citations)),
		otellog.Int("tokens.input", result.Usage.InputTokens),
		otellog.Int("tokens.output", result.Usage.OutputTokens),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var _ ragcore.StreamingAgent = (*ObservedAgent)(nil)
