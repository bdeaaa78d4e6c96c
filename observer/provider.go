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

// ObservedProvider wraps a ragcore.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner ragcore.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider that emits traces, metrics, and logs.
func WrapProvider(inner ragcore.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req ragcore.ChatRequest) (ragcore.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", o.startAttrs(req)...)
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrFinishReason.String(string(resp.FinishReason)),
		AttrToolCallCount.Int(len(resp.ToolCalls)),
	)
	o.record(ctx, span, "chat", status, durationMs, resp.Usage)
	return resp, err
}

func (o *ObservedProvider) ChatStream(ctx context.Context, req ragcore.ChatRequest, ch chan<- ragcore.ChatChunk) error {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat_stream", o.startAttrs(req)...)
	defer span.End()
	start := time.Now()

	// The inner provider closes wrappedCh; the forwarder closes ch. Buffer
	// wrappedCh so the inner provider is never blocked by a slow caller
	// while the forwarder is draining.
	bufSize := max(cap(ch), 64)
	wrappedCh := make(chan ragcore.ChatChunk, bufSize)
	var (
		chunks int
		usage  ragcore.Usage
		finish ragcore.FinishReason
	)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		defer close(done)
		for c := range wrappedCh {
			chunks++
			if c.Usage != nil {
				usage = *c.Usage
			}
			if c.FinishReason != ragcore.FinishNone {
				finish = c.FinishReason
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	err := o.inner.ChatStream(ctx, req, wrappedCh)
	<-done

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrStreamChunks.Int(chunks),
		AttrFinishReason.String(string(finish)),
	)
	o.record(ctx, span, "chat_stream", status, durationMs, usage)
	return err
}

func (o *ObservedProvider) startAttrs(req ragcore.ChatRequest) []trace.SpanStartOption {
	attrs := []attribute.KeyValue{
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrMessageCount.Int(len(req.Messages)),
	}
	if len(req.Tools) > 0 {
		names := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			names[i] = t.Name
		}
		attrs = append(attrs,
			AttrToolCount.Int(len(req.Tools)),
			AttrToolNames.StringSlice(names),
		)
	}
	return []trace.SpanStartOption{trace.WithAttributes(attrs...)}
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method, status string, durationMs float64, usage ragcore.Usage) {
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var _ ragcore.Provider = (*ObservedProvider)(nil)
