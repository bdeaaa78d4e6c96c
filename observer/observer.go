// Package observer provides OTEL-based observability for ragcore runs.
//
// It wraps Provider, Tool, and Agent with instrumented versions that emit
// traces, metrics, and logs via OpenTelemetry, and supplies a ragcore.Tracer
// for the spans the run-loops open themselves. Export to any OTEL-compatible
// backend by setting the standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/ragcore/observer"

// Instruments bundles the tracer, meter, logger, and metric instruments
// shared by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Model calls.
	TokenUsage  metric.Int64Counter
	CostTotal   metric.Float64Counter
	LLMRequests metric.Int64Counter
	LLMDuration metric.Float64Histogram

	// Tool calls.
	ToolExecutions   metric.Int64Counter
	ToolDuration     metric.Float64Histogram
	RetrievedResults metric.Int64Counter

	// Runs.
	AgentExecutions metric.Int64Counter
	AgentDuration   metric.Float64Histogram
	Citations       metric.Int64Counter
	StreamEvents    metric.Int64Counter

	Cost *CostCalculator
}

// Init installs OTLP/HTTP trace, metric, and log providers as the OTEL
// globals and returns the instruments built on them. Endpoints come from
// the standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, ...). An empty
// serviceName defaults to "ragcore". Call the returned shutdown on exit to
// flush pending telemetry.
func Init(ctx context.Context, serviceName string, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "ragcore"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	var stack shutdownStack
	fail := func(err error) (*Instruments, func(context.Context) error, error) {
		return nil, nil, errors.Join(err, stack.shutdown(ctx))
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return fail(err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	stack.push(tp.Shutdown)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return fail(err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	stack.push(mp.Shutdown)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		return fail(err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	stack.push(lp.Shutdown)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments(pricing)
	if err != nil {
		return fail(err)
	}
	return inst, stack.shutdown, nil
}

// shutdownStack runs provider shutdowns in reverse registration order.
type shutdownStack []func(context.Context) error

func (s *shutdownStack) push(fn func(context.Context) error) { *s = append(*s, fn) }

func (s shutdownStack) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		errs = append(errs, s[i](ctx))
	}
	return errors.Join(errs...)
}

// newInstruments builds the instruments on the current OTEL globals.
func newInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	m := meterBuilder{meter: otel.Meter(scopeName)}
	inst := &Instruments{
		Tracer: otel.Tracer(scopeName),
		Meter:  m.meter,
		Logger: global.GetLoggerProvider().Logger(scopeName),

		TokenUsage:  m.counter("llm.token.usage", "Tokens consumed by model calls", "{token}"),
		CostTotal:   m.floatCounter("llm.cost.total", "Cumulative model cost", "USD"),
		LLMRequests: m.counter("llm.requests", "Model requests", "{request}"),
		LLMDuration: m.histogram("llm.duration", "Model call duration", "ms"),

		ToolExecutions:   m.counter("tool.executions", "Tool executions", "{execution}"),
		ToolDuration:     m.histogram("tool.duration", "Tool execution duration", "ms"),
		RetrievedResults: m.counter("tool.retrieved_results", "Search results returned by retrieval tools", "{result}"),

		AgentExecutions: m.counter("agent.executions", "Agent runs", "{execution}"),
		AgentDuration:   m.histogram("agent.duration", "Agent run duration", "ms"),
		Citations:       m.counter("agent.citations", "Citations announced to clients", "{citation}"),
		StreamEvents:    m.counter("agent.stream.events", "Protocol events emitted by streaming runs", "{event}"),

		Cost: NewCostCalculator(pricing),
	}
	if m.err != nil {
		return nil, m.err
	}
	return inst, nil
}

// meterBuilder creates instruments and keeps every creation error.
type meterBuilder struct {
	meter metric.Meter
	err   error
}

func (b *meterBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *meterBuilder) floatCounter(name, desc, unit string) metric.Float64Counter {
	c, err := b.meter.Float64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *meterBuilder) histogram(name, desc, unit string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.err = errors.Join(b.err, err)
	return h
}
