// Package observer wraps easel components with OpenTelemetry
// instrumentation: spans and metrics for LLM calls and tool
// executions. Wrapping is opt-in; without it nothing is emitted.
package observer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for spans and metrics.
var (
	AttrLLMModel     = attribute.Key("llm.model")
	AttrLLMProvider  = attribute.Key("llm.provider")
	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrToolCount    = attribute.Key("llm.tool_count")

	AttrToolName   = attribute.Key("tool.name")
	AttrToolStatus = attribute.Key("tool.status")
)

// Instruments bundles the tracer and meters shared by all wrappers.
type Instruments struct {
	Tracer trace.Tracer

	llmCalls     metric.Int64Counter
	llmTokensIn  metric.Int64Counter
	llmTokensOut metric.Int64Counter
	llmLatency   metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolLatency  metric.Float64Histogram
}

// Init configures global OTLP/HTTP trace and metric export and returns
// the shared instruments plus a shutdown function.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("build resource: %w", err)
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := NewInstruments()
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return inst, shutdown, nil
}

// NewInstruments builds instruments against the global providers. Use
// directly in tests or when export is configured elsewhere.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter("easel")
	inst := &Instruments{Tracer: otel.Tracer("easel")}

	var err error
	if inst.llmCalls, err = meter.Int64Counter("easel.llm.calls"); err != nil {
		return nil, err
	}
	if inst.llmTokensIn, err = meter.Int64Counter("easel.llm.tokens.input"); err != nil {
		return nil, err
	}
	if inst.llmTokensOut, err = meter.Int64Counter("easel.llm.tokens.output"); err != nil {
		return nil, err
	}
	if inst.llmLatency, err = meter.Float64Histogram("easel.llm.duration_ms"); err != nil {
		return nil, err
	}
	if inst.toolCalls, err = meter.Int64Counter("easel.tool.calls"); err != nil {
		return nil, err
	}
	if inst.toolLatency, err = meter.Float64Histogram("easel.tool.duration_ms"); err != nil {
		return nil, err
	}
	return inst, nil
}

func statusAttr(ok bool) attribute.KeyValue {
	if ok {
		return AttrToolStatus.String("ok")
	}
	return AttrToolStatus.String("error")
}

func durationMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
