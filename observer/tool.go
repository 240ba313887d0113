package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/easelhq/easel"
)

// ObservedTool wraps a Tool to emit a span and latency metric per run.
type ObservedTool struct {
	inner easel.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented Tool.
func WrapTool(inner easel.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

// WrapTools instruments a whole tool set.
func WrapTools(tools []easel.Tool, inst *Instruments) []easel.Tool {
	out := make([]easel.Tool, len(tools))
	for i, t := range tools {
		out[i] = WrapTool(t, inst)
	}
	return out
}

func (o *ObservedTool) Info() easel.ToolInfo { return o.inner.Info() }

func (o *ObservedTool) Run(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
	name := o.inner.Info().Name
	ctx, span := o.inst.Tracer.Start(ctx, "tool.run", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Run(ctx, params)

	ok := err == nil && !result.IsError
	attrs := metric.WithAttributes(AttrToolName.String(name), statusAttr(ok))
	o.inst.toolCalls.Add(ctx, 1, attrs)
	o.inst.toolLatency.Record(ctx, durationMS(start), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(statusAttr(ok))
	}
	return result, err
}

var _ easel.Tool = (*ObservedTool)(nil)
