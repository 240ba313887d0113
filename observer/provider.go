package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/easelhq/easel"
)

// ObservedProvider wraps a Provider to emit a span and token metrics
// per chat call.
type ObservedProvider struct {
	inner easel.Provider
	inst  *Instruments
}

// WrapProvider returns an instrumented Provider.
func WrapProvider(inner easel.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req easel.ChatRequest) (easel.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	attrs := metric.WithAttributes(AttrLLMProvider.String(o.inner.Name()))
	o.inst.llmCalls.Add(ctx, 1, attrs)
	o.inst.llmLatency.Record(ctx, durationMS(start), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(
		AttrTokensInput.Int(resp.Usage.InputTokens),
		AttrTokensOutput.Int(resp.Usage.OutputTokens),
	)
	o.inst.llmTokensIn.Add(ctx, int64(resp.Usage.InputTokens), attrs)
	o.inst.llmTokensOut.Add(ctx, int64(resp.Usage.OutputTokens), attrs)
	return resp, nil
}

var _ easel.Provider = (*ObservedProvider)(nil)
