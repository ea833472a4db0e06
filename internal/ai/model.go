package ai

import (
	"context"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/adk/model"

	"github.com/kjstillabower/weather-flow-service/internal/observability"
)

// instrumentedModel records a span and call metrics around every model call.
// Whether to call a tool, and with what input, stays the wrapped model's decision.
type instrumentedModel struct {
	model.LLM
}

// Instrument wraps llm with model spans and metrics. Wrapping twice is a no-op.
func Instrument(llm model.LLM) model.LLM {
	if _, ok := llm.(instrumentedModel); ok {
		return llm
	}
	return instrumentedModel{LLM: llm}
}

func (m instrumentedModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		name := m.LLM.Name()
		ctx, span := observability.Tracer(tracerName).Start(ctx, "model "+name)
		span.SetAttributes(attribute.String("ai.model", name), attribute.Int("ai.contents", len(req.Contents)))
		start := time.Now()

		var err error
		defer func() {
			status := "success"
			if err != nil {
				status = CategorizeError(err)
				span.RecordError(err)
				span.SetStatus(codes.Error, status)
			}
			observability.ModelCallsTotal.WithLabelValues(name, status).Inc()
			observability.ModelCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			span.End()
		}()

		if err = ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		for resp, respErr := range m.LLM.GenerateContent(ctx, req, stream) {
			if respErr != nil {
				err = respErr
				yield(nil, err)
				return
			}
			if resp == nil {
				err = ErrEmptyResponse
				yield(nil, err)
				return
			}
			if usage := resp.UsageMetadata; usage != nil && !resp.Partial {
				span.SetAttributes(
					attribute.Int("ai.input_tokens", int(usage.PromptTokenCount)),
					attribute.Int("ai.output_tokens", int(usage.CandidatesTokenCount)),
				)
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}
