package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kjstillabower/weather-flow-service/internal/observability"
	"github.com/kjstillabower/weather-flow-service/internal/validation"
)

// Flow is a named, schema-validated function served over HTTP.
type Flow interface {
	Name() string
	InputSchema() *jsonschema.Schema
	OutputSchema() *jsonschema.Schema
	// RunJSON decodes raw against InputSchema, runs the flow and returns its output.
	RunJSON(ctx context.Context, raw json.RawMessage) (any, error)
}

type TypedFlow[In, Out any] struct {
	name   string
	input  *validation.Schema[In]
	output *validation.Schema[Out]
	fn     func(context.Context, In) (Out, error)
}

// DefineFlow builds a flow whose input and output schemas are inferred from In and Out.
func DefineFlow[In, Out any](name string, fn func(context.Context, In) (Out, error)) (*TypedFlow[In, Out], error) {
	if name == "" {
		return nil, errors.New("flow name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("flow %q: function is required", name)
	}
	input, err := validation.For[In]()
	if err != nil {
		return nil, fmt.Errorf("flow %q input: %w", name, err)
	}
	output, err := validation.For[Out]()
	if err != nil {
		return nil, fmt.Errorf("flow %q output: %w", name, err)
	}
	return &TypedFlow[In, Out]{name: name, input: input, output: output, fn: fn}, nil
}

func (f *TypedFlow[In, Out]) Name() string                     { return f.name }
func (f *TypedFlow[In, Out]) InputSchema() *jsonschema.Schema  { return f.input.JSONSchema() }
func (f *TypedFlow[In, Out]) OutputSchema() *jsonschema.Schema { return f.output.JSONSchema() }

func (f *TypedFlow[In, Out]) RunJSON(ctx context.Context, raw json.RawMessage) (any, error) {
	in, err := f.input.Decode(raw)
	if err != nil {
		observability.FlowRunsTotal.WithLabelValues(f.name, CategoryInvalidInput).Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrFlowInput, f.name, err)
	}
	return f.run(ctx, in)
}

// Run validates in and runs the flow.
func (f *TypedFlow[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	if err := f.input.Check(in); err != nil {
		observability.FlowRunsTotal.WithLabelValues(f.name, CategoryInvalidInput).Inc()
		var zero Out
		return zero, fmt.Errorf("%w: %s: %w", ErrFlowInput, f.name, err)
	}
	return f.run(ctx, in)
}

func (f *TypedFlow[In, Out]) run(ctx context.Context, in In) (out Out, err error) {
	ctx, span := observability.Tracer(tracerName).Start(ctx, "flow "+f.name)
	span.SetAttributes(attribute.String("flow.name", f.name))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = CategorizeError(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		}
		observability.FlowRunsTotal.WithLabelValues(f.name, status).Inc()
		observability.FlowRunDuration.WithLabelValues(f.name).Observe(time.Since(start).Seconds())
		span.End()
	}()

	out, err = f.fn(ctx, in)
	if err != nil {
		var zero Out
		return zero, err
	}
	if err := f.output.Check(out); err != nil {
		var zero Out
		return zero, fmt.Errorf("%w: %s: %w", ErrFlowOutput, f.name, err)
	}
	return out, nil
}
