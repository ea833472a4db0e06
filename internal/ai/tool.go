package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/kjstillabower/weather-flow-service/internal/observability"
	"github.com/kjstillabower/weather-flow-service/internal/validation"
)

// Tool is a function tool a model may choose to call while an Agent runs.
type Tool struct {
	name  string
	adk   tool.Tool
	check func(args map[string]any) error
}

// NewTool builds a function tool whose input schema is inferred from In.
// Arguments that fail the schema are rejected before fn runs (ErrToolInput).
func NewTool[In, Out any](name, description string, fn func(context.Context, In) (Out, error)) (*Tool, error) {
	if name == "" {
		return nil, errors.New("tool name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %q: function is required", name)
	}
	input, err := validation.For[In]()
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}

	handler := func(tc tool.Context, in In) (out Out, err error) {
		ctx, span := observability.Tracer(tracerName).Start(tc, "tool "+name)
		span.SetAttributes(attribute.String("ai.tool", name), attribute.String("ai.tool_ref", tc.FunctionCallID()))
		defer func() {
			status := "success"
			if err != nil {
				status = CategorizeError(err)
				span.RecordError(err)
				span.SetStatus(codes.Error, status)
			}
			observability.ToolInvocationsTotal.WithLabelValues(name, status).Inc()
			span.End()
		}()

		out, err = fn(ctx, in)
		if err != nil {
			err = fmt.Errorf("tool %s: %w", name, err)
			failRun(tc, err)
		}
		return out, err
	}

	adkTool, err := functiontool.New(functiontool.Config{Name: name, Description: description}, handler)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}

	return &Tool{
		name: name,
		adk:  adkTool,
		check: func(args map[string]any) error {
			raw, err := json.Marshal(args)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrToolInput, name, err)
			}
			if _, err := input.Decode(raw); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrToolInput, name, err)
			}
			return nil
		},
	}, nil
}

func (t *Tool) Name() string { return t.name }

// ADK returns the tool as registered with the agent runtime.
func (t *Tool) ADK() tool.Tool { return t.adk }

// runFailure holds the first tool error of one agent run. The agent runtime
// reports tool errors back to the model; a flow run must stop on them instead.
type runFailure struct {
	mu  sync.Mutex
	err error
}

type runFailureKey struct{}

func withRunFailure(ctx context.Context) (context.Context, *runFailure) {
	rf := &runFailure{}
	return context.WithValue(ctx, runFailureKey{}, rf), rf
}

func failRun(ctx context.Context, err error) {
	rf, ok := ctx.Value(runFailureKey{}).(*runFailure)
	if !ok {
		return
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.err == nil {
		rf.err = err
	}
}

func (rf *runFailure) Err() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.err
}
