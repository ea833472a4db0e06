package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/adk/model"

	"github.com/kjstillabower/weather-flow-service/internal/observability"
)

type echoInput struct {
	Word string `json:"word"`
}

func newEchoTool(t *testing.T, calls *atomic.Int32) *Tool {
	t.Helper()
	tool, err := NewTool("echo", "Echoes a word", func(ctx context.Context, in echoInput) (string, error) {
		calls.Add(1)
		return "echo: " + in.Word, nil
	})
	if err != nil {
		t.Fatalf("NewTool() error = %v", err)
	}
	return tool
}

func newTestAgent(t *testing.T, llm model.LLM, maxTurns int, tools ...*Tool) *Agent {
	t.Helper()
	a, err := NewAgent(AgentConfig{Name: "testAgent", Model: llm, Tools: tools, MaxTurns: maxTurns})
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}
	return a
}

func TestAgent_Generate_DirectAnswer(t *testing.T) {
	llm := &ScriptedModel{Responses: []*model.LLMResponse{TextResponse("hello there")}}
	var toolCalls atomic.Int32
	a := newTestAgent(t, llm, 0, newEchoTool(t, &toolCalls))

	got, err := a.Generate(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "hello there" {
		t.Errorf("Generate() = %q, want %q", got, "hello there")
	}
	if n := toolCalls.Load(); n != 0 {
		t.Errorf("tool called %d times, want 0", n)
	}

	calls := llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(calls))
	}
	last := calls[0].LastContent()
	if last == nil || last.Role != "user" || contentText(last) != "say hi" {
		t.Errorf("prompt content = %+v, want user %q", last, "say hi")
	}
	if len(calls[0].Tools) != 1 || calls[0].Tools[0].Name != "echo" || calls[0].Tools[0].Description != "Echoes a word" {
		t.Errorf("tools offered = %+v", calls[0].Tools)
	}
}

func TestAgent_Generate_ToolRoundTrip(t *testing.T) {
	llm := &ScriptedModel{Responses: []*model.LLMResponse{
		FunctionCallResponse("call_1", "echo", map[string]any{"word": "ping"}),
		TextResponse("the tool said ping"),
	}}
	var toolCalls atomic.Int32
	a := newTestAgent(t, llm, 0, newEchoTool(t, &toolCalls))

	got, err := a.Generate(context.Background(), "use the tool")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "the tool said ping" {
		t.Errorf("Generate() = %q", got)
	}
	if n := toolCalls.Load(); n != 1 {
		t.Errorf("tool called %d times, want 1", n)
	}

	calls := llm.Calls()
	if len(calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(calls))
	}
	fr := FunctionResponseOf(calls[1].LastContent())
	if fr == nil || fr.Name != "echo" {
		t.Fatalf("last content of second call = %+v, want echo tool result", calls[1].LastContent())
	}
	raw, _ := json.Marshal(fr.Response)
	if !strings.Contains(string(raw), "echo: ping") {
		t.Errorf("tool result given to model = %s, want it to carry %q", raw, "echo: ping")
	}
}

func TestAgent_Generate_Errors(t *testing.T) {
	modelErr := errors.New("provider exploded")
	toolErr := errors.New("tool exploded")

	failing, err := NewTool("echo", "fails", func(ctx context.Context, in echoInput) (string, error) {
		return "", toolErr
	})
	if err != nil {
		t.Fatalf("NewTool() error = %v", err)
	}
	var unused atomic.Int32

	tests := []struct {
		name      string
		llm       *ScriptedModel
		tools     func() []*Tool
		maxTurns  int
		want      error
		wantCalls int
	}{
		{
			name:      "model error",
			llm:       &ScriptedModel{Err: modelErr},
			tools:     func() []*Tool { return nil },
			want:      modelErr,
			wantCalls: 1,
		},
		{
			name: "tool error",
			llm: &ScriptedModel{Responses: []*model.LLMResponse{
				FunctionCallResponse("c1", "echo", map[string]any{"word": "x"}),
				TextResponse("unreachable"),
			}},
			tools:     func() []*Tool { return []*Tool{failing} },
			want:      toolErr,
			wantCalls: 1,
		},
		{
			name:      "unknown tool",
			llm:       &ScriptedModel{Responses: []*model.LLMResponse{FunctionCallResponse("c1", "nope", map[string]any{"word": "x"})}},
			tools:     func() []*Tool { return []*Tool{newEchoTool(t, &unused)} },
			want:      ErrUnknownTool,
			wantCalls: 1,
		},
		{
			name:      "invalid tool input",
			llm:       &ScriptedModel{Responses: []*model.LLMResponse{FunctionCallResponse("c1", "echo", map[string]any{"word": 3})}},
			tools:     func() []*Tool { return []*Tool{newEchoTool(t, &unused)} },
			want:      ErrToolInput,
			wantCalls: 1,
		},
		{
			name: "max turns",
			llm: &ScriptedModel{Responses: []*model.LLMResponse{
				FunctionCallResponse("c1", "echo", map[string]any{"word": "a"}),
				FunctionCallResponse("c2", "echo", map[string]any{"word": "b"}),
				FunctionCallResponse("c3", "echo", map[string]any{"word": "c"}),
			}},
			tools:     func() []*Tool { return []*Tool{newEchoTool(t, &unused)} },
			maxTurns:  2,
			want:      ErrMaxTurnsExceeded,
			wantCalls: 3,
		},
		{
			name:      "nil response",
			llm:       &ScriptedModel{Responses: []*model.LLMResponse{nil}},
			tools:     func() []*Tool { return nil },
			want:      ErrEmptyResponse,
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(t, tt.llm, tt.maxTurns, tt.tools()...)
			_, err := a.Generate(context.Background(), "go")
			if !errors.Is(err, tt.want) {
				t.Errorf("Generate() error = %v, want %v", err, tt.want)
			}
			if n := len(tt.llm.Calls()); n != tt.wantCalls {
				t.Errorf("model called %d times, want %d", n, tt.wantCalls)
			}
		})
	}
	if n := unused.Load(); n != 2 {
		// Only the max-turns case gets as far as running the echo tool, twice.
		t.Errorf("echo tool ran %d times, want 2", n)
	}
}

func TestNewAgent_Validation(t *testing.T) {
	var unused atomic.Int32
	llm := &ScriptedModel{}

	if _, err := NewAgent(AgentConfig{Model: llm}); err == nil {
		t.Error("NewAgent() without name expected error")
	}
	if _, err := NewAgent(AgentConfig{Name: "a"}); err == nil {
		t.Error("NewAgent() without model expected error")
	}
	_, err := NewAgent(AgentConfig{Name: "a", Model: llm, Tools: []*Tool{newEchoTool(t, &unused), newEchoTool(t, &unused)}})
	if !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("NewAgent() duplicate tools error = %v, want ErrDuplicateTool", err)
	}
}

func TestAgent_Generate_DefaultMaxTurns(t *testing.T) {
	var responses []*model.LLMResponse
	for i := 0; i <= DefaultMaxTurns; i++ {
		responses = append(responses, FunctionCallResponse("c", "echo", map[string]any{"word": "again"}))
	}
	var toolCalls atomic.Int32
	a := newTestAgent(t, &ScriptedModel{Responses: responses}, 0, newEchoTool(t, &toolCalls))

	if _, err := a.Generate(context.Background(), "loop"); !errors.Is(err, ErrMaxTurnsExceeded) {
		t.Fatalf("Generate() error = %v, want ErrMaxTurnsExceeded", err)
	}
	if n := toolCalls.Load(); n != DefaultMaxTurns {
		t.Errorf("tool ran %d times, want %d", n, DefaultMaxTurns)
	}
}

func TestAgent_Generate_CanceledContext(t *testing.T) {
	llm := &ScriptedModel{Responses: []*model.LLMResponse{TextResponse("never")}}
	a := newTestAgent(t, llm, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Generate(ctx, "hi"); !errors.Is(err, context.Canceled) {
		t.Errorf("Generate() error = %v, want context.Canceled", err)
	}
	if n := len(llm.Calls()); n != 0 {
		t.Errorf("model called %d times after cancel, want 0", n)
	}
}

func TestAgent_Generate_SessionsAreIndependent(t *testing.T) {
	llm := &ScriptedModel{Responses: []*model.LLMResponse{TextResponse("first"), TextResponse("second")}}
	a := newTestAgent(t, llm, 0)

	for _, prompt := range []string{"one", "two"} {
		if _, err := a.Generate(context.Background(), prompt); err != nil {
			t.Fatalf("Generate(%q) error = %v", prompt, err)
		}
	}
	calls := llm.Calls()
	if len(calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(calls))
	}
	for _, c := range calls[1].Contents {
		if c != nil && contentText(c) == "one" {
			t.Error("second run saw the first run's prompt")
		}
	}
}

func TestAgent_Generate_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	}()

	llm := &ScriptedModel{ModelName: "scripted", Responses: []*model.LLMResponse{
		FunctionCallResponse("call_1", "echo", map[string]any{"word": "ping"}),
		TextResponse("done"),
	}}
	var toolCalls atomic.Int32
	if _, err := newTestAgent(t, llm, 0, newEchoTool(t, &toolCalls)).Generate(context.Background(), "go"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	names := map[string]int{}
	for _, s := range exporter.GetSpans() {
		names[s.Name]++
	}
	if names["generate"] != 1 || names["model scripted"] != 2 || names["tool echo"] != 1 {
		t.Errorf("span names = %v", names)
	}
}

func TestAgent_Generate_LogsToolCallsWithContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := observability.WithLogger(context.Background(), zap.New(core))
	llm := &ScriptedModel{Responses: []*model.LLMResponse{
		FunctionCallResponse("call_1", "echo", map[string]any{"word": "ping"}),
		TextResponse("done"),
	}}
	var toolCalls atomic.Int32

	if _, err := newTestAgent(t, llm, 0, newEchoTool(t, &toolCalls)).Generate(ctx, "go"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	entries := logs.FilterMessage("invoking tool").All()
	if len(entries) != 1 {
		t.Fatalf("got %d \"invoking tool\" entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["tool"]; got != "echo" {
		t.Errorf("tool field = %v, want echo", got)
	}
}
