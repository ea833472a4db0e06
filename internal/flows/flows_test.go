package flows

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/adk/model"

	"github.com/kjstillabower/weather-flow-service/internal/ai"
	"github.com/kjstillabower/weather-flow-service/internal/models"
	"github.com/kjstillabower/weather-flow-service/internal/weather"
)

type mockWeatherClient struct {
	mu        sync.Mutex
	reading   models.WeatherReading
	err       error
	locations []string
}

func (m *mockWeatherClient) GetCurrentWeather(ctx context.Context, location string) (models.WeatherReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, location)
	return m.reading, m.err
}

func (m *mockWeatherClient) ValidateAPIKey(ctx context.Context) error {
	return nil
}

func (m *mockWeatherClient) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.locations...)
}

func reading(location string, celsius float64) models.WeatherReading {
	return models.WeatherReading{Location: location, Temperature: celsius, Conditions: "clear sky", Timestamp: time.Now()}
}

func newFlow(t *testing.T, client *mockWeatherClient, llm *ai.ScriptedModel) *ai.TypedFlow[models.WeatherQuery, string] {
	t.Helper()
	tool, err := NewGetWeatherTool(client)
	if err != nil {
		t.Fatalf("NewGetWeatherTool() error = %v", err)
	}
	flow, err := NewHelloFlow(HelloConfig{Model: llm, GetWeather: tool})
	if err != nil {
		t.Fatalf("NewHelloFlow() error = %v", err)
	}
	return flow
}

// toolResult returns the tool output the model received on call n, as JSON.
func toolResult(t *testing.T, llm *ai.ScriptedModel, n int) string {
	t.Helper()
	calls := llm.Calls()
	if len(calls) <= n {
		t.Fatalf("model called %d times, want more than %d", len(calls), n)
	}
	fr := ai.FunctionResponseOf(calls[n].LastContent())
	if fr == nil {
		t.Fatalf("call %d last content = %+v, want a tool result", n, calls[n].LastContent())
	}
	if fr.Name != GetWeatherToolName {
		t.Errorf("tool result name = %q, want %q", fr.Name, GetWeatherToolName)
	}
	raw, err := json.Marshal(fr.Response)
	if err != nil {
		t.Fatalf("encode tool result: %v", err)
	}
	return string(raw)
}

func TestLookupWeather_FormatsTemperature(t *testing.T) {
	tests := []struct {
		location string
		celsius  float64
		want     string
	}{
		{"Paris", 18, "The current weather in Paris is: 18 Degrees in Celsius"},
		{"Seattle", 15.5, "The current weather in Seattle is: 15.5 Degrees in Celsius"},
		{"Oslo", -3.25, "The current weather in Oslo is: -3.25 Degrees in Celsius"},
		{"Reykjavik", 0, "The current weather in Reykjavik is: 0 Degrees in Celsius"},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			client := &mockWeatherClient{reading: reading(tt.location, tt.celsius)}

			got, err := lookupWeather(client)(context.Background(), models.WeatherQuery{Location: tt.location})
			if err != nil {
				t.Fatalf("lookup error = %v", err)
			}
			if got != tt.want {
				t.Errorf("lookup = %q, want %q", got, tt.want)
			}
			if calls := client.calls(); len(calls) != 1 || calls[0] != tt.location {
				t.Errorf("weather lookups = %v, want [%s]", calls, tt.location)
			}
		})
	}
}

func TestLookupWeather_UsesQueriedLocationName(t *testing.T) {
	client := &mockWeatherClient{reading: reading("Paris", 18)}

	got, err := lookupWeather(client)(context.Background(), models.WeatherQuery{Location: "paris, fr"})
	if err != nil {
		t.Fatalf("lookup error = %v", err)
	}
	if want := "The current weather in paris, fr is: 18 Degrees in Celsius"; got != want {
		t.Errorf("lookup = %q, want %q", got, want)
	}
}

func TestLookupWeather_PropagatesError(t *testing.T) {
	for _, upstream := range []error{weather.ErrLocationNotFound, weather.ErrInvalidAPIKey, errors.New("connection reset")} {
		t.Run(upstream.Error(), func(t *testing.T) {
			client := &mockWeatherClient{err: upstream}

			got, err := lookupWeather(client)(context.Background(), models.WeatherQuery{Location: "Atlantis"})
			if !errors.Is(err, upstream) {
				t.Errorf("lookup error = %v, want %v", err, upstream)
			}
			if got != "" {
				t.Errorf("lookup = %q, want no output", got)
			}
		})
	}
}

func TestHelloFlow_ModelAnswersDirectly(t *testing.T) {
	client := &mockWeatherClient{reading: reading("Paris", 18)}
	llm := &ai.ScriptedModel{Responses: []*model.LLMResponse{
		ai.TextResponse("  I can't check live weather, but Paris is lovely.\n"),
	}}
	flow := newFlow(t, client, llm)

	got, err := flow.Run(context.Background(), models.WeatherQuery{Location: "Paris"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := "  I can't check live weather, but Paris is lovely.\n"; got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
	if calls := client.calls(); len(calls) != 0 {
		t.Errorf("weather lookups = %v, want none", calls)
	}

	calls := llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(calls))
	}
	prompt := calls[0].LastContent()
	if prompt == nil || prompt.Role != "user" || len(prompt.Parts) != 1 || prompt.Parts[0].Text != "What's the weather in Paris?" {
		t.Errorf("prompt content = %+v", prompt)
	}
	tools := calls[0].Tools
	if len(tools) != 1 || tools[0].Name != GetWeatherToolName || tools[0].Description != "Gets the current weather in a given location" {
		t.Errorf("tools offered = %+v", tools)
	}
}

func TestHelloFlow_ToolOutputReachesModel(t *testing.T) {
	client := &mockWeatherClient{reading: reading("Tokyo", 22.5)}
	llm := &ai.ScriptedModel{Responses: []*model.LLMResponse{
		ai.FunctionCallResponse("call_1", GetWeatherToolName, map[string]any{"location": "Tokyo"}),
		ai.TextResponse("Tokyo is 22.5°C."),
	}}
	flow := newFlow(t, client, llm)

	got, err := flow.Run(context.Background(), models.WeatherQuery{Location: "Tokyo"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "Tokyo is 22.5°C." {
		t.Errorf("Run() = %q", got)
	}
	if calls := client.calls(); len(calls) != 1 || calls[0] != "Tokyo" {
		t.Errorf("weather lookups = %v, want [Tokyo]", calls)
	}
	if n := len(llm.Calls()); n != 2 {
		t.Fatalf("model called %d times, want 2", n)
	}
	if out := toolResult(t, llm, 1); !strings.Contains(out, "The current weather in Tokyo is: 22.5 Degrees in Celsius") {
		t.Errorf("tool output given to model = %s", out)
	}
}

func TestHelloFlow_ToolFailureFailsFlow(t *testing.T) {
	client := &mockWeatherClient{err: weather.ErrLocationNotFound}
	llm := &ai.ScriptedModel{Responses: []*model.LLMResponse{
		ai.FunctionCallResponse("call_1", GetWeatherToolName, map[string]any{"location": "Atlantis"}),
		ai.TextResponse("unreachable"),
	}}
	flow := newFlow(t, client, llm)

	_, err := flow.Run(context.Background(), models.WeatherQuery{Location: "Atlantis"})
	if !errors.Is(err, weather.ErrLocationNotFound) {
		t.Errorf("Run() error = %v, want ErrLocationNotFound", err)
	}
	if n := len(llm.Calls()); n != 1 {
		t.Errorf("model called %d times, want 1 (no follow-up after tool failure)", n)
	}
}

func TestHelloFlow_ModelFailureFailsFlow(t *testing.T) {
	llm := &ai.ScriptedModel{Err: ai.ErrModelUnauthorized}
	flow := newFlow(t, &mockWeatherClient{}, llm)

	if _, err := flow.Run(context.Background(), models.WeatherQuery{Location: "Paris"}); !errors.Is(err, ai.ErrModelUnauthorized) {
		t.Errorf("Run() error = %v, want ErrModelUnauthorized", err)
	}
}

func TestSchemaValidation_RejectsBeforeHandlers(t *testing.T) {
	invalid := []string{`{"location":42}`, `{}`, `{"location":null}`, `{"location":["Paris"]}`}

	client := &mockWeatherClient{reading: reading("Paris", 18)}
	llm := &ai.ScriptedModel{Responses: []*model.LLMResponse{ai.TextResponse("unreachable")}}
	flow := newFlow(t, client, llm)

	for _, raw := range invalid {
		if _, err := flow.RunJSON(context.Background(), json.RawMessage(raw)); !errors.Is(err, ai.ErrFlowInput) {
			t.Errorf("flow.RunJSON(%s) error = %v, want ErrFlowInput", raw, err)
		}
	}
	if n := len(llm.Calls()); n != 0 {
		t.Errorf("model called %d times, want 0", n)
	}
	if calls := client.calls(); len(calls) != 0 {
		t.Errorf("weather lookups = %v, want none", calls)
	}
}

func TestHelloFlow_RejectsInvalidToolArguments(t *testing.T) {
	client := &mockWeatherClient{reading: reading("Paris", 18)}
	llm := &ai.ScriptedModel{Responses: []*model.LLMResponse{
		ai.FunctionCallResponse("call_1", GetWeatherToolName, map[string]any{"location": 42}),
		ai.TextResponse("unreachable"),
	}}
	flow := newFlow(t, client, llm)

	if _, err := flow.Run(context.Background(), models.WeatherQuery{Location: "Paris"}); !errors.Is(err, ai.ErrToolInput) {
		t.Errorf("Run() error = %v, want ErrToolInput", err)
	}
	if calls := client.calls(); len(calls) != 0 {
		t.Errorf("weather lookups = %v, want none", calls)
	}
}

// TestHelloFlow_Paris runs the documented example end to end through JSON.
func TestHelloFlow_Paris(t *testing.T) {
	client := &mockWeatherClient{reading: reading("Paris", 18)}
	llm := &ai.ScriptedModel{Responses: []*model.LLMResponse{
		ai.FunctionCallResponse("call_paris", GetWeatherToolName, map[string]any{"location": "Paris"}),
		ai.TextResponse("It's 18°C in Paris, mild and clear."),
	}}
	flow := newFlow(t, client, llm)

	got, err := flow.RunJSON(context.Background(), json.RawMessage(`{"location":"Paris"}`))
	if err != nil {
		t.Fatalf("RunJSON() error = %v", err)
	}
	if got != "It's 18°C in Paris, mild and clear." {
		t.Errorf("RunJSON() = %q, want %q", got, "It's 18°C in Paris, mild and clear.")
	}
	if out := toolResult(t, llm, 1); !strings.Contains(out, "The current weather in Paris is: 18 Degrees in Celsius") {
		t.Errorf("tool output given to model = %s", out)
	}
}

func TestConstructors_RequireDependencies(t *testing.T) {
	if _, err := NewGetWeatherTool(nil); err == nil {
		t.Error("NewGetWeatherTool(nil) expected error")
	}
	if _, err := NewHelloFlow(HelloConfig{}); err == nil {
		t.Error("NewHelloFlow(no model) expected error")
	}
	if _, err := NewHelloFlow(HelloConfig{Model: &ai.ScriptedModel{}}); err == nil {
		t.Error("NewHelloFlow(no tool) expected error")
	}
}
