package flows

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/adk/model"

	"github.com/kjstillabower/weather-flow-service/internal/ai"
	"github.com/kjstillabower/weather-flow-service/internal/models"
)

const HelloFlowName = "helloFlow"

// WeatherPrompt is the user prompt helloFlow sends to the model.
func WeatherPrompt(location string) string {
	return "What's the weather in " + location + "?"
}

// HelloConfig wires helloFlow to its model and the weather tool.
type HelloConfig struct {
	Model      model.LLM
	GetWeather *ai.Tool
	MaxTurns   int
	// MaxOutputTokens bounds each model response; 0 leaves it to the provider.
	MaxOutputTokens int
	Logger          *zap.Logger
}

// NewHelloFlow returns helloFlow: one agent run with getWeather available,
// returning the model's final text unmodified.
func NewHelloFlow(cfg HelloConfig) (*ai.TypedFlow[models.WeatherQuery, string], error) {
	if cfg.Model == nil {
		return nil, errors.New("helloFlow: model is required")
	}
	if cfg.GetWeather == nil {
		return nil, errors.New("helloFlow: getWeather tool is required")
	}
	agent, err := ai.NewAgent(ai.AgentConfig{
		Name:            HelloFlowName,
		Description:     "Answers questions about the current weather in a location.",
		Model:           cfg.Model,
		Tools:           []*ai.Tool{cfg.GetWeather},
		MaxTurns:        cfg.MaxTurns,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return ai.DefineFlow(HelloFlowName, func(ctx context.Context, in models.WeatherQuery) (string, error) {
		return agent.Generate(ctx, WeatherPrompt(in.Location))
	})
}
