// Package flows defines the weather tool and the flows served over HTTP.
package flows

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-flow-service/internal/ai"
	"github.com/kjstillabower/weather-flow-service/internal/models"
	"github.com/kjstillabower/weather-flow-service/internal/observability"
	"github.com/kjstillabower/weather-flow-service/internal/weather"
)

const (
	GetWeatherToolName        = "getWeather"
	getWeatherToolDescription = "Gets the current weather in a given location"
)

// NewGetWeatherTool returns the getWeather tool backed by client. Every
// invocation makes exactly one lookup; lookup errors are returned unchanged.
func NewGetWeatherTool(client weather.Client) (*ai.Tool, error) {
	if client == nil {
		return nil, fmt.Errorf("%s: weather client is required", GetWeatherToolName)
	}
	return ai.NewTool(GetWeatherToolName, getWeatherToolDescription, lookupWeather(client))
}

func lookupWeather(client weather.Client) func(context.Context, models.WeatherQuery) (string, error) {
	return func(ctx context.Context, in models.WeatherQuery) (string, error) {
		observability.RecordWeatherQuery(in.Location)

		reading, err := client.GetCurrentWeather(ctx, in.Location)
		if err != nil {
			return "", fmt.Errorf("get current weather: %w", err)
		}
		observability.LoggerFromContext(ctx, nil).Debug("weather lookup",
			zap.String("location", in.Location),
			zap.Float64("temperature", reading.Temperature),
			zap.String("conditions", reading.Conditions))

		return FormatWeather(in.Location, reading.Temperature), nil
	}
}

// FormatWeather renders the tool's answer. The temperature uses the shortest
// decimal form, so 18 prints as "18" and 15.5 as "15.5".
func FormatWeather(location string, celsius float64) string {
	return "The current weather in " + location + " is: " +
		strconv.FormatFloat(celsius, 'f', -1, 64) + " Degrees in Celsius"
}
