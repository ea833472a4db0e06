//go:build integration

package testhelpers

import (
	"os"
	"testing"
)

// IntegrationTestConfig holds credentials and endpoints for tests against real upstreams.
type IntegrationTestConfig struct {
	OpenWeatherAPIKey string
	OpenWeatherURL    string
	GitHubToken       string
	ModelsURL         string
	Model             string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if OPENWEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("OPENWEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHER_API_KEY not set, skipping integration test")
	}

	return IntegrationTestConfig{
		OpenWeatherAPIKey: apiKey,
		OpenWeatherURL:    envOr("OPENWEATHER_API_URL", "https://api.openweathermap.org/data/2.5/weather"),
		GitHubToken:       os.Getenv("GITHUB_TOKEN"),
		ModelsURL:         envOr("GITHUB_MODELS_URL", "https://models.inference.ai.azure.com"),
		Model:             envOr("MODEL_NAME", "o3-mini"),
	}
}

// RequireGitHubToken skips the test unless a model-provider token is configured.
func RequireGitHubToken(t *testing.T, cfg IntegrationTestConfig) {
	t.Helper()
	if cfg.GitHubToken == "" {
		t.Skip("GITHUB_TOKEN not set, skipping model integration test")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
