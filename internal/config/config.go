package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Model providers.
const (
	ProviderGitHub    = "github"
	ProviderAnthropic = "anthropic"
)

// Config holds service configuration loaded from .env, YAML and the environment.
// It is built once at startup and passed to constructors.
type Config struct {
	Env string

	ServerPort      string        `validate:"required,numeric"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	// ShutdownInFlightTimeout bounds how long shutdown waits for running flows.
	ShutdownInFlightTimeout       time.Duration `validate:"gt=0"`
	ShutdownInFlightCheckInterval time.Duration `validate:"gt=0"`
	// ShutdownHealthGrace is how long /health reports shutting_down before the
	// listener closes, so load balancers stop routing first.
	ShutdownHealthGrace time.Duration `validate:"gte=0"`

	WeatherAPIKey     string        `validate:"required,min=10"`
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`

	ModelProvider   string `validate:"oneof=github anthropic"`
	ModelName       string
	ModelBaseURL    string        `validate:"omitempty,url"`
	ModelTimeout    time.Duration `validate:"gt=0"`
	ModelMaxTokens  int           `validate:"gte=0"`
	MaxTurns        int           `validate:"gte=1,lte=20"`
	GitHubToken     string        `validate:"required_if=ModelProvider github"`
	AnthropicAPIKey string        `validate:"required_if=ModelProvider anthropic"`

	RateLimitRPS   int `validate:"gte=0"`
	RateLimitBurst int `validate:"gte=0"`

	HealthWindow         time.Duration `validate:"gt=0"`
	OverloadThresholdPct int           `validate:"gte=0,lte=100"`
	DegradedErrorPct     int           `validate:"gte=0,lte=100"`
	DegradedMinSamples   int           `validate:"gte=0"`

	TraceSampleRatio float64 `validate:"gte=0,lte=1"`
	TraceExporter    string  `validate:"oneof=none log"`
	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Model struct {
		Provider  string `yaml:"provider"`
		Name      string `yaml:"name"`
		BaseURL   string `yaml:"base_url"`
		Timeout   string `yaml:"timeout"`
		MaxTokens int    `yaml:"max_tokens"`
		MaxTurns  int    `yaml:"max_turns"`
	} `yaml:"model"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RateLimitRPS   *int `yaml:"rate_limit_rps"`
		RateLimitBurst int  `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
		HealthGrace           string `yaml:"health_grace"`
	} `yaml:"shutdown"`

	Health struct {
		Window               string `yaml:"window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		DegradedMinSamples   int    `yaml:"degraded_min_samples"`
	} `yaml:"health"`

	Tracing struct {
		SampleRatio *float64 `yaml:"sample_ratio"`
		Exporter    string   `yaml:"exporter"`
	} `yaml:"tracing"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	GitHubToken       string `yaml:"github_token"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	OpenWeatherAPIKey string `yaml:"openweather_api_key"`
}

// Load reads configuration relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads dir/.env (without overriding variables already set),
// dir/config/{ENV_NAME}.yaml (default dev) and dir/config/secrets.yaml.
// Secrets and a few settings can be overridden by environment variables.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{Env: env}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "3400")
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 60*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 30*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)
	cfg.ShutdownHealthGrace = parseDurationOrZero(fc.Shutdown.HealthGrace, 5*time.Second)

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("OPENWEATHER_API_KEY"), sec.OpenWeatherAPIKey)
	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/weather")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)

	cfg.ModelProvider = strings.ToLower(strings.TrimSpace(firstNonEmpty(os.Getenv("MODEL_PROVIDER"), fc.Model.Provider, ProviderGitHub)))
	cfg.ModelName = firstNonEmpty(os.Getenv("MODEL_NAME"), fc.Model.Name)
	cfg.ModelBaseURL = fc.Model.BaseURL
	cfg.ModelTimeout = parseDuration(fc.Model.Timeout, 60*time.Second)
	cfg.ModelMaxTokens = fc.Model.MaxTokens
	cfg.MaxTurns = fc.Model.MaxTurns
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 5
	}
	cfg.GitHubToken = firstNonEmpty(os.Getenv("GITHUB_TOKEN"), sec.GitHubToken)
	cfg.AnthropicAPIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), sec.AnthropicAPIKey)

	cfg.RateLimitRPS = 10
	if fc.Reliability.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fc.Reliability.RateLimitRPS
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 2 * cfg.RateLimitRPS
	}

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.DegradedMinSamples = fc.Health.DegradedMinSamples
	if cfg.DegradedMinSamples <= 0 {
		cfg.DegradedMinSamples = 5
	}

	cfg.TraceSampleRatio = 1
	if fc.Tracing.SampleRatio != nil {
		cfg.TraceSampleRatio = *fc.Tracing.SampleRatio
	}
	cfg.TraceExporter = strings.ToLower(firstNonEmpty(os.Getenv("TRACE_EXPORTER"), fc.Tracing.Exporter, "none"))
	cfg.TrackedLocations = fc.Metrics.TrackedLocations

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSecrets reads the optional secrets file; a missing file yields empty secrets.
func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is so validation can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate checks struct tags and reports every violation with a hint on where
// the value comes from. RequestTimeout is raised above WeatherAPITimeout when needed.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, translateError(fe))
		}
		return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	return nil
}

// hints names the source of each field for error messages.
var hints = map[string]string{
	"ServerPort":          "server.port or PORT",
	"WeatherAPIKey":       "OPENWEATHER_API_KEY or config/secrets.yaml openweather_api_key",
	"WeatherAPIURL":       "weather_api.url",
	"WeatherAPITimeout":   "weather_api.timeout",
	"ModelProvider":       "model.provider or MODEL_PROVIDER",
	"ModelBaseURL":        "model.base_url",
	"MaxTurns":            "model.max_turns",
	"GitHubToken":         "GITHUB_TOKEN or config/secrets.yaml github_token",
	"AnthropicAPIKey":     "ANTHROPIC_API_KEY or config/secrets.yaml anthropic_api_key",
	"TraceSampleRatio":    "tracing.sample_ratio",
	"TraceExporter":       "tracing.exporter or TRACE_EXPORTER",
	"ShutdownHealthGrace": "shutdown.health_grace",
}

func translateError(fe validator.FieldError) string {
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case "required_if":
		msg = fmt.Sprintf("%s is required when %s", fe.Field(), strings.Replace(fe.Param(), " ", " is ", 1))
	case "oneof":
		msg = fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "min":
		msg = fmt.Sprintf("%s appears invalid (too short)", fe.Field())
	case "url":
		msg = fmt.Sprintf("%s must be a URL, got %q", fe.Field(), fe.Value())
	default:
		msg = fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	if hint, ok := hints[fe.Field()]; ok {
		msg += " (set " + hint + ")"
	}
	return msg
}
