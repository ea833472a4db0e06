package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/adk/model"

	"github.com/kjstillabower/weather-flow-service/internal/ai"
	"github.com/kjstillabower/weather-flow-service/internal/ai/anthropic"
	"github.com/kjstillabower/weather-flow-service/internal/ai/openai"
	"github.com/kjstillabower/weather-flow-service/internal/config"
	"github.com/kjstillabower/weather-flow-service/internal/flows"
	httphandler "github.com/kjstillabower/weather-flow-service/internal/http"
	"github.com/kjstillabower/weather-flow-service/internal/observability"
	"github.com/kjstillabower/weather-flow-service/internal/traffic"
	"github.com/kjstillabower/weather-flow-service/internal/weather"
)

const serviceName = "weather-flow-service"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	exporterOpts, err := observability.ExporterOptions(cfg.TraceExporter, logger)
	if err != nil {
		logger.Fatal("span exporter", zap.Error(err))
	}
	tp := observability.NewTracerProvider(serviceName, cfg.TraceSampleRatio, exporterOpts...)

	weatherClient, err := weather.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	validateCtx, validateCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := weatherClient.ValidateAPIKey(validateCtx); err != nil {
		logger.Warn("weather API key check failed; lookups may fail", zap.Error(err))
	}
	validateCancel()

	llm, err := newModel(cfg)
	if err != nil {
		logger.Fatal("model provider", zap.Error(err))
	}
	logger.Info("model provider configured",
		zap.String("provider", cfg.ModelProvider),
		zap.String("model", llm.Name()))

	getWeather, err := flows.NewGetWeatherTool(weatherClient)
	if err != nil {
		logger.Fatal("getWeather tool", zap.Error(err))
	}
	helloFlow, err := flows.NewHelloFlow(flows.HelloConfig{
		Model:           llm,
		GetWeather:      getWeather,
		MaxTurns:        cfg.MaxTurns,
		MaxOutputTokens: cfg.ModelMaxTokens,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("helloFlow", zap.Error(err))
	}

	tracker := traffic.NewTracker(cfg.HealthWindow)
	observability.RegisterTrafficGauges(tracker)
	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	handler, err := httphandler.NewHandler([]ai.Flow{helloFlow}, tracker, httphandler.HealthConfig{
		Service: serviceName,
		Version: version,
		Policy: traffic.HealthPolicy{
			DegradedErrorPct:     cfg.DegradedErrorPct,
			MinSamples:           cfg.DegradedMinSamples,
			OverloadThresholdPct: cfg.OverloadThresholdPct,
			RateLimitRPS:         cfg.RateLimitRPS,
		},
	}, logger)
	if err != nil {
		logger.Fatal("handler", zap.Error(err))
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(httphandler.RouterConfig{
		Handler:        handler,
		Logger:         logger,
		InFlight:       inFlight,
		Tracker:        tracker,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("flow", flows.HelloFlowName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	if err := drain(context.Background(), srv, handler, inFlight, shutdownPlan{
		HealthGrace:           cfg.ShutdownHealthGrace,
		Timeout:               cfg.ShutdownTimeout,
		InFlightTimeout:       cfg.ShutdownInFlightTimeout,
		InFlightCheckInterval: cfg.ShutdownInFlightCheckInterval,
	}, logger); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger, tp); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newModel builds the configured model provider.
func newModel(cfg *config.Config) (model.LLM, error) {
	switch cfg.ModelProvider {
	case config.ProviderGitHub:
		m, err := openai.NewModel(openai.Config{
			Token:   cfg.GitHubToken,
			BaseURL: cfg.ModelBaseURL,
			Model:   cfg.ModelName,
			Timeout: cfg.ModelTimeout,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.ProviderAnthropic:
		m, err := anthropic.NewModel(anthropic.Config{
			APIKey:    cfg.AnthropicAPIKey,
			BaseURL:   cfg.ModelBaseURL,
			Model:     cfg.ModelName,
			MaxTokens: cfg.ModelMaxTokens,
			Timeout:   cfg.ModelTimeout,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.ModelProvider)
}
