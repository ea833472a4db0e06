// Package openai serves model.LLM over an OpenAI-compatible Chat Completions API.
// The default endpoint is GitHub Models, authenticated with a GitHub token.
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	adkopenai "github.com/byebyebruce/adk-go-openai"
	goopenai "github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"

	"github.com/kjstillabower/weather-flow-service/internal/ai"
)

const (
	DefaultBaseURL = "https://models.inference.ai.azure.com"
	DefaultModel   = "o3-mini"
)

type Config struct {
	Token   string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Model calls the provider once per request. There is no retry; provider
// failures come back wrapped in the ai provider errors.
type Model struct {
	llm model.LLM
}

func NewModel(cfg Config) (*Model, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: token is required", ai.ErrModelUnauthorized)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientCfg := goopenai.DefaultConfig(cfg.Token)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Model{llm: adkopenai.NewOpenAIModel(cfg.Model, clientCfg)}, nil
}

func (m *Model) Name() string {
	return m.llm.Name()
}

func (m *Model) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		for resp, err := range m.llm.GenerateContent(ctx, req, stream) {
			if err != nil {
				yield(nil, ClassifyError(err))
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

// ClassifyError wraps a Chat Completions error in the matching ai provider error.
func ClassifyError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: HTTP %d: %w", ai.ErrorForStatus(apiErr.HTTPStatusCode), apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: HTTP %d: %w", ai.ErrorForStatus(reqErr.HTTPStatusCode), reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("chat completion: %w", err)
}
