// Package ai runs tool-augmented generation on the ADK agent runtime and exposes
// schema-validated tools and flows.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/kjstillabower/weather-flow-service/internal/observability"
)

const tracerName = "github.com/kjstillabower/weather-flow-service/internal/ai"

// DefaultMaxTurns caps tool-call rounds per Generate call.
const DefaultMaxTurns = 5

const userID = "flow"

type AgentConfig struct {
	Name        string
	Description string
	// Instruction is the system instruction; empty sends none of our own.
	Instruction string
	Model       model.LLM
	Tools       []*Tool
	// MaxTurns caps tool-call rounds; 0 uses DefaultMaxTurns.
	MaxTurns int
	// MaxOutputTokens bounds each model response; 0 leaves it to the provider.
	MaxOutputTokens int
	Logger          *zap.Logger
}

// Agent answers single prompts with an LLM agent that may call its tools.
// Each Generate call runs in a fresh in-memory session that is discarded after.
type Agent struct {
	name     string
	model    model.LLM
	tools    map[string]*Tool
	maxTurns int
	logger   *zap.Logger
	sessions session.Service
	runner   *runner.Runner
}

func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("agent %q: model is required", cfg.Name)
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	tools := make(map[string]*Tool, len(cfg.Tools))
	adkTools := make([]tool.Tool, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if _, dup := tools[t.Name()]; dup {
			return nil, fmt.Errorf("agent %q: %w: %q", cfg.Name, ErrDuplicateTool, t.Name())
		}
		tools[t.Name()] = t
		adkTools = append(adkTools, t.ADK())
	}

	llm := Instrument(cfg.Model)
	agentCfg := llmagent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		Model:       llm,
		Instruction: cfg.Instruction,
		Tools:       adkTools,
	}
	if cfg.MaxOutputTokens > 0 {
		agentCfg.GenerateContentConfig = &genai.GenerateContentConfig{MaxOutputTokens: int32(cfg.MaxOutputTokens)}
	}
	a, err := llmagent.New(agentCfg)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", cfg.Name, err)
	}

	sessions := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        cfg.Name,
		Agent:          a,
		SessionService: sessions,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %q runner: %w", cfg.Name, err)
	}

	return &Agent{
		name:     cfg.Name,
		model:    llm,
		tools:    tools,
		maxTurns: cfg.MaxTurns,
		logger:   cfg.Logger,
		sessions: sessions,
		runner:   r,
	}, nil
}

// Model returns the model the agent generates with.
func (a *Agent) Model() model.LLM {
	return a.model
}

// Generate sends prompt as the only user message and returns the final answer
// text. Tool calls are checked before they run; any model or tool error ends
// the call.
func (a *Agent) Generate(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := observability.Tracer(tracerName).Start(ctx, "generate")
	span.SetAttributes(attribute.String("ai.agent", a.name), attribute.String("ai.model", a.model.Name()), attribute.Int("ai.tools", len(a.tools)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, CategorizeError(err))
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	created, err := a.sessions.Create(ctx, &session.CreateRequest{AppName: a.name, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("generate: create session: %w", err)
	}
	sessionID := created.Session.ID()
	defer func() {
		_ = a.sessions.Delete(context.WithoutCancel(ctx), &session.DeleteRequest{AppName: a.name, UserID: userID, SessionID: sessionID})
	}()

	ctx, failure := withRunFailure(ctx)
	logger := observability.LoggerFromContext(ctx, a.logger)
	msg := &genai.Content{
		Role:  string(genai.RoleUser),
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}

	var (
		turns    int
		answered bool
	)
	for event, runErr := range a.runner.Run(ctx, userID, sessionID, msg, agent.RunConfig{}) {
		if err := failure.Err(); err != nil {
			return "", err
		}
		if runErr != nil {
			return "", fmt.Errorf("generate: %w", runErr)
		}
		if event == nil || event.Partial || event.Content == nil {
			continue
		}
		if event.ErrorCode != "" {
			return "", fmt.Errorf("generate: model error %s: %s", event.ErrorCode, event.ErrorMessage)
		}
		if event.Content.Role == string(genai.RoleUser) || hasFunctionResponse(event.Content) {
			continue
		}

		calls := functionCalls(event.Content)
		if len(calls) == 0 {
			text = contentText(event.Content)
			answered = true
			continue
		}
		turns++
		if turns > a.maxTurns {
			return "", fmt.Errorf("%w: %d", ErrMaxTurnsExceeded, a.maxTurns)
		}
		for _, call := range calls {
			t, ok := a.tools[call.Name]
			if !ok {
				return "", fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
			}
			if err := t.check(call.Args); err != nil {
				return "", err
			}
			logger.Debug("invoking tool", zap.String("tool", call.Name), zap.String("ref", call.ID), zap.Int("turn", turns))
		}
	}
	if err := failure.Err(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !answered {
		return "", fmt.Errorf("generate: %w", ErrEmptyResponse)
	}

	observability.GenerateToolTurns.Observe(float64(turns))
	span.SetAttributes(attribute.Int("ai.turns", turns))
	return text, nil
}

func functionCalls(c *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, p := range c.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

func hasFunctionResponse(c *genai.Content) bool {
	for _, p := range c.Parts {
		if p != nil && p.FunctionResponse != nil {
			return true
		}
	}
	return false
}

// contentText joins the answer parts, skipping model thoughts.
func contentText(c *genai.Content) string {
	var b strings.Builder
	for _, p := range c.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
