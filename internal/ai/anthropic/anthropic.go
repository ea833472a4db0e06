// Package anthropic serves model.LLM over the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/kjstillabower/weather-flow-service/internal/ai"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

type Model struct {
	client    anthropic.Client
	name      string
	maxTokens int64
}

// NewModel builds a Messages API client with SDK retries disabled.
func NewModel(cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ai.ErrModelUnauthorized)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Model{
		client:    anthropic.NewClient(opts...),
		name:      cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

func (m *Model) Name() string {
	return m.name
}

// GenerateContent makes one Messages call. Streaming is not used by the flows,
// so a streaming request gets the complete message as its only response.
func (m *Model) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		resp, err := m.generate(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		resp.TurnComplete = true
		yield(resp, nil)
	}
}

func (m *Model) generate(ctx context.Context, req *model.LLMRequest) (*model.LLMResponse, error) {
	params, err := m.toParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	return fromMessage(msg)
}

func (m *Model) toParams(req *model.LLMRequest) (anthropic.MessageNewParams, error) {
	messages, err := toMessages(req.Contents)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.name),
		MaxTokens: m.maxTokens,
		Messages:  messages,
	}
	if cfg := req.Config; cfg != nil {
		params.System = toSystem(cfg.SystemInstruction)
		if cfg.MaxOutputTokens > 0 {
			params.MaxTokens = int64(cfg.MaxOutputTokens)
		}
		if params.Tools, err = toTools(cfg.Tools); err != nil {
			return anthropic.MessageNewParams{}, err
		}
	}
	return params, nil
}

// toMessages merges consecutive same-role turns; the API requires user and
// assistant turns to alternate, and tool results to travel in user turns.
func toMessages(contents []*genai.Content) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	appendTurn := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, c := range contents {
		if c == nil {
			continue
		}
		var role anthropic.MessageParamRole
		switch c.Role {
		case string(genai.RoleUser), "":
			role = anthropic.MessageParamRoleUser
		case string(genai.RoleModel):
			role = anthropic.MessageParamRoleAssistant
		default:
			return nil, fmt.Errorf("unsupported role %q", c.Role)
		}

		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range c.Parts {
			switch {
			case p == nil, p.Thought:
			case p.FunctionCall != nil:
				args := p.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(p.FunctionCall.ID, args, p.FunctionCall.Name))
			case p.FunctionResponse != nil:
				raw, err := json.Marshal(p.FunctionResponse.Response)
				if err != nil {
					return nil, fmt.Errorf("encode tool result %s: %w", p.FunctionResponse.Name, err)
				}
				appendTurn(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(p.FunctionResponse.ID, string(raw), false))
			case p.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			}
		}
		if len(blocks) > 0 {
			appendTurn(role, blocks...)
		}
	}
	return out, nil
}

func toSystem(c *genai.Content) []anthropic.TextBlockParam {
	if c == nil {
		return nil
	}
	var system []anthropic.TextBlockParam
	for _, p := range c.Parts {
		if p != nil && p.Text != "" {
			system = append(system, anthropic.TextBlockParam{Text: p.Text})
		}
	}
	return system
}

func toTools(tools []*genai.Tool) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		if t == nil {
			continue
		}
		for _, fd := range t.FunctionDeclarations {
			if fd == nil {
				continue
			}
			schema, err := inputSchema(fd)
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", fd.Name, err)
			}
			out = append(out, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        fd.Name,
					Description: anthropic.String(fd.Description),
					InputSchema: schema,
				},
			})
		}
	}
	return out, nil
}

// inputSchema renders the declaration's JSON schema through JSON so nested
// keywords survive unchanged. A closed object stays closed.
func inputSchema(fd *genai.FunctionDeclaration) (anthropic.ToolInputSchemaParam, error) {
	var src any = fd.ParametersJsonSchema
	if src == nil && fd.Parameters != nil {
		src = fd.Parameters
	}
	schema := anthropic.ToolInputSchemaParam{Properties: map[string]any{}}
	if src == nil {
		return schema, nil
	}

	raw, err := json.Marshal(src)
	if err != nil {
		return schema, fmt.Errorf("encode input schema: %w", err)
	}
	var doc struct {
		Properties           map[string]any `json:"properties"`
		Required             []string       `json:"required"`
		AdditionalProperties any            `json:"additionalProperties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return schema, fmt.Errorf("decode input schema: %w", err)
	}
	if doc.Properties != nil {
		schema.Properties = doc.Properties
	}
	schema.Required = doc.Required
	if doc.AdditionalProperties != nil {
		schema.ExtraFields = map[string]any{"additionalProperties": doc.AdditionalProperties}
	}
	return schema, nil
}

func fromMessage(msg *anthropic.Message) (*model.LLMResponse, error) {
	if msg == nil || len(msg.Content) == 0 {
		return nil, fmt.Errorf("%w: no content blocks", ai.ErrEmptyResponse)
	}

	content := &genai.Content{Role: string(genai.RoleModel)}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, fmt.Errorf("decode tool_use %s input: %w", b.Name, err)
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: b.ID, Name: b.Name, Args: args},
			})
		}
	}
	if text.Len() > 0 {
		content.Parts = append([]*genai.Part{{Text: text.String()}}, content.Parts...)
	}

	return &model.LLMResponse{
		Content:      content,
		FinishReason: finishReason(msg.StopReason),
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     int32(msg.Usage.InputTokens),
			CandidatesTokenCount: int32(msg.Usage.OutputTokens),
			TotalTokenCount:      int32(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

func finishReason(sr anthropic.StopReason) genai.FinishReason {
	switch sr {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence, anthropic.StopReasonToolUse:
		return genai.FinishReasonStop
	case anthropic.StopReasonMaxTokens:
		return genai.FinishReasonMaxTokens
	}
	return genai.FinishReasonOther
}

func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: HTTP %d", ai.ErrorForStatus(apiErr.StatusCode), apiErr.StatusCode)
	}
	return fmt.Errorf("messages: %w", err)
}
