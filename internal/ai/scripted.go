package ai

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// ScriptedModel is a model.LLM for tests. It answers with Responses in order
// and records every request it receives.
type ScriptedModel struct {
	ModelName string
	Responses []*model.LLMResponse
	// Err, when set, is returned from every call.
	Err error

	mu    sync.Mutex
	calls []ScriptedCall
}

// ScriptedCall is what the model was sent on one call.
type ScriptedCall struct {
	Contents []*genai.Content
	Tools    []*genai.FunctionDeclaration
	System   *genai.Content
}

// LastContent returns the final content of the call, or nil.
func (c ScriptedCall) LastContent() *genai.Content {
	if len(c.Contents) == 0 {
		return nil
	}
	return c.Contents[len(c.Contents)-1]
}

func (m *ScriptedModel) Name() string {
	if m.ModelName == "" {
		return "scripted"
	}
	return m.ModelName
}

func (m *ScriptedModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		resp, err := m.next(req)
		yield(resp, err)
	}
}

func (m *ScriptedModel) next(req *model.LLMRequest) (*model.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := ScriptedCall{Contents: append([]*genai.Content(nil), req.Contents...)}
	if req.Config != nil {
		call.System = req.Config.SystemInstruction
		for _, t := range req.Config.Tools {
			if t != nil {
				call.Tools = append(call.Tools, t.FunctionDeclarations...)
			}
		}
	}
	m.calls = append(m.calls, call)

	if m.Err != nil {
		return nil, m.Err
	}
	n := len(m.calls) - 1
	if n >= len(m.Responses) {
		return nil, fmt.Errorf("scripted model: no response for call %d", n+1)
	}
	return m.Responses[n], nil
}

// Calls returns the requests received so far.
func (m *ScriptedModel) Calls() []ScriptedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ScriptedCall(nil), m.calls...)
}

// TextResponse scripts a final answer.
func TextResponse(text string) *model.LLMResponse {
	return &model.LLMResponse{
		Content: &genai.Content{
			Role:  string(genai.RoleModel),
			Parts: []*genai.Part{{Text: text}},
		},
		FinishReason: genai.FinishReasonStop,
		TurnComplete: true,
	}
}

// FunctionCallResponse scripts a single tool call.
func FunctionCallResponse(id, name string, args map[string]any) *model.LLMResponse {
	return &model.LLMResponse{
		Content: &genai.Content{
			Role:  string(genai.RoleModel),
			Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args}}},
		},
		FinishReason: genai.FinishReasonStop,
		TurnComplete: true,
	}
}

// FunctionResponseOf returns the tool result carried by c, or nil.
func FunctionResponseOf(c *genai.Content) *genai.FunctionResponse {
	if c == nil {
		return nil
	}
	for _, p := range c.Parts {
		if p != nil && p.FunctionResponse != nil {
			return p.FunctionResponse
		}
	}
	return nil
}
