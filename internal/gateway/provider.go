// Package gateway runs extraction and analysis prompts against an ordered
// list of LLM providers, falling back from one to the next on failure.
package gateway

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/cost"
	"github.com/climatecredit/credit-engine/pkg/anthropic"
	"github.com/climatecredit/credit-engine/pkg/groq"
)

// Model defaults.
const (
	DefaultClaudeModel = "claude-haiku-4-5-20251001"
	DefaultGroqModel   = groq.DefaultModel
)

// Request is a provider-neutral completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks providers that support it to constrain output to a JSON
	// object.
	JSON bool
}

// Completion is a provider-neutral completion.
type Completion struct {
	Text  string
	Model string
	Usage cost.Usage
}

// Provider is one LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// ClaudeProvider is the primary provider over the Anthropic Messages API.
type ClaudeProvider struct {
	client anthropic.Client
	model  string
}

// NewClaudeProvider wraps client. An empty model uses DefaultClaudeModel.
func NewClaudeProvider(client anthropic.Client, model string) *ClaudeProvider {
	if model == "" {
		model = DefaultClaudeModel
	}
	return &ClaudeProvider{client: client, model: model}
}

// Name implements Provider.
func (p *ClaudeProvider) Name() string { return cost.ProviderClaude }

// Complete implements Provider.
func (p *ClaudeProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	temp := req.Temperature
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   int64(req.MaxTokens),
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "gateway: claude completion")
	}

	text := resp.Text()
	if text == "" {
		return nil, apperr.New(apperr.MalformedResponse, "claude returned no text")
	}
	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Completion{
		Text:  text,
		Model: model,
		Usage: cost.Usage{
			Provider:     cost.ProviderClaude,
			Model:        model,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CacheWrite:   resp.Usage.CacheCreationInputTokens,
			CacheRead:    resp.Usage.CacheReadInputTokens,
		},
	}, nil
}

// GroqProvider is the fallback provider over Groq chat completions.
type GroqProvider struct {
	client groq.Client
	model  string
}

// NewGroqProvider wraps client. An empty model uses DefaultGroqModel.
func NewGroqProvider(client groq.Client, model string) *GroqProvider {
	if model == "" {
		model = DefaultGroqModel
	}
	return &GroqProvider{client: client, model: model}
}

// Name implements Provider.
func (p *GroqProvider) Name() string { return cost.ProviderGroq }

// Complete implements Provider.
func (p *GroqProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	var msgs []groq.Message
	if req.System != "" {
		msgs = append(msgs, groq.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, groq.Message{Role: "user", Content: req.Prompt})

	temp := req.Temperature
	chat := groq.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: &temp,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		chat.MaxTokens = &maxTokens
	}
	if req.JSON {
		chat.ResponseFormat = groq.JSONMode
	}

	resp, err := p.client.ChatCompletion(ctx, chat)
	if err != nil {
		return nil, eris.Wrap(err, "gateway: groq completion")
	}

	text := resp.Text()
	if text == "" {
		return nil, apperr.New(apperr.MalformedResponse, "groq returned no content")
	}
	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Completion{
		Text:  text,
		Model: model,
		Usage: cost.Usage{
			Provider:     cost.ProviderGroq,
			Model:        model,
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}, nil
}
