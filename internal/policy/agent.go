package policy

import (
	"context"
	"errors"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/ent0n29/imsgrelay/internal/openclaw"
)

// OpenClawPolicy forwards the message into an OpenClaw agent session.
type OpenClawPolicy struct {
	adapter    openclaw.Adapter
	sessionKey string
}

func NewOpenClawPolicy(adapter openclaw.Adapter, sessionKey string) *OpenClawPolicy {
	return &OpenClawPolicy{adapter: adapter, sessionKey: strings.TrimSpace(sessionKey)}
}

func (p *OpenClawPolicy) Respond(ctx context.Context, text string) (string, error) {
	resp, err := p.adapter.Reply(ctx, openclaw.Request{
		SessionKey: p.sessionKey,
		Message:    text,
	})
	if err != nil {
		return "", err
	}
	return openclaw.CleanReply(resp.Text), nil
}

const DefaultSystemPrompt = "You are a concise assistant replying over iMessage. Answer in plain text without markdown tables. Keep replies short unless asked for detail."

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
}

// OpenAIPolicy answers with a single chat completion.
type OpenAIPolicy struct {
	client oai.Client
	model  string
	system string
}

func NewOpenAIPolicy(cfg OpenAIConfig) (*OpenAIPolicy, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	system := strings.TrimSpace(cfg.SystemPrompt)
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &OpenAIPolicy{
		client: oai.NewClient(opts...),
		model:  model,
		system: system,
	}, nil
}

func (p *OpenAIPolicy) Respond(ctx context.Context, text string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(p.system),
			oai.UserMessage(text),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
