// Package anthropicprovider adapts the Anthropic Messages API to
// modelgateway's TextProvider/VLMProvider interfaces, following
// internal/llm/anthropic/client.go's adaptMessages conventions (system
// prompt hoisted to a separate field, content blocks per message).
package anthropicprovider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"constructionrag/internal/modelgateway"
)

const defaultMaxTokens = 1024

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Provider struct {
	client anthropic.Client
	model  string
}

func New(cfg Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Provider{client: anthropic.NewClient(opts...), model: model}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return p.model
}

func (p *Provider) Chat(ctx context.Context, req modelgateway.ChatRequest) (modelgateway.ChatResponse, error) {
	system, messages, err := adaptMessages(req.Messages)
	if err != nil {
		return modelgateway.ChatResponse{}, modelgateway.WrapProviderError("anthropic.chat", err)
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.pickModel(req.Model)),
		Messages:  messages,
		System:    system,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return modelgateway.ChatResponse{}, modelgateway.WrapProviderError("anthropic.chat", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return modelgateway.ChatResponse{
		Text:  text.String(),
		Model: string(resp.Model),
		Usage: modelgateway.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// Caption reuses Chat: Anthropic's image content blocks attach to a normal
// user message the same way text blocks do.
func (p *Provider) Caption(ctx context.Context, req modelgateway.ChatRequest) (modelgateway.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func adaptMessages(msgs []modelgateway.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	if len(msgs) == 0 {
		return nil, nil, fmt.Errorf("messages required")
	}
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case modelgateway.RoleSystem:
			if strings.TrimSpace(m.Text) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Text})
			}
		case modelgateway.RoleAssistant:
			if strings.TrimSpace(m.Text) != "" {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
			}
		default:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Images)+1)
			if strings.TrimSpace(m.Text) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, img := range m.Images {
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MIMEType, base64.StdEncoding.EncodeToString(img.Data)))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return system, out, nil
}
