// Package openaiprovider adapts the OpenAI chat-completions API to
// modelgateway's TextProvider/VLMProvider/EmbedProvider interfaces. Message
// and image-attachment conversion follows internal/llm/openai/client.go's
// AdaptMessages / ChatWithImageAttachments conventions.
package openaiprovider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"constructionrag/internal/modelgateway"
)

// Config mirrors envconfig.ProviderConfig's fields for the OpenAI-shaped
// providers (OpenAI itself, and any OpenAI-compatible self-hosted server).
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Provider struct {
	client sdk.Client
	model  string
}

func New(cfg Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Provider{client: sdk.NewClient(opts...), model: model}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return p.model
}

func (p *Provider) Chat(ctx context.Context, req modelgateway.ChatRequest) (modelgateway.ChatResponse, error) {
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(p.pickModel(req.Model))}
	params.Messages = adaptMessages(req.Messages)
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}

	comp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return modelgateway.ChatResponse{}, wrapErr("openai.chat", err)
	}
	if len(comp.Choices) == 0 {
		return modelgateway.ChatResponse{}, wrapErr("openai.chat", fmt.Errorf("no choices returned"))
	}
	return modelgateway.ChatResponse{
		Text:  comp.Choices[0].Message.Content,
		Model: string(params.Model),
		Usage: modelgateway.Usage{
			PromptTokens:     int(comp.Usage.PromptTokens),
			CompletionTokens: int(comp.Usage.CompletionTokens),
		},
	}, nil
}

// Caption reuses Chat verbatim: the OpenAI chat-completions endpoint accepts
// image content parts on a normal message, so VLM captioning is just a Chat
// call whose messages carry Images.
func (p *Provider) Caption(ctx context.Context, req modelgateway.ChatRequest) (modelgateway.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p *Provider) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("openai embed: no inputs")
	}
	embModel := model
	if strings.TrimSpace(embModel) == "" {
		embModel = "text-embedding-3-small"
	}
	resp, err := p.client.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(embModel),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	})
	if err != nil {
		return nil, wrapErr("openai.embed", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, wrapErr("openai.embed", fmt.Errorf("unexpected embedding count: got %d, want %d", len(resp.Data), len(inputs)))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}

func adaptMessages(msgs []modelgateway.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case modelgateway.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Text))
		case modelgateway.RoleAssistant:
			out = append(out, sdk.AssistantMessage(m.Text))
		default:
			if len(m.Images) == 0 {
				out = append(out, sdk.UserMessage(m.Text))
				continue
			}
			parts := make([]sdk.ChatCompletionContentPartUnionParam, 0, len(m.Images)+1)
			if m.Text != "" {
				parts = append(parts, sdk.ChatCompletionContentPartUnionParam{
					OfText: &sdk.ChatCompletionContentPartTextParam{Text: m.Text},
				})
			}
			for _, img := range m.Images {
				dataURL := fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
				parts = append(parts, sdk.ChatCompletionContentPartUnionParam{
					OfImageURL: &sdk.ChatCompletionContentPartImageParam{
						ImageURL: sdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL},
					},
				})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfUser: &sdk.ChatCompletionUserMessageParam{
					Content: sdk.ChatCompletionUserMessageParamContentUnion{OfArrayOfContentParts: parts},
				},
			})
		}
	}
	return out
}

func wrapErr(step string, err error) error {
	return modelgateway.WrapProviderError(step, err)
}
