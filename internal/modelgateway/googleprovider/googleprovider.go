// Package googleprovider adapts the Gemini (genai) API to modelgateway's
// TextProvider/VLMProvider/EmbedProvider interfaces, following
// internal/llm/google/client.go's toContents conversion.
package googleprovider

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"constructionrag/internal/modelgateway"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Provider struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	clientCfg := &genai.ClientConfig{APIKey: strings.TrimSpace(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimSuffix(base, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return p.model
}

func (p *Provider) Chat(ctx context.Context, req modelgateway.ChatRequest) (modelgateway.ChatResponse, error) {
	effectiveModel := p.pickModel(req.Model)
	contents, err := toContents(req.Messages)
	if err != nil {
		return modelgateway.ChatResponse{}, modelgateway.WrapProviderError("google.chat", err)
	}

	var genCfg *genai.GenerateContentConfig
	if req.MaxTokens > 0 {
		genCfg = &genai.GenerateContentConfig{MaxOutputTokens: int32(req.MaxTokens)}
	}

	resp, err := p.client.Models.GenerateContent(ctx, effectiveModel, contents, genCfg)
	if err != nil {
		return modelgateway.ChatResponse{}, modelgateway.WrapProviderError("google.chat", err)
	}
	return modelgateway.ChatResponse{
		Text:  resp.Text(),
		Model: effectiveModel,
		Usage: usageFromResponse(resp),
	}, nil
}

// Caption reuses Chat: Gemini accepts inline image parts on a normal
// content turn.
func (p *Provider) Caption(ctx context.Context, req modelgateway.ChatRequest) (modelgateway.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p *Provider) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("google embed: no inputs")
	}
	embModel := model
	if strings.TrimSpace(embModel) == "" {
		embModel = "text-embedding-004"
	}
	contents := make([]*genai.Content, len(inputs))
	for i, in := range inputs {
		contents[i] = genai.NewContentFromText(in, genai.RoleUser)
	}
	resp, err := p.client.Models.EmbedContent(ctx, embModel, contents, nil)
	if err != nil {
		return nil, modelgateway.WrapProviderError("google.embed", err)
	}
	if len(resp.Embeddings) != len(inputs) {
		return nil, modelgateway.WrapProviderError("google.embed", fmt.Errorf("unexpected embedding count: got %d, want %d", len(resp.Embeddings), len(inputs)))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func toContents(msgs []modelgateway.Message) ([]*genai.Content, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("messages required")
	}
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == modelgateway.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(m.Images)+1)
		if strings.TrimSpace(m.Text) != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		for _, img := range m.Images {
			parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

func usageFromResponse(resp *genai.GenerateContentResponse) modelgateway.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return modelgateway.Usage{}
	}
	return modelgateway.Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}
