// Package modelgateway implements the Model Gateway (spec §4.4): a single
// uniform surface over Text LLM, VLM, and Embedder calls across multiple
// providers (OpenAI, Anthropic, Google), with retry/backoff for transient
// provider errors, token-bucket rate limiting, and structured logging of
// each call's key, duration, and outcome (prompts are not logged).
//
// Grounded on internal/llm/provider.go's Provider interface shape (Chat over
// []Message/[]ToolSchema) and internal/embedding/client.go's EmbedText
// contract, generalized so pipeline stages depend on this package instead of
// talking to provider SDKs directly.
package modelgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"constructionrag/internal/observability"
	"constructionrag/internal/pipelineerrors"
)

// Role mirrors llm.Message's Role field.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline image attachment, used by VLM captioning calls.
type Image struct {
	MIMEType string
	Data     []byte
}

// Message is one turn of a chat/caption request.
type Message struct {
	Role   Role
	Text   string
	Images []Image
}

// ChatRequest is the uniform request shape for both Text and VLM calls —
// a VLM call is simply a ChatRequest whose messages carry Images.
type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage reports provider-returned token accounting, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatResponse is the uniform response shape for Text and VLM calls.
type ChatResponse struct {
	Text  string
	Model string
	Usage Usage
}

// TextProvider generates a completion from a conversation.
type TextProvider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// VLMProvider captions or reasons over image-bearing messages. Kept as a
// distinct interface from TextProvider (even though most providers implement
// both with the same underlying Chat call) because a deployment may route
// captioning to a cheaper/faster model than generation.
type VLMProvider interface {
	Name() string
	Caption(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// EmbedProvider batches a set of inputs into vectors in one round trip,
// mirroring internal/embedding/client.go's EmbedText contract.
type EmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// RateLimiter is asked for permission before every outbound call. Allow
// returns immediately: ok=true means proceed now, ok=false means the caller
// should wait `retryAfter` before asking again.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// Options configures a Gateway.
type Options struct {
	Limiter    RateLimiter
	MaxRetries uint
	MaxElapsed time.Duration
}

// Gateway is the uniform Text/VLM/Embedder surface pipeline stages call
// into. It wraps whichever providers are configured with retry-on-transient
// and rate limiting.
type Gateway struct {
	text    TextProvider
	vlm     VLMProvider
	embed   EmbedProvider
	limiter RateLimiter
	retries uint
	elapsed time.Duration
}

// New builds a Gateway. Any of text/vlm/embed may be nil; the corresponding
// Chat/Caption/Embed call then returns a ConfigError.
func New(text TextProvider, vlm VLMProvider, embed EmbedProvider, opts Options) *Gateway {
	retries := opts.MaxRetries
	if retries == 0 {
		retries = 3
	}
	elapsed := opts.MaxElapsed
	if elapsed == 0 {
		elapsed = 60 * time.Second
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NoopLimiter{}
	}
	return &Gateway{text: text, vlm: vlm, embed: embed, limiter: limiter, retries: retries, elapsed: elapsed}
}

// Chat runs a text generation request through rate limiting and retry.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if g.text == nil {
		return ChatResponse{}, pipelineerrors.Config("modelgateway.chat", fmt.Errorf("no text provider configured"))
	}
	return call(g, ctx, "text:"+g.text.Name(), func(ctx context.Context) (ChatResponse, error) {
		return g.text.Chat(ctx, req)
	})
}

// Caption runs a VLM captioning request through rate limiting and retry.
func (g *Gateway) Caption(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if g.vlm == nil {
		return ChatResponse{}, pipelineerrors.Config("modelgateway.caption", fmt.Errorf("no vlm provider configured"))
	}
	return call(g, ctx, "vlm:"+g.vlm.Name(), func(ctx context.Context) (ChatResponse, error) {
		return g.vlm.Caption(ctx, req)
	})
}

// Embed runs a batch embedding request through rate limiting and retry.
func (g *Gateway) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if g.embed == nil {
		return nil, pipelineerrors.Config("modelgateway.embed", fmt.Errorf("no embed provider configured"))
	}
	key := "embed:" + g.embed.Name()
	return call(g, ctx, key, func(ctx context.Context) ([][]float32, error) {
		return g.embed.Embed(ctx, model, inputs)
	})
}

// call applies rate limiting then retry-on-transient to a single provider
// operation, logging every attempt with the caller's trace context.
func call[T any](g *Gateway, ctx context.Context, key string, op func(context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		if err := g.wait(ctx, key); err != nil {
			var zero T
			return zero, err
		}
		log := observability.LoggerWithTrace(ctx)
		start := time.Now()
		res, err := op(ctx)
		dur := time.Since(start)
		if err != nil {
			log.Warn().Err(err).Str("provider_call", key).Dur("duration", dur).Msg("modelgateway_call_error")
			if pipelineerrors.IsTransient(err) {
				return res, err
			}
			return res, backoff.Permanent(err)
		}
		log.Debug().Str("provider_call", key).Dur("duration", dur).Msg("modelgateway_call_ok")
		return res, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(g.retries),
		backoff.WithMaxElapsedTime(g.elapsed),
	)
}

// wait blocks until the rate limiter admits this call or ctx is done.
func (g *Gateway) wait(ctx context.Context, key string) error {
	for {
		ok, retryAfter, err := g.limiter.Allow(ctx, key)
		if err != nil {
			return pipelineerrors.Transient("modelgateway.ratelimit", err)
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
