package modelgateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionrag/internal/pipelineerrors"
)

type fakeText struct {
	calls   int
	failN   int
	failErr error
	resp    ChatResponse
}

func (f *fakeText) Name() string { return "fake" }

func (f *fakeText) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	f.calls++
	if f.calls <= f.failN {
		return ChatResponse{}, f.failErr
	}
	return f.resp, nil
}

func TestChatRetriesTransientErrors(t *testing.T) {
	provider := &fakeText{failN: 2, failErr: pipelineerrors.Transient("fake", fmt.Errorf("503 upstream overloaded")), resp: ChatResponse{Text: "ok"}}
	gw := New(provider, nil, nil, Options{MaxRetries: 5, MaxElapsed: time.Second})

	resp, err := gw.Chat(context.Background(), ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, provider.calls)
}

func TestChatDoesNotRetryPermanentErrors(t *testing.T) {
	provider := &fakeText{failN: 99, failErr: pipelineerrors.Model("fake", fmt.Errorf("invalid request"))}
	gw := New(provider, nil, nil, Options{MaxRetries: 5, MaxElapsed: time.Second})

	_, err := gw.Chat(context.Background(), ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, 1, provider.calls)
}

func TestChatWithoutTextProviderIsConfigError(t *testing.T) {
	gw := New(nil, nil, nil, Options{})
	_, err := gw.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, pipelineerrors.Is(err, pipelineerrors.KindConfig))
}

func TestMemoryLimiterThrottlesBurst(t *testing.T) {
	limiter := NewMemoryLimiter(1, 1) // capacity 1, refill 1/sec
	ok1, _, err := limiter.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, retryAfter, err := limiter.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok2)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestMemoryLimiterIsolatesKeys(t *testing.T) {
	limiter := NewMemoryLimiter(1, 1)
	ok1, _, _ := limiter.Allow(context.Background(), "a")
	ok2, _, _ := limiter.Allow(context.Background(), "b")
	assert.True(t, ok1)
	assert.True(t, ok2)
}
