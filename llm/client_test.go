package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripstream/tripstream/config"
)

func testClient(endpoint string, opts ...ClientOption) *Client {
	cfg := config.LLMConfig{
		Model:       "test-model",
		Endpoint:    endpoint,
		APIKey:      "test-key",
		Temperature: 0.3,
		Timeout:     5 * time.Second,
	}
	opts = append([]ClientOption{WithRetryConfig(RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Millisecond,
	})}, opts...)
	return NewClient(cfg, opts...)
}

func completionBody(content string) string {
	return `{
		"model": "test-model",
		"choices": [{"message": {"role": "assistant", "content": ` + content + `}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(completionBody(`"hello"`)))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteRetriesTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(completionBody(`"recovered"`)))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCompleteFatalNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCompleteExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all attempts failed")
}

func TestCompleteRequiresMessages(t *testing.T) {
	_, err := testClient("http://unused").Complete(context.Background(), nil)
	require.Error(t, err)
}

func TestCompleteEmptyChoicesIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model": "test-model", "choices": []}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
