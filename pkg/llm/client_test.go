package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-docs-chat/internal/config"
)

func newTestClient(baseURL string) Client {
	return NewClient(config.LLMConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Model:          "qwen-plus",
		TimeoutSeconds: 5,
		MaxRetries:     2,
		Generation: config.LLMGenerationConfig{
			Temperature: 0.3,
			MaxTokens:   1024,
		},
	})
}

type chunkCollector struct {
	chunks []string
}

func (c *chunkCollector) WriteChunk(content string) error {
	c.chunks = append(c.chunks, content)
	return nil
}

func TestChatReturnsAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "qwen-plus", req.Model)
		require.False(t, req.Stream)
		require.InDelta(t, 0.3, req.Temperature, 1e-9)

		fmt.Fprint(w, `{"choices":[{"message":{"content":"具身智能是指能在物理世界中感知与行动的智能体。"}}]}`)
	}))
	defer srv.Close()

	answer, err := newTestClient(srv.URL).Chat(context.Background(), []Message{
		{Role: "system", Content: "你是文档助手"},
		{Role: "user", Content: "什么是具身智能?"},
	})
	require.NoError(t, err)
	assert.Contains(t, answer, "具身智能")
}

func TestChatRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	answer, err := newTestClient(srv.URL).Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestChatExhaustedReturnsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStreamChatCollectsChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"机器\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"人\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	collector := &chunkCollector{}
	full, err := newTestClient(srv.URL).StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}}, collector)
	require.NoError(t, err)
	assert.Equal(t, "机器人", full)
	assert.Equal(t, []string{"机器", "人"}, collector.chunks)
}
