package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/model"
	"pai-docs-chat/internal/sanitize"
	"pai-docs-chat/internal/service"
	"pai-docs-chat/pkg/llm"
)

type fakeChatService struct {
	resp *model.ChatResponse
	err  error
}

func (f *fakeChatService) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeChatService) StreamChat(ctx context.Context, req model.ChatRequest, writer llm.MessageWriter) (*model.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func doChat(t *testing.T, svc service.ChatService, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/chat", NewChatHandler(svc, config.RAGConfig{RequestTimeoutSeconds: 5}).Chat)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatHandlerSuccess(t *testing.T) {
	svc := &fakeChatService{resp: &model.ChatResponse{
		SessionID: "0f8fad5b-d9cb-469f-a165-70867728950e",
		Message:   "回答",
		Sources:   []model.Source{{Title: "Introduction", FilePath: "docs/intro.md", RelevanceScore: 0.9}},
		Timestamp: time.Now(),
	}}

	w := doChat(t, svc, `{"message":"什么是 Physical AI?"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data model.ChatResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "回答", body.Data.Message)
	require.Len(t, body.Data.Sources, 1)
}

func TestChatHandlerMissingMessage(t *testing.T) {
	w := doChat(t, &fakeChatService{}, `{"session_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// 管线错误按阶段映射为不同的 HTTP 状态码。
func TestChatHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"空查询", sanitize.ErrEmptyQuery, http.StatusBadRequest},
		{"超长查询", sanitize.ErrQueryTooLong, http.StatusBadRequest},
		{"非法会话", service.ErrInvalidSessionID, http.StatusBadRequest},
		{"提示注入", service.ErrInjectionDetected, http.StatusBadRequest},
		{"生成不可用", llm.ErrUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doChat(t, &fakeChatService{err: tc.err}, `{"message":"问题"}`)
			assert.Equal(t, tc.code, w.Code)
		})
	}
}
