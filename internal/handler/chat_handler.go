// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/model"
	"pai-docs-chat/internal/sanitize"
	"pai-docs-chat/internal/service"
	"pai-docs-chat/pkg/embedding"
	"pai-docs-chat/pkg/es"
	"pai-docs-chat/pkg/llm"
	"pai-docs-chat/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理问答请求，同时支持同步 REST 和 WebSocket 流式两种形态。
type ChatHandler struct {
	chatService service.ChatService
	ragCfg      config.RAGConfig
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, ragCfg config.RAGConfig) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		ragCfg:      ragCfg,
	}
}

// Chat 处理同步问答请求。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "请求体格式不合法", "data": nil})
		return
	}

	ctx, cancel := contextWithTimeout(c, h.ragCfg.RequestTimeout())
	defer cancel()

	resp, err := h.chatService.Chat(ctx, req)
	if err != nil {
		status, message := classifyChatError(err)
		log.Errorf("[ChatHandler] 问答请求失败: %v", err)
		c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": resp})
}

// wsChunkWriter 把流式增量包装为 JSON 分片写入 WebSocket 连接。
type wsChunkWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsChunkWriter) WriteChunk(content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	payload, err := json.Marshal(gin.H{"type": "chunk", "content": content})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *wsChunkWriter) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// Stream 处理 WebSocket 流式问答。每条入站消息是一个 ChatRequest，
// 出站依次为若干 chunk 分片和一条带完整响应的 done 消息。
func (h *ChatHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, client: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}

		var req model.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil || strings.TrimSpace(req.Message) == "" {
			_ = conn.WriteJSON(gin.H{"type": "error", "message": "请求格式不合法"})
			continue
		}

		writer := &wsChunkWriter{conn: conn}
		ctx, cancel := contextWithTimeout(c, h.ragCfg.RequestTimeout())
		resp, err := h.chatService.StreamChat(ctx, req, writer)
		cancel()
		if err != nil {
			_, message := classifyChatError(err)
			log.Errorf("[ChatHandler] 流式问答失败: %v", err)
			_ = writer.writeJSON(gin.H{"type": "error", "message": message})
			continue
		}

		if err := writer.writeJSON(gin.H{"type": "done", "data": resp}); err != nil {
			log.Warnf("发送完成通知失败: %v", err)
			break
		}
	}
}

// contextWithTimeout 给请求上下文加上问答管线的总体超时。
func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return c.Request.Context(), func() {}
	}
	return context.WithTimeout(c.Request.Context(), d)
}

// classifyChatError 把管线错误映射为 HTTP 状态码与用户可见的消息。
// 输入问题是 400，依赖不可用是 503，其余按 500 处理。
func classifyChatError(err error) (int, string) {
	switch {
	case errors.Is(err, sanitize.ErrEmptyQuery):
		return http.StatusBadRequest, "查询内容不能为空"
	case errors.Is(err, sanitize.ErrQueryTooLong):
		return http.StatusBadRequest, "查询内容超出最大长度限制"
	case errors.Is(err, service.ErrInvalidSessionID):
		return http.StatusBadRequest, "会话 ID 格式不合法"
	case errors.Is(err, service.ErrInjectionDetected):
		return http.StatusBadRequest, "输入包含不允许的指令内容"
	case errors.Is(err, embedding.ErrUnavailable),
		errors.Is(err, es.ErrUnavailable),
		errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "服务暂时不可用，请稍后再试"
	default:
		return http.StatusInternalServerError, "内部错误"
	}
}
