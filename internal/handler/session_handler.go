package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pai-docs-chat/internal/service"
	"pai-docs-chat/pkg/log"
)

// SessionHandler 负责会话历史查询。
type SessionHandler struct {
	conversationService service.ConversationService
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(conversationService service.ConversationService) *SessionHandler {
	return &SessionHandler{conversationService: conversationService}
}

// GetHistory 返回指定会话的全部消息，按时间升序。
func (h *SessionHandler) GetHistory(c *gin.Context) {
	sessionID := c.Param("session_id")

	resp, err := h.conversationService.GetSessionHistory(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSessionID):
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "会话 ID 格式不合法", "data": nil})
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		default:
			log.Errorf("[SessionHandler] 查询会话历史失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "内部错误", "data": nil})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": resp})
}
