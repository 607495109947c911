package service

import (
	"context"
	"errors"
	"fmt"

	"pai-docs-chat/internal/model"
	"pai-docs-chat/internal/repository"
	"pai-docs-chat/internal/sanitize"
)

// ErrSessionNotFound 表示请求的会话不存在。
var ErrSessionNotFound = errors.New("会话不存在")

// ErrInvalidSessionID 表示会话 ID 不是合法的 UUID。
var ErrInvalidSessionID = errors.New("会话 ID 格式不合法")

// ConversationService 定义了会话历史查询的接口。
type ConversationService interface {
	// GetSessionHistory 返回会话的全部消息，按时间升序。
	GetSessionHistory(ctx context.Context, sessionID string) (*model.SessionHistoryResponse, error)
}

type conversationService struct {
	conversationRepo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(conversationRepo repository.ConversationRepository) ConversationService {
	return &conversationService{conversationRepo: conversationRepo}
}

// GetSessionHistory 校验会话 ID 并返回完整历史。
func (s *conversationService) GetSessionHistory(ctx context.Context, sessionID string) (*model.SessionHistoryResponse, error) {
	if !sanitize.ValidSessionID(sessionID) {
		return nil, ErrInvalidSessionID
	}

	exists, err := s.conversationRepo.SessionExists(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	messages, err := s.conversationRepo.GetHistory(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("查询会话历史失败: %w", err)
	}

	return &model.SessionHistoryResponse{
		SessionID: sessionID,
		Messages:  messages,
	}, nil
}
