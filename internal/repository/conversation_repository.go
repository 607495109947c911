// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pai-docs-chat/internal/model"
)

// ConversationRepository 定义了会话与消息的持久化操作接口。
type ConversationRepository interface {
	// AppendMessage 追加一条消息，会话不存在时原子创建。
	AppendMessage(ctx context.Context, sessionID string, msg *model.ChatMessage) error
	// GetHistory 返回会话中最近 limit 条消息，按 MessageID 升序。
	// limit <= 0 表示不限制。未知会话返回空切片。
	GetHistory(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error)
	// SessionExists 检查会话是否存在。
	SessionExists(ctx context.Context, sessionID string) (bool, error)
}

type mysqlConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &mysqlConversationRepository{db: db}
}

// AppendMessage 在一个事务里保证会话存在并追加消息。
// 消息顺序由数据库自增的 MessageID 决定，并发追加不会互相覆盖。
func (r *mysqlConversationRepository) AppendMessage(ctx context.Context, sessionID string, msg *model.ChatMessage) error {
	msg.SessionID = sessionID

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 两个并发请求同时创建同一会话时，冲突方按已存在处理
		session := model.ChatSession{SessionID: sessionID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&session).Error; err != nil {
			return fmt.Errorf("创建会话失败: %w", err)
		}

		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		if err := tx.Model(&model.ChatSession{}).
			Where("session_id = ?", sessionID).
			Update("last_activity_at", time.Now()).Error; err != nil {
			return fmt.Errorf("更新会话活跃时间失败: %w", err)
		}
		return nil
	})
}

// GetHistory 返回最近 limit 条消息，升序排列。
// 先按 MessageID 倒序取 limit 条，再反转，保证拿到的是"最近的 N 条"。
func (r *mysqlConversationRepository) GetHistory(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	query := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("message_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var messages []model.ChatMessage
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("查询会话历史失败: %w", err)
	}

	// 反转为升序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SessionExists 检查会话是否存在。
func (r *mysqlConversationRepository) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("查询会话失败: %w", err)
	}
	return count > 0, nil
}
