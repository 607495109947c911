package repository

import (
	"context"
	"sync"
	"time"

	"pai-docs-chat/internal/model"
)

// memoryConversationRepository 是 ConversationRepository 的内存实现，
// 供测试和无数据库的本地开发使用。MessageID 由内部计数器分配，
// 与数据库自增具有相同的排序语义。
type memoryConversationRepository struct {
	mu       sync.Mutex
	nextID   uint
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage
}

// NewMemoryConversationRepository 创建一个内存版 ConversationRepository。
func NewMemoryConversationRepository() ConversationRepository {
	return &memoryConversationRepository{
		nextID:   1,
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (r *memoryConversationRepository) AppendMessage(ctx context.Context, sessionID string, msg *model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if _, ok := r.sessions[sessionID]; !ok {
		r.sessions[sessionID] = &model.ChatSession{
			SessionID:      sessionID,
			CreatedAt:      now,
			LastActivityAt: now,
		}
	}
	r.sessions[sessionID].LastActivityAt = now

	msg.MessageID = r.nextID
	r.nextID++
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	r.messages[sessionID] = append(r.messages[sessionID], *msg)
	return nil
}

func (r *memoryConversationRepository) GetHistory(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.messages[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]model.ChatMessage, len(all))
	copy(out, all)
	return out, nil
}

func (r *memoryConversationRepository) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok, nil
}
