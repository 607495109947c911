// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色常量。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession 对应于数据库中的 chat_sessions 表，代表一次完整的对话。
type ChatSession struct {
	SessionID      string    `gorm:"type:varchar(36);primaryKey;column:session_id" json:"session_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index;column:created_at" json:"created_at"`
	LastActivityAt time.Time `gorm:"autoUpdateTime;index;column:last_activity_at" json:"last_activity_at"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 对应于数据库中的 chat_messages 表。
// MessageID 由数据库自增分配，是会话内消息的全序依据：
// 并发追加时以它为准，而不是调用方到达的先后。
type ChatMessage struct {
	MessageID    uint   `gorm:"primaryKey;autoIncrement;column:message_id" json:"message_id"`
	SessionID    string `gorm:"type:varchar(36);not null;index;column:session_id" json:"session_id"`
	Role         string `gorm:"type:varchar(20);not null;column:role" json:"role"`
	Content      string `gorm:"type:text;not null;column:content" json:"content"`
	SelectedText string `gorm:"type:text;column:selected_text" json:"selected_text,omitempty"`
	// ContextUsed 存放序列化后的检索上下文元数据（本轮用到了哪些来源）。
	ContextUsed string    `gorm:"type:json;column:context_used" json:"context_used,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index;column:created_at" json:"created_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// Source 是单条来源引用，按查询从命中的向量记录派生，不单独持久化。
type Source struct {
	Title          string  `json:"title"`
	FilePath       string  `json:"file_path"`
	RelevanceScore float64 `json:"relevance_score"`
	Excerpt        string  `json:"excerpt"`
}

// ContextUsed 是随 assistant 消息持久化的检索上下文元数据。
type ContextUsed struct {
	Chunks         []ContextChunk `json:"chunks"`
	RetrievalCount int            `json:"retrieval_count"`
}

// ContextChunk 记录一条被检索到的分块的概要信息。
type ContextChunk struct {
	Title          string  `json:"title"`
	FilePath       string  `json:"file_path"`
	ChunkIndex     int     `json:"chunk_index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ChatRequest 定义了问答接口的请求体。
type ChatRequest struct {
	Message      string `json:"message" binding:"required"`
	SessionID    string `json:"session_id"`
	SelectedText string `json:"selected_text"`
}

// ChatResponse 定义了问答接口的响应体。
type ChatResponse struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Sources   []Source  `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionHistoryResponse 定义了历史记录接口的响应体。
type SessionHistoryResponse struct {
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
}
