package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-docs-chat/internal/model"
)

func TestAppendCreatesSession(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	exists, err := repo.SessionExists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.AppendMessage(ctx, "s1", &model.ChatMessage{Role: model.RoleUser, Content: "你好"}))

	exists, err = repo.SessionExists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		require.NoError(t, repo.AppendMessage(ctx, "s1", &model.ChatMessage{
			Role:    role,
			Content: fmt.Sprintf("消息 %d", i),
		}))
	}

	// 限制为最近 6 条，仍按 MessageID 升序
	history, err := repo.GetHistory(ctx, "s1", 6)
	require.NoError(t, err)
	require.Len(t, history, 6)
	assert.Equal(t, "消息 4", history[0].Content)
	assert.Equal(t, "消息 9", history[5].Content)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].MessageID, history[i-1].MessageID)
	}
}

func TestHistoryUnknownSessionIsEmpty(t *testing.T) {
	repo := NewMemoryConversationRepository()
	history, err := repo.GetHistory(context.Background(), "不存在", 6)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// 并发向同一会话追加消息时，两条消息都必须保留且 MessageID 互不相同。
func TestConcurrentAppendBothPersisted(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.AppendMessage(ctx, "s1", &model.ChatMessage{
				Role:    model.RoleUser,
				Content: fmt.Sprintf("并发消息 %d", i),
			})
		}(i)
	}
	wg.Wait()

	history, err := repo.GetHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, history, writers)

	seen := make(map[uint]bool)
	for _, msg := range history {
		assert.False(t, seen[msg.MessageID])
		seen[msg.MessageID] = true
	}
}
