package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/model"
	"pai-docs-chat/internal/repository"
	"pai-docs-chat/internal/sanitize"
	"pai-docs-chat/pkg/llm"
	"pai-docs-chat/pkg/log"
)

// ErrInjectionDetected 表示输入命中了提示注入特征。
var ErrInjectionDetected = errors.New("输入包含不允许的指令内容")

// 问答管线的阶段名，用于错误包装与日志定位。
const (
	stageEmbedding  = "embedding_query"
	stageRetrieving = "retrieving"
	stageAssembling = "assembling_context"
	stageGenerating = "generating"
	stagePersisting = "persisting"
)

// ChatService 定义了问答操作的接口。
type ChatService interface {
	// Chat 同步执行一轮完整的问答。
	Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
	// StreamChat 流式执行一轮问答，增量写入 writer，最终返回完整响应。
	StreamChat(ctx context.Context, req model.ChatRequest, writer llm.MessageWriter) (*model.ChatResponse, error)
}

type chatService struct {
	searchService    SearchService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	ragCfg           config.RAGConfig
	promptCfg        config.LLMPromptConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	searchService SearchService,
	llmClient llm.Client,
	conversationRepo repository.ConversationRepository,
	ragCfg config.RAGConfig,
	promptCfg config.LLMPromptConfig,
) ChatService {
	return &chatService{
		searchService:    searchService,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		ragCfg:           ragCfg,
		promptCfg:        promptCfg,
	}
}

// turn 承载一轮问答在各阶段之间传递的中间状态。
type turn struct {
	sessionID    string
	query        string
	selectedText string
	results      []model.SearchResult
	sources      []model.Source
	contextJSON  string
	messages     []llm.Message
	noResults    bool
}

// Chat 同步执行一轮问答。
func (s *chatService) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	var answer string
	if t.noResults {
		answer = s.noResultAnswer()
	} else {
		log.Infof("[ChatService] 步骤4: 开始生成回答, session: %s", t.sessionID)
		answer, err = s.llmClient.Chat(ctx, t.messages)
		if err != nil {
			return nil, fmt.Errorf("%s 阶段失败: %w", stageGenerating, err)
		}
	}

	return s.finish(ctx, t, answer)
}

// StreamChat 流式执行一轮问答。增量经 writer 透传，
// 完整回答在生成结束后照常持久化。
func (s *chatService) StreamChat(ctx context.Context, req model.ChatRequest, writer llm.MessageWriter) (*model.ChatResponse, error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	var answer string
	if t.noResults {
		answer = s.noResultAnswer()
		if err := writer.WriteChunk(answer); err != nil {
			return nil, fmt.Errorf("%s 阶段失败: %w", stageGenerating, err)
		}
	} else {
		log.Infof("[ChatService] 步骤4: 开始流式生成回答, session: %s", t.sessionID)
		answer, err = s.llmClient.StreamChat(ctx, t.messages, writer)
		if err != nil {
			return nil, fmt.Errorf("%s 阶段失败: %w", stageGenerating, err)
		}
	}

	return s.finish(ctx, t, answer)
}

// prepare 执行生成之前的全部阶段：输入清洗、会话解析、向量化检索与上下文组装。
func (s *chatService) prepare(ctx context.Context, req model.ChatRequest) (*turn, error) {
	// 步骤1: 清洗与校验输入
	query, err := sanitize.Query(req.Message, s.ragCfg.MaxQueryRunes)
	if err != nil {
		return nil, err
	}
	if sanitize.DetectInjection(query) {
		return nil, ErrInjectionDetected
	}
	selectedText := sanitize.SelectedText(req.SelectedText, s.ragCfg.MaxQueryRunes)

	// 步骤2: 解析会话。携带 ID 必须合法，未携带则开新会话
	sessionID := req.SessionID
	if sessionID != "" {
		if !sanitize.ValidSessionID(sessionID) {
			return nil, ErrInvalidSessionID
		}
		sessionID = strings.ToLower(sessionID)
	} else {
		sessionID = uuid.NewString()
	}

	t := &turn{
		sessionID:    sessionID,
		query:        query,
		selectedText: selectedText,
	}

	// 步骤3: 检索相关文档
	log.Infof("[ChatService] 步骤3: 开始检索, session: %s", sessionID)
	results, err := s.searchService.Search(ctx, query, selectedText, s.ragCfg.TopK, s.ragCfg.MinScore)
	if err != nil {
		return nil, fmt.Errorf("%s 阶段失败: %w", stageRetrieving, err)
	}
	if len(results) == 0 {
		// 无命中是正常结果：不调用 LLM，返回固定回答
		log.Infof("[ChatService] 无检索命中, session: %s", sessionID)
		t.noResults = true
		t.sources = []model.Source{}
		t.contextJSON = s.marshalContextUsed(nil)
		return t, nil
	}

	// 组装上下文与引用来源
	chunks := s.assembleContext(results)
	t.results = chunks
	t.sources = s.buildSources(chunks)
	t.contextJSON = s.marshalContextUsed(chunks)

	// 组装生成消息（系统提示 + 历史 + 本轮问题）
	history, err := s.conversationRepo.GetHistory(ctx, sessionID, s.ragCfg.HistoryLimit)
	if err != nil {
		log.Errorf("[ChatService] 加载会话历史失败, 按空历史继续: %v", err)
		history = nil
	}
	t.messages = s.composeMessages(chunks, history, query, selectedText)
	return t, nil
}

// finish 持久化本轮的两条消息并构造响应。
// 只有生成成功才会走到这里，失败的轮次不留下任何消息。
// 持久化失败只记录日志，已生成的回答仍然返回给调用方。
func (s *chatService) finish(ctx context.Context, t *turn, answer string) (*model.ChatResponse, error) {
	log.Infof("[ChatService] 步骤5: 持久化消息, session: %s", t.sessionID)

	// 请求被取消时仍要保存已生成的回答，持久化用独立上下文
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userMsg := &model.ChatMessage{
		Role:         model.RoleUser,
		Content:      t.query,
		SelectedText: t.selectedText,
	}
	if err := s.conversationRepo.AppendMessage(persistCtx, t.sessionID, userMsg); err != nil {
		log.Errorf("[ChatService] %s 阶段降级, 保存用户消息失败: %v", stagePersisting, err)
	} else {
		assistantMsg := &model.ChatMessage{
			Role:        model.RoleAssistant,
			Content:     answer,
			ContextUsed: t.contextJSON,
		}
		if err := s.conversationRepo.AppendMessage(persistCtx, t.sessionID, assistantMsg); err != nil {
			log.Errorf("[ChatService] %s 阶段降级, 保存回答失败: %v", stagePersisting, err)
		}
	}

	return &model.ChatResponse{
		SessionID: t.sessionID,
		Message:   answer,
		Sources:   t.sources,
		Timestamp: time.Now(),
	}, nil
}

// assembleContext 在上下文长度预算内选取检索结果。
// 结果按相似度降序排列，超出预算时整块丢弃低分块，不截断块内文本。
func (s *chatService) assembleContext(results []model.SearchResult) []model.SearchResult {
	sorted := make([]model.SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	// 去掉同一分块的重复命中
	seen := make(map[string]bool)
	deduped := sorted[:0]
	for _, r := range sorted {
		key := fmt.Sprintf("%s#%d", r.FilePath, r.ChunkIndex)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, r)
	}

	// 超出预算时从低分块开始整块丢弃，高分块永远优先保留
	budget := s.ragCfg.MaxContextRunes
	var selected []model.SearchResult
	used := 0
	for _, r := range deduped {
		n := utf8.RuneCountInString(r.TextContent)
		if budget > 0 && used+n > budget {
			break
		}
		used += n
		selected = append(selected, r)
	}

	// 预算过小时至少保留最高分块，避免空上下文
	if len(selected) == 0 && len(deduped) > 0 {
		selected = deduped[:1]
	}
	return selected
}

// buildSources 从选中的上下文块派生引用来源。
// 同一文档只保留相似度最高的一条，摘录取块文本前 500 个字符。
func (s *chatService) buildSources(chunks []model.SearchResult) []model.Source {
	const excerptRunes = 500

	best := make(map[string]model.SearchResult)
	var order []string
	for _, c := range chunks {
		cur, ok := best[c.FilePath]
		if !ok {
			best[c.FilePath] = c
			order = append(order, c.FilePath)
			continue
		}
		if c.Score > cur.Score {
			best[c.FilePath] = c
		}
	}

	sources := make([]model.Source, 0, len(order))
	for _, path := range order {
		c := best[path]
		excerpt := c.TextContent
		if runes := []rune(excerpt); len(runes) > excerptRunes {
			excerpt = string(runes[:excerptRunes]) + "…"
		}
		sources = append(sources, model.Source{
			Title:          c.Title,
			FilePath:       c.FilePath,
			RelevanceScore: c.Score,
			Excerpt:        excerpt,
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].RelevanceScore > sources[j].RelevanceScore
	})
	return sources
}

// composeMessages 组装送入生成调用的消息序列。
func (s *chatService) composeMessages(chunks []model.SearchResult, history []model.ChatMessage, query, selectedText string) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: s.buildSystemMessage(chunks)}}

	for _, m := range history {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	userContent := query
	if selectedText != "" {
		userContent = fmt.Sprintf("%s\n\n（用户当前选中的文档内容：%s）", query, selectedText)
	}
	return append(messages, llm.Message{Role: model.RoleUser, Content: userContent})
}

// buildSystemMessage 构造系统提示：回答规则 + 包裹符号内的检索上下文。
func (s *chatService) buildSystemMessage(chunks []model.SearchResult) string {
	rules := s.promptCfg.Rules
	if rules == "" {
		rules = "你是一个文档问答助手。只依据给出的参考资料回答问题，" +
			"资料中没有的内容要明确说明不知道，不要编造。"
	}
	refStart := s.promptCfg.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.promptCfg.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	for i, c := range chunks {
		label := c.Title
		if label == "" {
			label = c.FilePath
		}
		if c.Heading != "" {
			label = label + " / " + c.Heading
		}
		sys.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, label, c.TextContent))
	}
	sys.WriteString(refEnd)
	return sys.String()
}

// noResultAnswer 返回无检索命中时的固定回答。
func (s *chatService) noResultAnswer() string {
	if s.promptCfg.NoResultText != "" {
		return s.promptCfg.NoResultText
	}
	return "文档中没有找到与这个问题相关的内容。请换个问法，或确认这个主题是否在文档覆盖范围内。"
}

// marshalContextUsed 序列化本轮使用的检索上下文元数据。
func (s *chatService) marshalContextUsed(chunks []model.SearchResult) string {
	used := model.ContextUsed{
		Chunks:         make([]model.ContextChunk, 0, len(chunks)),
		RetrievalCount: len(chunks),
	}
	for _, c := range chunks {
		used.Chunks = append(used.Chunks, model.ContextChunk{
			Title:          c.Title,
			FilePath:       c.FilePath,
			ChunkIndex:     c.ChunkIndex,
			RelevanceScore: c.Score,
		})
	}
	data, err := json.Marshal(used)
	if err != nil {
		log.Errorf("[ChatService] 序列化检索上下文失败: %v", err)
		return "{}"
	}
	return string(data)
}
