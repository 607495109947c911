// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"

	"pai-docs-chat/internal/model"
	"pai-docs-chat/pkg/embedding"
	"pai-docs-chat/pkg/es"
	"pai-docs-chat/pkg/log"
)

// SearchService 定义了向量检索的接口。
type SearchService interface {
	// Search 向量化查询文本并在索引中检索，按相似度降序返回。
	// selectedText 非空时并入查询，用页面上下文细化检索意图。
	Search(ctx context.Context, query, selectedText string, topK int, minScore float64) ([]model.SearchResult, error)
}

type searchService struct {
	embeddingClient embedding.Client
	esClient        es.Client
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, esClient es.Client) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
	}
}

// Search 执行"向量化 + 相似度检索"两步。
// 无命中返回空切片，这是合法结果而不是错误。
func (s *searchService) Search(ctx context.Context, query, selectedText string, topK int, minScore float64) ([]model.SearchResult, error) {
	queryText := query
	if selectedText != "" {
		queryText = query + "\n\n" + selectedText
	}

	vector, err := s.embeddingClient.CreateEmbedding(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("向量化查询失败: %w", err)
	}

	results, err := s.esClient.Search(ctx, vector, topK, minScore)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	log.Infof("[SearchService] 检索完成, query: %q, 命中: %d", truncateForLog(query), len(results))
	return results, nil
}

func truncateForLog(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > 40 {
		return string(runes[:40]) + "…"
	}
	return string(runes)
}
