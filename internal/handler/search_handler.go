package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/sanitize"
	"pai-docs-chat/internal/service"
	"pai-docs-chat/pkg/log"
)

// SearchHandler 暴露裸检索接口，用于调试召回质量，不经过生成环节。
type SearchHandler struct {
	searchService service.SearchService
	ragCfg        config.RAGConfig
}

// NewSearchHandler 创建一个新的 SearchHandler。
func NewSearchHandler(searchService service.SearchService, ragCfg config.RAGConfig) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		ragCfg:        ragCfg,
	}
}

// Search 按查询参数执行一次向量检索并返回命中结果。
func (h *SearchHandler) Search(c *gin.Context) {
	query, err := sanitize.Query(c.Query("q"), h.ragCfg.MaxQueryRunes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}

	topK := h.ragCfg.TopK
	if v := c.Query("top_k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			topK = n
		}
	}
	minScore := h.ragCfg.MinScore
	if v := c.Query("min_score"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			minScore = f
		}
	}

	results, err := h.searchService.Search(c.Request.Context(), query, "", topK, minScore)
	if err != nil {
		status, message := classifyChatError(err)
		log.Errorf("[SearchHandler] 检索失败: %v", err)
		c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"query":   query,
		"count":   len(results),
		"results": results,
	}})
}
