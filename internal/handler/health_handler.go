package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/pkg/es"
)

// HealthHandler 报告服务及其依赖的健康状态。
type HealthHandler struct {
	db       *gorm.DB
	esClient es.Client
	llmCfg   config.LLMConfig
}

// NewHealthHandler 创建一个新的 HealthHandler。
func NewHealthHandler(db *gorm.DB, esClient es.Client, llmCfg config.LLMConfig) *HealthHandler {
	return &HealthHandler{
		db:       db,
		esClient: esClient,
		llmCfg:   llmCfg,
	}
}

// Health 逐项检查依赖。任一依赖异常时整体降级为 503，
// 但仍返回每项的具体状态供排查。
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}

	checks["mysql"] = "ok"
	if sqlDB, err := h.db.DB(); err != nil {
		checks["mysql"] = err.Error()
		status = http.StatusServiceUnavailable
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["mysql"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	checks["elasticsearch"] = "ok"
	if err := h.esClient.Ping(ctx); err != nil {
		checks["elasticsearch"] = err.Error()
		status = http.StatusServiceUnavailable
	} else if count, err := h.esClient.Count(ctx); err == nil {
		checks["indexed_vectors"] = count
	}

	// 生成服务没有探活接口，只报告配置状态
	if h.llmCfg.BaseURL != "" && h.llmCfg.Model != "" {
		checks["llm"] = gin.H{"status": "configured", "model": h.llmCfg.Model}
	} else {
		checks["llm"] = gin.H{"status": "not_configured"}
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"code": status, "message": "health", "data": checks})
}
