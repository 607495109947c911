// Package embedding 提供了调用 Embedding 模型的客户端。
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/pkg/log"
	"pai-docs-chat/pkg/retry"
)

// ErrUnavailable 表示 Embedding 服务暂时不可用（超时/限流/5xx 且重试耗尽）。
// 调用方据此把"稍后再试"与"输入有误"区分开。
var ErrUnavailable = errors.New("embedding 服务不可用")

// Client 定义了 Embedding 客户端的接口。
type Client interface {
	// CreateEmbedding 为单条文本生成向量。
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	// CreateEmbeddings 为一批文本生成向量，输出与输入顺序一一对应。
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions 返回固定的向量维度。
	Dimensions() int
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
	policy retry.Policy
}

// NewClient 根据配置创建一个 OpenAI 兼容的 Embedding 客户端。
func NewClient(cfg config.EmbeddingConfig) Client {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		policy: retry.DefaultPolicy(cfg.MaxRetries),
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) Dimensions() int {
	return c.cfg.Dimensions
}

// CreateEmbedding 为单条文本生成向量。
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings 调用 OpenAI 兼容接口为一批文本生成向量。
// 超长输入在发送前被确定性截断；超时与限流按策略重试，
// 耗尽后返回可识别的 ErrUnavailable。
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedding 输入为空")
	}
	if max := c.cfg.MaxBatchSize; max > 0 && len(texts) > max {
		return nil, fmt.Errorf("embedding 批大小 %d 超过上限 %d", len(texts), max)
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = truncateRunes(t, c.cfg.MaxInputRunes)
	}

	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(input))

	var vectors [][]float32
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var callErr error
		vectors, callErr = c.callOnce(ctx, input)
		if callErr != nil && !errors.Is(callErr, ErrUnavailable) {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败: %v", err)
		return nil, err
	}

	log.Infof("[EmbeddingClient] 成功获取 %d 条向量, 维度: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}

// callOnce 发起一次 HTTP 调用。可重试的失败（网络错误、429、5xx）
// 用 ErrUnavailable 包装，其余错误原样返回以终止重试。
func (c *openAICompatibleClient) callOnce(ctx context.Context, input []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      input,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化 embedding 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("创建 embedding 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: 状态码 %s", ErrUnavailable, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding api 返回非 200 状态码: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("解析 embedding 响应失败: %w", err)
	}
	if len(embeddingResp.Data) != len(input) {
		return nil, fmt.Errorf("embedding 响应条数 %d 与输入条数 %d 不一致", len(embeddingResp.Data), len(input))
	}

	// 按 index 回填，保证输出顺序与输入一致
	vectors := make([][]float32, len(input))
	for i, item := range embeddingResp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = item.Embedding
	}

	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding api 返回了空向量 (index=%d)", i)
		}
		// 维度在索引与查询两侧必须一致，不一致是硬错误而不是静默降级
		if c.cfg.Dimensions > 0 && len(v) != c.cfg.Dimensions {
			return nil, fmt.Errorf("embedding 维度不一致: 期望 %d, 实际 %d", c.cfg.Dimensions, len(v))
		}
	}
	return vectors, nil
}

// truncateRunes 对超长输入做确定性截断，而不是静默丢弃。
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
