// Package llm 提供了调用大语言模型的客户端，支持同步与流式两种模式。
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/pkg/log"
	"pai-docs-chat/pkg/retry"
)

// ErrUnavailable 表示 LLM 服务暂时不可用（超时/限流/5xx 且重试耗尽）。
var ErrUnavailable = errors.New("llm 服务不可用")

// Message 代表一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageWriter 接收流式生成的增量内容。
type MessageWriter interface {
	WriteChunk(content string) error
}

// Client 定义了 LLM 客户端的接口。
type Client interface {
	// Chat 同步生成一条完整回答。
	Chat(ctx context.Context, messages []Message) (string, error)
	// StreamChat 流式生成回答，增量写入 writer，返回拼接后的完整回答。
	StreamChat(ctx context.Context, messages []Message, writer MessageWriter) (string, error)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
	policy retry.Policy
}

// NewClient 根据配置创建一个 OpenAI 兼容的 LLM 客户端。
func NewClient(cfg config.LLMConfig) Client {
	timeout := 120 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		policy: retry.DefaultPolicy(cfg.MaxRetries),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Chat 同步调用 chat/completions 接口。
// 超时与 5xx 按策略重试，耗尽后返回 ErrUnavailable。
func (c *openAICompatibleClient) Chat(ctx context.Context, messages []Message) (string, error) {
	log.Infof("[LLMClient] 开始调用 LLM, model: %s, messages: %d", c.cfg.Model, len(messages))

	var answer string
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		resp, callErr := c.post(ctx, messages, false)
		if callErr != nil {
			if !errors.Is(callErr, ErrUnavailable) {
				return retry.Permanent(callErr)
			}
			return callErr
		}
		defer resp.Body.Close()

		var chatResp chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return fmt.Errorf("解析 llm 响应失败: %w", err)
		}
		if len(chatResp.Choices) == 0 {
			return fmt.Errorf("llm 响应不含任何 choices")
		}
		answer = chatResp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		log.Errorf("[LLMClient] 调用 LLM 失败: %v", err)
		return "", err
	}
	return answer, nil
}

// StreamChat 调用流式接口，SSE 增量逐条写入 writer。
// 流式调用不做中途重试，连接失败由调用方决定是否降级为同步调用。
func (c *openAICompatibleClient) StreamChat(ctx context.Context, messages []Message, writer MessageWriter) (string, error) {
	resp, err := c.post(ctx, messages, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			log.Warnf("[LLMClient] 跳过无法解析的流式分片: %v", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		full.WriteString(delta)
		if err := writer.WriteChunk(delta); err != nil {
			return full.String(), fmt.Errorf("写入流式分片失败: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("%w: 读取流式响应中断: %v", ErrUnavailable, err)
	}
	return full.String(), nil
}

// post 发起一次 chat/completions 请求。可重试的失败用 ErrUnavailable 包装。
func (c *openAICompatibleClient) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Stream:      stream,
		Temperature: c.cfg.Generation.Temperature,
		TopP:        c.cfg.Generation.TopP,
		MaxTokens:   c.cfg.Generation.MaxTokens,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化 llm 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("创建 llm 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: 状态码 %s", ErrUnavailable, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("llm api 返回非 200 状态码: %s", resp.Status)
	}
	return resp, nil
}
