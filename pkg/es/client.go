// Package es 封装了 Elasticsearch 向量索引的客户端。
package es

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/model"
	"pai-docs-chat/pkg/log"
)

// ErrUnavailable 表示 Elasticsearch 暂时不可达。
var ErrUnavailable = errors.New("elasticsearch 服务不可用")

// Client 定义了向量索引的操作接口。
type Client interface {
	// EnsureIndex 确保索引存在，不存在则按向量维度创建。
	EnsureIndex(ctx context.Context) error
	// Upsert 按确定性 VectorID 写入或覆盖一批向量文档。
	Upsert(ctx context.Context, docs []model.VectorDocument) error
	// DeleteByFileMD5 删除某个文档旧版本的全部向量。
	DeleteByFileMD5(ctx context.Context, fileMD5 string) (int, error)
	// Search 执行向量相似度检索，按相似度降序返回。
	Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]model.SearchResult, error)
	// Ping 检查集群是否可达。
	Ping(ctx context.Context) error
	// Count 返回索引中的向量文档总数。
	Count(ctx context.Context) (int64, error)
}

type esClient struct {
	client     *elasticsearch.Client
	indexName  string
	dimensions int
}

// NewClient 创建 Elasticsearch 客户端。dimensions 必须与 Embedding 模型的输出维度一致。
func NewClient(cfg config.ElasticsearchConfig, dimensions int) (Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 elasticsearch 客户端失败: %w", err)
	}
	return &esClient{
		client:     client,
		indexName:  cfg.IndexName,
		dimensions: dimensions,
	}, nil
}

// EnsureIndex 确保索引存在。mapping 中 vector 字段为 dense_vector，
// 余弦相似度，维度在创建时固定。
func (c *esClient) EnsureIndex(ctx context.Context) error {
	res, err := c.client.Indices.Exists([]string{c.indexName}, c.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"file_md5":      map[string]interface{}{"type": "keyword"},
				"file_path":     map[string]interface{}{"type": "keyword"},
				"title":         map[string]interface{}{"type": "keyword"},
				"chunk_index":   map[string]interface{}{"type": "integer"},
				"total_chunks":  map[string]interface{}{"type": "integer"},
				"heading":       map[string]interface{}{"type": "keyword"},
				"text_content":  map[string]interface{}{"type": "text"},
				"model_version": map[string]interface{}{"type": "keyword"},
				"vector": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       c.dimensions,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("序列化索引 mapping 失败: %w", err)
	}

	createRes, err := c.client.Indices.Create(
		c.indexName,
		c.client.Indices.Create.WithBody(bytes.NewReader(body)),
		c.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("创建索引 %s 失败: %s", c.indexName, readError(createRes))
	}

	log.Infof("[ES] 索引 %s 创建成功, 向量维度: %d", c.indexName, c.dimensions)
	return nil
}

// Upsert 通过 bulk API 写入一批向量文档。
// 以 VectorID 作为 _id，重复索引同一文档块会覆盖而不是追加。
func (c *esClient) Upsert(ctx context.Context, docs []model.VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, c.indexName, doc.VectorID)
		buf.WriteString(meta)
		buf.WriteByte('\n')

		line, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("序列化向量文档 %s 失败: %w", doc.VectorID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	res, err := c.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.client.Bulk.WithContext(ctx),
		c.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk 写入失败: %s", readError(res))
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("bulk 写入部分失败: %s: %s", op.Error.Type, op.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk 写入部分失败")
	}

	log.Infof("[ES] 成功写入 %d 个向量文档", len(docs))
	return nil
}

// DeleteByFileMD5 删除某个内容版本的全部向量，返回删除数量。
// 文档重新索引前调用，保证不会残留旧版本的块。
func (c *esClient) DeleteByFileMD5(ctx context.Context, fileMD5 string) (int, error) {
	query := fmt.Sprintf(`{"query":{"term":{"file_md5":%q}}}`, fileMD5)

	res, err := c.client.DeleteByQuery(
		[]string{c.indexName},
		strings.NewReader(query),
		c.client.DeleteByQuery.WithContext(ctx),
		c.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("delete_by_query 失败: %s", readError(res))
	}

	var deleteResp struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&deleteResp); err != nil {
		return 0, fmt.Errorf("解析 delete_by_query 响应失败: %w", err)
	}
	return deleteResp.Deleted, nil
}

// Search 执行 KNN 向量检索。低于 minScore 的结果被过滤，
// 无命中时返回空切片而不是错误。
func (c *esClient) Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]model.SearchResult, error) {
	if len(vector) != c.dimensions {
		return nil, fmt.Errorf("查询向量维度不一致: 期望 %d, 实际 %d", c.dimensions, len(vector))
	}

	searchBody := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": topK * 10,
		},
		"min_score": minScore,
		"size":      topK,
		"_source": []string{
			"file_md5", "file_path", "title", "chunk_index",
			"total_chunks", "heading", "text_content",
		},
	}

	body, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("序列化检索请求失败: %w", err)
	}

	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(c.indexName),
		c.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("向量检索失败: %s", readError(res))
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				Score  float64              `json:"_score"`
				Source model.VectorDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	results := make([]model.SearchResult, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		results = append(results, model.SearchResult{
			FileMD5:     hit.Source.FileMD5,
			FilePath:    hit.Source.FilePath,
			Title:       hit.Source.Title,
			ChunkIndex:  hit.Source.ChunkIndex,
			TotalChunks: hit.Source.TotalChunks,
			Heading:     hit.Source.Heading,
			TextContent: hit.Source.TextContent,
			Score:       hit.Score,
		})
	}
	return results, nil
}

// Ping 检查集群是否可达。
func (c *esClient) Ping(ctx context.Context) error {
	res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: %s", ErrUnavailable, res.Status())
	}
	return nil
}

// Count 返回索引中的向量文档总数。
func (c *esClient) Count(ctx context.Context) (int64, error) {
	res, err := c.client.Count(
		c.client.Count.WithContext(ctx),
		c.client.Count.WithIndex(c.indexName),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("统计索引文档数失败: %s", readError(res))
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, fmt.Errorf("解析 count 响应失败: %w", err)
	}
	return countResp.Count, nil
}

func readError(res *esapi.Response) string {
	body, _ := io.ReadAll(res.Body)
	return fmt.Sprintf("%s: %s", res.Status(), string(body))
}
