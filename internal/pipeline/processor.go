// Package pipeline 定义了文档索引的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"pai-docs-chat/internal/chunker"
	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/markdown"
	"pai-docs-chat/internal/model"
	"pai-docs-chat/internal/repository"
	"pai-docs-chat/pkg/embedding"
	"pai-docs-chat/pkg/es"
	"pai-docs-chat/pkg/log"
	"pai-docs-chat/pkg/storage"
	"pai-docs-chat/pkg/tasks"
	"pai-docs-chat/pkg/tika"
)

// Result 汇总单个文档的索引结果。
type Result struct {
	FilePath   string
	ChunkCount int
	// Skipped 为 true 表示内容哈希未变化，本次未重建向量
	Skipped bool
}

// Processor 封装了文档索引的所有依赖和逻辑。
type Processor struct {
	tikaClient      *tika.Client
	embeddingClient embedding.Client
	esClient        es.Client
	documentRepo    repository.DocumentRepository
	indexCfg        config.IndexConfig
	embeddingCfg    config.EmbeddingConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	tikaClient *tika.Client,
	embeddingClient embedding.Client,
	esClient es.Client,
	documentRepo repository.DocumentRepository,
	indexCfg config.IndexConfig,
	embeddingCfg config.EmbeddingConfig,
) *Processor {
	return &Processor{
		tikaClient:      tikaClient,
		embeddingClient: embeddingClient,
		esClient:        esClient,
		documentRepo:    documentRepo,
		indexCfg:        indexCfg,
		embeddingCfg:    embeddingCfg,
	}
}

// Process 处理一个异步索引任务，满足 Kafka 消费者的处理接口。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentIndexTask) error {
	var err error
	if task.ObjectName != "" {
		_, err = p.IndexObject(ctx, task.ObjectName, task.Force)
	} else {
		_, err = p.IndexFile(ctx, task.FilePath, task.Force)
	}
	return err
}

// IndexFile 索引一个本地文档文件。
func (p *Processor) IndexFile(ctx context.Context, filePath string, force bool) (*Result, error) {
	log.Infof("[Processor] 步骤1: 读取本地文档, Path: %s", filePath)
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取文档 %s 失败: %w", filePath, err)
	}
	return p.IndexContent(ctx, filePath, raw, force)
}

// IndexObject 索引对象存储中的一个文档对象。
func (p *Processor) IndexObject(ctx context.Context, objectName string, force bool) (*Result, error) {
	log.Infof("[Processor] 步骤1: 从MinIO读取文档, Object: %s", objectName)
	raw, err := storage.FetchObject(ctx, objectName)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s 失败: %w", objectName, err)
	}
	return p.IndexContent(ctx, objectName, raw, force)
}

// IndexContent 执行单个文档的完整索引流程：
// 提取文本、变更检测、切块、并行向量化、覆盖写入向量索引、记录指纹。
// 同一内容重复索引产生相同的向量 ID，结果幂等。
func (p *Processor) IndexContent(ctx context.Context, filePath string, raw []byte, force bool) (*Result, error) {
	if len(raw) == 0 {
		return nil, errors.New("文档内容为空")
	}

	fileMD5 := fmt.Sprintf("%x", md5.Sum(raw))

	// 步骤2: 变更检测。哈希未变的文档直接跳过，避免重复向量化
	existing, err := p.documentRepo.GetByPath(ctx, filePath)
	if err != nil {
		log.Warnf("[Processor] 查询文档指纹失败, 按新文档处理: %v", err)
	}
	if !force && existing != nil && existing.ContentMD5 == fileMD5 {
		log.Infof("[Processor] 文档内容未变化, 跳过索引: %s", filePath)
		return &Result{FilePath: filePath, ChunkCount: existing.ChunkCount, Skipped: true}, nil
	}

	// 步骤3: 提取纯文本。markdown 本地解析，其他格式走 Tika
	var text, title string
	if markdown.IsMarkdown(filePath) {
		content := string(raw)
		title = markdown.Title(content, filePath)
		text = markdown.ToPlainText(content)
	} else {
		if !p.tikaClient.Enabled() {
			return nil, fmt.Errorf("不支持的文档格式且未配置 Tika: %s", filePath)
		}
		text, err = p.tikaClient.ExtractText(ctx, bytes.NewReader(raw), filepath.Base(filePath))
		if err != nil {
			return nil, fmt.Errorf("使用 Tika 提取文本失败: %w", err)
		}
		title = markdown.Title(text, filePath)
	}
	if text == "" {
		return nil, errors.New("提取的文本内容为空")
	}
	log.Infof("[Processor] 步骤3: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 步骤4: 文本切块
	chunks := chunker.New(p.indexCfg.ChunkSize, p.indexCfg.ChunkOverlap).Split(text)
	if len(chunks) == 0 {
		return nil, errors.New("未生成任何文本分块")
	}
	log.Infof("[Processor] 步骤4: 文本分块完成, 共生成 %d 个分块", len(chunks))

	// 步骤5: 并行向量化。按批提交，worker 数有上界
	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("向量化分块失败: %w", err)
	}

	// 步骤6: 覆盖写入向量索引。先删除旧版本，避免残留已删除的块
	deleted := 0
	if existing != nil && existing.ContentMD5 != fileMD5 {
		if deleted, err = p.esClient.DeleteByFileMD5(ctx, existing.ContentMD5); err != nil {
			return nil, fmt.Errorf("清理旧版本向量失败: %w", err)
		}
	}
	if force {
		if _, err := p.esClient.DeleteByFileMD5(ctx, fileMD5); err != nil {
			return nil, fmt.Errorf("清理既有向量失败: %w", err)
		}
	}

	docs := make([]model.VectorDocument, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, model.VectorDocument{
			// 向量 ID 由内容哈希和分块序号确定性拼接，重复索引覆盖而非追加
			VectorID:     fmt.Sprintf("%s_%d", fileMD5, chunk.Index),
			FileMD5:      fileMD5,
			FilePath:     filePath,
			Title:        title,
			ChunkIndex:   chunk.Index,
			TotalChunks:  len(chunks),
			Heading:      chunk.Heading,
			TextContent:  chunk.Text,
			Vector:       vectors[i],
			ModelVersion: p.embeddingCfg.Model,
		})
	}
	if err := p.esClient.Upsert(ctx, docs); err != nil {
		return nil, fmt.Errorf("写入向量索引失败: %w", err)
	}
	log.Infof("[Processor] 步骤6: 向量写入完成, 新增 %d, 清理旧版本 %d", len(docs), deleted)

	// 步骤7: 记录文档指纹
	if err := p.documentRepo.Upsert(ctx, &model.Document{
		FilePath:   filePath,
		Title:      title,
		ContentMD5: fileMD5,
		ChunkCount: len(chunks),
	}); err != nil {
		return nil, fmt.Errorf("记录文档指纹失败: %w", err)
	}

	return &Result{FilePath: filePath, ChunkCount: len(chunks)}, nil
}

// embedChunks 将分块按批并行向量化，输出与分块顺序一一对应。
func (p *Processor) embedChunks(ctx context.Context, chunks []model.Chunk) ([][]float32, error) {
	batchSize := p.embeddingCfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	workers := p.indexCfg.EmbedWorkers
	if workers <= 0 {
		workers = 4
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end

		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			batch, err := p.embeddingClient.CreateEmbeddings(gctx, texts)
			if err != nil {
				return err
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
