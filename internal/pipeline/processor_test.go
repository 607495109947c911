package pipeline

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/model"
	"pai-docs-chat/pkg/tasks"
)

type fakeEmbedder struct {
	dims int
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dims)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

// fakeIndex 在内存中模拟向量索引，按 VectorID 覆盖写入。
type fakeIndex struct {
	mu      sync.Mutex
	docs    map[string]model.VectorDocument
	deletes []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]model.VectorDocument)}
}

func (f *fakeIndex) EnsureIndex(ctx context.Context) error { return nil }

func (f *fakeIndex) Upsert(ctx context.Context, docs []model.VectorDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		f.docs[d.VectorID] = d
	}
	return nil
}

func (f *fakeIndex) DeleteByFileMD5(ctx context.Context, fileMD5 string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, fileMD5)
	deleted := 0
	for id, d := range f.docs {
		if d.FileMD5 == fileMD5 {
			delete(f.docs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]model.SearchResult, error) {
	return nil, nil
}

func (f *fakeIndex) Ping(ctx context.Context) error { return nil }

func (f *fakeIndex) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.docs)), nil
}

type fakeDocumentRepo struct {
	mu   sync.Mutex
	docs map[string]model.Document
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: make(map[string]model.Document)}
}

func (f *fakeDocumentRepo) GetByPath(ctx context.Context, filePath string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[filePath]; ok {
		return &d, nil
	}
	return nil, nil
}

func (f *fakeDocumentRepo) Upsert(ctx context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.FilePath] = *doc
	return nil
}

func (f *fakeDocumentRepo) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.docs)), nil
}

func newTestProcessor(index *fakeIndex, repo *fakeDocumentRepo) *Processor {
	return NewProcessor(
		nil,
		&fakeEmbedder{dims: 4},
		index,
		repo,
		config.IndexConfig{ChunkSize: 120, ChunkOverlap: 20, EmbedWorkers: 2},
		config.EmbeddingConfig{Model: "text-embedding-v4", MaxBatchSize: 2},
	)
}

func sampleMarkdown(paragraphs int) []byte {
	var sb strings.Builder
	sb.WriteString("---\ntitle: \"Robot Guide\"\n---\n\n# Robot Guide\n\n")
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&sb, "第 %d 段介绍机器人系统的感知与控制，内容足够长以产生多个分块。", i)
		sb.WriteString(strings.Repeat("具身智能需要传感器、执行器与算法协同。", 3))
		sb.WriteString("\n\n")
	}
	return []byte(sb.String())
}

func TestIndexContentCreatesDeterministicVectorIDs(t *testing.T) {
	index := newFakeIndex()
	repo := newFakeDocumentRepo()
	p := newTestProcessor(index, repo)

	raw := sampleMarkdown(6)
	result, err := p.IndexContent(context.Background(), "docs/guide.md", raw, false)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Greater(t, result.ChunkCount, 1)

	fileMD5 := fmt.Sprintf("%x", md5.Sum(raw))
	for i := 0; i < result.ChunkCount; i++ {
		doc, ok := index.docs[fmt.Sprintf("%s_%d", fileMD5, i)]
		require.True(t, ok, "缺少分块 %d 的向量", i)
		assert.Equal(t, "docs/guide.md", doc.FilePath)
		assert.Equal(t, "Robot Guide", doc.Title)
		assert.Equal(t, result.ChunkCount, doc.TotalChunks)
		assert.Equal(t, "text-embedding-v4", doc.ModelVersion)
		assert.Len(t, doc.Vector, 4)
	}

	saved, err := repo.GetByPath(context.Background(), "docs/guide.md")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, fileMD5, saved.ContentMD5)
	assert.Equal(t, result.ChunkCount, saved.ChunkCount)
}

func TestIndexContentSkipsUnchangedDocument(t *testing.T) {
	index := newFakeIndex()
	repo := newFakeDocumentRepo()
	p := newTestProcessor(index, repo)

	raw := sampleMarkdown(4)
	first, err := p.IndexContent(context.Background(), "docs/guide.md", raw, false)
	require.NoError(t, err)

	count, _ := index.Count(context.Background())

	second, err := p.IndexContent(context.Background(), "docs/guide.md", raw, false)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)

	after, _ := index.Count(context.Background())
	assert.Equal(t, count, after)
}

// 内容变化时旧版本的向量被整体清理，不残留已删除的分块。
func TestIndexContentSupersedesOldVersion(t *testing.T) {
	index := newFakeIndex()
	repo := newFakeDocumentRepo()
	p := newTestProcessor(index, repo)

	oldRaw := sampleMarkdown(6)
	_, err := p.IndexContent(context.Background(), "docs/guide.md", oldRaw, false)
	require.NoError(t, err)
	oldMD5 := fmt.Sprintf("%x", md5.Sum(oldRaw))

	newRaw := sampleMarkdown(2)
	result, err := p.IndexContent(context.Background(), "docs/guide.md", newRaw, false)
	require.NoError(t, err)
	newMD5 := fmt.Sprintf("%x", md5.Sum(newRaw))

	assert.Contains(t, index.deletes, oldMD5)
	for _, doc := range index.docs {
		assert.Equal(t, newMD5, doc.FileMD5)
	}
	count, _ := index.Count(context.Background())
	assert.EqualValues(t, result.ChunkCount, count)
}

func TestIndexContentForceReindexesUnchanged(t *testing.T) {
	index := newFakeIndex()
	repo := newFakeDocumentRepo()
	p := newTestProcessor(index, repo)

	raw := sampleMarkdown(3)
	_, err := p.IndexContent(context.Background(), "docs/guide.md", raw, false)
	require.NoError(t, err)

	result, err := p.IndexContent(context.Background(), "docs/guide.md", raw, true)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Contains(t, index.deletes, fmt.Sprintf("%x", md5.Sum(raw)))
}

func TestIndexContentEmptyDocumentRejected(t *testing.T) {
	p := newTestProcessor(newFakeIndex(), newFakeDocumentRepo())
	_, err := p.IndexContent(context.Background(), "docs/empty.md", nil, false)
	assert.Error(t, err)
}

// 异步任务按 FilePath 走本地文件分支，索引后文档指纹计数随之增加。
func TestProcessIndexesLocalFileTask(t *testing.T) {
	index := newFakeIndex()
	repo := newFakeDocumentRepo()
	p := newTestProcessor(index, repo)

	path := filepath.Join(t.TempDir(), "guide.md")
	require.NoError(t, os.WriteFile(path, sampleMarkdown(3), 0o644))

	err := p.Process(context.Background(), tasks.DocumentIndexTask{FilePath: path})
	require.NoError(t, err)

	total, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	vectors, _ := index.Count(context.Background())
	assert.Greater(t, vectors, int64(0))
}
