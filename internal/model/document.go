package model

import "time"

// Document 对应于数据库中的 documents 表，记录已索引文档的指纹。
// ContentMD5 用于变更检测：哈希未变的文档在重建索引时直接跳过。
type Document struct {
	FilePath   string    `gorm:"type:varchar(512);primaryKey;column:file_path" json:"file_path"`
	Title      string    `gorm:"type:varchar(255);column:title" json:"title"`
	ContentMD5 string    `gorm:"type:varchar(32);not null;column:content_md5" json:"content_md5"`
	ChunkCount int       `gorm:"not null;column:chunk_count" json:"chunk_count"`
	IndexedAt  time.Time `gorm:"autoUpdateTime;column:indexed_at" json:"indexed_at"`
}

func (Document) TableName() string {
	return "documents"
}

// Chunk 是切块器的输出：文档文本中一段连续的切片。
// 同一文档的分块按 Index 排列互不重叠，但字符区间按配置的 overlap 互相重叠；
// 所有分块 [Start, End) 区间的并集覆盖全文。
type Chunk struct {
	Index   int    // 文档内的序号
	Text    string // 分块文本
	Start   int    // 在全文中的起始 rune 偏移
	End     int    // 在全文中的结束 rune 偏移（不含）
	Heading string // 最近的前置标题，作为章节上下文
}

// VectorDocument 代表存储在 Elasticsearch 向量索引中的一条记录。
// VectorID 由文档 MD5 与分块序号确定性拼接而成，重建索引时覆盖而非重复。
type VectorDocument struct {
	VectorID     string    `json:"vector_id"`
	FileMD5      string    `json:"file_md5"`
	FilePath     string    `json:"file_path"`
	Title        string    `json:"title"`
	ChunkIndex   int       `json:"chunk_index"`
	TotalChunks  int       `json:"total_chunks"`
	Heading      string    `json:"heading,omitempty"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// SearchResult 是向量检索的单条命中结果。
type SearchResult struct {
	FileMD5     string  `json:"file_md5"`
	FilePath    string  `json:"file_path"`
	Title       string  `json:"title"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	Heading     string  `json:"heading,omitempty"`
	TextContent string  `json:"text_content"`
	Score       float64 `json:"score"`
}
