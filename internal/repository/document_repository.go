package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"pai-docs-chat/internal/model"
)

// DocumentRepository 定义了已索引文档指纹的操作接口。
// 指纹用于变更检测：内容哈希未变的文档在重建索引时直接跳过。
type DocumentRepository interface {
	// GetByPath 按文件路径查找文档记录，不存在时返回 nil。
	GetByPath(ctx context.Context, filePath string) (*model.Document, error)
	// Upsert 写入或更新文档记录。
	Upsert(ctx context.Context, doc *model.Document) error
	// Count 返回已索引文档总数。
	Count(ctx context.Context) (int64, error)
}

type mysqlDocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &mysqlDocumentRepository{db: db}
}

// GetByPath 按文件路径查找文档记录。
func (r *mysqlDocumentRepository) GetByPath(ctx context.Context, filePath string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("file_path = ?", filePath).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档记录失败: %w", err)
	}
	return &doc, nil
}

// Upsert 写入或更新文档记录。
func (r *mysqlDocumentRepository) Upsert(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Save(doc).Error; err != nil {
		return fmt.Errorf("保存文档记录失败: %w", err)
	}
	return nil
}

// Count 返回已索引文档总数。
func (r *mysqlDocumentRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计文档数量失败: %w", err)
	}
	return count, nil
}
