// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/pipeline"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/state"
	"docuchat-go/pkg/log"
)

// DocumentService 定义了文档入库与管理的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, userID, fileName string, content []byte) (*model.Document, error)
	ListDocuments(userID string) []*model.Document
	DeleteDocument(userID, fileID string) error
	Clear(userID string) error
}

type documentService struct {
	processor   *pipeline.Processor
	sessionRepo repository.SessionRepository
	manager     *state.Manager
	cfg         config.StorageConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	processor *pipeline.Processor,
	sessionRepo repository.SessionRepository,
	manager *state.Manager,
	cfg config.StorageConfig,
) DocumentService {
	if cfg.MaxUploadSizeMB <= 0 {
		cfg.MaxUploadSizeMB = 10
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 10
	}
	if len(cfg.SupportedExtensions) == 0 {
		cfg.SupportedExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".md", ".png", ".jpg", ".jpeg"}
	}
	return &documentService{
		processor:   processor,
		sessionRepo: sessionRepo,
		manager:     manager,
		cfg:         cfg,
	}
}

// Upload 处理一次完整的文档入库：校验 → 落盘 → 提取 → 切块向量化 → 建索引或并入已有索引。
func (s *documentService) Upload(ctx context.Context, userID, fileName string, content []byte) (*model.Document, error) {
	log.Infof("[DocumentService] 开始处理上传, user: %s, file: %s, size: %d", userID, fileName, len(content))

	// 1. 输入校验：不通过时直接拒绝，不改变任何状态
	if !s.isSupportedExtension(fileName) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fileName)
	}
	if int64(len(content)) > s.cfg.MaxUploadSizeMB*1024*1024 {
		return nil, fmt.Errorf("%w: 上限 %dMB", ErrFileTooLarge, s.cfg.MaxUploadSizeMB)
	}

	c := s.manager.Acquire(userID)
	defer c.Unlock()

	// 2. 原始文件落盘；之后任何一步失败都要把文件删掉（尽力回滚）
	fileID := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), fileName)
	filePath := filepath.Join(s.cfg.UploadDir, userID, fileID)
	if err := os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0o644); err != nil {
		return nil, fmt.Errorf("保存上传文件失败: %w", err)
	}

	// 3. 提取文本
	text, err := s.processor.ExtractText(bytes.NewReader(content), fileName)
	if err != nil {
		os.Remove(filePath)
		log.Errorf("[DocumentService] 提取文本失败, file: %s, error: %v", fileName, err)
		return nil, fmt.Errorf("%w: %v", ErrEmptyDocument, err)
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < s.cfg.MinTextLength {
		os.Remove(filePath)
		log.Warnf("[DocumentService] 提取文本过短, 拒绝入库, file: %s", fileName)
		return nil, ErrEmptyDocument
	}

	// 4. 切块、向量化并构建该文档的索引
	idx, chunkCount, err := s.processor.BuildIndex(ctx, fileID, fileName, text)
	if err != nil {
		os.Remove(filePath)
		return nil, err
	}

	// 5. 首次上传直接持有索引，已有索引时并入而不是重建，保证多次上传累积
	if c.Index == nil {
		c.Index = idx
	} else {
		c.Index.Merge(idx)
	}

	doc := &model.Document{
		FileID:     fileID,
		FileName:   fileName,
		UserID:     userID,
		Size:       int64(len(content)),
		ChunkCount: chunkCount,
		UploadedAt: time.Now(),
	}
	c.Documents[fileID] = doc

	log.Infof("[DocumentService] 上传处理完成, user: %s, fileID: %s, 分块数: %d, 索引总条目: %d",
		userID, fileID, chunkCount, c.Index.Len())
	return doc, nil
}

// ListDocuments 返回用户的全部文档元数据，按上传时间倒序。
func (s *documentService) ListDocuments(userID string) []*model.Document {
	c := s.manager.Acquire(userID)
	defer c.Unlock()

	docs := make([]*model.Document, 0, len(c.Documents))
	for _, d := range c.Documents {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	return docs
}

// DeleteDocument 删除文档元数据及其原始文件。
// 已并入索引的分块不会被撤回，被删除的文件仍可能影响检索结果（已知限制）。
func (s *documentService) DeleteDocument(userID, fileID string) error {
	c := s.manager.Acquire(userID)
	defer c.Unlock()

	if _, ok := c.Documents[fileID]; !ok {
		return ErrDocumentNotFound
	}
	delete(c.Documents, fileID)

	filePath := filepath.Join(s.cfg.UploadDir, userID, fileID)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		log.Warnf("[DocumentService] 删除原始文件失败, path: %s, error: %v", filePath, err)
	}
	log.Infof("[DocumentService] 文档已删除, user: %s, fileID: %s", userID, fileID)
	return nil
}

// Clear 销毁一个用户的全部状态：向量索引、文档元数据与原始文件、内存及磁盘上的会话。
// 之后该用户的检索与会话解析行为与新用户一致。
func (s *documentService) Clear(userID string) error {
	c := s.manager.Acquire(userID)
	defer c.Unlock()

	for id := range c.Sessions {
		if err := s.sessionRepo.DeleteSession(id); err != nil {
			log.Warnf("[DocumentService] 清理会话记录 %s 失败: %v", id, err)
		}
	}

	userDir := filepath.Join(s.cfg.UploadDir, userID)
	if err := os.RemoveAll(userDir); err != nil {
		log.Warnf("[DocumentService] 清理上传目录失败, path: %s, error: %v", userDir, err)
	}

	s.manager.Remove(userID)
	log.Infof("[DocumentService] 用户状态已全部清除, user: %s", userID)
	return nil
}

func (s *documentService) isSupportedExtension(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, supported := range s.cfg.SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}
