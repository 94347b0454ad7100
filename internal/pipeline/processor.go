package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"docuchat-go/internal/config"
	"docuchat-go/internal/vectorstore"
	"docuchat-go/pkg/embedding"
	"docuchat-go/pkg/log"
)

// TextExtractor 抽象了文本提取这个外部协作方（Tika、OCR 等）。
// 提取失败或内容为空时由调用方作为入库错误处理。
type TextExtractor interface {
	ExtractText(fileReader io.Reader, fileName string) (string, error)
}

// Processor 封装了单个文档从原始字节到向量索引的处理流程。
type Processor struct {
	extractor       TextExtractor
	embeddingClient embedding.Client
	chunkingCfg     config.ChunkingConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(extractor TextExtractor, embeddingClient embedding.Client, chunkingCfg config.ChunkingConfig) *Processor {
	return &Processor{
		extractor:       extractor,
		embeddingClient: embeddingClient,
		chunkingCfg:     chunkingCfg,
	}
}

// ErrEmptyText 表示提取出的文本为空，文档无法入库。
var ErrEmptyText = errors.New("提取的文本内容为空")

// ExtractText 从原始字节中提取纯文本。
func (p *Processor) ExtractText(fileReader io.Reader, fileName string) (string, error) {
	text, err := p.extractor.ExtractText(fileReader, fileName)
	if err != nil {
		return "", fmt.Errorf("提取文本失败: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// BuildIndex 将提取好的文本切块、逐块向量化，并构建一个新的向量索引。
// 返回的索引由调用方决定是直接持有还是并入用户已有的索引。
func (p *Processor) BuildIndex(ctx context.Context, fileID, fileName, text string) (*vectorstore.Index, int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, ErrEmptyText
	}
	log.Infof("[Processor] 开始处理文档, FileID: %s, 文本长度: %d 字符", fileID, utf8.RuneCountInString(text))

	// 1. 文本切块
	log.Infof("[Processor] 步骤1: 进行文本分块, chunkSize: %d, chunkOverlap: %d", p.chunkingCfg.ChunkSize, p.chunkingCfg.ChunkOverlap)
	spans := SplitText(text, p.chunkingCfg.ChunkSize, p.chunkingCfg.ChunkOverlap)
	if len(spans) == 0 {
		log.Warnf("[Processor] 未生成任何文本分块, 处理中止, FileName: %s", fileName)
		return nil, 0, ErrEmptyText
	}
	log.Infof("[Processor] 步骤1: 文本分块完成, 共生成 %d 个分块", len(spans))

	// 2. 逐块向量化
	log.Info("[Processor] 步骤2: 开始遍历分块并进行向量化")
	vectors := make([][]float32, 0, len(spans))
	chunks := make([]vectorstore.Chunk, 0, len(spans))
	for i, span := range spans {
		vector, err := p.embeddingClient.CreateEmbedding(ctx, span)
		if err != nil {
			log.Errorf("[Processor] 分块 %d 向量化失败, Error: %v", i, err)
			return nil, 0, fmt.Errorf("块 %d 向量化失败: %w", i, err)
		}
		vectors = append(vectors, vector)
		chunks = append(chunks, vectorstore.Chunk{
			Text:   span,
			Source: fileName,
			FileID: fileID,
			Seq:    i,
		})
	}
	log.Infof("[Processor] 步骤2: 全部 %d 个分块向量化完成", len(chunks))

	// 3. 构建索引
	idx, err := vectorstore.New(vectors, chunks)
	if err != nil {
		return nil, 0, fmt.Errorf("构建向量索引失败: %w", err)
	}
	log.Infof("[Processor] 文档处理成功完成, FileID: %s", fileID)
	return idx, len(chunks), nil
}
