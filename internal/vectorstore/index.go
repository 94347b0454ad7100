// Package vectorstore 实现了按用户持有的内存向量索引。
package vectorstore

import (
	"errors"
	"sort"
	"sync"
)

// Chunk 是检索的最小单元：一段文档文本及其来源元数据。
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`  // 原始文件名
	FileID string `json:"file_id"` // 所属文档的 FileID
	Seq    int    `json:"seq"`     // 在所属文档内的分块序号
}

// Entry 是索引中的一条记录：分块文本与其向量表示。
// 条目在创建后不再变更，索引仅支持追加。
type Entry struct {
	Vector []float32
	Chunk  Chunk
}

// SearchResult 是一次相似度检索命中的结果。
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Index 是一个用户的向量索引，基于余弦相似度做暴力检索。
// 向量假定已归一化，相似度直接用点积计算。
type Index struct {
	mu      sync.RWMutex
	entries []Entry
}

// New 从一批分块和对应向量构建一个全新的索引。
// 要求两者长度一致且不为空。
func New(vectors [][]float32, chunks []Chunk) (*Index, error) {
	if len(vectors) == 0 || len(vectors) != len(chunks) {
		return nil, errors.New("向量与分块数量不一致或为空")
	}
	entries := make([]Entry, 0, len(vectors))
	for i := range vectors {
		entries = append(entries, Entry{Vector: vectors[i], Chunk: chunks[i]})
	}
	return &Index{entries: entries}, nil
}

// Merge 将 other 的所有条目并入接收者。
// 既有条目全部保留且不被改写；用户已持有索引时重复上传必须走 Merge 而不是重建。
func (idx *Index) Merge(other *Index) {
	if other == nil {
		return
	}
	other.mu.RLock()
	incoming := make([]Entry, len(other.entries))
	copy(incoming, other.entries)
	other.mu.RUnlock()

	idx.mu.Lock()
	idx.entries = append(idx.entries, incoming...)
	idx.mu.Unlock()
}

// Len 返回索引中的条目数量。
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Search 返回与查询向量相似度最高的 k 条记录，按得分降序。
// 得分相同按插入顺序排序（稳定）。索引条目少于 k 时返回全部；
// 索引为空或不存在时返回空结果，调用方应视为"没有相关内容"而不是错误。
func (idx *Index) Search(query []float32, k int) []SearchResult {
	if idx == nil || k <= 0 {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.entries) == 0 {
		return nil
	}

	order := make([]int, len(idx.entries))
	scores := make([]float64, len(idx.entries))
	for i := range idx.entries {
		order[i] = i
		scores[i] = dot(idx.entries[i].Vector, query)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}
	results := make([]SearchResult, 0, k)
	for i := 0; i < k; i++ {
		j := order[i]
		results = append(results, SearchResult{Chunk: idx.entries[j].Chunk, Score: scores[j]})
	}
	return results
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
