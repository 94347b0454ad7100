// Package pipeline 定义了文件处理的核心流程。
package pipeline

import "strings"

// 边界优先级：段落 → 换行 → 句子 → 单词，最后才做硬切。
var sentenceEnds = []rune{'.', '!', '?', '。', '！', '？'}

// SplitText 将长文本按指定大小和重叠切分为有序分块。
// 以 rune 为单位计数；要求 chunkSize > chunkOverlap >= 0。
// 每个字符都至少被一个分块覆盖，相邻分块约有 chunkOverlap 个字符的重叠。
// 在大小预算内优先在语义边界处断开，避免硬切到单词或多字节单元中间。
// 输入短于 chunkSize 时返回恰好一个等于输入的分块；
// 输入去除首尾空白后为空时返回 nil，由调用方作为入库错误处理。
func SplitText(text string, chunkSize int, chunkOverlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if chunkSize <= 0 || chunkOverlap < 0 || chunkSize <= chunkOverlap {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		cut := findSplitPoint(runes, start, end)
		chunks = append(chunks, string(runes[start:cut]))

		next := cut - chunkOverlap
		// 保证每轮都有前进，避免重叠吃掉整个分块后死循环
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// findSplitPoint 在 (start, end] 的后半段内寻找最合适的断点。
// 找不到任何边界时退化为在 end 处硬切。
func findSplitPoint(runes []rune, start, end int) int {
	// 只在分块的后半段寻找边界，避免产生过短的分块
	floor := start + (end-start)/2

	// 1. 段落边界（空行）
	for i := end; i > floor; i-- {
		if runes[i-1] == '\n' && i >= 2 && runes[i-2] == '\n' {
			return i
		}
	}
	// 2. 换行
	for i := end; i > floor; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	// 3. 句末标点
	for i := end; i > floor; i-- {
		if isSentenceEnd(runes[i-1]) {
			return i
		}
	}
	// 4. 单词边界（空白）
	for i := end; i > floor; i-- {
		if runes[i-1] == ' ' || runes[i-1] == '\t' {
			return i
		}
	}
	// 5. 硬切
	return end
}

func isSentenceEnd(r rune) bool {
	for _, e := range sentenceEnds {
		if r == e {
			return true
		}
	}
	return false
}
