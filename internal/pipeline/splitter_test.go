package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortInput(t *testing.T) {
	text := "只有一句话的短文本。"
	chunks := SplitText(text, 800, 150)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplitTextEmptyInput(t *testing.T) {
	assert.Nil(t, SplitText("", 800, 150))
	assert.Nil(t, SplitText("   \n\t  ", 800, 150))
}

func TestSplitTextInvalidParams(t *testing.T) {
	assert.Nil(t, SplitText("some text", 0, 0))
	assert.Nil(t, SplitText("some text", 100, 100))
	assert.Nil(t, SplitText("some text", 100, -1))
}

func TestSplitTextCoversAllCharacters(t *testing.T) {
	// 每个字符都必须被至少一个分块覆盖：按顺序把各分块去掉与前一块的重叠后
	// 重新拼接，应还原出原文。单词全部唯一，保证重叠匹配无歧义。
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&sb, "word%d ", i)
	}
	text := sb.String()
	chunks := SplitText(text, 100, 20)
	require.Greater(t, len(chunks), 1)

	reassembled := chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(reassembled)
		cur := []rune(chunks[i])
		// 找到当前分块与已拼接文本的最大后缀/前缀重叠
		overlap := 0
		max := len(cur)
		if len(prev) < max {
			max = len(prev)
		}
		for n := max; n > 0; n-- {
			if string(prev[len(prev)-n:]) == string(cur[:n]) {
				overlap = n
				break
			}
		}
		reassembled += string(cur[overlap:])
	}
	assert.Equal(t, text, reassembled)
}

func TestSplitTextRespectsChunkSize(t *testing.T) {
	text := strings.Repeat("word ", 500)
	chunks := SplitText(text, 120, 30)
	for i, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 120, "chunk %d 超出大小预算", i)
	}
}

func TestSplitTextPrefersSentenceBoundary(t *testing.T) {
	text := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota kappa lambda."
	chunks := SplitText(text, 40, 10)
	require.Greater(t, len(chunks), 1)
	// 预算内存在句末标点时，首个分块应在句号处断开而不是硬切到单词中间
	assert.True(t, strings.HasSuffix(chunks[0], "."), "首个分块应以句号结尾, got: %q", chunks[0])
}

func TestSplitTextPrefersParagraphBoundary(t *testing.T) {
	para1 := strings.Repeat("a", 60)
	para2 := strings.Repeat("b", 60)
	text := para1 + "\n\n" + para2
	chunks := SplitText(text, 80, 10)
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0], "\n"), "首个分块应在段落边界断开")
}

func TestSplitTextOverlap(t *testing.T) {
	// 无语义边界的纯字符流会走硬切路径，重叠应精确等于 chunkOverlap
	text := strings.Repeat("x", 300)
	chunks := SplitText(text, 100, 25)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1][len(chunks[i-1])-25:]
		assert.True(t, strings.HasPrefix(chunks[i], prevEnd))
	}
}

func TestSplitTextMultiByteSafe(t *testing.T) {
	// rune 级切分不得把多字节字符切成半个
	text := strings.Repeat("中文内容测试。", 100)
	chunks := SplitText(text, 50, 10)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.True(t, strings.HasSuffix(c, "。") || len([]rune(c)) <= 50)
		for _, r := range c {
			assert.NotEqual(t, rune(0xFFFD), r, "分块中出现了损坏的字符")
		}
	}
}
