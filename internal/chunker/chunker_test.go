package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyText(t *testing.T) {
	c := New(100, 20)
	assert.Nil(t, c.Split(""))
}

func TestSplitSmallTextSingleChunk(t *testing.T) {
	c := New(100, 20)
	chunks := c.Split("短文本不需要切分。")

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, "短文本不需要切分。", chunks[0].Text)
}

// 所有分块区间的并集必须覆盖全文，一个 rune 都不能丢。
func TestSplitCoversFullText(t *testing.T) {
	text := buildText(40)
	c := New(200, 50)
	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	runes := []rune(text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)

	// 用首块加上每个后续分块去掉重叠后的尾部重建全文
	var rebuilt []rune
	rebuilt = append(rebuilt, []rune(chunks[0].Text)...)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		cur := chunks[i]
		shared := prev.End - cur.Start
		rebuilt = append(rebuilt, []rune(cur.Text)[shared:]...)
	}
	assert.Equal(t, text, string(rebuilt))
}

// 相邻分块必须精确共享配置的 overlap 个 rune。
func TestSplitExactOverlap(t *testing.T) {
	text := buildText(40)
	const overlap = 37
	c := New(180, overlap)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, overlap, chunks[i-1].End-chunks[i].Start,
			"分块 %d 与 %d 的重叠不等于配置值", i-1, i)
		prevTail := string([]rune(chunks[i-1].Text)[len([]rune(chunks[i-1].Text))-overlap:])
		curHead := string([]rune(chunks[i].Text)[:overlap])
		assert.Equal(t, prevTail, curHead)
	}
}

func TestSplitChunksBounded(t *testing.T) {
	text := buildText(60)
	c := New(150, 30)
	for _, chunk := range c.Split(text) {
		assert.LessOrEqual(t, chunk.End-chunk.Start, 150)
	}
}

// 切分点应优先落在段落边界上，而不是段落中间。
func TestSplitPrefersParagraphBoundary(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString(strings.Repeat("a", 60))
		b.WriteString("\n\n")
	}
	text := b.String()

	c := New(200, 20)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	runes := []rune(text)
	for _, chunk := range chunks[:len(chunks)-1] {
		// 非末块的结束位置应是某段落的起点（其前一个字符是换行）
		assert.Equal(t, '\n', runes[chunk.End-1])
	}
}

// 单个结构单元超过目标大小时退化为硬切，但覆盖不变。
func TestSplitHardCutWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", 1000)
	c := New(300, 50)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 1000, chunks[len(chunks)-1].End)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].End-50, chunks[i].Start)
	}
}

func TestSplitHeadingContext(t *testing.T) {
	text := "# 物理 AI 简介\n\n" + strings.Repeat("正文内容。", 80) +
		"\n\n## 传感器\n\n" + strings.Repeat("更多内容。", 80)
	c := New(200, 40)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 2)

	assert.Equal(t, "物理 AI 简介", chunks[0].Heading)
	assert.Equal(t, "传感器", chunks[len(chunks)-1].Heading)
}

func TestNewClampsInvalidOverlap(t *testing.T) {
	c := New(100, 100)
	assert.Less(t, c.overlap, c.size)

	chunks := c.Split(buildText(20))
	require.NotEmpty(t, chunks)
	assert.Equal(t, len([]rune(buildText(20))), chunks[len(chunks)-1].End)
}

// buildText 生成带段落结构的测试文本。
func buildText(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		b.WriteString("具身智能指的是能够感知并作用于物理世界的智能体，")
		b.WriteString("它结合传感器、执行器与学习算法完成任务。")
		if i%5 == 0 {
			b.WriteString("\n\n## 小节\n\n")
		} else {
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n\n")
}
