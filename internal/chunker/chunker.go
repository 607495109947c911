// Package chunker 负责把文档文本切分为有界、带重叠的分块。
package chunker

import (
	"strings"

	"pai-docs-chat/internal/model"
)

// Chunker 按 rune 计量把长文本切分为分块。
// 切分点优先落在结构边界（标题行、空行段落分隔）上，
// 只有当单个结构单元超过目标大小时才退化为硬切。
// 纯函数：输出只取决于输入文本与配置。
type Chunker struct {
	size    int
	overlap int
}

// New 创建一个 Chunker。size 是单个分块的最大 rune 数，
// overlap 是相邻分块的重叠 rune 数；overlap 必须小于 size，
// 否则会被收敛到 size/5，避免切分无法推进。
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split 把 text 切分为有序分块。
// 不变式：所有分块 [Start, End) 的并集覆盖全文；
// 相邻分块精确重叠 overlap 个 rune（下一块的 Start = 上一块的 End - overlap）。
// 空文本返回 nil；不超过 size 的文本返回单个分块。
func (c *Chunker) Split(text string) []model.Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	headings := collectHeadings(runes)

	if n <= c.size {
		return []model.Chunk{{
			Index:   0,
			Text:    text,
			Start:   0,
			End:     n,
			Heading: headingBefore(headings, 0),
		}}
	}

	paraBounds, lineBounds := collectBoundaries(runes)

	var chunks []model.Chunk
	start := 0
	for idx := 0; ; idx++ {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			// 切分点必须严格大于 start+overlap，否则下一块无法前进。
			lo := start + c.overlap + 1
			if b := lastBoundaryIn(paraBounds, lo, end); b > 0 {
				end = b
			} else if b := lastBoundaryIn(lineBounds, lo, end); b > 0 {
				end = b
			}
			// 两类边界都不存在时保持硬切。
		}

		chunks = append(chunks, model.Chunk{
			Index:   idx,
			Text:    string(runes[start:end]),
			Start:   start,
			End:     end,
			Heading: headingBefore(headings, start),
		})

		if end == n {
			break
		}
		start = end - c.overlap
	}
	return chunks
}

// heading 记录一个标题行的位置与文本。
type heading struct {
	offset int
	text   string
}

// collectHeadings 扫描文本中的 markdown 标题行（1~6 个 # 加空格开头）。
func collectHeadings(runes []rune) []heading {
	var result []heading
	lineStart := 0
	for i := 0; i <= len(runes); i++ {
		if i == len(runes) || runes[i] == '\n' {
			if text, ok := parseHeading(runes[lineStart:i]); ok {
				result = append(result, heading{offset: lineStart, text: text})
			}
			lineStart = i + 1
		}
	}
	return result
}

// parseHeading 判断一行是否为标题行，是则返回去掉 # 前缀的标题文本。
func parseHeading(line []rune) (string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return "", false
	}
	return strings.TrimSpace(string(line[level+1:])), true
}

// headingBefore 返回 offset 之前（含）最近一个标题的文本，没有则为空。
func headingBefore(headings []heading, offset int) string {
	text := ""
	for _, h := range headings {
		if h.offset > offset {
			break
		}
		text = h.text
	}
	return text
}

// collectBoundaries 收集两类候选切分点（均为下一结构单元的起始偏移）：
// paraBounds 是段落级边界（空行之后、标题行之前），lineBounds 是普通换行之后。
func collectBoundaries(runes []rune) (paraBounds, lineBounds []int) {
	for i := 1; i < len(runes); i++ {
		if runes[i-1] != '\n' {
			continue
		}
		lineBounds = append(lineBounds, i)
		if runes[i] == '\n' {
			continue // 空行本身不是好的起点，取空行之后的位置
		}
		if (i >= 2 && runes[i-2] == '\n') || isHeadingStart(runes, i) {
			paraBounds = append(paraBounds, i)
		}
	}
	return paraBounds, lineBounds
}

// isHeadingStart 判断 offset 处是否是一个标题行的开头。
func isHeadingStart(runes []rune, offset int) bool {
	level := 0
	for offset+level < len(runes) && runes[offset+level] == '#' {
		level++
	}
	return level >= 1 && level <= 6 && offset+level < len(runes) && runes[offset+level] == ' '
}

// lastBoundaryIn 返回 bounds 中落在 [lo, hi] 区间内的最大值，不存在返回 0。
func lastBoundaryIn(bounds []int, lo, hi int) int {
	best := 0
	for _, b := range bounds {
		if b > hi {
			break
		}
		if b >= lo {
			best = b
		}
	}
	return best
}
