// Package markdown 提供了索引管线用到的 markdown 解析工具。
package markdown

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	reCodeBlock  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`[^`\n]+`")
	reImage      = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reEmphasis   = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_\n]+)(\*{1,3}|_{1,3})`)
	reHTMLTag    = regexp.MustCompile(`<[^>\n]+>`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
	reSpaces     = regexp.MustCompile(`[ \t]+`)
)

// ExtractFrontmatter 提取文档头部的 YAML frontmatter（简单键值对），
// 返回元数据和去掉 frontmatter 之后的正文。
func ExtractFrontmatter(content string) (map[string]string, string) {
	frontmatter := map[string]string{}
	body := content

	if strings.HasPrefix(content, "---") {
		parts := strings.SplitN(content, "---", 3)
		if len(parts) >= 3 {
			for _, line := range strings.Split(strings.TrimSpace(parts[1]), "\n") {
				key, value, ok := strings.Cut(line, ":")
				if !ok {
					continue
				}
				value = strings.TrimSpace(value)
				value = strings.Trim(value, `"'`)
				frontmatter[strings.TrimSpace(key)] = value
			}
			body = strings.TrimSpace(parts[2])
		}
	}
	return frontmatter, body
}

// ToPlainText 把 markdown 正文转换为适合向量化的纯文本。
// 去掉 frontmatter、代码块、链接与强调标记，但保留标题行和段落结构，
// 以便切块器在结构边界上切分。
func ToPlainText(content string) string {
	_, body := ExtractFrontmatter(content)

	body = reCodeBlock.ReplaceAllString(body, "")
	body = reInlineCode.ReplaceAllString(body, "")
	body = reImage.ReplaceAllString(body, "")
	body = reLink.ReplaceAllString(body, "$1")
	body = reEmphasis.ReplaceAllString(body, "$2")
	body = reHTMLTag.ReplaceAllString(body, "")

	// 归一空白：行内多余空格压缩，三个以上连续换行压缩为段落分隔
	body = reSpaces.ReplaceAllString(body, " ")
	body = reBlankRuns.ReplaceAllString(body, "\n\n")

	lines := strings.Split(body, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Title 从 frontmatter 或首个一级标题中提取文档标题，
// 都没有时回退到文件名。
func Title(content, path string) string {
	frontmatter, body := ExtractFrontmatter(content)
	if t, ok := frontmatter["title"]; ok && t != "" {
		return t
	}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}

	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return name
}

// IsMarkdown 判断一个文件路径是否为 markdown/MDX 文档。
func IsMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".mdx", ".markdown":
		return true
	}
	return false
}
