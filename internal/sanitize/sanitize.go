// Package sanitize 提供了用户输入的校验与清洗，防止提示注入。
package sanitize

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 输入校验错误。
var (
	ErrEmptyQuery   = errors.New("查询内容不能为空")
	ErrQueryTooLong = errors.New("查询内容超出最大长度限制")
)

// 需要从输入中剔除的角色操纵与特殊标记模式。
var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)system\s*:`),
	regexp.MustCompile(`(?i)assistant\s*:`),
	regexp.MustCompile(`(?i)user\s*:`),
	regexp.MustCompile(`<\|.*?\|>`),
	regexp.MustCompile(`(?i)\[/?INST\]`),
	regexp.MustCompile(`(?i)###\s*(Instruction|System)`),
}

// 提示注入的特征模式，命中即拒绝请求。
var injectionPatterns = []*regexp.Regexp{
	// 限定词可以叠加，例如 "ignore all previous instructions"
	regexp.MustCompile(`(?i)ignore\s+(?:(?:previous|above|all)\s+)+(?:instructions|prompts?)`),
	regexp.MustCompile(`(?i)disregard\s+.*?(instructions|rules)`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)system\s+override`),
	regexp.MustCompile(`(?i)(admin|developer)\s+mode`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)you\s+are\s+now`),
	regexp.MustCompile(`(?i)act\s+as\s+(if|though)`),
}

var (
	reNewlineRuns = regexp.MustCompile(`\n{3,}`)
	reWhitespace  = regexp.MustCompile(`\s+`)
	reUUID        = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// Query 清洗并校验用户问句：去控制字符、剔除角色操纵标记、压缩空白。
// 空输入或超过 maxRunes 的输入返回错误，不发起任何远程调用。
func Query(query string, maxRunes int) (string, error) {
	query = stripControl(strings.TrimSpace(query))

	if query == "" {
		return "", ErrEmptyQuery
	}
	if maxRunes > 0 && utf8.RuneCountInString(query) > maxRunes {
		return "", ErrQueryTooLong
	}

	for _, p := range maliciousPatterns {
		query = p.ReplaceAllString(query, "")
	}

	query = reNewlineRuns.ReplaceAllString(query, "\n\n")
	query = strings.TrimSpace(reWhitespace.ReplaceAllString(query, " "))
	if query == "" {
		return "", ErrEmptyQuery
	}
	return query, nil
}

// SelectedText 清洗页面选中文本，不合法时返回空字符串（选中文本是可选的）。
func SelectedText(text string, maxRunes int) string {
	text = stripControl(strings.TrimSpace(text))
	if text == "" {
		return ""
	}
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		return ""
	}
	return strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
}

// DetectInjection 检测疑似提示注入的输入。
func DetectInjection(text string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// ValidSessionID 校验会话 ID 是否为合法的 UUID 格式。
func ValidSessionID(sessionID string) bool {
	return reUUID.MatchString(strings.ToLower(sessionID))
}

// stripControl 去掉除换行与制表符之外的控制字符。
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
