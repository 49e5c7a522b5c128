package log

import (
	"strings"
	"unicode/utf8"
)

// maxBodyRunes 提示词与生成内容在日志中保留的最大字符数
const maxBodyRunes = 256

// sensitiveKeywords 命中任一关键字的字段按凭据处理
var sensitiveKeywords = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key", "x-api-key", "x-goog-api-key",
	"token", "secret", "authorization",
	"credential", "private_key", "privatekey", "encryption_key",
}

// bodyKeywords 命中任一关键字的字段按正文截断
var bodyKeywords = []string{"prompt", "payload", "body"}

// SanitizeField 按字段名对日志值脱敏
// 凭据类字段只保留首尾字符，提示词和生成内容截断到 maxBodyRunes
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}
	for _, keyword := range bodyKeywords {
		if strings.Contains(lowerKey, keyword) {
			return truncateBody(value)
		}
	}
	return value
}

// sanitizeToken masks secrets showing only first 4 and last 4 characters
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		// For short strings, mask everything except first and last char
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	// For longer strings, show first 4 and last 4
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// truncateBody 截断过长的正文，保持 UTF-8 完整
func truncateBody(value string) string {
	if utf8.RuneCountInString(value) <= maxBodyRunes {
		return value
	}
	runes := []rune(value)
	return string(runes[:maxBodyRunes]) + "…(truncated)"
}
