package stats

import (
	"regexp"
	"strings"
	"unicode"
)

// Tokenize 去标点、按空白切分、丢弃空token。
// 不做小写化，词表匹配区分大小写（与源系统一致）。
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// mentionPattern 匹配 "@<词> <词>" 形式的用户指称
var mentionPattern = regexp.MustCompile(`@(\pL[\pL\pN]*)\s+(\pL[\pL\pN]*)`)

// FindMentions 提取消息文本中的两词用户指称，
// 返回的键为精确的两词捕获（如 "Max Mustermann"）。
func FindMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1]+" "+m[2])
	}
	return out
}
