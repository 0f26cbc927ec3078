package provider

import (
	"regexp"
)

// codePattern 短信文本中 4-8 位连续数字
var codePattern = regexp.MustCompile(`\d{4,8}`)

// ExtractCode 从自由文本中提取验证码，取第一段 4-8 位数字。
// 上游未提供结构化验证码字段时的兜底提取，结果标记为启发式。
func ExtractCode(message string) (string, bool) {
	code := codePattern.FindString(message)
	return code, code != ""
}
