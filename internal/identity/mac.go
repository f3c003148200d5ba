package identity

import (
	"strings"
)

// MAC 地址归一化与匹配工具。
//
// 本地 gateways 表存大写无分隔符规范形式，device_status 表存小写规范形式，
// 厂家云端返回的格式不固定（大小写、":"/"-" 分隔符混用）。两种规范形式
// 都保留（与现有数据一致），不做静默统一。

// stripSeparators 去掉常见 MAC 分隔符
func stripSeparators(raw string) string {
	s := strings.ReplaceAll(raw, ":", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.TrimSpace(s)
}

// NormalizeMacUpper 归一化为大写规范形式（gateways 表口径）
func NormalizeMacUpper(raw string) string {
	return strings.ToUpper(stripSeparators(raw))
}

// NormalizeMacLower 归一化为小写规范形式（device_status 表口径）
func NormalizeMacLower(raw string) string {
	return strings.ToLower(stripSeparators(raw))
}

// MacsEqual 归一化后精确比较
func MacsEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return NormalizeMacLower(a) == NormalizeMacLower(b)
}

// FuzzyMacMatch 后缀模糊匹配（精确匹配失败后的兜底）。
// 厂家导入时可能截断标识，只在恰好一个候选的后 suffixLen 位 hex 一致时
// 返回该候选；多个候选共享后缀视为歧义，返回空串而不是猜测。
func FuzzyMacMatch(local string, candidates []string, suffixLen int) string {
	if suffixLen <= 0 {
		suffixLen = 6
	}
	norm := NormalizeMacLower(local)
	if len(norm) < suffixLen {
		return ""
	}

	// 1. 先尝试精确匹配
	for _, c := range candidates {
		if MacsEqual(local, c) {
			return c
		}
	}

	// 2. 后缀匹配，歧义即放弃
	suffix := norm[len(norm)-suffixLen:]
	matched := ""
	for _, c := range candidates {
		cn := NormalizeMacLower(c)
		if len(cn) < suffixLen {
			continue
		}
		if cn[len(cn)-suffixLen:] == suffix {
			if matched != "" {
				return ""
			}
			matched = c
		}
	}
	return matched
}

// IsValidMac 校验归一化后是否为 12 位 hex
func IsValidMac(raw string) bool {
	s := NormalizeMacLower(raw)
	if len(s) != 12 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
