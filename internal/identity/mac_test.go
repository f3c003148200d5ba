package identity_test

import (
	"testing"

	"github.com/spider10584329/hkanban-sub001/internal/identity"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMac(t *testing.T) {
	require.Equal(t, "AABBCC112233", identity.NormalizeMacUpper("aa:bb:cc:11:22:33"))
	require.Equal(t, "AABBCC112233", identity.NormalizeMacUpper("AA-BB-CC-11-22-33"))
	require.Equal(t, "aabbcc112233", identity.NormalizeMacLower("AA:BB:CC:11:22:33"))
	require.Equal(t, "aabbcc112233", identity.NormalizeMacLower(" aabbcc112233 "))
}

func TestMacsEqual(t *testing.T) {
	// 分隔符和大小写不同，归一化后相等
	require.True(t, identity.MacsEqual("AA:BB:CC:11:22:33", "aabbcc112233"))
	require.True(t, identity.MacsEqual("aa-bb-cc-11-22-33", "AA:BB:CC:11:22:33"))
	require.False(t, identity.MacsEqual("AA:BB:CC:11:22:33", "AA:BB:CC:11:22:44"))
	require.False(t, identity.MacsEqual("", "aabbcc112233"))
}

func TestFuzzyMacMatch_ExactFirst(t *testing.T) {
	candidates := []string{"aabbcc112233", "ddeeff112233"}
	// 精确匹配优先，即使后缀有歧义
	require.Equal(t, "aabbcc112233", identity.FuzzyMacMatch("AA:BB:CC:11:22:33", candidates, 6))
}

func TestFuzzyMacMatch_SuffixFallback(t *testing.T) {
	candidates := []string{"ddeeff112233", "aabbcc998877"}
	require.Equal(t, "ddeeff112233", identity.FuzzyMacMatch("112233", candidates, 6))
}

func TestFuzzyMacMatch_AmbiguousReturnsNoMatch(t *testing.T) {
	// 两个候选共享后缀：宁可不匹配也不猜
	candidates := []string{"aabbcc112233", "ddeeff112233"}
	require.Equal(t, "", identity.FuzzyMacMatch("ffffff112233", candidates, 6))
}

func TestFuzzyMacMatch_NoCandidate(t *testing.T) {
	require.Equal(t, "", identity.FuzzyMacMatch("AA:BB:CC:11:22:44", []string{"aabbcc112233"}, 6))
	require.Equal(t, "", identity.FuzzyMacMatch("ab", []string{"aabbcc112233"}, 6))
}

func TestIsValidMac(t *testing.T) {
	require.True(t, identity.IsValidMac("AA:BB:CC:11:22:33"))
	require.True(t, identity.IsValidMac("aabbcc112233"))
	require.False(t, identity.IsValidMac("aabbcc1122"))
	require.False(t, identity.IsValidMac("zzbbcc112233"))
}
