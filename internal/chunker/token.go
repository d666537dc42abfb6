package chunker

import (
	"strings"
	"unicode"
)

// EstimateTokens gives a rough token count. Han characters count one token
// each; other text uses ~1.33 tokens per whitespace-separated word.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	han := 0
	var rest strings.Builder
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			han++
			rest.WriteRune(' ')
			continue
		}
		rest.WriteRune(r)
	}
	words := len(strings.Fields(rest.String()))
	tokens := han + int(float64(words)*1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// TruncateTokens cuts text so that EstimateTokens stays within max, keeping
// whole runes. A non-positive max returns text unchanged.
func TruncateTokens(text string, max int) string {
	if max <= 0 || EstimateTokens(text) <= max {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if EstimateTokens(string(runes[:mid])) <= max {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
