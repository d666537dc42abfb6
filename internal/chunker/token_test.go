package chunker

import (
	"testing"
	"unicode/utf8"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"保温层", 3},
		{"one two three", 3},
		{"   ", 1},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.in); got != c.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestTruncateTokens(t *testing.T) {
	text := "外墙外保温工程技术规程"
	got := TruncateTokens(text, 4)
	if EstimateTokens(got) > 4 {
		t.Errorf("truncated text still over budget: %q", got)
	}
	if !utf8.ValidString(got) || got != "外墙外保" {
		t.Errorf("unexpected truncation %q", got)
	}
	if TruncateTokens(text, 0) != text {
		t.Error("non-positive max should leave text unchanged")
	}
}
