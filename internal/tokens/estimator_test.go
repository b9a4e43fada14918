package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"no limit", "hello", 0, "hello"},
		{"shorter", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"ascii cut", "hello world", 5, "hello"},
		{"multibyte cut", "abejas polinizan ñandú", 18, "abejas polinizan ñ"},
		{"all multibyte", "ñññññ", 3, "ñññ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.text, tt.max)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate produced invalid UTF-8: %q", got)
			}
		})
	}
}

func TestTruncateArticleBound(t *testing.T) {
	article := strings.Repeat("é", 40000)
	got := Truncate(article, 30000)
	if n := utf8.RuneCountInString(got); n != 30000 {
		t.Errorf("rune count = %d, want 30000", n)
	}
}

func TestEstimateNonZero(t *testing.T) {
	if n := Estimate("Bees pollinate crops and communicate by dancing."); n <= 0 {
		t.Errorf("Estimate = %d, want > 0", n)
	}
	var nilEst *Estimator
	if n := nilEst.Count("abcdefgh"); n != 2 {
		t.Errorf("fallback Count = %d, want 2", n)
	}
}
