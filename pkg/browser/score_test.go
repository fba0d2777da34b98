package browser

import (
	"strings"
	"testing"
)

func TestScoreText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"empty", "", 0},
		{"one word", "Home", 0.1},
		{"five words", "Read the full article here", 0.5},
		{"ten words saturates", "one two three four five six seven eight nine ten", 1.0},
		{"beyond ten words stays capped", "one two three four five six seven eight nine ten eleven twelve", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreText(tt.text); got != tt.want {
				t.Errorf("ScoreText(%q) = %f, want %f", tt.text, got, tt.want)
			}
		})
	}
}

func TestCleanPageText(t *testing.T) {
	raw := "Skip\nnav menu\nThis line has enough words to keep\nok\nAnother line that clearly carries real page content here\n"
	got := CleanPageText(raw)

	if strings.Contains(got, "Skip") || strings.Contains(got, "nav menu") {
		t.Errorf("short lines should be dropped, got %q", got)
	}
	if !strings.Contains(got, "enough words to keep") {
		t.Errorf("long lines should be kept, got %q", got)
	}
}

func TestCleanPageTextTruncates(t *testing.T) {
	line := "this is a line with plenty of words in it for the filter\n"
	raw := strings.Repeat(line, 500)

	got := CleanPageText(raw)
	if len(got) > maxPageText+100 {
		t.Errorf("len = %d, want <= %d plus marker", len(got), maxPageText)
	}
	if !strings.Contains(got, "content truncated") {
		t.Error("expected truncation marker")
	}
}
