package browser

import "strings"

// formScore is the fixed relevance assigned to forms: usually interactable
// but rarely self-describing.
const formScore = 0.5

// ScoreText rates element text by word count, saturating at ten words.
// Longer labels tend to carry more context for the model to reason about.
func ScoreText(text string) float64 {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	score := float64(words) / 10.0
	if score > 1.0 {
		return 1.0
	}
	return score
}
