package provider

import (
	"strings"

	"github.com/presswire/contentqueue/internal/dispatch"
)

// WordCountScorer is a structural heuristic: body length, title length,
// excerpt presence and sectioning. It does not judge the prose.
type WordCountScorer struct {
	// MinWords is the body length that earns the full length score.
	MinWords int
	// PassScore is the minimum total for Passes.
	PassScore int
}

func NewWordCountScorer(minWords, passScore int) WordCountScorer {
	if minWords <= 0 {
		minWords = 600
	}
	if passScore <= 0 {
		passScore = 50
	}
	return WordCountScorer{MinWords: minWords, PassScore: passScore}
}

func (s WordCountScorer) PassesQuality(content dispatch.Content) dispatch.QualityReport {
	words := len(strings.Fields(stripTags(content.Body)))
	length := 50 * words / s.MinWords
	if length > 50 {
		length = 50
	}

	title := 0
	switch n := len([]rune(strings.TrimSpace(content.Title))); {
	case n >= 20 && n <= 70:
		title = 20
	case n > 0:
		title = 10
	}

	excerpt := 0
	if n := len([]rune(strings.TrimSpace(content.Excerpt))); n > 0 && n <= 300 {
		excerpt = 15
	}

	sections := strings.Count(content.Body, "<h2") + strings.Count(content.Body, "<h3")
	structure := 5 * sections
	if structure > 15 {
		structure = 15
	}

	breakdown := map[string]int{
		"length":    length,
		"title":     title,
		"excerpt":   excerpt,
		"structure": structure,
	}
	score := length + title + excerpt + structure
	return dispatch.QualityReport{Passes: score >= s.PassScore, Score: score, Breakdown: breakdown}
}

// stripTags drops anything between angle brackets.
func stripTags(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
			b.WriteRune(' ')
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ dispatch.Scorer = WordCountScorer{}
