package summarize

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/mastermobile/callexport/internal/core/model"
)

const (
	minBullets     = 3
	maxBullets     = 5
	maxBulletLen   = 256
	minSentenceLen = 10
)

// Summarize produces a short extractive Markdown summary of a transcript.
// Sentences are ranked by term frequency and the top ones are emitted as
// bullets in their original order, each clipped to a fixed length.
func Summarize(rec *model.CallRecord, transcript string) string {
	sentences := splitSentences(transcript)
	bullets := selectBullets(sentences)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Call %s\n\n", rec.CallID)
	fmt.Fprintf(&sb, "- Direction: %s, duration: %ds\n", rec.Direction, rec.DurationSec)
	for _, b := range bullets {
		fmt.Fprintf(&sb, "- %s\n", b)
	}
	return sb.String()
}

type scoredSentence struct {
	index int
	text  string
	score float64
}

func selectBullets(sentences []string) []string {
	if len(sentences) == 0 {
		return []string{"No speech content was recognized in this call."}
	}

	freq := make(map[string]int)
	for _, s := range sentences {
		for _, w := range tokenize(s) {
			freq[w]++
		}
	}

	scored := make([]scoredSentence, 0, len(sentences))
	for i, s := range sentences {
		words := tokenize(s)
		if len(words) == 0 {
			continue
		}
		total := 0
		for _, w := range words {
			total += freq[w]
		}
		scored = append(scored, scoredSentence{
			index: i,
			text:  s,
			score: float64(total) / float64(len(words)),
		})
	}
	if len(scored) == 0 {
		return []string{"No speech content was recognized in this call."}
	}

	sort.SliceStable(scored, func(a, b int) bool { return scored[a].score > scored[b].score })

	count := maxBullets
	if len(scored) < count {
		count = len(scored)
	}
	if count < minBullets && len(scored) >= minBullets {
		count = minBullets
	}
	picked := scored[:count]
	sort.SliceStable(picked, func(a, b int) bool { return picked[a].index < picked[b].index })

	bullets := make([]string, 0, len(picked))
	for _, s := range picked {
		bullets = append(bullets, clip(s.text, maxBulletLen))
	}
	return bullets
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			s := strings.TrimSpace(current.String())
			if len(s) >= minSentenceLen {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); len(s) >= minSentenceLen {
		sentences = append(sentences, s)
	}
	return sentences
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
