package distill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/thinkscotty/glimpse/internal/models"
)

// Frequency distils text by counting content words. It is deterministic and
// needs no remote collaborator.
type Frequency struct {
	TopN         int
	KeyPointsMax int
}

func NewFrequency(topN, keyPointsMax int) *Frequency {
	if topN <= 0 {
		topN = 10
	}
	if keyPointsMax <= 0 {
		keyPointsMax = 5
	}
	return &Frequency{TopN: topN, KeyPointsMax: keyPointsMax}
}

func (f *Frequency) Name() string { return StrategyFrequency }

func (f *Frequency) Signature() string {
	return fmt.Sprintf("%s top_n=%d key_points_max=%d", StrategyFrequency, f.TopN, f.KeyPointsMax)
}

func (f *Frequency) Produce(_ context.Context, text string, cat models.Category) (string, error) {
	switch cat {
	case models.CategoryDescription:
		return strings.Join(TopWords(text, DescriptionWords), " "), nil
	case models.CategoryKeyPoints:
		return f.keyPoints(text), nil
	default:
		return strings.Join(TopWords(text, f.TopN), " "), nil
	}
}

type wordCount struct {
	word  string
	count int
}

// Tokenize lowercases text and splits it into alphanumeric words.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// contentWords returns the non-stopword tokens of text.
func contentWords(text string) []string {
	var words []string
	for _, w := range Tokenize(text) {
		if !isStopword(w) {
			words = append(words, w)
		}
	}
	return words
}

// TopWords returns up to n content words ordered by count descending, ties
// broken alphabetically.
func TopWords(text string, n int) []string {
	counts := make(map[string]int)
	for _, w := range contentWords(text) {
		counts[w]++
	}

	ranked := make([]wordCount, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, wordCount{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	words := make([]string, len(ranked))
	for i, wc := range ranked {
		words[i] = wc.word
	}
	return words
}

// Sentences splits text after '.', '!' or '?' runs that end a word.
func Sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && isTerminator(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
			if s := strings.TrimSpace(string(runes[start : j+1])); s != "" {
				out = append(out, s)
			}
			start = j + 1
		}
		i = j
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// keyPoints picks the highest scoring sentences, keeps them in document order
// and renders them as a bulleted list.
func (f *Frequency) keyPoints(text string) string {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return ""
	}

	counts := make(map[string]int)
	for _, w := range contentWords(text) {
		counts[w]++
	}

	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		score := 0
		for _, w := range contentWords(s) {
			score += counts[w]
		}
		ranked[i] = scored{i, score}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > f.KeyPointsMax {
		ranked = ranked[:f.KeyPointsMax]
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].idx < ranked[j].idx
	})

	lines := make([]string, len(ranked))
	for i, r := range ranked {
		lines[i] = "- " + sentences[r.idx]
	}
	return strings.Join(lines, "\n")
}
