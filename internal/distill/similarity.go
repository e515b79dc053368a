package distill

import (
	"fmt"
	"strings"
	"unicode"
)

// Similarity compares texts by the Jaccard index of their character n-grams.
type Similarity struct {
	threshold float64
	ngramSize int
}

// NewSimilarity returns nil when threshold is not in (0, 1], which disables
// the filter.
func NewSimilarity(threshold float64, ngramSize int) *Similarity {
	if threshold <= 0 || threshold > 1 {
		return nil
	}
	if ngramSize <= 0 {
		ngramSize = 3
	}
	return &Similarity{threshold: threshold, ngramSize: ngramSize}
}

// Signature is "off" for a nil filter.
func (s *Similarity) Signature() string {
	if s == nil {
		return "off"
	}
	return fmt.Sprintf("%g/%d", s.threshold, s.ngramSize)
}

// normalize lowercases, drops punctuation and collapses whitespace.
func normalize(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			sb.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// NGrams returns the set of character n-grams of the normalized text. Text
// shorter than one n-gram yields itself as the only member.
func (s *Similarity) NGrams(text string) map[string]struct{} {
	runes := []rune(normalize(text))
	set := make(map[string]struct{})
	if len(runes) > 0 && len(runes) < s.ngramSize {
		set[string(runes)] = struct{}{}
		return set
	}
	for i := 0; i <= len(runes)-s.ngramSize; i++ {
		set[string(runes[i:i+s.ngramSize])] = struct{}{}
	}
	return set
}

// Jaccard computes |A ∩ B| / |A ∪ B|. Two empty sets are identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Unique keeps items in order, dropping any that is at least threshold
// similar to an item already kept. A nil receiver keeps everything.
func (s *Similarity) Unique(items []string) []string {
	if s == nil || len(items) < 2 {
		return items
	}
	kept := make([]string, 0, len(items))
	var keptGrams []map[string]struct{}
	for _, item := range items {
		grams := s.NGrams(item)
		dup := false
		for _, other := range keptGrams {
			if Jaccard(grams, other) >= s.threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, item)
		keptGrams = append(keptGrams, grams)
	}
	return kept
}
