package distill

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/thinkscotty/glimpse/internal/ai"
	"github.com/thinkscotty/glimpse/internal/models"
)

// DescriptionWords is the fixed token count of a description.
const DescriptionWords = 3

// fillerWords pad a description that came back short.
var fillerWords = []string{"scene", "image", "concept"}

// Shaper bounds strategy output per category.
type Shaper struct {
	SummaryMaxWords int
	KeyPointsMax    int
	Dedupe          *Similarity // nil keeps near-duplicate key points
}

// Signature describes the bounds Shape applies.
func (s Shaper) Signature() string {
	return fmt.Sprintf("summary_max_words=%d key_points_max=%d dedupe=%s",
		s.SummaryMaxWords, s.KeyPointsMax, s.Dedupe.Signature())
}

// Shape applies the category's bound to out.
func (s Shaper) Shape(cat models.Category, out string) string {
	switch cat {
	case models.CategoryDescription:
		return ShapeDescription(out)
	case models.CategoryKeyPoints:
		return shapeKeyPoints(out, s.KeyPointsMax, s.Dedupe)
	default:
		return ShapeSummary(out, s.SummaryMaxWords)
	}
}

// ShapeDescription returns exactly three whitespace-separated tokens. Edge
// punctuation is trimmed, extra tokens dropped and missing ones filled in.
func ShapeDescription(text string) string {
	var words []string
	for _, f := range strings.Fields(text) {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w == "" {
			continue
		}
		words = append(words, w)
		if len(words) == DescriptionWords {
			break
		}
	}
	for i := 0; len(words) < DescriptionWords; i++ {
		words = append(words, fillerWords[i%len(fillerWords)])
	}
	return strings.Join(words, " ")
}

// ShapeSummary keeps at most maxWords words. A zero maxWords means unbounded.
func ShapeSummary(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return strings.Join(fillerWords, " ")
	}
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

// ShapeKeyPoints normalises a list reply to at most max "- " bullets.
func ShapeKeyPoints(text string, max int) string {
	return shapeKeyPoints(text, max, nil)
}

func shapeKeyPoints(text string, max int, dedupe *Similarity) string {
	var items []string
	for _, item := range ai.ParseList(text) {
		// Lead-ins such as "Here are the key points:" are not points.
		if strings.HasSuffix(item, ":") {
			continue
		}
		items = append(items, item)
	}
	items = dedupe.Unique(items)
	if len(items) == 0 {
		items = []string{strings.Join(fillerWords, " ")}
	}
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(item)
	}
	return sb.String()
}
