package targeting

import (
	"math"
	"strings"
)

// SourceKind classifies where a match was found.
type SourceKind string

const (
	SourceText      SourceKind = "text"
	SourceAria      SourceKind = "aria"
	SourceAttribute SourceKind = "attribute"
)

// TextSource is one entry of a candidate's search pool.
type TextSource struct {
	Field string
	Value string
	Kind  SourceKind
}

// primaryTags are the tags users most often mean by "click".
var primaryTags = map[string]bool{
	"a":       true,
	"button":  true,
	"input":   true,
	"select":  true,
	"summary": true,
}

// Scoring weights. The raw sum is divided by scoreScale.
const (
	weightExact       = 2.5
	weightVisibleText = 1.5
	weightAria        = 1.0
	weightAttribute   = 0.8
	weightVisible     = 1.5
	weightEnabled     = 0.5
	penaltyDisabled   = -1.5
	weightRole        = 1.0
	weightPrimaryTag  = 0.5
	weightPlayClass   = 0.4
	weightLength      = 0.5
	scoreScale        = 6.0
)

func searchPool(p *elementProps, extra []string) []TextSource {
	pool := make([]TextSource, 0, 4+len(extra))
	add := func(field, value string, kind SourceKind) {
		value = strings.TrimSpace(value)
		if value != "" {
			pool = append(pool, TextSource{Field: field, Value: value, Kind: kind})
		}
	}
	add("text", p.Text, SourceText)
	add("aria-label", p.Attributes["aria-label"], SourceAria)
	add("title", p.Attributes["title"], SourceAttribute)
	add("value", p.Value, SourceAttribute)
	for _, name := range extra {
		kind := SourceAttribute
		if strings.HasPrefix(name, "aria-") {
			kind = SourceAria
		}
		add(name, p.Attributes[name], kind)
	}
	return pool
}

// matchPool returns the first source satisfying the match rule and whether
// the comparison was an exact equality.
func matchPool(pool []TextSource, query string, exact, caseSensitive bool) (TextSource, bool, bool) {
	needle := strings.TrimSpace(query)
	if !caseSensitive {
		needle = strings.ToLower(needle)
	}
	for _, src := range pool {
		compare := src.Value
		if !caseSensitive {
			compare = strings.ToLower(compare)
		}
		if compare == needle {
			return src, true, true
		}
		if !exact && strings.Contains(compare, needle) {
			return src, false, true
		}
	}
	return TextSource{}, false, false
}

// scoreInput is everything Score needs about one matched candidate.
type scoreInput struct {
	ExactMatch  bool
	Source      SourceKind
	Visible     bool
	Enabled     bool
	Disabled    bool
	Interactive bool
	Tag         string
	Classes     []string
	Matched     string
	Query       string
}

// score returns the normalized confidence in [0,1].
func score(in scoreInput) float64 {
	s := 0.0
	if in.ExactMatch {
		s += weightExact
	}
	switch in.Source {
	case SourceText:
		s += weightVisibleText
	case SourceAria:
		s += weightAria
	case SourceAttribute:
		s += weightAttribute
	}
	if in.Visible {
		s += weightVisible
	}
	if in.Enabled {
		s += weightEnabled
	}
	if in.Disabled {
		s += penaltyDisabled
	}
	if in.Interactive {
		s += weightRole
	}
	if primaryTags[in.Tag] {
		s += weightPrimaryTag
	}
	for _, c := range in.Classes {
		if strings.Contains(strings.ToLower(c), "play") {
			s += weightPlayClass
			break
		}
	}
	s += weightLength * lengthSimilarity(in.Matched, in.Query)

	return math.Max(0, math.Min(1, s/scoreScale))
}

func lengthSimilarity(matched, query string) float64 {
	m := float64(len([]rune(matched)))
	q := float64(len([]rune(query)))
	diff := math.Abs(m-q) / math.Max(q, 1)
	return 1 - math.Min(diff, 1)
}
