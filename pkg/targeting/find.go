package targeting

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver"
)

const (
	// DefaultScanLimit caps how many clickable elements are inspected.
	DefaultScanLimit = 200
	// DefaultMaxResults caps returned matches.
	DefaultMaxResults = 10
)

// FindOptions is a free-text query over clickable elements.
type FindOptions struct {
	Query           string   `json:"query"`
	Exact           bool     `json:"exact,omitempty"`
	CaseSensitive   bool     `json:"case_sensitive,omitempty"`
	Roles           []string `json:"roles,omitempty"`
	ScanLimit       int      `json:"scan_limit,omitempty"`
	MaxResults      int      `json:"max_results,omitempty"`
	ExtraAttributes []string `json:"extra_attributes,omitempty"`
}

// ClickTarget is one ranked match.
type ClickTarget struct {
	Index            int          `json:"index"`
	Tag              string       `json:"tag"`
	ID               string       `json:"id,omitempty"`
	Classes          []string     `json:"classes,omitempty"`
	Role             string       `json:"role,omitempty"`
	Text             string       `json:"text,omitempty"`
	MatchedField     string       `json:"matched_field"`
	MatchedText      string       `json:"matched_text"`
	ExactMatch       bool         `json:"exact_match"`
	Confidence       float64      `json:"confidence"`
	Visible          bool         `json:"visible"`
	Enabled          bool         `json:"enabled"`
	Box              *driver.Rect `json:"bounding_box,omitempty"`
	SuggestedLocator string       `json:"suggested_locator,omitempty"`
}

// FindResult reports the ranked matches of a scan.
type FindResult struct {
	Query          string        `json:"query"`
	CandidateCount int           `json:"candidate_count"`
	Scanned        int           `json:"scanned"`
	TotalMatches   int           `json:"total_matches"`
	Matches        []ClickTarget `json:"matches"`
	MoreAvailable  bool          `json:"more_available"`
	Cached         bool          `json:"cached"`
}

// FindClickTargets ranks clickable elements against opts.Query.
func (e *Engine) FindClickTargets(ctx context.Context, page driver.Page, opts FindOptions) (*FindResult, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, browsererr.New(browsererr.InvalidSelector, "query must not be empty",
			map[string]any{"field": "query"})
	}
	filter, err := compileRoles(opts.Roles)
	if err != nil {
		return nil, browsererr.Wrap(browsererr.InvalidSelector, err, map[string]any{"field": "roles"})
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = DefaultScanLimit
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}

	loc := page.Locator(e.clickable)
	count, err := loc.Count()
	if err != nil {
		return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, map[string]any{"query": opts.Query})
	}

	result := &FindResult{
		Query:          opts.Query,
		CandidateCount: count,
		Scanned:        min(count, opts.ScanLimit),
		Matches:        []ClickTarget{},
	}

	for i := 0; i < result.Scanned; i++ {
		if err := ctx.Err(); err != nil {
			return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, map[string]any{"query": opts.Query})
		}
		target, ok := e.evaluateCandidate(loc.Nth(i), i, opts, filter)
		if ok {
			result.Matches = append(result.Matches, *target)
		}
	}

	sort.SliceStable(result.Matches, func(a, b int) bool {
		ma, mb := result.Matches[a], result.Matches[b]
		if ma.Confidence != mb.Confidence {
			return ma.Confidence > mb.Confidence
		}
		return ma.Index < mb.Index
	})
	result.TotalMatches = len(result.Matches)
	if len(result.Matches) > opts.MaxResults {
		result.Matches = result.Matches[:opts.MaxResults]
		result.MoreAvailable = true
	}

	e.logger.Debug("ranked click targets",
		zap.String("query", opts.Query),
		zap.Int("candidates", count),
		zap.Int("matches", result.TotalMatches),
	)
	return result, nil
}

func (e *Engine) evaluateCandidate(loc driver.Locator, index int, opts FindOptions, filter *roleSet) (*ClickTarget, bool) {
	props, err := inspect(loc)
	if err != nil {
		e.logger.Debug("skipping candidate", zap.Int("index", index), zap.Error(err))
		return nil, false
	}
	role := props.role()
	if !filter.empty() && !filter.match(role) {
		return nil, false
	}

	src, exactMatch, ok := matchPool(searchPool(props, opts.ExtraAttributes), opts.Query, opts.Exact, opts.CaseSensitive)
	if !ok {
		return nil, false
	}

	visible, _ := loc.IsVisible()
	enabled, err := loc.IsEnabled()
	if err != nil {
		enabled = !props.Disabled
	}
	var box *driver.Rect
	if visible {
		box, _ = loc.BoundingBox()
	}

	return &ClickTarget{
		Index:        index,
		Tag:          props.Tag,
		ID:           props.ID,
		Classes:      props.Classes,
		Role:         role,
		Text:         truncateRunes(props.Text, 200),
		MatchedField: src.Field,
		MatchedText:  src.Value,
		ExactMatch:   exactMatch,
		Confidence: score(scoreInput{
			ExactMatch:  exactMatch,
			Source:      src.Kind,
			Visible:     visible,
			Enabled:     enabled && !props.Disabled,
			Disabled:    props.Disabled || !enabled,
			Interactive: e.interactive.match(role),
			Tag:         props.Tag,
			Classes:     props.Classes,
			Matched:     src.Value,
			Query:       strings.TrimSpace(opts.Query),
		}),
		Visible:          visible,
		Enabled:          enabled && !props.Disabled,
		Box:              box,
		SuggestedLocator: SuggestLocator(props.Tag, props.ID, props.Classes),
	}, true
}
