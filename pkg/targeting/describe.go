package targeting

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver"
)

const (
	// DefaultMaxElements caps Describe results.
	DefaultMaxElements = 10
	// MaxMarkupChars bounds the outer-markup preview.
	MaxMarkupChars = 500
	maxLocatorClasses = 3
)

// identifyingAttributes are reported by Describe when present.
var identifyingAttributes = []string{
	"name", "type", "href", "src", "alt", "title", "placeholder",
	"aria-label", "data-testid", "for", "action", "method",
}

// DescribeOptions selects elements by structural selector.
type DescribeOptions struct {
	Selector      string `json:"selector"`
	MaxElements   int    `json:"max_elements,omitempty"`
	IncludeMarkup bool   `json:"include_markup,omitempty"`
}

// ElementDescription summarizes one matched element.
type ElementDescription struct {
	Index            int               `json:"index"`
	Tag              string            `json:"tag"`
	ID               string            `json:"id,omitempty"`
	Classes          []string          `json:"classes,omitempty"`
	Role             string            `json:"role,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	Text             string            `json:"text,omitempty"`
	Value            string            `json:"value,omitempty"`
	Disabled         bool              `json:"disabled"`
	Checked          bool              `json:"checked"`
	Visible          bool              `json:"visible"`
	Box              *driver.Rect      `json:"bounding_box,omitempty"`
	Markup           string            `json:"markup,omitempty"`
	SuggestedLocator string            `json:"suggested_locator,omitempty"`
}

// DescribeResult lists at most MaxElements of TotalCount matches.
type DescribeResult struct {
	Selector   string               `json:"selector"`
	TotalCount int                  `json:"total_count"`
	Returned   int                  `json:"returned"`
	Elements   []ElementDescription `json:"elements"`
	Cached     bool                 `json:"cached"`
}

// Describe enumerates elements matching a structural selector.
func (e *Engine) Describe(ctx context.Context, page driver.Page, opts DescribeOptions) (*DescribeResult, error) {
	if strings.TrimSpace(opts.Selector) == "" {
		return nil, browsererr.New(browsererr.InvalidSelector, "selector is required",
			map[string]any{"field": "selector"})
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = DefaultMaxElements
	}
	details := map[string]any{"selector": opts.Selector}

	loc := page.Locator(opts.Selector)
	total, err := loc.Count()
	if err != nil {
		return nil, browsererr.Classify(err, browsererr.InvalidSelector, details)
	}

	result := &DescribeResult{Selector: opts.Selector, TotalCount: total, Elements: []ElementDescription{}}
	limit := min(total, opts.MaxElements)
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, details)
		}
		desc, err := describeOne(loc.Nth(i), i, opts.IncludeMarkup)
		if err != nil {
			// The DOM can change between Count and Nth; skip vanished elements.
			e.logger.Debug("skipping element", zap.String("selector", opts.Selector), zap.Int("index", i), zap.Error(err))
			continue
		}
		result.Elements = append(result.Elements, *desc)
	}
	result.Returned = len(result.Elements)
	return result, nil
}

func describeOne(loc driver.Locator, index int, includeMarkup bool) (*ElementDescription, error) {
	props, err := inspect(loc)
	if err != nil {
		return nil, err
	}
	visible, _ := loc.IsVisible()
	var box *driver.Rect
	if visible {
		box, _ = loc.BoundingBox()
	}

	desc := &ElementDescription{
		Index:            index,
		Tag:              props.Tag,
		ID:               props.ID,
		Classes:          props.Classes,
		Role:             props.role(),
		Attributes:       pickAttributes(props.Attributes),
		Text:             props.Text,
		Value:            props.Value,
		Disabled:         props.Disabled,
		Checked:          props.Checked,
		Visible:          visible,
		Box:              box,
		SuggestedLocator: SuggestLocator(props.Tag, props.ID, props.Classes),
	}
	if includeMarkup {
		desc.Markup = truncateRunes(props.OuterHTML, MaxMarkupChars)
	}
	return desc, nil
}

func pickAttributes(all map[string]string) map[string]string {
	out := make(map[string]string)
	for _, name := range identifyingAttributes {
		if v, ok := all[name]; ok {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SuggestLocator builds tag#id.c1.c2.c3 when both an id and a class exist.
func SuggestLocator(tag, id string, classes []string) string {
	if id == "" || len(classes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(tag)
	b.WriteByte('#')
	b.WriteString(id)
	for i, c := range classes {
		if i == maxLocatorClasses {
			break
		}
		b.WriteByte('.')
		b.WriteString(c)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
