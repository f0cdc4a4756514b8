package browser

import (
	"context"

	browsersvc "github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/targeting"
	"github.com/entrhq/browserd/pkg/tools"
)

type describeArgs struct {
	SessionID     string `json:"session_id"`
	Selector      string `json:"selector"`
	MaxElements   int    `json:"max_elements"`
	IncludeMarkup bool   `json:"include_markup"`
}

type findArgs struct {
	SessionID       string   `json:"session_id"`
	Query           string   `json:"query"`
	Exact           bool     `json:"exact"`
	CaseSensitive   bool     `json:"case_sensitive"`
	Roles           []string `json:"roles"`
	ScanLimit       int      `json:"scan_limit"`
	MaxResults      int      `json:"max_results"`
	ExtraAttributes []string `json:"extra_attributes"`
}

type clickTextArgs struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Exact     bool   `json:"exact"`
	Role      string `json:"role"`
	TimeoutMS int    `json:"timeout_ms"`
}

type treeArgs struct {
	SessionID       string `json:"session_id"`
	InterestingOnly *bool  `json:"interesting_only"`
	MaxDepth        int    `json:"max_depth"`
	MaxNodes        int    `json:"max_nodes"`
	Role            string `json:"role"`
	NameContains    string `json:"name_contains"`
}

func stringList(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       map[string]interface{}{"type": "string"},
	}
}

func targetingTools(svc *browsersvc.Service) []tools.Tool {
	return []tools.Tool{
		&opTool[describeArgs]{
			name:        "describe_elements",
			description: "Summarize the elements matching a CSS selector: tag, role, visible text, key attributes, visibility and bounding box.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id":     sessionIDProp,
				"selector":       selectorProp,
				"max_elements":   tools.Property("integer", "Maximum elements to describe"),
				"include_markup": tools.Property("boolean", "Include a short outer HTML snippet per element"),
			}, []string{"session_id", "selector"}),
			run: func(ctx context.Context, a describeArgs) (any, error) {
				return svc.DescribeElements(ctx, a.SessionID, targeting.DescribeOptions{
					Selector:      a.Selector,
					MaxElements:   a.MaxElements,
					IncludeMarkup: a.IncludeMarkup,
				})
			},
		},
		&opTool[findArgs]{
			name:        "find_click_targets",
			description: "Rank clickable elements (buttons, links, inputs and interactive ARIA roles) by how well their text, labels and attributes match a query. Returns a selector for each match.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id":       sessionIDProp,
				"query":            tools.Property("string", "Text to look for (e.g., 'Sign in', 'Add to cart')"),
				"exact":            tools.Property("boolean", "Require the whole text to equal the query"),
				"case_sensitive":   tools.Property("boolean", "Match case exactly"),
				"roles":            stringList("Restrict matches to these roles; glob patterns such as 'menu*' are accepted"),
				"scan_limit":       tools.Property("integer", "Maximum candidate elements to inspect"),
				"max_results":      tools.Property("integer", "Maximum matches to return"),
				"extra_attributes": stringList("Additional attributes to match against (e.g., 'data-testid')"),
			}, []string{"session_id", "query"}),
			run: func(ctx context.Context, a findArgs) (any, error) {
				return svc.FindClickTargets(ctx, a.SessionID, targeting.FindOptions{
					Query:           a.Query,
					Exact:           a.Exact,
					CaseSensitive:   a.CaseSensitive,
					Roles:           a.Roles,
					ScanLimit:       a.ScanLimit,
					MaxResults:      a.MaxResults,
					ExtraAttributes: a.ExtraAttributes,
				})
			},
		},
		&opTool[clickTextArgs]{
			name:        "click_by_text",
			description: "Click the first visible element whose text matches. Tries role-based, text-based and attribute-based lookups in turn and reports which one succeeded.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id": sessionIDProp,
				"text":       tools.Property("string", "Visible text of the element to click"),
				"exact":      tools.Property("boolean", "Require the whole text to equal the given text"),
				"role":       tools.Property("string", "ARIA role to restrict the lookup (e.g., 'button', 'link')"),
				"timeout_ms": timeoutProp,
			}, []string{"session_id", "text"}),
			run: func(ctx context.Context, a clickTextArgs) (any, error) {
				return svc.ClickByText(ctx, a.SessionID, targeting.ClickTextOptions{
					Text:    a.Text,
					Exact:   a.Exact,
					Role:    a.Role,
					Timeout: millis(a.TimeoutMS),
				})
			},
		},
		&opTool[treeArgs]{
			name:        "get_accessibility_tree",
			description: "Return a flattened accessibility tree: one entry per node with its path, role, name and state.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id":       sessionIDProp,
				"interesting_only": tools.Property("boolean", "Skip nodes without semantic meaning; defaults to true"),
				"max_depth":        tools.Property("integer", "Maximum depth to walk"),
				"max_nodes":        tools.Property("integer", "Maximum nodes to return"),
				"role":             tools.Property("string", "Keep only nodes with this role"),
				"name_contains":    tools.Property("string", "Keep only nodes whose name contains this text"),
			}, []string{"session_id"}),
			run: func(ctx context.Context, a treeArgs) (any, error) {
				opts := targeting.TreeOptions{
					InterestingOnly: true,
					MaxDepth:        a.MaxDepth,
					MaxNodes:        a.MaxNodes,
					Role:            a.Role,
					NameContains:    a.NameContains,
				}
				if a.InterestingOnly != nil {
					opts.InterestingOnly = *a.InterestingOnly
				}
				return svc.AccessibilityTree(ctx, a.SessionID, opts)
			},
		},
	}
}
