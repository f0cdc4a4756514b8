package targeting

import (
	"context"
	"strconv"
	"strings"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver"
)

const (
	// DefaultMaxDepth bounds the accessibility walk.
	DefaultMaxDepth = 10
	// DefaultMaxNodes caps the entries returned by the walk.
	DefaultMaxNodes = 200
)

// TreeOptions configures an accessibility walk.
type TreeOptions struct {
	InterestingOnly bool   `json:"interesting_only"`
	MaxDepth        int    `json:"max_depth,omitempty"`
	MaxNodes        int    `json:"max_nodes,omitempty"`
	Role            string `json:"role,omitempty"`
	NameContains    string `json:"name_contains,omitempty"`
}

// AXEntry is one kept node of the walk.
type AXEntry struct {
	Path        string   `json:"path"`
	Depth       int      `json:"depth"`
	Role        string   `json:"role"`
	Name        string   `json:"name,omitempty"`
	Value       string   `json:"value,omitempty"`
	Description string   `json:"description,omitempty"`
	Focused     bool     `json:"focused,omitempty"`
	Checked     string   `json:"checked,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
	Actions     []string `json:"actions,omitempty"`
}

// TreeResult is a bounded, flattened accessibility tree.
type TreeResult struct {
	Nodes     []AXEntry `json:"nodes"`
	Count     int       `json:"count"`
	Truncated bool      `json:"truncated"`
	MaxDepth  int       `json:"max_depth"`
	MaxNodes  int       `json:"max_nodes"`
	// Cached is set when the result was served from the content cache.
	Cached bool `json:"cached"`
}

// AccessibilityTree snapshots the page's accessibility tree and flattens it
// depth first.
func (e *Engine) AccessibilityTree(ctx context.Context, page driver.Page, opts TreeOptions) (*TreeResult, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	var roleFilter *roleSet
	if opts.Role != "" {
		rs, err := compileRoles([]string{opts.Role})
		if err != nil {
			return nil, browsererr.Wrap(browsererr.InvalidSelector, err, map[string]any{"field": "role"})
		}
		roleFilter = rs
	}

	root, err := page.AccessibilitySnapshot(ctx, opts.InterestingOnly)
	if err != nil {
		return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, map[string]any{"operation": "accessibility_snapshot"})
	}

	w := &axWalker{
		opts:  opts,
		role:  roleFilter,
		name:  strings.ToLower(opts.NameContains),
		nodes: []AXEntry{},
	}
	if root != nil {
		w.visit(root, "0", 0)
	}
	return &TreeResult{
		Nodes:     w.nodes,
		Count:     len(w.nodes),
		Truncated: w.truncated,
		MaxDepth:  opts.MaxDepth,
		MaxNodes:  opts.MaxNodes,
	}, nil
}

type axWalker struct {
	opts      TreeOptions
	role      *roleSet
	name      string
	nodes     []AXEntry
	truncated bool
}

func (w *axWalker) visit(n *driver.AXNode, path string, depth int) {
	if w.truncated {
		return
	}
	if len(w.nodes) >= w.opts.MaxNodes {
		w.truncated = true
		return
	}
	if depth > w.opts.MaxDepth {
		return
	}

	if w.keep(n) {
		w.nodes = append(w.nodes, AXEntry{
			Path:        path,
			Depth:       depth,
			Role:        n.Role,
			Name:        n.Name,
			Value:       n.Value,
			Description: n.Description,
			Focused:     n.Focused,
			Checked:     n.Checked,
			Disabled:    n.Disabled,
			Actions:     actionsFor(n.Role, n.Disabled),
		})
	}

	for i, child := range n.Children {
		if child == nil {
			continue
		}
		w.visit(child, path+"."+strconv.Itoa(i), depth+1)
		if w.truncated {
			return
		}
	}
}

func (w *axWalker) keep(n *driver.AXNode) bool {
	if !w.role.empty() && !w.role.match(n.Role) {
		return false
	}
	if w.name != "" {
		if n.Name == "" || !strings.Contains(strings.ToLower(n.Name), w.name) {
			return false
		}
	}
	return true
}

func actionsFor(role string, disabled bool) []string {
	if disabled {
		return nil
	}
	switch strings.ToLower(role) {
	case "button", "link", "menuitem", "tab", "treeitem", "option":
		return []string{"click"}
	case "checkbox", "radio", "switch", "menuitemcheckbox", "menuitemradio":
		return []string{"click", "toggle"}
	case "textbox", "searchbox":
		return []string{"click", "type"}
	case "combobox":
		return []string{"click", "type", "select"}
	case "listbox":
		return []string{"select"}
	case "slider", "spinbutton":
		return []string{"set_value"}
	}
	return nil
}
