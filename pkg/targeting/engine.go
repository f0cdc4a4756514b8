// Package targeting locates DOM elements for callers that do not know the
// page structure. It describes selector matches, ranks clickable elements
// against free text, clicks by text and walks the accessibility tree, always
// returning bounded payloads.
package targeting

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/driver"
	"github.com/entrhq/browserd/pkg/logging"
)

// DefaultInteractiveRoles are the ARIA roles treated as click targets.
var DefaultInteractiveRoles = []string{
	"button", "link", "menuitem", "menuitemcheckbox", "menuitemradio",
	"tab", "checkbox", "radio", "switch", "option", "combobox", "treeitem",
}

// roleSet matches roles against literal names and glob patterns.
type roleSet struct {
	patterns []string
	globs    []glob.Glob
	literal  map[string]bool
	wildcard bool
}

func compileRoles(patterns []string) (*roleSet, error) {
	rs := &roleSet{literal: make(map[string]bool)}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		rs.patterns = append(rs.patterns, p)
		if !strings.ContainsAny(p, "*?[{") {
			rs.literal[p] = true
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid role pattern %q: %w", p, err)
		}
		rs.globs = append(rs.globs, g)
		rs.wildcard = true
	}
	return rs, nil
}

func (rs *roleSet) empty() bool {
	return rs == nil || len(rs.patterns) == 0
}

func (rs *roleSet) match(role string) bool {
	if rs.empty() || role == "" {
		return false
	}
	role = strings.ToLower(role)
	if rs.literal[role] {
		return true
	}
	for _, g := range rs.globs {
		if g.Match(role) {
			return true
		}
	}
	return false
}

// Engine runs element targeting strategies against a page.
type Engine struct {
	logger      *zap.Logger
	interactive *roleSet
	clickable   string
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithInteractiveRoles replaces the interactive role hint set. Entries may be
// glob patterns such as "menu*".
func WithInteractiveRoles(roles []string) Option {
	return func(e *Engine) error {
		rs, err := compileRoles(roles)
		if err != nil {
			return err
		}
		e.interactive = rs
		return nil
	}
}

// NewEngine creates an engine with the default interactive roles.
func NewEngine(opts ...Option) (*Engine, error) {
	rs, err := compileRoles(DefaultInteractiveRoles)
	if err != nil {
		return nil, err
	}
	e := &Engine{logger: zap.NewNop(), interactive: rs}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = logging.Component(e.logger, "targeting")
	e.clickable = clickableSelector(e.interactive)
	return e, nil
}

// ClickableSelector returns the selector union scanned by FindClickTargets.
func (e *Engine) ClickableSelector() string {
	return e.clickable
}

func clickableSelector(roles *roleSet) string {
	parts := []string{
		"a[href]",
		"button",
		`input[type="button"]`,
		`input[type="submit"]`,
		`input[type="reset"]`,
		`input[type="checkbox"]`,
		`input[type="radio"]`,
		`input[type="image"]`,
		"select",
		"summary",
	}
	if roles.wildcard {
		parts = append(parts, "[role]")
	} else {
		for _, r := range roles.patterns {
			parts = append(parts, fmt.Sprintf(`[role="%s"]`, r))
		}
	}
	parts = append(parts,
		`[tabindex]:not([tabindex="-1"])`,
		"[onclick]",
		`[contenteditable=""]`,
		`[contenteditable="true"]`,
	)
	return strings.Join(parts, ", ")
}

// elementProps mirrors what inspectScript returns.
type elementProps struct {
	Tag        string            `json:"tag"`
	ID         string            `json:"id"`
	Classes    []string          `json:"classes"`
	Role       string            `json:"role"`
	Text       string            `json:"text"`
	Value      string            `json:"value"`
	Attributes map[string]string `json:"attributes"`
	Disabled   bool              `json:"disabled"`
	Checked    bool              `json:"checked"`
	OuterHTML  string            `json:"outerHTML"`
	Href       string            `json:"href"`
}

// inspectScript collects identifying properties of one element. Elements
// that are not rendered fall back to textContent.
const inspectScript = `(el) => {
  const attrs = {};
  for (const a of el.attributes) { attrs[a.name] = a.value; }
  const tag = el.tagName.toLowerCase();
  return {
    tag: tag,
    id: el.id || "",
    classes: Array.from(el.classList),
    role: el.getAttribute("role") || "",
    text: (el.innerText || el.textContent || "").trim(),
    value: ("value" in el && typeof el.value === "string") ? el.value : "",
    attributes: attrs,
    disabled: !!el.disabled || el.getAttribute("aria-disabled") === "true",
    checked: !!el.checked,
    outerHTML: el.outerHTML || "",
    href: el.getAttribute("href") || ""
  };
}`

func inspect(loc driver.Locator) (*elementProps, error) {
	raw, err := loc.Evaluate(inspectScript, nil)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode element properties: %w", err)
	}
	var p elementProps
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode element properties: %w", err)
	}
	p.Text = strings.TrimSpace(p.Text)
	return &p, nil
}

// role returns the explicit role or the implicit one for common tags.
func (p *elementProps) role() string {
	if p.Role != "" {
		return p.Role
	}
	switch p.Tag {
	case "a":
		if _, ok := p.Attributes["href"]; ok {
			return "link"
		}
	case "button", "summary":
		return "button"
	case "select":
		return "combobox"
	case "input":
		switch p.Attributes["type"] {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		default:
			return "textbox"
		}
	case "textarea":
		return "textbox"
	}
	return ""
}
