package targeting

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver"
)

// FallbackRoles are tried by role when no text candidate could be clicked.
var FallbackRoles = []string{"button", "link", "menuitem", "tab"}

// Click strategies.
const (
	StrategyText = "text"
	StrategyRole = "role"
)

// ClickTextOptions clicks the first element matching Text.
type ClickTextOptions struct {
	Text    string        `json:"text"`
	Exact   bool          `json:"exact,omitempty"`
	Role    string        `json:"role,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ClickTextResult records which element was clicked and how it was found.
type ClickTextResult struct {
	Strategy string `json:"strategy"`
	Index    int    `json:"index"`
	Tag      string `json:"tag,omitempty"`
	Role     string `json:"role,omitempty"`
	Text     string `json:"text,omitempty"`
	Attempts int    `json:"attempts"`
}

var errNoVisibleCandidate = errors.New("no visible element matched")

// ClickByText finds an element by text and clicks it. Positional candidates
// from the clickable union are tried first, then a role-scoped lookup.
func (e *Engine) ClickByText(ctx context.Context, page driver.Page, opts ClickTextOptions) (*ClickTextResult, error) {
	if strings.TrimSpace(opts.Text) == "" {
		return nil, browsererr.New(browsererr.InvalidSelector, "text must not be empty",
			map[string]any{"field": "text"})
	}
	details := map[string]any{"text": opts.Text}
	if opts.Role != "" {
		details["role"] = opts.Role
	}

	var roleFilter *roleSet
	if opts.Role != "" {
		rs, err := compileRoles([]string{opts.Role})
		if err != nil {
			return nil, browsererr.Wrap(browsererr.InvalidSelector, err, map[string]any{"field": "role"})
		}
		roleFilter = rs
	}

	var (
		candidates int
		attempts   int
		lastErr    error
	)

	loc := page.Locator(e.clickable)
	count, err := loc.Count()
	if err != nil {
		lastErr = err
		count = 0
	}
	for i := 0; i < min(count, DefaultScanLimit); i++ {
		if err := ctx.Err(); err != nil {
			return nil, browsererr.Classify(err, browsererr.ElementNotInteractable, details)
		}
		cand := loc.Nth(i)
		props, err := inspect(cand)
		if err != nil {
			continue
		}
		if !roleFilter.empty() && !roleFilter.match(props.role()) {
			continue
		}
		if _, _, ok := matchPool(searchPool(props, nil), opts.Text, opts.Exact, false); !ok {
			continue
		}
		candidates++
		if visible, _ := cand.IsVisible(); !visible {
			if lastErr == nil {
				lastErr = errNoVisibleCandidate
			}
			continue
		}
		attempts++
		if err := cand.Click(opts.Timeout); err != nil {
			e.logger.Debug("text candidate click failed", zap.Int("index", i), zap.Error(err))
			lastErr = err
			continue
		}
		return &ClickTextResult{
			Strategy: StrategyText,
			Index:    i,
			Tag:      props.Tag,
			Role:     props.role(),
			Text:     truncateRunes(props.Text, 200),
			Attempts: attempts,
		}, nil
	}

	roles := FallbackRoles
	if opts.Role != "" {
		roles = []string{opts.Role}
	}
	for _, role := range roles {
		byRole := page.GetByRole(role, opts.Text, opts.Exact)
		n, err := byRole.Count()
		if err != nil {
			lastErr = err
			continue
		}
		for j := 0; j < n; j++ {
			if err := ctx.Err(); err != nil {
				return nil, browsererr.Classify(err, browsererr.ElementNotInteractable, details)
			}
			cand := byRole.Nth(j)
			candidates++
			if visible, _ := cand.IsVisible(); !visible {
				if lastErr == nil {
					lastErr = errNoVisibleCandidate
				}
				continue
			}
			attempts++
			if err := cand.Click(opts.Timeout); err != nil {
				e.logger.Debug("role candidate click failed", zap.String("role", role), zap.Int("index", j), zap.Error(err))
				lastErr = err
				continue
			}
			res := &ClickTextResult{Strategy: StrategyRole, Index: j, Role: role, Attempts: attempts}
			if props, err := inspect(cand); err == nil {
				res.Tag = props.Tag
				res.Text = truncateRunes(props.Text, 200)
			}
			return res, nil
		}
	}

	if candidates == 0 {
		return nil, browsererr.New(browsererr.ElementNotFound, "no element matches text", details)
	}
	details["candidates"] = candidates
	details["attempts"] = attempts
	if lastErr == nil {
		lastErr = errNoVisibleCandidate
	}
	return nil, browsererr.Wrap(browsererr.ElementNotInteractable, lastErr, details)
}
