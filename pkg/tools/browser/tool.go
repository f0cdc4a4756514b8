// Package browser exposes every browser Service operation as a tools.Tool.
//
// Each tool decodes JSON arguments into a small argument struct, converts
// millisecond timeouts to durations and returns the Service result as is.
// Tool names match the operation names used in logs and metrics:
//
//   - Sessions: create_session, attach_session, launch_visible_chrome,
//     close_session, list_sessions, get_session_info, pool_stats
//   - Page actions: navigate, click, type_text, press_key, take_screenshot
//   - Content: get_content, get_text_excerpt, get_links
//   - Targeting: describe_elements, find_click_targets, click_by_text,
//     get_accessibility_tree
package browser

import (
	"context"
	"encoding/json"
	"time"

	browsersvc "github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/tools"
)

// opTool adapts one Service call to tools.Tool.
type opTool[A any] struct {
	name        string
	description string
	schema      map[string]interface{}
	run         func(ctx context.Context, args A) (any, error)
}

func (t *opTool[A]) Name() string                   { return t.name }
func (t *opTool[A]) Description() string            { return t.description }
func (t *opTool[A]) Schema() map[string]interface{} { return t.schema }

// Execute decodes the arguments and runs the operation.
func (t *opTool[A]) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args A
	if err := tools.DecodeArgs(t.name, raw, &args); err != nil {
		return nil, err
	}
	return t.run(ctx, args)
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

var (
	sessionIDProp = tools.Property("string", "Identifier of the browser session")
	timeoutProp   = tools.Property("integer", "Action timeout in milliseconds; defaults to the pool action timeout")
	selectorProp  = tools.Property("string", "CSS selector (e.g., 'button.submit', '#login-btn', 'a[href=\"/about\"]')")
)

// All returns one tool per Service operation.
func All(svc *browsersvc.Service) []tools.Tool {
	var out []tools.Tool
	out = append(out, sessionTools(svc)...)
	out = append(out, pageTools(svc)...)
	out = append(out, contentTools(svc)...)
	out = append(out, targetingTools(svc)...)
	return out
}

// NewToolRegistry registers every browser tool.
func NewToolRegistry(svc *browsersvc.Service) (*tools.Registry, error) {
	return tools.NewRegistry(All(svc)...)
}
