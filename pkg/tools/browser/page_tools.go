package browser

import (
	"context"

	browsersvc "github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/tools"
)

type navigateArgs struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	WaitUntil string `json:"wait_until"`
	TimeoutMS int    `json:"timeout_ms"`
}

type clickArgs struct {
	SessionID  string `json:"session_id"`
	Selector   string `json:"selector"`
	Button     string `json:"button"`
	ClickCount int    `json:"click_count"`
	TimeoutMS  int    `json:"timeout_ms"`
}

type typeArgs struct {
	SessionID string `json:"session_id"`
	Selector  string `json:"selector"`
	Text      string `json:"text"`
	TimeoutMS int    `json:"timeout_ms"`
}

type pressArgs struct {
	SessionID string `json:"session_id"`
	Selector  string `json:"selector"`
	Key       string `json:"key"`
	TimeoutMS int    `json:"timeout_ms"`
}

type screenshotArgs struct {
	SessionID string `json:"session_id"`
	FullPage  bool   `json:"full_page"`
	Format    string `json:"format"`
	Quality   int    `json:"quality"`
}

// done is the result of actions that return nothing but success.
func done(id string) map[string]any {
	return map[string]any{"session_id": id, "success": true}
}

func pageTools(svc *browsersvc.Service) []tools.Tool {
	return []tools.Tool{
		&opTool[navigateArgs]{
			name:        "navigate",
			description: "Navigate the session's page to a URL and wait for the requested load state. Returns the final URL and page title.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id": sessionIDProp,
				"url":        tools.Property("string", "Absolute URL including scheme (e.g., 'https://example.com')"),
				"wait_until": tools.Enum("Load state to wait for; defaults to 'load'",
					browsersvc.WaitLoad, browsersvc.WaitDOMContentLoaded, browsersvc.WaitNetworkIdle, browsersvc.WaitCommit),
				"timeout_ms": timeoutProp,
			}, []string{"session_id", "url"}),
			run: func(ctx context.Context, a navigateArgs) (any, error) {
				return svc.Navigate(ctx, a.SessionID, browsersvc.NavigateOptions{
					URL:       a.URL,
					WaitUntil: a.WaitUntil,
					Timeout:   millis(a.TimeoutMS),
				})
			},
		},
		&opTool[clickArgs]{
			name:        "click",
			description: "Click the element matching a CSS selector. Use find_click_targets or click_by_text when only the visible text is known.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id":  sessionIDProp,
				"selector":    selectorProp,
				"button":      tools.Enum("Mouse button; defaults to 'left'", "left", "right", "middle"),
				"click_count": tools.Property("integer", "Number of clicks (2 for double-click)"),
				"timeout_ms":  timeoutProp,
			}, []string{"session_id", "selector"}),
			run: func(ctx context.Context, a clickArgs) (any, error) {
				err := svc.Click(ctx, a.SessionID, browsersvc.ClickOptions{
					Selector:   a.Selector,
					Button:     a.Button,
					ClickCount: a.ClickCount,
					Timeout:    millis(a.TimeoutMS),
				})
				if err != nil {
					return nil, err
				}
				return done(a.SessionID), nil
			},
		},
		&opTool[typeArgs]{
			name:        "type_text",
			description: "Fill an input, textarea or contenteditable element with text, replacing its current value.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id": sessionIDProp,
				"selector":   selectorProp,
				"text":       tools.Property("string", "Text to enter"),
				"timeout_ms": timeoutProp,
			}, []string{"session_id", "selector", "text"}),
			run: func(ctx context.Context, a typeArgs) (any, error) {
				err := svc.TypeText(ctx, a.SessionID, browsersvc.TypeOptions{
					Selector: a.Selector,
					Text:     a.Text,
					Timeout:  millis(a.TimeoutMS),
				})
				if err != nil {
					return nil, err
				}
				return done(a.SessionID), nil
			},
		},
		&opTool[pressArgs]{
			name:        "press_key",
			description: "Press a key or chord (e.g., 'Enter', 'Control+A') on an element, or on the focused element when no selector is given.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id": sessionIDProp,
				"selector":   tools.Property("string", "CSS selector of the element to focus first; optional"),
				"key":        tools.Property("string", "Key name or chord"),
				"timeout_ms": timeoutProp,
			}, []string{"session_id", "key"}),
			run: func(ctx context.Context, a pressArgs) (any, error) {
				err := svc.PressKey(ctx, a.SessionID, browsersvc.PressOptions{
					Selector: a.Selector,
					Key:      a.Key,
					Timeout:  millis(a.TimeoutMS),
				})
				if err != nil {
					return nil, err
				}
				return done(a.SessionID), nil
			},
		},
		&opTool[screenshotArgs]{
			name:        "take_screenshot",
			description: "Capture the viewport or the full page. The image is returned base64 encoded.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id": sessionIDProp,
				"full_page":  tools.Property("boolean", "Capture the whole scrollable page"),
				"format":     tools.Enum("Image format; defaults to 'png'", "png", "jpeg"),
				"quality":    tools.Property("integer", "JPEG quality from 0 to 100"),
			}, []string{"session_id"}),
			run: func(ctx context.Context, a screenshotArgs) (any, error) {
				return svc.Screenshot(ctx, a.SessionID, browsersvc.ScreenshotOptions{
					FullPage: a.FullPage,
					Format:   a.Format,
					Quality:  a.Quality,
					Encoding: browsersvc.EncodingBase64,
				})
			},
		},
	}
}
