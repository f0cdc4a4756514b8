package browser

import (
	"context"

	browsersvc "github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/driver"
	"github.com/entrhq/browserd/pkg/tools"
)

type createArgs struct {
	SessionID   string           `json:"session_id"`
	BrowserType string           `json:"browser_type"`
	Headless    *bool            `json:"headless"`
	Viewport    *driver.Viewport `json:"viewport"`
}

type attachArgs struct {
	SessionID         string `json:"session_id"`
	Endpoint          string `json:"endpoint"`
	ReuseExistingPage bool   `json:"reuse_existing_page"`
}

type sessionArgs struct {
	SessionID string `json:"session_id"`
}

type noArgs struct{}

func sessionTools(svc *browsersvc.Service) []tools.Tool {
	return []tools.Tool{
		&opTool[createArgs]{
			name:        "create_session",
			description: "Create a browser session on a pooled browser process. Sessions share processes up to the pool limits and are closed automatically after an idle period.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id":   tools.Property("string", "Identifier for the new session; a UUID is generated when omitted"),
				"browser_type": tools.Enum("Browser engine", driver.Chromium, driver.Firefox, driver.WebKit),
				"headless":     tools.Property("boolean", "Run without a visible window; defaults to the pool setting"),
				"viewport": map[string]interface{}{
					"type":        "object",
					"description": "Page size in CSS pixels",
					"properties": map[string]interface{}{
						"width":  tools.Property("integer", "Viewport width"),
						"height": tools.Property("integer", "Viewport height"),
					},
				},
			}, nil),
			run: func(ctx context.Context, a createArgs) (any, error) {
				return svc.CreateSession(ctx, browsersvc.CreateOptions{
					SessionID:   a.SessionID,
					BrowserType: a.BrowserType,
					Headless:    a.Headless,
					Viewport:    a.Viewport,
				})
			},
		},
		&opTool[attachArgs]{
			name:        "attach_session",
			description: "Attach a session to a browser that is already running with remote debugging enabled. The browser is never terminated by the service.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id":          tools.Property("string", "Identifier for the new session; a UUID is generated when omitted"),
				"endpoint":            tools.Property("string", "Remote debugging endpoint; defaults to http://localhost:9222"),
				"reuse_existing_page": tools.Property("boolean", "Drive the first open tab instead of opening a new one"),
			}, nil),
			run: func(ctx context.Context, a attachArgs) (any, error) {
				return svc.AttachSession(ctx, browsersvc.AttachOptions(a))
			},
		},
		&opTool[browsersvc.LaunchChromeOptions]{
			name:        "launch_visible_chrome",
			description: "Start a visible Chrome or Edge window with remote debugging enabled, optionally attaching a session to it.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"port":          tools.Property("integer", "Remote debugging port; defaults to 9222"),
				"user_data_dir": tools.Property("string", "Profile directory; a temporary one is created when omitted"),
				"exec_path":     tools.Property("string", "Browser executable; common install locations are probed when omitted"),
				"args": map[string]interface{}{
					"type":        "array",
					"description": "Extra command-line flags",
					"items":       map[string]interface{}{"type": "string"},
				},
				"auto_connect":        tools.Property("boolean", "Attach a session once the browser is ready"),
				"reuse_existing_page": tools.Property("boolean", "When auto-connecting, drive the first open tab"),
			}, nil),
			run: func(ctx context.Context, a browsersvc.LaunchChromeOptions) (any, error) {
				return svc.LaunchVisibleChrome(ctx, a)
			},
		},
		&opTool[sessionArgs]{
			name:        "close_session",
			description: "Close a session and release its browser resources.",
			schema:      tools.BaseToolSchema(map[string]interface{}{"session_id": sessionIDProp}, []string{"session_id"}),
			run: func(ctx context.Context, a sessionArgs) (any, error) {
				if err := svc.CloseSession(ctx, a.SessionID); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": a.SessionID, "closed": true}, nil
			},
		},
		&opTool[noArgs]{
			name:        "list_sessions",
			description: "List live sessions with their placement and current URL.",
			schema:      tools.BaseToolSchema(map[string]interface{}{}, nil),
			run: func(ctx context.Context, _ noArgs) (any, error) {
				sessions := svc.ListSessions()
				return map[string]any{"sessions": sessions, "count": len(sessions)}, nil
			},
		},
		&opTool[sessionArgs]{
			name:        "get_session_info",
			description: "Describe one session: placement, state, activity and current URL.",
			schema:      tools.BaseToolSchema(map[string]interface{}{"session_id": sessionIDProp}, []string{"session_id"}),
			run: func(ctx context.Context, a sessionArgs) (any, error) {
				return svc.SessionInfo(ctx, a.SessionID)
			},
		},
		&opTool[noArgs]{
			name:        "pool_stats",
			description: "Report browser process, context and session counts.",
			schema:      tools.BaseToolSchema(map[string]interface{}{}, nil),
			run: func(ctx context.Context, _ noArgs) (any, error) {
				return svc.Stats(), nil
			},
		},
	}
}
