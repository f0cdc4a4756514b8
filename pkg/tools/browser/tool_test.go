package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	browsersvc "github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver/drivertest"
	"github.com/entrhq/browserd/pkg/tools"
)

func newRegistry(t *testing.T) (*tools.Registry, *drivertest.Driver) {
	t.Helper()
	drv := drivertest.New()
	svc, err := browsersvc.NewService(drv, browsersvc.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	reg, err := NewToolRegistry(svc)
	require.NoError(t, err)
	return reg, drv
}

func call(t *testing.T, reg *tools.Registry, name, args string) (map[string]any, error) {
	t.Helper()
	res, err := reg.Execute(context.Background(), name, json.RawMessage(args))
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out, nil
}

func loginPage() *drivertest.Document {
	return &drivertest.Document{
		URL:   "https://app.example.com/login",
		Title: "Sign in",
		Elements: []*drivertest.Element{
			{Tag: "input", ID: "user", Attrs: map[string]string{"name": "user"}},
			{Tag: "button", ID: "submit", Text: "Sign in"},
			{Tag: "a", Text: "Help", Attrs: map[string]string{"href": "/help"}},
		},
	}
}

func TestRegistryListsEveryOperation(t *testing.T) {
	reg, _ := newRegistry(t)

	var names []string
	for _, d := range reg.List() {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
		assert.Equal(t, "object", d.Schema["type"], d.Name)
		assert.Equal(t, false, d.Schema["additionalProperties"], d.Name)
	}
	assert.ElementsMatch(t, []string{
		"create_session", "attach_session", "launch_visible_chrome", "close_session",
		"list_sessions", "get_session_info", "pool_stats",
		"navigate", "click", "type_text", "press_key", "take_screenshot",
		"get_content", "get_text_excerpt", "get_links",
		"describe_elements", "find_click_targets", "click_by_text", "get_accessibility_tree",
	}, names)
}

func TestSessionAndPageTools(t *testing.T) {
	reg, drv := newRegistry(t)
	doc := loginPage()
	drv.AddSite(doc)

	created, err := call(t, reg, "create_session", `{"session_id":"s1","viewport":{"width":800,"height":600}}`)
	require.NoError(t, err)
	assert.Equal(t, "s1", created["session_id"])

	nav, err := call(t, reg, "navigate", `{"session_id":"s1","url":"https://app.example.com/login","wait_until":"domcontentloaded","timeout_ms":5000}`)
	require.NoError(t, err)
	assert.Equal(t, "Sign in", nav["title"])

	typed, err := call(t, reg, "type_text", `{"session_id":"s1","selector":"#user","text":"ada"}`)
	require.NoError(t, err)
	assert.Equal(t, true, typed["success"])
	assert.Equal(t, "ada", doc.Elements[0].Value)

	_, err = call(t, reg, "click", `{"session_id":"s1","selector":"#submit"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Elements[1].Clicks())

	links, err := call(t, reg, "get_links", `{"session_id":"s1"}`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, links["total"])

	shot, err := call(t, reg, "take_screenshot", `{"session_id":"s1"}`)
	require.NoError(t, err)
	assert.Equal(t, "image/png", shot["mime_type"])
	data, err := base64.StdEncoding.DecodeString(shot["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, drv.Screenshot, data)

	listed, err := call(t, reg, "list_sessions", ``)
	require.NoError(t, err)
	assert.EqualValues(t, 1, listed["count"])

	closed, err := call(t, reg, "close_session", `{"session_id":"s1"}`)
	require.NoError(t, err)
	assert.Equal(t, true, closed["closed"])

	_, err = call(t, reg, "get_session_info", `{"session_id":"s1"}`)
	assert.ErrorIs(t, err, browsererr.ErrSessionNotFound)
}

func TestTargetingTools(t *testing.T) {
	reg, drv := newRegistry(t)
	doc := loginPage()
	drv.AddSite(doc)
	_, err := call(t, reg, "create_session", `{"session_id":"s1"}`)
	require.NoError(t, err)
	_, err = call(t, reg, "navigate", `{"session_id":"s1","url":"https://app.example.com/login"}`)
	require.NoError(t, err)

	found, err := call(t, reg, "find_click_targets", `{"session_id":"s1","query":"sign in"}`)
	require.NoError(t, err)
	matches, ok := found["matches"].([]any)
	require.True(t, ok, "matches: %v", found)
	assert.NotEmpty(t, matches)

	_, err = call(t, reg, "click_by_text", `{"session_id":"s1","text":"Sign in","exact":true,"timeout_ms":1000}`)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Elements[1].Clicks())

	described, err := call(t, reg, "describe_elements", `{"session_id":"s1","selector":"button"}`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, described["total_count"])
}

func TestToolArgumentErrors(t *testing.T) {
	reg, _ := newRegistry(t)

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"missing required", "navigate", `{"session_id":"s1"}`},
		{"null required", "navigate", `{"session_id":"s1","url":null}`},
		{"unknown field", "close_session", `{"session_id":"s1","force":true}`},
		{"wrong type", "click", `{"session_id":"s1","selector":7}`},
		{"not an object", "get_links", `["s1"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, reg, tt.tool, tt.args)
			var argErr *tools.ArgumentError
			require.ErrorAs(t, err, &argErr)
			assert.Equal(t, tt.tool, argErr.Tool)
		})
	}

	_, err := call(t, reg, "navigate", `{"session_id":"ghost","url":"https://example.com"}`)
	assert.ErrorIs(t, err, browsererr.ErrSessionNotFound)
}

func TestMillis(t *testing.T) {
	assert.Zero(t, millis(0))
	assert.Zero(t, millis(-5))
	assert.Equal(t, int64(1500), millis(1500).Milliseconds())
}
