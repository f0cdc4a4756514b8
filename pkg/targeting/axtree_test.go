package targeting

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver"
	"github.com/entrhq/browserd/pkg/driver/drivertest"
)

func loginTree() *driver.AXNode {
	return &driver.AXNode{
		Role: "WebArea",
		Name: "Login",
		Children: []*driver.AXNode{
			{Role: "heading", Name: "Sign in"},
			{
				Role: "form",
				Children: []*driver.AXNode{
					{Role: "textbox", Name: "Email", Focused: true},
					{Role: "textbox", Name: "Password"},
					{Role: "checkbox", Name: "Remember me", Checked: "false"},
					{Role: "button", Name: "Sign in"},
					{Role: "button", Name: "Reset", Disabled: true},
				},
			},
			{Role: "link", Name: "Forgot password?"},
		},
	}
}

func axPage(root *driver.AXNode) *drivertest.Page {
	return drivertest.NewPage(&drivertest.Document{URL: "https://example.com/login", AX: root})
}

func TestAccessibilityTreeWalk(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.AccessibilityTree(context.Background(), axPage(loginTree()), TreeOptions{InterestingOnly: true})
	require.NoError(t, err)

	assert.False(t, res.Truncated)
	assert.Equal(t, 9, res.Count)
	assert.Equal(t, DefaultMaxDepth, res.MaxDepth)
	assert.Equal(t, DefaultMaxNodes, res.MaxNodes)

	var paths []string
	for _, n := range res.Nodes {
		paths = append(paths, n.Path)
	}
	assert.Equal(t, []string{"0", "0.0", "0.1", "0.1.0", "0.1.1", "0.1.2", "0.1.3", "0.1.4", "0.2"}, paths)

	email := res.Nodes[3]
	assert.Equal(t, 2, email.Depth)
	assert.True(t, email.Focused)
	assert.Equal(t, []string{"click", "type"}, email.Actions)

	assert.Equal(t, []string{"click", "toggle"}, res.Nodes[5].Actions)
	assert.Equal(t, "false", res.Nodes[5].Checked)
	assert.Equal(t, []string{"click"}, res.Nodes[6].Actions)
	assert.Empty(t, res.Nodes[7].Actions, "disabled nodes have no actions")
}

func TestAccessibilityTreeFilters(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.AccessibilityTree(context.Background(), axPage(loginTree()), TreeOptions{Role: "button"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, "0.1.3", res.Nodes[0].Path)
	assert.Equal(t, "0.1.4", res.Nodes[1].Path)

	res, err = e.AccessibilityTree(context.Background(), axPage(loginTree()), TreeOptions{NameContains: "SIGN"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, "heading", res.Nodes[0].Role)
	assert.Equal(t, "button", res.Nodes[1].Role)

	// The unnamed form is excluded while a name filter is active.
	res, err = e.AccessibilityTree(context.Background(), axPage(loginTree()), TreeOptions{NameContains: "o"})
	require.NoError(t, err)
	for _, n := range res.Nodes {
		assert.NotEmpty(t, n.Name)
	}
}

func TestAccessibilityTreeDepthCap(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.AccessibilityTree(context.Background(), axPage(loginTree()), TreeOptions{MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count)
	for _, n := range res.Nodes {
		assert.LessOrEqual(t, n.Depth, 1)
	}
	assert.False(t, res.Truncated)
}

func TestAccessibilityTreeNodeCapStopsMidSubtree(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.AccessibilityTree(context.Background(), axPage(loginTree()), TreeOptions{MaxNodes: 4})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	require.Equal(t, 4, res.Count)
	assert.Equal(t, "0.1.0", res.Nodes[3].Path)
}

func TestAccessibilityTreeExactCapIsNotTruncated(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.AccessibilityTree(context.Background(), axPage(loginTree()), TreeOptions{MaxNodes: 9})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Count)
	assert.False(t, res.Truncated)
}

func TestAccessibilityTreeDeepChain(t *testing.T) {
	root := &driver.AXNode{Role: "WebArea"}
	cur := root
	for i := 0; i < 50; i++ {
		child := &driver.AXNode{Role: "group", Name: fmt.Sprintf("level %d", i+1)}
		cur.Children = []*driver.AXNode{child}
		cur = child
	}
	e := newTestEngine(t)
	res, err := e.AccessibilityTree(context.Background(), axPage(root), TreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDepth+1, res.Count)
	assert.Equal(t, DefaultMaxDepth, res.Nodes[len(res.Nodes)-1].Depth)
}

func TestAccessibilityTreeUnsupported(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.AccessibilityTree(context.Background(), axPage(nil), TreeOptions{})
	require.Error(t, err)
	assert.Equal(t, browsererr.GenericAutomationFailure, browsererr.KindOf(err))
}
