package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parseFragment(t *testing.T, src string) []*html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	require.NoError(t, err)
	return []*html.Node{doc}
}

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"heading levels", "<h1>One</h1><h3>Three</h3>", "# One\n\n### Three"},
		{"paragraphs", "<p>a</p><p>b</p>", "a\n\nb"},
		{"inline", "<p>x <em>y</em> <code>z()</code></p>", "x _y_ `z()`"},
		{"link without text", `<a href="https://e.com">  </a>`, "https://e.com"},
		{"javascript link", `<a href="javascript:void(0)">Open</a>`, "Open"},
		{"image", `<img alt="Logo" src="/l.png">`, "![Logo](/l.png)"},
		{"image without alt", `<img src="/l.png">`, ""},
		{"nested list", "<ul><li>a<ul><li>b</li></ul></li></ul>", "- a\n  - b"},
		{"pre", "<pre><code>x := 1\ny := 2</code></pre>", "```\nx := 1\ny := 2\n```"},
		{"blockquote", "<blockquote>quoted</blockquote>", "> quoted"},
		{"table", "<table><tr><th>k</th><th>v</th></tr><tr><td>a</td><td>1</td></tr></table>", "| k | v |\n| a | 1 |"},
		{"rule", "<p>a</p><hr><p>b</p>", "a\n\n---\n\nb"},
		{"skips noise", "<div>keep<script>drop()</script><style>p{}</style><noscript>no</noscript></div>", "keep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderMarkdown(parseFragment(t, tt.src)))
		})
	}
}

func TestRenderText(t *testing.T) {
	src := "<div>Hello   <b>world</b></div><p>Line<br>break</p><table><tr><td>a</td><td>b</td></tr></table>"
	assert.Equal(t, "Hello world\nLine\nbreak\na\nb", renderText(parseFragment(t, src)))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "", truncateRunes("héllo", 0))
}
