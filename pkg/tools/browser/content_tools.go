package browser

import (
	"context"

	browsersvc "github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/tools"
)

type contentArgs struct {
	SessionID string `json:"session_id"`
	Format    string `json:"format"`
	Selector  string `json:"selector"`
	MaxChars  int    `json:"max_chars"`
}

type excerptArgs struct {
	SessionID string `json:"session_id"`
	Selector  string `json:"selector"`
	MaxChars  int    `json:"max_chars"`
}

type linksArgs struct {
	SessionID string `json:"session_id"`
	Scope     string `json:"scope"`
	MaxLinks  int    `json:"max_links"`
}

func contentTools(svc *browsersvc.Service) []tools.Tool {
	return []tools.Tool{
		&opTool[contentArgs]{
			name: "get_content",
			description: `Extract page content in one of four formats:
- text: plain text, one line per block (default)
- markdown: readable document with headings, lists, links and code blocks
- html: raw outer HTML of the page or selection
- structured: JSON outline with headings, links, forms, images and meta tags
Results are cached until the page changes.`,
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id": sessionIDProp,
				"format": tools.Enum("Output format",
					browsersvc.FormatText, browsersvc.FormatMarkdown, browsersvc.FormatHTML, browsersvc.FormatStructured),
				"selector":  tools.Property("string", "CSS selector limiting extraction to matching elements"),
				"max_chars": tools.Property("integer", "Truncate content to this many characters; 0 means no limit"),
			}, []string{"session_id"}),
			run: func(ctx context.Context, a contentArgs) (any, error) {
				return svc.GetContent(ctx, a.SessionID, browsersvc.ContentOptions{
					Format:   a.Format,
					Selector: a.Selector,
					MaxChars: a.MaxChars,
				})
			},
		},
		&opTool[excerptArgs]{
			name:        "get_text_excerpt",
			description: "Return the page's plain text truncated to a character budget (5000 by default) with a token estimate.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id": sessionIDProp,
				"selector":   tools.Property("string", "CSS selector limiting extraction to matching elements"),
				"max_chars":  tools.Property("integer", "Character budget; defaults to 5000"),
			}, []string{"session_id"}),
			run: func(ctx context.Context, a excerptArgs) (any, error) {
				return svc.GetTextExcerpt(ctx, a.SessionID, browsersvc.ExcerptOptions{
					Selector: a.Selector,
					MaxChars: a.MaxChars,
				})
			},
		},
		&opTool[linksArgs]{
			name:        "get_links",
			description: "List links on the page with their text and absolute URL.",
			schema: tools.BaseToolSchema(map[string]interface{}{
				"session_id": sessionIDProp,
				"scope":      tools.Property("string", "CSS selector of the region to search; defaults to the whole page"),
				"max_links":  tools.Property("integer", "Maximum links to return; defaults to 20"),
			}, []string{"session_id"}),
			run: func(ctx context.Context, a linksArgs) (any, error) {
				return svc.GetLinks(ctx, a.SessionID, browsersvc.LinksOptions{
					Scope:    a.Scope,
					MaxLinks: a.MaxLinks,
				})
			},
		},
	}
}
