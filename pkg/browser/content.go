package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/cache"
	"github.com/entrhq/browserd/pkg/driver"
)

// Content formats.
const (
	FormatHTML       = "html"
	FormatText       = "text"
	FormatMarkdown   = "markdown"
	FormatStructured = "structured"
)

// Defaults for content extraction.
const (
	DefaultExcerptChars = 5000
	DefaultMaxLinks     = 20
)

// ContentOptions configures GetContent.
type ContentOptions struct {
	Format   string `json:"format,omitempty"`
	Selector string `json:"selector,omitempty"`
	// MaxChars truncates the content; zero keeps it whole.
	MaxChars int `json:"max_chars,omitempty"`
}

// ContentResult is extracted page content.
type ContentResult struct {
	URL           string             `json:"url"`
	Title         string             `json:"title"`
	Format        string             `json:"format"`
	Selector      string             `json:"selector,omitempty"`
	Content       string             `json:"content"`
	Structured    *StructuredContent `json:"structured,omitempty"`
	ContentLength int                `json:"content_length"`
	Truncated     bool               `json:"truncated"`
	TruncatedTo   int                `json:"truncated_to,omitempty"`
	Tokens        int                `json:"tokens"`
	Cached        bool               `json:"cached"`
}

// GetContent extracts the page, or the part matching Selector, in the
// requested format.
func (s *Service) GetContent(ctx context.Context, id string, opts ContentOptions) (res *ContentResult, err error) {
	defer s.observe("get_content", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err = s.content(ctx, id, page, opts)
	if err != nil {
		return nil, err
	}
	s.registry.Touch(id, "get_content", map[string]any{"format": res.Format, "selector": opts.Selector})
	return res, nil
}

// ExcerptOptions configures GetTextExcerpt.
type ExcerptOptions struct {
	Selector string `json:"selector,omitempty"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// GetTextExcerpt returns at most MaxChars characters of readable text.
func (s *Service) GetTextExcerpt(ctx context.Context, id string, opts ExcerptOptions) (res *ContentResult, err error) {
	defer s.observe("get_text_excerpt", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	maxChars := opts.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultExcerptChars
	}
	res, err = s.content(ctx, id, page, ContentOptions{Format: FormatText, Selector: opts.Selector, MaxChars: maxChars})
	if err != nil {
		return nil, err
	}
	s.registry.Touch(id, "get_text_excerpt", map[string]any{"max_chars": maxChars})
	return res, nil
}

func (s *Service) content(ctx context.Context, id string, page driver.Page, opts ContentOptions) (*ContentResult, error) {
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = FormatText
	}
	switch format {
	case FormatHTML, FormatText, FormatMarkdown, FormatStructured:
	default:
		return nil, browsererr.New(browsererr.GenericAutomationFailure, fmt.Sprintf("unsupported content format %q", opts.Format),
			map[string]any{"format": opts.Format})
	}
	if opts.MaxChars < 0 {
		opts.MaxChars = 0
	}

	key := cache.Key{
		SessionID: id,
		URL:       page.URL(),
		Selector:  opts.Selector,
		Variant:   "content:" + format + ":" + strconv.Itoa(opts.MaxChars),
	}
	return cachedResult(ctx, s, page, key, func() (*ContentResult, error) {
		return s.extract(ctx, page, format, opts)
	}, func(r *ContentResult) { r.Cached = true })
}

func (s *Service) extract(ctx context.Context, page driver.Page, format string, opts ContentOptions) (*ContentResult, error) {
	doc, err := s.document(ctx, page)
	if err != nil {
		return nil, err
	}
	scope := doc.Selection
	if opts.Selector != "" {
		if scope, err = findSelection(doc, opts.Selector); err != nil {
			return nil, err
		}
	}

	res := &ContentResult{
		URL:      page.URL(),
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		Format:   format,
		Selector: opts.Selector,
	}
	switch format {
	case FormatHTML:
		var b strings.Builder
		scope.Each(func(_ int, sel *goquery.Selection) {
			if h, err := goquery.OuterHtml(sel); err == nil {
				b.WriteString(h)
			}
		})
		res.Content = b.String()
	case FormatText:
		res.Content = renderText(scope.Nodes)
	case FormatMarkdown:
		res.Content = renderMarkdown(scope.Nodes)
	case FormatStructured:
		res.Structured = extractStructured(doc, scope)
		data, err := json.Marshal(res.Structured)
		if err != nil {
			return nil, fmt.Errorf("encode structured content: %w", err)
		}
		res.Content = string(data)
	}

	res.ContentLength = utf8.RuneCountInString(res.Content)
	if opts.MaxChars > 0 && res.ContentLength > opts.MaxChars {
		res.Content = truncateRunes(res.Content, opts.MaxChars)
		res.Truncated = true
		res.TruncatedTo = opts.MaxChars
	}
	res.Tokens = s.tokens.Count(res.Content)
	return res, nil
}

// document parses the page's serialized DOM.
func (s *Service) document(ctx context.Context, page driver.Page) (*goquery.Document, error) {
	raw, err := page.Content(ctx)
	if err != nil {
		return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, nil)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse page content: %w", err)
	}
	return doc, nil
}

// findSelection runs a CSS query, mapping selector syntax errors to
// InvalidSelector. goquery alone would match nothing.
func findSelection(doc *goquery.Document, selector string) (*goquery.Selection, error) {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, browsererr.Wrap(browsererr.InvalidSelector, err, map[string]any{"selector": selector})
	}
	return doc.FindMatcher(matcher), nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// StructuredContent is the outline of a page.
type StructuredContent struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Headings    []Heading         `json:"headings"`
	Links       []Link            `json:"links"`
	Forms       []Form            `json:"forms"`
	Images      []Image           `json:"images,omitempty"`
	Lists       [][]string        `json:"lists,omitempty"`
	Paragraphs  int               `json:"paragraphs"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Heading is one h1-h6 element.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Link is one anchor.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
	URL  string `json:"url,omitempty"`
}

// Form summarizes one form and its fields.
type Form struct {
	ID     string      `json:"id,omitempty"`
	Action string      `json:"action,omitempty"`
	Method string      `json:"method,omitempty"`
	Fields []FormField `json:"fields"`
}

// FormField is one input, select, textarea or button inside a form.
type FormField struct {
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Label       string `json:"label,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Image is one img with alt text.
type Image struct {
	Alt string `json:"alt"`
	Src string `json:"src"`
}

const maxStructuredLinks = 100

func extractStructured(doc *goquery.Document, scope *goquery.Selection) *StructuredContent {
	out := &StructuredContent{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
		Headings:    []Heading{},
		Links:       []Link{},
		Forms:       []Form{},
		Meta:        map[string]string{},
	}
	doc.Find("meta[property], meta[name]").Each(func(_ int, m *goquery.Selection) {
		name := m.AttrOr("property", m.AttrOr("name", ""))
		if name != "" && name != "description" {
			out.Meta[name] = m.AttrOr("content", "")
		}
	})

	scope.Find("h1, h2, h3, h4, h5, h6").AddSelection(scope.Filter("h1, h2, h3, h4, h5, h6")).Each(func(_ int, h *goquery.Selection) {
		level, _ := strconv.Atoi(strings.TrimPrefix(goquery.NodeName(h), "h"))
		if text := collapse(h.Text()); text != "" {
			out.Headings = append(out.Headings, Heading{Level: level, Text: text})
		}
	})

	anchors(scope).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return true
		}
		out.Links = append(out.Links, Link{Text: collapse(a.Text()), Href: href})
		return len(out.Links) < maxStructuredLinks
	})

	scope.Find("form").AddSelection(scope.Filter("form")).Each(func(_ int, f *goquery.Selection) {
		form := Form{
			ID:     f.AttrOr("id", ""),
			Action: f.AttrOr("action", ""),
			Method: strings.ToLower(f.AttrOr("method", "get")),
			Fields: []FormField{},
		}
		f.Find("input, select, textarea, button").Each(func(_ int, in *goquery.Selection) {
			field := FormField{
				Tag:         goquery.NodeName(in),
				Type:        in.AttrOr("type", ""),
				Name:        in.AttrOr("name", ""),
				ID:          in.AttrOr("id", ""),
				Placeholder: in.AttrOr("placeholder", ""),
			}
			_, field.Required = in.Attr("required")
			if field.ID != "" {
				field.Label = collapse(doc.Find(`label[for="` + field.ID + `"]`).First().Text())
			}
			if field.Label == "" {
				field.Label = collapse(in.Closest("label").Text())
			}
			if field.Type == "hidden" {
				return
			}
			form.Fields = append(form.Fields, field)
		})
		out.Forms = append(out.Forms, form)
	})

	scope.Find("img[alt]").Each(func(_ int, img *goquery.Selection) {
		if alt := strings.TrimSpace(img.AttrOr("alt", "")); alt != "" {
			out.Images = append(out.Images, Image{Alt: alt, Src: img.AttrOr("src", "")})
		}
	})
	scope.Find("ul, ol").Each(func(_ int, list *goquery.Selection) {
		var items []string
		list.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			if t := collapse(li.Text()); t != "" {
				items = append(items, t)
			}
		})
		if len(items) > 0 {
			out.Lists = append(out.Lists, items)
		}
	})
	out.Paragraphs = scope.Find("p").Length()
	return out
}

// anchors returns the links at or under a selection.
func anchors(scope *goquery.Selection) *goquery.Selection {
	return scope.Filter("a").AddSelection(scope.Find("a"))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// LinksOptions configures GetLinks.
type LinksOptions struct {
	// Scope is a CSS selector; links at or under its matches are returned.
	Scope    string `json:"scope,omitempty"`
	MaxLinks int    `json:"max_links,omitempty"`
}

// LinksResult lists links found in scope.
type LinksResult struct {
	URL       string `json:"url"`
	Scope     string `json:"scope"`
	Links     []Link `json:"links"`
	Total     int    `json:"total"`
	Truncated bool   `json:"truncated"`
}

// GetLinks returns up to MaxLinks links with a non-empty href.
func (s *Service) GetLinks(ctx context.Context, id string, opts LinksOptions) (res *LinksResult, err error) {
	defer s.observe("get_links", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	scopeSel := opts.Scope
	if strings.TrimSpace(scopeSel) == "" {
		scopeSel = "a"
	}
	maxLinks := opts.MaxLinks
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}

	doc, err := s.document(ctx, page)
	if err != nil {
		return nil, err
	}
	scope, err := findSelection(doc, scopeSel)
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(page.URL())

	res = &LinksResult{URL: page.URL(), Scope: scopeSel, Links: []Link{}}
	anchors(scope).Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		res.Total++
		if len(res.Links) >= maxLinks {
			return
		}
		link := Link{Text: collapse(a.Text()), Href: href}
		if ref, err := url.Parse(href); err == nil && base != nil {
			link.URL = base.ResolveReference(ref).String()
		}
		res.Links = append(res.Links, link)
	})
	res.Truncated = res.Total > len(res.Links)
	s.registry.Touch(id, "get_links", map[string]any{"scope": scopeSel, "count": len(res.Links)})
	return res, nil
}

// pageStateScript reports the live state that the serialized DOM omits:
// form control values and checked states.
const pageStateScript = `() => ({
  url: location.href,
  title: document.title,
  elements: document.getElementsByTagName("*").length,
  controls: Array.from(document.querySelectorAll("input, textarea, select"))
    .map(e => (e.type === "checkbox" || e.type === "radio") ? String(e.checked) : e.value)
    .join("\u001f")
})`

// fingerprint digests the current page state: the serialized DOM plus the
// live control state. It returns "" when either cannot be read, which
// disables caching for the call.
func (s *Service) fingerprint(ctx context.Context, page driver.Page) string {
	raw, err := page.Evaluate(ctx, pageStateScript, nil)
	if err != nil {
		s.logger.Debug("page state unavailable", zap.Error(err))
		return ""
	}
	state, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	html, err := page.Content(ctx)
	if err != nil {
		s.logger.Debug("page content unavailable", zap.Error(err))
		return ""
	}
	return cache.Fingerprint(
		fmt.Sprint(state["url"]),
		fmt.Sprint(state["title"]),
		fmt.Sprint(state["elements"]),
		fmt.Sprint(state["controls"]),
		cache.Fingerprint(html),
	)
}

// cachedResult serves key from the content cache when the page state is
// unchanged, otherwise computes and stores a fresh result.
func cachedResult[T any](ctx context.Context, s *Service, page driver.Page, key cache.Key, compute func() (*T, error), markCached func(*T)) (*T, error) {
	fp := s.fingerprint(ctx, page)
	if fp != "" {
		if payload, ok := s.cache.Get(ctx, key, fp); ok {
			var v T
			if err := json.Unmarshal(payload, &v); err == nil {
				markCached(&v)
				return &v, nil
			}
			s.logger.Warn("discarding undecodable cache entry", zap.String("session_id", key.SessionID))
		}
	}

	v, err := compute()
	if err != nil {
		return nil, err
	}
	if fp != "" {
		if payload, err := json.Marshal(v); err == nil {
			s.cache.Set(ctx, key, payload, fp)
		}
	}
	return v, nil
}
