package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver"
	"github.com/entrhq/browserd/pkg/driver/drivertest"
	"github.com/entrhq/browserd/pkg/metrics"
	"github.com/entrhq/browserd/pkg/session"
	"github.com/entrhq/browserd/pkg/targeting"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Field Notes</title>
  <meta name="description" content="Notes from the field">
  <meta property="og:type" content="article">
  <script>var tracking = "do not extract";</script>
</head>
<body>
  <nav><a href="/">Home</a> <a href="">Empty</a> <a href="https://other.example.com/x">Elsewhere</a></nav>
  <main>
    <h1>Welcome</h1>
    <p>First <strong>bold</strong> paragraph with a <a href="/docs">Docs</a> link.</p>
    <h2>Steps</h2>
    <ul><li>one</li><li>two</li></ul>
    <ol><li>alpha</li><li>beta</li></ol>
    <form id="search" action="/search" method="POST">
      <label for="q">Query</label>
      <input id="q" name="q" type="text" placeholder="Search" required>
      <input type="hidden" name="csrf" value="x">
      <button type="submit">Go</button>
    </form>
  </main>
  <style>.x { color: red; }</style>
</body>
</html>`

func offlineTokens() *tokenCounter {
	tc := newTokenCounter(zap.NewNop())
	tc.load = func() (*tiktoken.Tiktoken, error) { return nil, errors.New("offline") }
	return tc
}

type testEnv struct {
	svc *Service
	drv *drivertest.Driver
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	drv := drivertest.New()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	svc, err := NewService(drv, cfg, WithMetrics(metrics.NewCollector("test", prometheus.NewRegistry())))
	require.NoError(t, err)
	svc.tokens = offlineTokens()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return &testEnv{svc: svc, drv: drv}
}

func (e *testEnv) session(t *testing.T, id string) *drivertest.Page {
	t.Helper()
	_, err := e.svc.CreateSession(context.Background(), CreateOptions{SessionID: id})
	require.NoError(t, err)
	p, ok := e.svc.pool.Page(id)
	require.True(t, ok)
	return p.(*drivertest.Page)
}

func (e *testEnv) open(t *testing.T, id string, doc *drivertest.Document) *drivertest.Page {
	t.Helper()
	e.drv.AddSite(doc)
	page := e.session(t, id)
	_, err := e.svc.Navigate(context.Background(), id, NavigateOptions{URL: doc.URL})
	require.NoError(t, err)
	return page
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	info, err := env.svc.CreateSession(ctx, CreateOptions{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", info.SessionID)
	assert.Equal(t, session.StateCreated, info.State)
	assert.Equal(t, "pool-owned", info.Ownership)
	assert.True(t, info.Headless)
	assert.NotEmpty(t, info.ProcessID)

	generated, err := env.svc.CreateSession(ctx, CreateOptions{})
	require.NoError(t, err)
	assert.Len(t, generated.SessionID, 36)

	sessions := env.svc.ListSessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].SessionID)

	got, err := env.svc.SessionInfo(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, got.State)
	assert.Equal(t, "get_info", got.LastActivityKind)
	assert.Equal(t, "about:blank", got.CurrentURL)

	stats := env.svc.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 2, stats.Pool.Leases)
	assert.Equal(t, 1, stats.Pool.Processes)

	require.NoError(t, env.svc.CloseSession(ctx, "s1"))
	assert.ErrorIs(t, env.svc.CloseSession(ctx, "s1"), browsererr.ErrSessionNotFound)
	_, err = env.svc.Navigate(ctx, "s1", NavigateOptions{URL: "https://example.com"})
	assert.ErrorIs(t, err, browsererr.ErrSessionNotFound)

	stats = env.svc.Stats()
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 1, stats.Pool.Leases)
}

func TestCreateDuplicateSession(t *testing.T) {
	env := newTestEnv(t)
	env.session(t, "dup")

	_, err := env.svc.CreateSession(context.Background(), CreateOptions{SessionID: "dup"})
	require.Error(t, err)
	var be *browsererr.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, browsererr.GenericAutomationFailure, be.Kind)
	assert.Equal(t, "session_exists", be.Details["reason"])
	assert.Equal(t, 1, env.svc.Stats().Pool.Leases)
}

func TestCreateSessionCapacity(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Pool.MaxProcesses = 1
		c.Pool.MaxContextsPerProcess = 1
	})
	env.session(t, "a")
	_, err := env.svc.CreateSession(context.Background(), CreateOptions{SessionID: "b"})
	assert.ErrorIs(t, err, browsererr.ErrCapacityExceeded)
	assert.Equal(t, 1, env.svc.Registry().Len())
}

func TestAttachSession(t *testing.T) {
	env := newTestEnv(t)
	ext := env.drv.AddExternal(DefaultCDPEndpoint, 1)
	ctx := context.Background()

	info, err := env.svc.AttachSession(ctx, AttachOptions{SessionID: "ext", ReuseExistingPage: true})
	require.NoError(t, err)
	assert.Equal(t, "externally-attached", info.Ownership)
	assert.Equal(t, DefaultCDPEndpoint, info.Endpoint)
	assert.False(t, info.Headless)

	require.NoError(t, env.svc.CloseSession(ctx, "ext"))
	assert.False(t, ext.Terminated())
	assert.Equal(t, 1, ext.Disconnects())

	_, err = env.svc.AttachSession(ctx, AttachOptions{Endpoint: "http://localhost:9999"})
	require.Error(t, err)
	assert.Equal(t, 0, env.svc.Registry().Len())
}

func TestUnknownSessionFailsFast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ops := map[string]func() error{
		"navigate": func() error {
			_, err := env.svc.Navigate(ctx, "ghost", NavigateOptions{URL: "https://example.com"})
			return err
		},
		"click":     func() error { return env.svc.Click(ctx, "ghost", ClickOptions{Selector: "#a"}) },
		"type_text": func() error { return env.svc.TypeText(ctx, "ghost", TypeOptions{Selector: "#a", Text: "x"}) },
		"press_key": func() error { return env.svc.PressKey(ctx, "ghost", PressOptions{Key: "Enter"}) },
		"get_content": func() error {
			_, err := env.svc.GetContent(ctx, "ghost", ContentOptions{})
			return err
		},
		"get_links": func() error {
			_, err := env.svc.GetLinks(ctx, "ghost", LinksOptions{})
			return err
		},
		"describe_elements": func() error {
			_, err := env.svc.DescribeElements(ctx, "ghost", targeting.DescribeOptions{Selector: "a"})
			return err
		},
		"find_click_targets": func() error {
			_, err := env.svc.FindClickTargets(ctx, "ghost", targeting.FindOptions{Query: "x"})
			return err
		},
		"click_by_text": func() error {
			_, err := env.svc.ClickByText(ctx, "ghost", targeting.ClickTextOptions{Text: "x"})
			return err
		},
		"get_accessibility_tree": func() error {
			_, err := env.svc.AccessibilityTree(ctx, "ghost", targeting.TreeOptions{})
			return err
		},
		"take_screenshot": func() error {
			_, err := env.svc.Screenshot(ctx, "ghost", ScreenshotOptions{})
			return err
		},
		"get_session_info": func() error {
			_, err := env.svc.SessionInfo(ctx, "ghost")
			return err
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(), browsererr.ErrSessionNotFound)
		})
	}
}

func TestNavigate(t *testing.T) {
	env := newTestEnv(t)
	env.drv.AddSite(&drivertest.Document{URL: "https://example.com/", Title: "Example"})
	env.session(t, "nav")

	res, err := env.svc.Navigate(context.Background(), "nav", NavigateOptions{URL: "https://example.com/", WaitUntil: WaitDOMContentLoaded})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", res.URL)
	assert.Equal(t, "Example", res.Title)

	rec, ok := env.svc.Registry().Get("nav")
	require.True(t, ok)
	assert.Equal(t, "navigate", rec.LastActivityKind)
	assert.Equal(t, 1, rec.ActivityCount)
	assert.Equal(t, session.StateActive, rec.State)
}

func TestNavigateInvalidURL(t *testing.T) {
	env := newTestEnv(t)
	page := env.session(t, "bad")

	for _, raw := range []string{"", "   ", "example.com/path", "http://[::1"} {
		t.Run(raw, func(t *testing.T) {
			_, err := env.svc.Navigate(context.Background(), "bad", NavigateOptions{URL: raw})
			assert.ErrorIs(t, err, browsererr.ErrInvalidURL)
		})
	}
	assert.Equal(t, "about:blank", page.URL(), "no navigation is attempted")
}

func TestNavigateFailures(t *testing.T) {
	env := newTestEnv(t)
	page := env.session(t, "fail")
	ctx := context.Background()

	_, err := env.svc.Navigate(ctx, "fail", NavigateOptions{URL: "https://example.com", WaitUntil: "eventually"})
	assert.ErrorIs(t, err, browsererr.ErrNavigationFailed)

	page.FailGoto(errors.New("net::ERR_NAME_NOT_RESOLVED at https://nowhere.invalid"))
	_, err = env.svc.Navigate(ctx, "fail", NavigateOptions{URL: "https://nowhere.invalid"})
	assert.ErrorIs(t, err, browsererr.ErrNavigationFailed)

	page.FailGoto(fmt.Errorf("%w: navigating", driver.ErrTimeout))
	_, err = env.svc.Navigate(ctx, "fail", NavigateOptions{URL: "https://slow.example.com"})
	var be *browsererr.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, browsererr.NavigationFailed, be.Kind)
	assert.Equal(t, true, be.Details["timeout"])
}

func formPage() *drivertest.Document {
	return &drivertest.Document{
		URL:   "https://example.com/form",
		Title: "Form",
		Elements: []*drivertest.Element{
			{Tag: "input", ID: "q", Attrs: map[string]string{"type": "text"}},
			{Tag: "button", ID: "go", Text: "Go"},
			{Tag: "button", ID: "off", Text: "Off", Disabled: true},
		},
	}
}

func TestClickAndType(t *testing.T) {
	env := newTestEnv(t)
	doc := formPage()
	env.open(t, "form", doc)
	ctx := context.Background()

	require.NoError(t, env.svc.TypeText(ctx, "form", TypeOptions{Selector: "#q", Text: "golang"}))
	assert.Equal(t, "golang", doc.Elements[0].Value)

	require.NoError(t, env.svc.Click(ctx, "form", ClickOptions{Selector: "#go"}))
	assert.Equal(t, 1, doc.Elements[1].Clicks())

	rec, _ := env.svc.Registry().Get("form")
	assert.Equal(t, "click", rec.LastActivityKind)
	assert.Equal(t, 3, rec.ActivityCount)
}

func TestActionErrors(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "form", formPage())
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"click missing", func() error { return env.svc.Click(ctx, "form", ClickOptions{Selector: "#missing"}) }, browsererr.ErrElementNotFound},
		{"type missing", func() error {
			return env.svc.TypeText(ctx, "form", TypeOptions{Selector: "#missing", Text: "x"})
		}, browsererr.ErrElementNotFound},
		{"click disabled", func() error { return env.svc.Click(ctx, "form", ClickOptions{Selector: "#off"}) }, browsererr.ErrElementNotInteractable},
		{"click empty selector", func() error { return env.svc.Click(ctx, "form", ClickOptions{}) }, browsererr.ErrInvalidSelector},
		{"press missing", func() error {
			return env.svc.PressKey(ctx, "form", PressOptions{Selector: "#missing", Key: "Enter"})
		}, browsererr.ErrElementNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}
}

func TestPressKey(t *testing.T) {
	env := newTestEnv(t)
	page := env.open(t, "keys", formPage())
	ctx := context.Background()

	require.NoError(t, env.svc.PressKey(ctx, "keys", PressOptions{Key: "Enter"}))
	require.NoError(t, env.svc.PressKey(ctx, "keys", PressOptions{Selector: "#q", Key: "Tab"}))
	assert.Equal(t, []string{":Enter", "#q:Tab"}, page.Keys())

	assert.Error(t, env.svc.PressKey(ctx, "keys", PressOptions{}))
}

func TestScreenshot(t *testing.T) {
	env := newTestEnv(t)
	env.session(t, "shot")
	ctx := context.Background()

	png, err := env.svc.Screenshot(ctx, "shot", ScreenshotOptions{FullPage: true})
	require.NoError(t, err)
	assert.Equal(t, "image/png", png.MimeType)
	assert.Equal(t, env.drv.Screenshot, png.Data)
	assert.Empty(t, png.Encoded)
	assert.Equal(t, len(env.drv.Screenshot), png.Size)

	jpeg, err := env.svc.Screenshot(ctx, "shot", ScreenshotOptions{Format: "jpg", Quality: 80, Encoding: EncodingBase64})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", jpeg.MimeType)
	assert.Nil(t, jpeg.Data)
	raw, err := base64.StdEncoding.DecodeString(jpeg.Encoded)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "\xff\xd8"))

	_, err = env.svc.Screenshot(ctx, "shot", ScreenshotOptions{Format: "gif"})
	assert.Error(t, err)
	_, err = env.svc.Screenshot(ctx, "shot", ScreenshotOptions{Format: "jpeg", Quality: 101})
	assert.Error(t, err)
	_, err = env.svc.Screenshot(ctx, "shot", ScreenshotOptions{Format: "png", Quality: 101})
	assert.NoError(t, err, "quality is ignored for png")
}

func TestGetContentFormats(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "doc", &drivertest.Document{URL: "https://example.com/notes", Title: "Field Notes", HTML: articleHTML})
	ctx := context.Background()

	text, err := env.svc.GetContent(ctx, "doc", ContentOptions{Format: FormatText})
	require.NoError(t, err)
	assert.Equal(t, "Field Notes", text.Title)
	assert.Contains(t, text.Content, "First bold paragraph with a Docs link.")
	assert.NotContains(t, text.Content, "tracking")
	assert.NotContains(t, text.Content, "color: red")
	assert.False(t, text.Truncated)
	assert.Equal(t, len([]rune(text.Content)), text.ContentLength)

	md, err := env.svc.GetContent(ctx, "doc", ContentOptions{Format: FormatMarkdown, Selector: "main"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md.Content, "# Welcome"))
	assert.Contains(t, md.Content, "[Docs](/docs)")
	assert.Contains(t, md.Content, "**bold**")
	assert.Contains(t, md.Content, "## Steps")
	assert.Contains(t, md.Content, "- one\n- two")
	assert.Contains(t, md.Content, "1. alpha\n2. beta")
	assert.NotContains(t, md.Content, "Home")

	h, err := env.svc.GetContent(ctx, "doc", ContentOptions{Format: FormatHTML, Selector: "h1"})
	require.NoError(t, err)
	assert.Equal(t, "<h1>Welcome</h1>", h.Content)

	st, err := env.svc.GetContent(ctx, "doc", ContentOptions{Format: FormatStructured})
	require.NoError(t, err)
	require.NotNil(t, st.Structured)
	assert.Equal(t, "Notes from the field", st.Structured.Description)
	assert.Equal(t, "article", st.Structured.Meta["og:type"])
	assert.Equal(t, []Heading{{Level: 1, Text: "Welcome"}, {Level: 2, Text: "Steps"}}, st.Structured.Headings)
	assert.Len(t, st.Structured.Links, 3, "empty hrefs are dropped")
	require.Len(t, st.Structured.Forms, 1)
	form := st.Structured.Forms[0]
	assert.Equal(t, "post", form.Method)
	require.Len(t, form.Fields, 2, "hidden inputs are skipped")
	assert.Equal(t, "Query", form.Fields[0].Label)
	assert.True(t, form.Fields[0].Required)
	assert.Equal(t, [][]string{{"one", "two"}, {"alpha", "beta"}}, st.Structured.Lists)
	assert.Equal(t, 1, st.Structured.Paragraphs)
}

func TestGetContentErrors(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "doc", &drivertest.Document{URL: "https://example.com/notes", HTML: articleHTML})
	ctx := context.Background()

	_, err := env.svc.GetContent(ctx, "doc", ContentOptions{Format: "pdf"})
	assert.Error(t, err)

	_, err = env.svc.GetContent(ctx, "doc", ContentOptions{Selector: "main[["})
	assert.ErrorIs(t, err, browsererr.ErrInvalidSelector)
}

func TestGetContentTruncation(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "doc", &drivertest.Document{URL: "https://example.com/notes", HTML: articleHTML})

	res, err := env.svc.GetContent(context.Background(), "doc", ContentOptions{Format: FormatText, Selector: "h1", MaxChars: 3})
	require.NoError(t, err)
	assert.Equal(t, "Wel", res.Content)
	assert.True(t, res.Truncated)
	assert.Equal(t, 3, res.TruncatedTo)
	assert.Equal(t, 7, res.ContentLength)
	assert.Equal(t, 1, res.Tokens)
}

func TestGetTextExcerptDefault(t *testing.T) {
	env := newTestEnv(t)
	long := strings.Repeat("lorem ipsum ", 1000)
	env.open(t, "long", &drivertest.Document{URL: "https://example.com/long", HTML: "<p>" + long + "</p>"})

	res, err := env.svc.GetTextExcerpt(context.Background(), "long", ExcerptOptions{})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, DefaultExcerptChars, res.TruncatedTo)
	assert.Len(t, res.Content, DefaultExcerptChars)

	rec, _ := env.svc.Registry().Get("long")
	assert.Equal(t, "get_text_excerpt", rec.LastActivityKind)
}

func TestContentCache(t *testing.T) {
	env := newTestEnv(t)
	page := env.open(t, "c", &drivertest.Document{URL: "https://example.com/notes", Title: "v1", HTML: articleHTML})
	ctx := context.Background()

	first, err := env.svc.GetContent(ctx, "c", ContentOptions{Format: FormatMarkdown})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := env.svc.GetContent(ctx, "c", ContentOptions{Format: FormatMarkdown})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)

	other, err := env.svc.GetContent(ctx, "c", ContentOptions{Format: FormatText})
	require.NoError(t, err)
	assert.False(t, other.Cached, "formats are cached separately")

	doc := page.Document()
	page.SetDocument(&drivertest.Document{URL: doc.URL, Title: "v2", HTML: "<h1>Changed</h1>"})
	third, err := env.svc.GetContent(ctx, "c", ContentOptions{Format: FormatMarkdown})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, "# Changed", third.Content)
}

func TestContentCacheSameLengthEdits(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
	}{
		{"button label", "<p>Play</p>", "<p>Stop</p>"},
		{"price", "<p>$10</p>", "<p>$12</p>"},
		{"counter", "<p>3 unread</p>", "<p>5 unread</p>"},
		{"attribute only", `<a href="/a">Next</a>`, `<a href="/b">Next</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			page := env.open(t, "c", &drivertest.Document{URL: "https://example.com/player", Title: "Player", HTML: tt.before})
			ctx := context.Background()

			first, err := env.svc.GetContent(ctx, "c", ContentOptions{Format: FormatHTML})
			require.NoError(t, err)
			assert.False(t, first.Cached)

			page.SetDocument(&drivertest.Document{URL: "https://example.com/player", Title: "Player", HTML: tt.after})
			second, err := env.svc.GetContent(ctx, "c", ContentOptions{Format: FormatHTML})
			require.NoError(t, err)
			assert.False(t, second.Cached)
			assert.NotEqual(t, first.Content, second.Content)
		})
	}
}

func TestContentCacheTracksControlValues(t *testing.T) {
	env := newTestEnv(t)
	page := env.open(t, "c", &drivertest.Document{URL: "https://example.com/form", Title: "Form", Elements: []*drivertest.Element{
		{Tag: "input", ID: "q"},
		{Tag: "button", ID: "go", Text: "Go"},
	}})
	ctx := context.Background()

	_, err := env.svc.GetContent(ctx, "c", ContentOptions{})
	require.NoError(t, err)
	cached, err := env.svc.GetContent(ctx, "c", ContentOptions{})
	require.NoError(t, err)
	require.True(t, cached.Cached)

	require.NoError(t, page.Fill(ctx, "#q", "abc", time.Second))
	res, err := env.svc.GetContent(ctx, "c", ContentOptions{})
	require.NoError(t, err)
	assert.False(t, res.Cached, "a filled field changes the page state")
}

func TestCacheDroppedOnClose(t *testing.T) {
	env := newTestEnv(t)
	doc := &drivertest.Document{URL: "https://example.com/notes", Title: "Notes", HTML: articleHTML}
	env.open(t, "c", doc)
	ctx := context.Background()

	_, err := env.svc.GetContent(ctx, "c", ContentOptions{})
	require.NoError(t, err)
	require.NoError(t, env.svc.CloseSession(ctx, "c"))

	env.open(t, "c", doc)
	res, err := env.svc.GetContent(ctx, "c", ContentOptions{})
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestUncacheablePageState(t *testing.T) {
	env := newTestEnv(t)
	page := env.open(t, "c", &drivertest.Document{URL: "https://example.com/notes", HTML: articleHTML})
	page.OnEvaluate(func(string, any) (any, error) { return nil, errors.New("execution context was destroyed") })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := env.svc.GetContent(ctx, "c", ContentOptions{})
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
}

func TestGetLinks(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "links", &drivertest.Document{URL: "https://example.com/notes", HTML: articleHTML})
	ctx := context.Background()

	res, err := env.svc.GetLinks(ctx, "links", LinksOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Scope)
	require.Len(t, res.Links, 3)
	assert.Equal(t, Link{Text: "Home", Href: "/", URL: "https://example.com/"}, res.Links[0])
	assert.Equal(t, "https://other.example.com/x", res.Links[1].URL)
	assert.Equal(t, "https://example.com/docs", res.Links[2].URL)
	assert.False(t, res.Truncated)

	res, err = env.svc.GetLinks(ctx, "links", LinksOptions{Scope: "nav", MaxLinks: 1})
	require.NoError(t, err)
	require.Len(t, res.Links, 1)
	assert.Equal(t, 2, res.Total)
	assert.True(t, res.Truncated)

	res, err = env.svc.GetLinks(ctx, "links", LinksOptions{Scope: "main"})
	require.NoError(t, err)
	require.Len(t, res.Links, 1)
	assert.Equal(t, "Docs", res.Links[0].Text)
}

func TestGetLinksDefaultCap(t *testing.T) {
	env := newTestEnv(t)
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, `<a href="/p/%d">Page %d</a>`, i, i)
	}
	env.open(t, "many", &drivertest.Document{URL: "https://example.com/", HTML: b.String()})

	res, err := env.svc.GetLinks(context.Background(), "many", LinksOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Links, DefaultMaxLinks)
	assert.Equal(t, 30, res.Total)
}

func TestTargetingOperations(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "t", &drivertest.Document{
		URL:   "https://example.com/player",
		Title: "Player",
		Elements: []*drivertest.Element{
			{Tag: "button", ID: "play", Classes: []string{"btn"}, Text: "Play"},
			{Tag: "a", Text: "Playlist", Attrs: map[string]string{"href": "/list"}},
		},
		AX: &driver.AXNode{Role: "WebArea", Name: "Player", Children: []*driver.AXNode{{Role: "button", Name: "Play"}}},
	})
	ctx := context.Background()

	desc, err := env.svc.DescribeElements(ctx, "t", targeting.DescribeOptions{Selector: "button"})
	require.NoError(t, err)
	assert.Equal(t, 1, desc.TotalCount)
	assert.Equal(t, "button#play.btn", desc.Elements[0].SuggestedLocator)
	assert.False(t, desc.Cached)
	desc, err = env.svc.DescribeElements(ctx, "t", targeting.DescribeOptions{Selector: "button"})
	require.NoError(t, err)
	assert.True(t, desc.Cached)

	found, err := env.svc.FindClickTargets(ctx, "t", targeting.FindOptions{Query: "play"})
	require.NoError(t, err)
	require.Len(t, found.Matches, 2)
	assert.Equal(t, "button", found.Matches[0].Tag)

	again, err := env.svc.FindClickTargets(ctx, "t", targeting.FindOptions{Query: "play"})
	require.NoError(t, err)
	require.Len(t, again.Matches, 2)
	assert.False(t, found.Cached)
	assert.True(t, again.Cached)
	assert.Equal(t, found.Matches[0].Confidence, again.Matches[0].Confidence)

	tree, err := env.svc.AccessibilityTree(ctx, "t", targeting.TreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Count)
	assert.False(t, tree.Cached)
	tree, err = env.svc.AccessibilityTree(ctx, "t", targeting.TreeOptions{})
	require.NoError(t, err)
	assert.True(t, tree.Cached)

	clicked, err := env.svc.ClickByText(ctx, "t", targeting.ClickTextOptions{Text: "Play", Exact: true})
	require.NoError(t, err)
	assert.Equal(t, targeting.StrategyText, clicked.Strategy)

	rec, _ := env.svc.Registry().Get("t")
	assert.Equal(t, "click_by_text", rec.LastActivityKind)
}

func TestReaperClosesIdleSessions(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Reaper = session.ReaperConfig{IdleTimeout: time.Millisecond, Interval: 5 * time.Millisecond}
	})
	env.session(t, "idle")
	env.svc.Start(context.Background())

	assert.Eventually(t, func() bool { return env.svc.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return env.svc.Stats().Pool.Leases == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestIdleCloseKeepsActiveSession(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Reaper = session.ReaperConfig{IdleTimeout: time.Hour}
	})
	env.session(t, "busy")

	err := env.svc.closeIdle(context.Background(), "busy")
	assert.ErrorIs(t, err, session.ErrActive)
	assert.Equal(t, 1, env.svc.Registry().Len())
	assert.Equal(t, 1, env.svc.Stats().Pool.Leases)
}

func TestShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.session(t, "a")
	env.session(t, "b")
	env.svc.Start(context.Background())

	require.NoError(t, env.svc.Shutdown(context.Background()))
	assert.Equal(t, 0, env.svc.Registry().Len())
	assert.Equal(t, session.ReaperStopped, env.svc.Reaper().State())
	assert.True(t, env.drv.Stopped())
	for _, b := range env.drv.Launched() {
		assert.True(t, b.Terminated())
	}
	assert.NoError(t, env.svc.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestTokenCounter(t *testing.T) {
	tc := offlineTokens()
	assert.Equal(t, 0, tc.Count(""))
	assert.Equal(t, 1, tc.Count("abc"))
	assert.Equal(t, 2, tc.Count("abcdefgh"))
	assert.Equal(t, 1, tc.Count("日本語"))
}
