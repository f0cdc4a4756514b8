// Package drivertest provides an in-memory driver.Driver for tests. Pages
// serve Documents made of Elements; a small CSS subset selects them.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/browserd/pkg/driver"
)

// Element is one DOM node of a fake Document.
type Element struct {
	Tag      string
	ID       string
	Classes  []string
	Role     string
	Text     string
	Value    string
	Attrs    map[string]string
	Hidden   bool
	Disabled bool
	Checked  bool
	Box      driver.Rect
	// ClickErr is returned by every click on this element.
	ClickErr error
	// OnClick runs after a successful click.
	OnClick func(p *Page)

	mu     sync.Mutex
	clicks int
}

// Attr returns the attribute value as the DOM would report it.
func (e *Element) Attr(name string) (string, bool) {
	switch name {
	case "id":
		return e.ID, e.ID != ""
	case "class":
		return strings.Join(e.Classes, " "), len(e.Classes) > 0
	case "role":
		if e.Role != "" {
			return e.Role, true
		}
	case "value":
		if e.Value != "" {
			return e.Value, true
		}
	case "disabled":
		if e.Disabled {
			return "", true
		}
	}
	v, ok := e.Attrs[name]
	return v, ok
}

// HasClass reports whether the class list contains c.
func (e *Element) HasClass(c string) bool {
	for _, cl := range e.Classes {
		if cl == c {
			return true
		}
	}
	return false
}

// Clicks returns how many times the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// OuterHTML renders a flat approximation of the element's markup.
func (e *Element) OuterHTML() string {
	var b strings.Builder
	b.WriteString("<" + e.Tag)
	if e.ID != "" {
		fmt.Fprintf(&b, ` id="%s"`, e.ID)
	}
	if len(e.Classes) > 0 {
		fmt.Fprintf(&b, ` class="%s"`, strings.Join(e.Classes, " "))
	}
	for k, v := range e.Attrs {
		fmt.Fprintf(&b, ` %s="%s"`, k, v)
	}
	fmt.Fprintf(&b, ">%s</%s>", e.Text, e.Tag)
	return b.String()
}

// Props is what the element-inspection scripts return for e.
func (e *Element) Props() map[string]any {
	classes := make([]any, 0, len(e.Classes))
	for _, c := range e.Classes {
		classes = append(classes, c)
	}
	attrs := map[string]any{}
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	if e.ID != "" {
		attrs["id"] = e.ID
	}
	if len(e.Classes) > 0 {
		attrs["class"] = strings.Join(e.Classes, " ")
	}
	if e.Role != "" {
		attrs["role"] = e.Role
	}
	return map[string]any{
		"tag":        e.Tag,
		"id":         e.ID,
		"classes":    classes,
		"role":       e.Role,
		"text":       e.Text,
		"value":      e.Value,
		"attributes": attrs,
		"disabled":   e.Disabled,
		"checked":    e.Checked,
		"outerHTML":  e.OuterHTML(),
		"href":       e.Attrs["href"],
	}
}

// Document is the content a fake Page serves.
type Document struct {
	URL      string
	Title    string
	HTML     string
	Elements []*Element
	AX       *driver.AXNode
}

func (d *Document) clone() *Document {
	cp := *d
	return &cp
}

// Driver is an in-memory driver.Driver.
type Driver struct {
	mu        sync.Mutex
	sites     map[string]*Document
	external  map[string]*Browser
	launched  []*Browser
	stopped   bool
	launchErr error
	// LaunchDelay simulates process start latency.
	LaunchDelay time.Duration
	// Screenshot is returned by every page capture.
	Screenshot []byte
}

// New returns an empty fake driver.
func New() *Driver {
	return &Driver{
		sites:      map[string]*Document{},
		external:   map[string]*Browser{},
		Screenshot: []byte("\x89PNG fake"),
	}
}

// AddSite registers a document served for doc.URL.
func (d *Driver) AddSite(doc *Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sites[doc.URL] = doc
}

// FailLaunch makes subsequent launches fail with err. Nil clears it.
func (d *Driver) FailLaunch(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launchErr = err
}

// AddExternal creates a caller-managed browser reachable at endpoint with
// one context holding pages open pages.
func (d *Driver) AddExternal(endpoint string, pages int) *Browser {
	b := &Browser{drv: d, flavor: driver.Chromium, attached: true}
	c := &Context{browser: b}
	for i := 0; i < pages; i++ {
		c.pages = append(c.pages, newPage(c, &Document{URL: "about:blank"}))
	}
	b.contexts = []*Context{c}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.external[endpoint] = b
	return b
}

// Launched returns every browser started through Launch.
func (d *Driver) Launched() []*Browser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Browser(nil), d.launched...)
}

// Stopped reports whether Stop was called.
func (d *Driver) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *Driver) site(url string) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc, ok := d.sites[url]; ok {
		return doc.clone()
	}
	return &Document{URL: url}
}

func (d *Driver) Launch(ctx context.Context, opts driver.LaunchOptions) (driver.Browser, error) {
	if d.LaunchDelay > 0 {
		select {
		case <-time.After(d.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	flavor := opts.Flavor
	if flavor == "" {
		flavor = driver.Chromium
	}
	b := &Browser{drv: d, flavor: flavor, Headless: opts.Headless}
	d.launched = append(d.launched, b)
	return b, nil
}

func (d *Driver) Connect(ctx context.Context, endpoint string) (driver.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.external[endpoint]
	if !ok {
		return nil, fmt.Errorf("connect ECONNREFUSED %s", endpoint)
	}
	b.mu.Lock()
	b.connections++
	b.mu.Unlock()
	return b, nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

// Browser is a fake browser process.
type Browser struct {
	Headless bool

	drv         *Driver
	flavor      string
	attached    bool
	mu          sync.Mutex
	contexts    []*Context
	closed      bool
	disconnects int
	connections int
	closeCalls  int
}

func (b *Browser) NewContext(ctx context.Context, opts driver.ContextOptions) (driver.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser has been closed")
	}
	c := &Context{browser: b, viewport: opts.Viewport}
	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *Browser) Contexts() []driver.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]driver.Context, 0, len(b.contexts))
	for _, c := range b.contexts {
		if !c.isClosed() {
			out = append(out, c)
		}
	}
	return out
}

func (b *Browser) Version() string { return "fake/1.0" }

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCalls++
	if b.attached {
		b.disconnects++
		return nil
	}
	b.closed = true
	return nil
}

// Terminated reports whether the process was killed.
func (b *Browser) Terminated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// CloseCalls counts Close invocations.
func (b *Browser) CloseCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCalls
}

// Disconnects counts Close calls on an attached browser.
func (b *Browser) Disconnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnects
}

// OpenContexts counts contexts not yet closed.
func (b *Browser) OpenContexts() int {
	return len(b.Contexts())
}

// FirstContext returns the browser's first context.
func (b *Browser) FirstContext() *Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.contexts) == 0 {
		return nil
	}
	return b.contexts[0]
}

// Context is a fake browser context.
type Context struct {
	browser  *Browser
	viewport *driver.Viewport
	mu       sync.Mutex
	pages    []*Page
	closed   bool
}

func (c *Context) NewPage(ctx context.Context) (driver.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("context has been closed")
	}
	p := newPage(c, &Document{URL: "about:blank"})
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *Context) Pages() []driver.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]driver.Page, 0, len(c.pages))
	for _, p := range c.pages {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

func (c *Context) Close() error {
	c.mu.Lock()
	c.closed = true
	pages := append([]*Page(nil), c.pages...)
	c.mu.Unlock()
	for _, p := range pages {
		_ = p.Close()
	}
	return nil
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsClosed reports whether Close was called.
func (c *Context) IsClosed() bool { return c.isClosed() }

// Viewport returns the viewport the context was created with.
func (c *Context) Viewport() *driver.Viewport { return c.viewport }

// FakePage returns the context's page at index i.
func (c *Context) FakePage(i int) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages[i]
}

// NewPage returns a standalone page serving doc, for tests that only need a
// driver.Page.
func NewPage(doc *Document) *Page {
	d := New()
	b := &Browser{drv: d, flavor: driver.Chromium}
	c := &Context{browser: b}
	p := newPage(c, doc)
	c.pages = []*Page{p}
	b.contexts = []*Context{c}
	return p
}
