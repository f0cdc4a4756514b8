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

// Page is a fake document surface.
type Page struct {
	ctx *Context

	mu             sync.Mutex
	doc            *Document
	closed         bool
	keys           []string
	defaultTimeout time.Duration
	gotoErr        error
	evalFunc       func(expression string, arg any) (any, error)
}

func newPage(c *Context, doc *Document) *Page {
	return &Page{ctx: c, doc: doc}
}

// SetDocument replaces the page content without navigating.
func (p *Page) SetDocument(doc *Document) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
}

// Document returns the current content.
func (p *Page) Document() *Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

// FailGoto makes subsequent navigations fail with err.
func (p *Page) FailGoto(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoErr = err
}

// OnEvaluate overrides page-level Evaluate.
func (p *Page) OnEvaluate(fn func(expression string, arg any) (any, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalFunc = fn
}

// Keys returns the keys pressed so far, as "selector:key".
func (p *Page) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// IsClosed reports whether Close was called.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// DefaultTimeout returns the last value passed to SetDefaultTimeout.
func (p *Page) DefaultTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultTimeout
}

func (p *Page) elements() []*Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Elements
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.URL
}

func (p *Page) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Title, nil
}

func (p *Page) SetDefaultTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultTimeout = d
}

func (p *Page) Goto(ctx context.Context, url string, opts driver.GotoOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	gotoErr := p.gotoErr
	p.mu.Unlock()
	if gotoErr != nil {
		return gotoErr
	}
	if !strings.Contains(url, "://") && !strings.HasPrefix(url, "about:") && !strings.HasPrefix(url, "data:") {
		return fmt.Errorf("Protocol error (Page.navigate): Cannot navigate to invalid URL %q", url)
	}
	doc := p.ctx.browser.drv.site(url)
	p.SetDocument(doc)
	return nil
}

func (p *Page) resolve(selector string) []*Element {
	var out []*Element
	for _, el := range p.elements() {
		if matches(el, selector) {
			out = append(out, el)
		}
	}
	return out
}

func waitingError(selector string) error {
	return fmt.Errorf("%w: waiting for locator(%q)", driver.ErrTimeout, selector)
}

func (p *Page) Click(ctx context.Context, selector string, opts driver.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	els := p.resolve(selector)
	if len(els) == 0 {
		return waitingError(selector)
	}
	return p.clickElement(els[0])
}

func (p *Page) clickElement(el *Element) error {
	if el.ClickErr != nil {
		return el.ClickErr
	}
	if el.Hidden || el.Disabled {
		return errors.New("element is not interactable")
	}
	el.mu.Lock()
	el.clicks++
	el.mu.Unlock()
	if el.OnClick != nil {
		el.OnClick(p)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	els := p.resolve(selector)
	if len(els) == 0 {
		return waitingError(selector)
	}
	if els[0].Disabled {
		return errors.New("element is not interactable")
	}
	p.mu.Lock()
	els[0].Value = value
	p.mu.Unlock()
	return nil
}

func (p *Page) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if selector != "" && len(p.resolve(selector)) == 0 {
		return waitingError(selector)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, selector+":"+key)
	return nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc.HTML != "" {
		return p.doc.HTML, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", p.doc.Title)
	for _, el := range p.doc.Elements {
		b.WriteString(el.OuterHTML())
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

// Evaluate returns a page-state summary unless OnEvaluate installed a handler.
func (p *Page) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	fn := p.evalFunc
	doc := p.doc
	p.mu.Unlock()
	if fn != nil {
		return fn(expression, arg)
	}
	controls := make([]string, 0, len(doc.Elements))
	for _, el := range doc.Elements {
		switch el.Tag {
		case "input", "textarea", "select":
			if t, _ := el.Attr("type"); t == "checkbox" || t == "radio" {
				controls = append(controls, fmt.Sprint(el.Checked))
			} else {
				controls = append(controls, el.Value)
			}
		}
	}
	return map[string]any{
		"url":      doc.URL,
		"title":    doc.Title,
		"elements": float64(len(doc.Elements)),
		"controls": strings.Join(controls, "\x1f"),
	}, nil
}

func (p *Page) Screenshot(ctx context.Context, opts driver.ScreenshotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := p.ctx.browser.drv.Screenshot
	if opts.Format == driver.FormatJPEG {
		data = append([]byte("\xff\xd8"), data...)
	}
	return data, nil
}

func (p *Page) AccessibilitySnapshot(ctx context.Context, interestingOnly bool) (*driver.AXNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc.AX == nil {
		return nil, driver.ErrUnsupported
	}
	return p.doc.AX, nil
}

func (p *Page) Locator(selector string) driver.Locator {
	return &Locator{page: p, find: func() []*Element { return p.resolve(selector) }, index: -1, desc: selector}
}

func (p *Page) GetByRole(role, name string, exact bool) driver.Locator {
	find := func() []*Element {
		var out []*Element
		for _, el := range p.elements() {
			if EffectiveRole(el) != role {
				continue
			}
			if name != "" && !nameMatches(accessibleName(el), name, exact) {
				continue
			}
			out = append(out, el)
		}
		return out
	}
	return &Locator{page: p, find: find, index: -1, desc: "role=" + role}
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// EffectiveRole returns the explicit role or the implicit one for common tags.
func EffectiveRole(el *Element) string {
	if el.Role != "" {
		return el.Role
	}
	switch el.Tag {
	case "a":
		if _, ok := el.Attrs["href"]; ok {
			return "link"
		}
	case "button", "summary":
		return "button"
	case "select":
		return "combobox"
	case "input":
		switch el.Attrs["type"] {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		default:
			return "textbox"
		}
	}
	return ""
}

func accessibleName(el *Element) string {
	if v := el.Attrs["aria-label"]; v != "" {
		return v
	}
	return el.Text
}

func nameMatches(got, want string, exact bool) bool {
	if exact {
		return got == want
	}
	return strings.Contains(strings.ToLower(got), strings.ToLower(want))
}

// Locator is a lazily evaluated element query.
type Locator struct {
	page  *Page
	find  func() []*Element
	index int
	desc  string
}

func (l *Locator) all() []*Element {
	els := l.find()
	if l.index < 0 {
		return els
	}
	if l.index < len(els) {
		return els[l.index : l.index+1]
	}
	return nil
}

func (l *Locator) first() (*Element, error) {
	els := l.all()
	if len(els) == 0 {
		return nil, waitingError(l.desc)
	}
	return els[0], nil
}

func (l *Locator) Count() (int, error) { return len(l.all()), nil }

func (l *Locator) Nth(index int) driver.Locator {
	return &Locator{page: l.page, find: l.find, index: index, desc: fmt.Sprintf("%s >> nth=%d", l.desc, index)}
}

// Evaluate returns the element's Props regardless of expression.
func (l *Locator) Evaluate(expression string, arg any) (any, error) {
	el, err := l.first()
	if err != nil {
		return nil, err
	}
	return el.Props(), nil
}

func (l *Locator) BoundingBox() (*driver.Rect, error) {
	el, err := l.first()
	if err != nil {
		return nil, err
	}
	if el.Hidden {
		return nil, nil
	}
	box := el.Box
	return &box, nil
}

func (l *Locator) IsVisible() (bool, error) {
	els := l.all()
	if len(els) == 0 {
		return false, nil
	}
	return !els[0].Hidden, nil
}

func (l *Locator) IsEnabled() (bool, error) {
	el, err := l.first()
	if err != nil {
		return false, err
	}
	return !el.Disabled, nil
}

func (l *Locator) InnerText() (string, error) {
	el, err := l.first()
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (l *Locator) Click(timeout time.Duration) error {
	el, err := l.first()
	if err != nil {
		return err
	}
	return l.page.clickElement(el)
}
