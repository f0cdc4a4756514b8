package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/logging"
)

// PlaywrightOptions configures the playwright-go backed driver.
type PlaywrightOptions struct {
	// SkipInstall assumes the driver and browsers are already installed.
	SkipInstall bool
	// Browsers limits the browser binaries fetched by Install. Empty installs all.
	Browsers []string
	Logger   *zap.Logger
}

// Playwright implements Driver on top of playwright-go. The runtime is
// started lazily on the first Launch or Connect.
type Playwright struct {
	mu          sync.Mutex
	opts        PlaywrightOptions
	pw          *playwright.Playwright
	initialized bool
	logger      *zap.Logger
}

// NewPlaywright creates a playwright-go driver.
func NewPlaywright(opts PlaywrightOptions) *Playwright {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Playwright{
		opts:   opts,
		logger: logging.Component(logger, "driver"),
	}
}

// Initialize installs and starts the playwright runtime. It is safe to call
// more than once.
func (p *Playwright) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked()
}

func (p *Playwright) initLocked() error {
	if p.initialized {
		return nil
	}

	// Keep driver chatter off the service's stdout
	runOpts := &playwright.RunOptions{
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
		Browsers: p.opts.Browsers,
	}

	if !p.opts.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	p.pw = pw
	p.initialized = true
	p.logger.Info("playwright runtime started")
	return nil
}

func (p *Playwright) runtime() (*playwright.Playwright, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.initLocked(); err != nil {
		return nil, err
	}
	return p.pw, nil
}

func (p *Playwright) browserType(pw *playwright.Playwright, flavor string) (playwright.BrowserType, error) {
	switch flavor {
	case "", Chromium:
		return pw.Chromium, nil
	case Firefox:
		return pw.Firefox, nil
	case WebKit:
		return pw.WebKit, nil
	default:
		return nil, fmt.Errorf("unsupported browser type %q", flavor)
	}
}

// Launch starts a new browser process.
func (p *Playwright) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := p.runtime()
	if err != nil {
		return nil, err
	}
	bt, err := p.browserType(pw, opts.Flavor)
	if err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if ms := timeoutMS(ctx, 0); ms != nil {
		launchOpts.Timeout = ms
	}
	b, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", wrapTimeout(err))
	}
	flavor := opts.Flavor
	if flavor == "" {
		flavor = Chromium
	}
	return &pwBrowser{b: b, flavor: flavor}, nil
}

// Connect attaches to a Chromium-family browser over CDP.
func (p *Playwright) Connect(ctx context.Context, endpoint string) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := p.runtime()
	if err != nil {
		return nil, err
	}
	var cdpOpts playwright.BrowserTypeConnectOverCDPOptions
	if ms := timeoutMS(ctx, 0); ms != nil {
		cdpOpts.Timeout = ms
	}
	b, err := pw.Chromium.ConnectOverCDP(endpoint, cdpOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect over CDP to %s: %w", endpoint, wrapTimeout(err))
	}
	return &pwBrowser{b: b, flavor: Chromium, attached: true}, nil
}

// Stop shuts down the playwright runtime.
func (p *Playwright) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized || p.pw == nil {
		return nil
	}
	if err := p.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	p.initialized = false
	p.pw = nil
	p.logger.Info("playwright runtime stopped")
	return nil
}

type pwBrowser struct {
	b        playwright.Browser
	flavor   string
	attached bool
}

func (b *pwBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ctxOpts playwright.BrowserNewContextOptions
	if opts.Viewport != nil {
		ctxOpts.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}
	c, err := b.b.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	return &pwContext{c: c, flavor: b.flavor}, nil
}

func (b *pwBrowser) Contexts() []Context {
	raw := b.b.Contexts()
	out := make([]Context, 0, len(raw))
	for _, c := range raw {
		out = append(out, &pwContext{c: c, flavor: b.flavor})
	}
	return out
}

func (b *pwBrowser) Version() string { return b.b.Version() }

// Close on a CDP-connected browser disconnects without killing the process.
func (b *pwBrowser) Close() error { return b.b.Close() }

type pwContext struct {
	c      playwright.BrowserContext
	flavor string
}

func (c *pwContext) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pg, err := c.c.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &pwPage{p: pg, ctx: c}, nil
}

func (c *pwContext) Pages() []Page {
	raw := c.c.Pages()
	out := make([]Page, 0, len(raw))
	for _, pg := range raw {
		out = append(out, &pwPage{p: pg, ctx: c})
	}
	return out
}

func (c *pwContext) Close() error { return c.c.Close() }

type pwPage struct {
	p   playwright.Page
	ctx *pwContext
}

func (p *pwPage) URL() string { return p.p.URL() }

func (p *pwPage) Title() (string, error) { return p.p.Title() }

func (p *pwPage) SetDefaultTimeout(d time.Duration) {
	p.p.SetDefaultTimeout(float64(d.Milliseconds()))
}

func (p *pwPage) Goto(ctx context.Context, url string, opts GotoOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gotoOpts := playwright.PageGotoOptions{Timeout: timeoutMS(ctx, opts.Timeout)}
	if opts.WaitUntil != "" {
		gotoOpts.WaitUntil = waitUntilState(opts.WaitUntil)
	}
	_, err := p.p.Goto(url, gotoOpts)
	return wrapTimeout(err)
}

func (p *pwPage) Click(ctx context.Context, selector string, opts ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clickOpts := playwright.PageClickOptions{Timeout: timeoutMS(ctx, opts.Timeout)}
	if opts.ClickCount > 0 {
		clickOpts.ClickCount = playwright.Int(opts.ClickCount)
	}
	switch opts.Button {
	case "right":
		clickOpts.Button = playwright.MouseButtonRight
	case "middle":
		clickOpts.Button = playwright.MouseButtonMiddle
	case "", "left":
		clickOpts.Button = playwright.MouseButtonLeft
	}
	return wrapTimeout(p.p.Click(selector, clickOpts))
}

func (p *pwPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrapTimeout(p.p.Fill(selector, value, playwright.PageFillOptions{Timeout: timeoutMS(ctx, timeout)}))
}

func (p *pwPage) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if selector == "" {
		return wrapTimeout(p.p.Keyboard().Press(key))
	}
	return wrapTimeout(p.p.Press(selector, key, playwright.PagePressOptions{Timeout: timeoutMS(ctx, timeout)}))
}

func (p *pwPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.p.Content()
}

func (p *pwPage) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if arg == nil {
		return p.p.Evaluate(expression)
	}
	return p.p.Evaluate(expression, arg)
}

func (p *pwPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shotOpts := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Type:     playwright.ScreenshotTypePng,
	}
	if opts.Format == FormatJPEG {
		shotOpts.Type = playwright.ScreenshotTypeJpeg
		if opts.Quality > 0 {
			shotOpts.Quality = playwright.Int(opts.Quality)
		}
	}
	data, err := p.p.Screenshot(shotOpts)
	return data, wrapTimeout(err)
}

func (p *pwPage) AccessibilitySnapshot(ctx context.Context, interestingOnly bool) (*AXNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.ctx.flavor != Chromium {
		return nil, fmt.Errorf("accessibility snapshot on %s: %w", p.ctx.flavor, ErrUnsupported)
	}
	session, err := p.ctx.c.NewCDPSession(p.p)
	if err != nil {
		return nil, fmt.Errorf("failed to open CDP session: %w", err)
	}
	defer session.Detach()

	raw, err := session.Send("Accessibility.getFullAXTree", map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accessibility tree: %w", err)
	}
	return buildAXTree(raw, interestingOnly)
}

func (p *pwPage) Locator(selector string) Locator {
	return &pwLocator{l: p.p.Locator(selector)}
}

func (p *pwPage) GetByRole(role, name string, exact bool) Locator {
	opts := playwright.PageGetByRoleOptions{}
	if name != "" {
		opts.Name = name
		opts.Exact = playwright.Bool(exact)
	}
	return &pwLocator{l: p.p.GetByRole(playwright.AriaRole(role), opts)}
}

func (p *pwPage) Close() error { return p.p.Close() }

type pwLocator struct {
	l playwright.Locator
}

func (l *pwLocator) Count() (int, error) { return l.l.Count() }

func (l *pwLocator) Nth(index int) Locator { return &pwLocator{l: l.l.Nth(index)} }

func (l *pwLocator) Evaluate(expression string, arg any) (any, error) {
	return l.l.Evaluate(expression, arg)
}

func (l *pwLocator) BoundingBox() (*Rect, error) {
	r, err := l.l.BoundingBox()
	if err != nil || r == nil {
		return nil, err
	}
	return &Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}

func (l *pwLocator) IsVisible() (bool, error) { return l.l.IsVisible() }

func (l *pwLocator) IsEnabled() (bool, error) { return l.l.IsEnabled() }

func (l *pwLocator) InnerText() (string, error) { return l.l.InnerText() }

func (l *pwLocator) Click(timeout time.Duration) error {
	opts := playwright.LocatorClickOptions{}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	return wrapTimeout(l.l.Click(opts))
}

// timeoutMS converts d to playwright milliseconds, capped by the context
// deadline. It returns nil when neither is set.
func timeoutMS(ctx context.Context, d time.Duration) *float64 {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if d == 0 || remaining < d {
			d = remaining
		}
	}
	if d <= 0 {
		return nil
	}
	return playwright.Float(math.Max(1, float64(d.Milliseconds())))
}

func waitUntilState(s string) *playwright.WaitUntilState {
	switch s {
	case "domcontentloaded":
		return playwright.WaitUntilStateDomcontentloaded
	case "networkidle":
		return playwright.WaitUntilStateNetworkidle
	case "commit":
		return playwright.WaitUntilStateCommit
	default:
		return playwright.WaitUntilStateLoad
	}
}

// wrapTimeout tags playwright timeout errors with ErrTimeout.
func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
