// Package driver defines the browser-engine capability consumed by the pool,
// the targeting engine and the browser service.
//
// The interfaces mirror the layering of a real browser: a Driver opens or
// attaches Browsers, a Browser holds isolated Contexts, a Context holds
// Pages, and a Page hands out Locators for DOM queries. The playwright-go
// implementation lives in this package; an in-memory fake for tests lives in
// driver/drivertest.
package driver

import (
	"context"
	"errors"
	"time"
)

// Browser flavors accepted by Launch.
const (
	Chromium = "chromium"
	Firefox  = "firefox"
	WebKit   = "webkit"
)

// Screenshot formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// ErrTimeout is wrapped into errors returned when a driver action runs past
// its timeout.
var ErrTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "driver action timed out" }
func (timeoutError) Timeout() bool { return true }

// ErrUnsupported is returned for capabilities a browser flavor does not offer.
var ErrUnsupported = errors.New("operation not supported by this browser")

// Driver launches and attaches browser processes.
type Driver interface {
	// Launch starts a new browser process owned by the caller.
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
	// Connect attaches to an already running browser over its control endpoint.
	Connect(ctx context.Context, endpoint string) (Browser, error)
	// Stop shuts down the driver runtime.
	Stop() error
}

// LaunchOptions configures Launch.
type LaunchOptions struct {
	Flavor   string
	Headless bool
}

// Browser is one browser process.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Contexts() []Context
	Version() string
	// Close terminates a launched browser. For an attached browser it only
	// drops the connection.
	Close() error
}

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// ContextOptions configures a new browser context.
type ContextOptions struct {
	Viewport *Viewport
}

// Context is an isolated browsing profile.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Pages() []Page
	Close() error
}

// Page is a document surface. Every blocking call takes an explicit timeout;
// zero means the page default.
type Page interface {
	URL() string
	Title() (string, error)
	SetDefaultTimeout(d time.Duration)

	Goto(ctx context.Context, url string, opts GotoOptions) error
	Click(ctx context.Context, selector string, opts ClickOptions) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	// Press sends a key to selector, or to the focused element when selector is empty.
	Press(ctx context.Context, selector, key string, timeout time.Duration) error

	Content(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string, arg any) (any, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	AccessibilitySnapshot(ctx context.Context, interestingOnly bool) (*AXNode, error)

	Locator(selector string) Locator
	GetByRole(role, name string, exact bool) Locator

	Close() error
}

// GotoOptions configures navigation.
type GotoOptions struct {
	WaitUntil string
	Timeout   time.Duration
}

// ClickOptions configures a click.
type ClickOptions struct {
	Button     string
	ClickCount int
	Timeout    time.Duration
}

// ScreenshotOptions configures a capture.
type ScreenshotOptions struct {
	FullPage bool
	Format   string
	// Quality applies to jpeg only; zero leaves the engine default.
	Quality int
}

// Rect is a bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Locator addresses zero or more elements matched by a query.
type Locator interface {
	Count() (int, error)
	Nth(index int) Locator
	// Evaluate runs expression with the first matched element as its argument.
	Evaluate(expression string, arg any) (any, error)
	BoundingBox() (*Rect, error)
	IsVisible() (bool, error)
	IsEnabled() (bool, error)
	InnerText() (string, error)
	Click(timeout time.Duration) error
}

// AXNode is one node of an accessibility snapshot.
type AXNode struct {
	Role        string    `json:"role"`
	Name        string    `json:"name,omitempty"`
	Value       string    `json:"value,omitempty"`
	Description string    `json:"description,omitempty"`
	Focused     bool      `json:"focused,omitempty"`
	Checked     string    `json:"checked,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
	Children    []*AXNode `json:"children,omitempty"`
}
