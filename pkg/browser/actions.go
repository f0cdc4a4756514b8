package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver"
)

// Wait conditions accepted by Navigate.
const (
	WaitLoad             = "load"
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle      = "networkidle"
	WaitCommit           = "commit"
)

// NavigateOptions configures Navigate.
type NavigateOptions struct {
	URL       string        `json:"url"`
	WaitUntil string        `json:"wait_until,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// NavigateResult reports where the page ended up.
type NavigateResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Navigate loads a URL in the session's page.
func (s *Service) Navigate(ctx context.Context, id string, opts NavigateOptions) (res *NavigateResult, err error) {
	defer s.observe("navigate", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateURL(opts.URL); err != nil {
		return nil, err
	}
	waitUntil := opts.WaitUntil
	switch waitUntil {
	case "":
		waitUntil = WaitLoad
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle, WaitCommit:
	default:
		return nil, browsererr.New(browsererr.NavigationFailed, "unsupported wait condition",
			map[string]any{"wait_until": waitUntil})
	}

	err = page.Goto(ctx, opts.URL, driver.GotoOptions{WaitUntil: waitUntil, Timeout: s.timeout(opts.Timeout)})
	if err != nil {
		return nil, browsererr.Classify(err, browsererr.NavigationFailed, map[string]any{"url": opts.URL, "session_id": id})
	}
	title, err := page.Title()
	if err != nil {
		s.logger.Debug("title unavailable after navigation", zap.String("session_id", id), zap.Error(err))
	}
	res = &NavigateResult{URL: page.URL(), Title: title}
	s.registry.Touch(id, "navigate", map[string]any{"url": res.URL})
	return res, nil
}

func validateURL(raw string) error {
	details := map[string]any{"url": raw}
	if strings.TrimSpace(raw) == "" {
		return browsererr.New(browsererr.InvalidURL, "url is required", details)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return browsererr.Wrap(browsererr.InvalidURL, err, details)
	}
	if u.Scheme == "" {
		return browsererr.New(browsererr.InvalidURL, "url has no scheme", details)
	}
	return nil
}

// ClickOptions configures Click.
type ClickOptions struct {
	Selector   string        `json:"selector"`
	Button     string        `json:"button,omitempty"`
	ClickCount int           `json:"click_count,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// Click clicks the first element matching a selector.
func (s *Service) Click(ctx context.Context, id string, opts ClickOptions) (err error) {
	defer s.observe("click", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.Selector) == "" {
		return browsererr.New(browsererr.InvalidSelector, "selector is required", map[string]any{"field": "selector"})
	}
	err = page.Click(ctx, opts.Selector, driver.ClickOptions{
		Button:     opts.Button,
		ClickCount: opts.ClickCount,
		Timeout:    s.timeout(opts.Timeout),
	})
	if err != nil {
		return selectorFailure(page, opts.Selector, err)
	}
	s.registry.Touch(id, "click", map[string]any{"selector": opts.Selector})
	return nil
}

// TypeOptions configures TypeText.
type TypeOptions struct {
	Selector string        `json:"selector"`
	Text     string        `json:"text"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// TypeText replaces the value of the first element matching a selector.
func (s *Service) TypeText(ctx context.Context, id string, opts TypeOptions) (err error) {
	defer s.observe("type_text", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.Selector) == "" {
		return browsererr.New(browsererr.InvalidSelector, "selector is required", map[string]any{"field": "selector"})
	}
	if err := page.Fill(ctx, opts.Selector, opts.Text, s.timeout(opts.Timeout)); err != nil {
		return selectorFailure(page, opts.Selector, err)
	}
	s.registry.Touch(id, "type_text", map[string]any{"selector": opts.Selector, "length": len(opts.Text)})
	return nil
}

// PressOptions configures PressKey.
type PressOptions struct {
	Selector string        `json:"selector,omitempty"`
	Key      string        `json:"key"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// PressKey sends a key to an element, or to the focused element when no
// selector is given.
func (s *Service) PressKey(ctx context.Context, id string, opts PressOptions) (err error) {
	defer s.observe("press_key", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return err
	}
	if opts.Key == "" {
		return browsererr.New(browsererr.GenericAutomationFailure, "key is required", map[string]any{"field": "key"})
	}
	if err := page.Press(ctx, opts.Selector, opts.Key, s.timeout(opts.Timeout)); err != nil {
		if opts.Selector == "" {
			return browsererr.Classify(err, browsererr.GenericAutomationFailure, map[string]any{"key": opts.Key})
		}
		return selectorFailure(page, opts.Selector, err)
	}
	s.registry.Touch(id, "press_key", map[string]any{"key": opts.Key, "selector": opts.Selector})
	return nil
}

// selectorFailure classifies an action error. A selector that matches
// nothing is reported as ElementNotFound regardless of the driver message.
func selectorFailure(page driver.Page, selector string, err error) error {
	details := map[string]any{"selector": selector}
	if n, cerr := page.Locator(selector).Count(); cerr == nil && n == 0 {
		return browsererr.Wrap(browsererr.ElementNotFound, err, details)
	}
	return browsererr.Classify(err, browsererr.GenericAutomationFailure, details)
}

// Screenshot encodings.
const (
	EncodingBytes  = "bytes"
	EncodingBase64 = "base64"
)

// ScreenshotOptions configures Screenshot.
type ScreenshotOptions struct {
	FullPage bool   `json:"full_page,omitempty"`
	Format   string `json:"format,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// ScreenshotResult holds the capture. Exactly one of Data and Encoded is set.
type ScreenshotResult struct {
	Format   string `json:"format"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
	Data     []byte `json:"-"`
	Encoded  string `json:"data,omitempty"`
}

// Screenshot captures the viewport or the full page.
func (s *Service) Screenshot(ctx context.Context, id string, opts ScreenshotOptions) (res *ScreenshotResult, err error) {
	defer s.observe("take_screenshot", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(opts.Format)
	switch format {
	case "", driver.FormatPNG:
		format = driver.FormatPNG
	case "jpg", driver.FormatJPEG:
		format = driver.FormatJPEG
	default:
		return nil, browsererr.New(browsererr.GenericAutomationFailure, fmt.Sprintf("unsupported screenshot format %q", opts.Format),
			map[string]any{"format": opts.Format})
	}
	quality := 0
	if format == driver.FormatJPEG {
		if opts.Quality < 0 || opts.Quality > 100 {
			return nil, browsererr.New(browsererr.GenericAutomationFailure, "quality must be between 0 and 100",
				map[string]any{"quality": opts.Quality})
		}
		quality = opts.Quality
	}

	data, err := page.Screenshot(ctx, driver.ScreenshotOptions{FullPage: opts.FullPage, Format: format, Quality: quality})
	if err != nil {
		return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, map[string]any{"session_id": id})
	}
	res = &ScreenshotResult{Format: format, MimeType: "image/" + format, Size: len(data)}
	if opts.Encoding == EncodingBase64 {
		res.Encoded = base64.StdEncoding.EncodeToString(data)
	} else {
		res.Data = data
	}
	s.registry.Touch(id, "take_screenshot", map[string]any{"format": format, "full_page": opts.FullPage})
	return res, nil
}
