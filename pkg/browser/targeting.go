package browser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/entrhq/browserd/pkg/cache"
	"github.com/entrhq/browserd/pkg/targeting"
)

// variant keys a targeting result by operation and options.
func variant(op string, opts any) string {
	data, err := json.Marshal(opts)
	if err != nil {
		return op
	}
	return op + ":" + cache.Fingerprint(string(data))
}

// DescribeElements summarizes the elements matching a selector.
func (s *Service) DescribeElements(ctx context.Context, id string, opts targeting.DescribeOptions) (res *targeting.DescribeResult, err error) {
	defer s.observe("describe_elements", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	key := cache.Key{SessionID: id, URL: page.URL(), Selector: opts.Selector, Variant: variant("describe", opts)}
	res, err = cachedResult(ctx, s, page, key, func() (*targeting.DescribeResult, error) {
		return s.engine.Describe(ctx, page, opts)
	}, func(r *targeting.DescribeResult) { r.Cached = true })
	if err != nil {
		return nil, err
	}
	s.registry.Touch(id, "describe_elements", map[string]any{"selector": opts.Selector, "total": res.TotalCount})
	return res, nil
}

// FindClickTargets ranks clickable elements against a text query.
func (s *Service) FindClickTargets(ctx context.Context, id string, opts targeting.FindOptions) (res *targeting.FindResult, err error) {
	defer s.observe("find_click_targets", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	key := cache.Key{SessionID: id, URL: page.URL(), Selector: s.engine.ClickableSelector(), Variant: variant("find", opts)}
	res, err = cachedResult(ctx, s, page, key, func() (*targeting.FindResult, error) {
		return s.engine.FindClickTargets(ctx, page, opts)
	}, func(r *targeting.FindResult) { r.Cached = true })
	if err != nil {
		return nil, err
	}
	s.registry.Touch(id, "find_click_targets", map[string]any{"query": opts.Query, "matches": len(res.Matches)})
	return res, nil
}

// ClickByText clicks the first visible element whose text matches. It is
// never cached because it changes the page.
func (s *Service) ClickByText(ctx context.Context, id string, opts targeting.ClickTextOptions) (res *targeting.ClickTextResult, err error) {
	defer s.observe("click_by_text", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	opts.Timeout = s.timeout(opts.Timeout)
	res, err = s.engine.ClickByText(ctx, page, opts)
	if err != nil {
		return nil, err
	}
	s.registry.Touch(id, "click_by_text", map[string]any{"text": opts.Text, "strategy": res.Strategy})
	return res, nil
}

// AccessibilityTree returns a bounded walk of the accessibility snapshot.
func (s *Service) AccessibilityTree(ctx context.Context, id string, opts targeting.TreeOptions) (res *targeting.TreeResult, err error) {
	defer s.observe("get_accessibility_tree", time.Now(), &err)

	page, err := s.page(ctx, id)
	if err != nil {
		return nil, err
	}
	key := cache.Key{SessionID: id, URL: page.URL(), Variant: variant("axtree", opts)}
	res, err = cachedResult(ctx, s, page, key, func() (*targeting.TreeResult, error) {
		return s.engine.AccessibilityTree(ctx, page, opts)
	}, func(r *targeting.TreeResult) { r.Cached = true })
	if err != nil {
		return nil, err
	}
	s.registry.Touch(id, "get_accessibility_tree", map[string]any{"count": res.Count, "truncated": res.Truncated})
	return res, nil
}
