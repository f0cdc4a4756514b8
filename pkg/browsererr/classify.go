package browsererr

import (
	"context"
	"errors"
	"strings"
)

// Rule maps a driver error message onto a Kind. Match receives the
// lowercased message.
type Rule struct {
	Name  string
	Kind  Kind
	Match func(msg string) bool
}

func containsAny(subs ...string) func(string) bool {
	return func(msg string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

func containsAll(subs ...string) func(string) bool {
	return func(msg string) bool {
		for _, s := range subs {
			if !strings.Contains(msg, s) {
				return false
			}
		}
		return true
	}
}

// Rules is evaluated top-down; the first match wins.
var Rules = []Rule{
	{Name: "invalid_url", Kind: InvalidURL, Match: containsAny("err_invalid_url", "invalid url")},
	{Name: "not_found", Kind: ElementNotFound, Match: containsAny("not found")},
	{Name: "not_interactable", Kind: ElementNotInteractable, Match: containsAny("not interactable")},
	{Name: "selector_failed", Kind: InvalidSelector, Match: containsAll("selector", "failed")},
}

type timeout interface {
	Timeout() bool
}

// IsTimeout reports whether err is a deadline or a driver timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

// Classify turns a raw driver error into a classified *Error. Errors that are
// already classified pass through untouched. Unmatched errors get the fallback
// kind. details is merged into the result and may be nil.
func Classify(err error, fallback Kind, details map[string]any) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	merged := make(map[string]any, len(details)+1)
	for k, v := range details {
		merged[k] = v
	}

	if IsTimeout(err) {
		merged["timeout"] = true
		return Wrap(fallback, err, merged)
	}

	msg := strings.ToLower(err.Error())
	for _, r := range Rules {
		if r.Match(msg) {
			return Wrap(r.Kind, err, merged)
		}
	}
	return Wrap(fallback, err, merged)
}
