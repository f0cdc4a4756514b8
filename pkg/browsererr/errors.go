// Package browsererr defines the error taxonomy shared by the pool, the
// session registry and the targeting engine, together with the rule table
// that maps raw driver failures onto it.
package browsererr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a browser automation failure.
type Kind int

const (
	// GenericAutomationFailure is the catch-all for driver errors that match no rule.
	GenericAutomationFailure Kind = iota
	SessionNotFound
	CapacityExceeded
	InvalidURL
	NavigationFailed
	ElementNotFound
	ElementNotInteractable
	InvalidSelector
)

var kindNames = map[Kind]string{
	GenericAutomationFailure: "automation_failure",
	SessionNotFound:          "session_not_found",
	CapacityExceeded:         "capacity_exceeded",
	InvalidURL:               "invalid_url",
	NavigationFailed:         "navigation_failed",
	ElementNotFound:          "element_not_found",
	ElementNotInteractable:   "element_not_interactable",
	InvalidSelector:          "invalid_selector",
}

// String returns the snake_case code used on the wire.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified browser automation failure.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// Sentinels for errors.Is comparisons. Only the Kind is compared.
var (
	ErrSessionNotFound        = &Error{Kind: SessionNotFound}
	ErrCapacityExceeded       = &Error{Kind: CapacityExceeded}
	ErrInvalidURL             = &Error{Kind: InvalidURL}
	ErrNavigationFailed       = &Error{Kind: NavigationFailed}
	ErrElementNotFound        = &Error{Kind: ElementNotFound}
	ErrElementNotInteractable = &Error{Kind: ElementNotInteractable}
	ErrInvalidSelector        = &Error{Kind: InvalidSelector}
	ErrAutomation             = &Error{Kind: GenericAutomationFailure}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying driver error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// ToMap renders the error for transport payloads.
func (e *Error) ToMap() map[string]any {
	m := map[string]any{
		"error":   e.Kind.String(),
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		m["details"] = e.Details
	}
	return m
}

// New creates a classified error.
func New(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap creates a classified error around a cause. The cause's message is used
// when message is empty.
func Wrap(kind Kind, err error, details map[string]any) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: kind, Message: msg, Details: details, Err: err}
}

// NotFound reports an unknown or closed session id.
func NotFound(sessionID string) *Error {
	return New(SessionNotFound, fmt.Sprintf("session %q not found", sessionID), map[string]any{"session_id": sessionID})
}

// Capacity reports that no process can take another context.
func Capacity(details map[string]any) *Error {
	return New(CapacityExceeded, "browser pool is at capacity", details)
}

// KindOf returns the Kind of err, or GenericAutomationFailure when err is not
// a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return GenericAutomationFailure
}
