// Package session is the authoritative record of live sessions. It tracks
// creation and activity timestamps and runs the idle reaper.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver"
	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/metrics"
)

// State is a session's lifecycle position.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateClosed  State = "closed"
)

// Metadata describes how a session was placed.
type Metadata struct {
	Ownership   string           `json:"ownership"`
	BrowserType string           `json:"browser_type,omitempty"`
	Headless    bool             `json:"headless"`
	Endpoint    string           `json:"endpoint,omitempty"`
	ProcessID   string           `json:"process_id,omitempty"`
	Viewport    *driver.Viewport `json:"viewport,omitempty"`
	Page        driver.Page      `json:"-"`
}

// Record is a snapshot of one session.
type Record struct {
	ID               string         `json:"session_id"`
	State            State          `json:"state"`
	CreatedAt        time.Time      `json:"created_at"`
	LastActivity     time.Time      `json:"last_activity"`
	LastActivityKind string         `json:"last_activity_kind,omitempty"`
	LastDetails      map[string]any `json:"last_details,omitempty"`
	ActivityCount    int            `json:"activity_count"`
	Metadata         Metadata       `json:"metadata"`
}

// Invalidator drops cached data scoped to a session.
type Invalidator interface {
	InvalidateSession(sessionID string)
}

// Registry is a concurrency-safe session table.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Record
	invalidator Invalidator
	logger      *zap.Logger
	metrics     *metrics.Collector
	now         func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithInvalidator wires the content cache.
func WithInvalidator(inv Invalidator) Option {
	return func(r *Registry) { r.invalidator = inv }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Record),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Component(r.logger, "session_registry")
	return r
}

// Register inserts a new session. It fails if id is already live.
func (r *Registry) Register(id string, meta Metadata) error {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return browsererr.New(browsererr.GenericAutomationFailure, "session already exists",
			map[string]any{"session_id": id, "reason": "session_exists"})
	}
	now := r.now()
	r.sessions[id] = &Record{
		ID:           id,
		State:        StateCreated,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     meta,
	}
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetSessions(n)
	r.metrics.IncSessionCreated(meta.Ownership)
	r.logger.Info("registered session", zap.String("session_id", id), zap.String("ownership", meta.Ownership))
	return nil
}

// Unregister removes a session and purges its cached content.
func (r *Registry) Unregister(id string) error {
	return r.remove(id, nil)
}

// ErrActive reports that a session saw activity after it was selected for
// idle eviction.
var ErrActive = errors.New("session is active")

// UnregisterIfIdle removes id only if it has been idle longer than timeout.
// The check and the removal happen under one lock; a session touched in
// time is kept and ErrActive returned.
func (r *Registry) UnregisterIfIdle(id string, timeout time.Duration) error {
	now := r.now()
	return r.remove(id, func(rec *Record) error {
		if now.Sub(rec.LastActivity) <= timeout {
			return ErrActive
		}
		return nil
	})
}

func (r *Registry) remove(id string, check func(*Record) error) error {
	r.mu.Lock()
	rec, exists := r.sessions[id]
	if !exists {
		r.mu.Unlock()
		return browsererr.NotFound(id)
	}
	if check != nil {
		if err := check(rec); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	rec.State = StateClosed
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if r.invalidator != nil {
		r.invalidator.InvalidateSession(id)
	}
	r.metrics.SetSessions(n)
	r.logger.Info("unregistered session", zap.String("session_id", id))
	return nil
}

// IsIdle reports whether id exists and has been idle longer than timeout.
func (r *Registry) IsIdle(id string, timeout time.Duration) bool {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	return ok && now.Sub(rec.LastActivity) > timeout
}

// Touch records activity. Unknown ids are logged and ignored.
func (r *Registry) Touch(id, kind string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.sessions[id]
	if !exists {
		r.logger.Debug("touch on unknown session", zap.String("session_id", id), zap.String("activity", kind))
		return
	}
	rec.LastActivity = r.now()
	rec.LastActivityKind = kind
	rec.LastDetails = details
	rec.ActivityCount++
	rec.State = StateActive
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns every live session ordered by creation time.
func (r *Registry) List() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IdleSince returns the ids of sessions inactive for longer than timeout.
func (r *Registry) IdleSince(timeout time.Duration) []string {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, rec := range r.sessions {
		if now.Sub(rec.LastActivity) > timeout {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
