// Package browser is the operation facade over the pool, the session
// registry, the targeting engine and the content cache. Every transport
// (tools, HTTP) goes through a Service.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/cache"
	"github.com/entrhq/browserd/pkg/driver"
	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/metrics"
	"github.com/entrhq/browserd/pkg/pool"
	"github.com/entrhq/browserd/pkg/session"
	"github.com/entrhq/browserd/pkg/targeting"
)

// DefaultCDPEndpoint is used by AttachSession when no endpoint is given.
const DefaultCDPEndpoint = "http://localhost:9222"

// Config wires the service components together.
type Config struct {
	Pool             pool.Config          `yaml:"pool" json:"pool"`
	Reaper           session.ReaperConfig `yaml:"session" json:"session"`
	Cache            cache.Config         `yaml:"cache" json:"cache"`
	InteractiveRoles []string             `yaml:"interactive_roles" json:"interactive_roles"`
	CDPEndpoint      string               `yaml:"cdp_endpoint" json:"cdp_endpoint"`
	ChromePath       string               `yaml:"chrome_path" json:"chrome_path"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Pool:             pool.DefaultConfig(),
		Reaper:           session.ReaperConfig{IdleTimeout: session.DefaultIdleTimeout},
		Cache:            cache.DefaultConfig(),
		InteractiveRoles: targeting.DefaultInteractiveRoles,
		CDPEndpoint:      DefaultCDPEndpoint,
	}
}

// Service implements every browser operation.
type Service struct {
	cfg      Config
	drv      driver.Driver
	pool     *pool.Manager
	registry *session.Registry
	cache    *cache.Cache
	engine   *targeting.Engine
	reaper   *session.Reaper
	launcher *chromeLauncher
	tokens   *tokenCounter
	logger   *zap.Logger
	metrics  *metrics.Collector

	shutdownOnce sync.Once
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector shared by every component.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithCache overrides the cache built from Config.Cache.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// NewService builds the pool, registry, cache, engine and reaper over drv.
func NewService(drv driver.Driver, cfg Config, opts ...Option) (*Service, error) {
	if drv == nil {
		return nil, errors.New("browser driver is required")
	}
	if cfg.CDPEndpoint == "" {
		cfg.CDPEndpoint = DefaultCDPEndpoint
	}
	s := &Service{cfg: cfg, drv: drv, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if s.cache == nil {
		c, err := cache.Open(context.Background(), cfg.Cache,
			cache.WithLogger(s.logger), cache.WithMetrics(s.metrics))
		if err != nil {
			return nil, fmt.Errorf("open content cache: %w", err)
		}
		s.cache = c
	}

	engineOpts := []targeting.Option{targeting.WithLogger(s.logger)}
	if len(cfg.InteractiveRoles) > 0 {
		engineOpts = append(engineOpts, targeting.WithInteractiveRoles(cfg.InteractiveRoles))
	}
	engine, err := targeting.NewEngine(engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("build targeting engine: %w", err)
	}
	s.engine = engine

	s.pool = pool.New(drv, cfg.Pool, pool.WithLogger(s.logger), pool.WithMetrics(s.metrics))
	s.registry = session.NewRegistry(
		session.WithInvalidator(s.cache),
		session.WithLogger(s.logger),
		session.WithMetrics(s.metrics),
	)
	s.reaper = session.NewReaper(s.registry, session.CloserFunc(s.closeIdle), cfg.Reaper,
		session.WithReaperLogger(s.logger), session.WithReaperMetrics(s.metrics))
	s.launcher = newChromeLauncher(cfg.ChromePath, s.logger)
	s.tokens = newTokenCounter(s.logger)
	s.logger = logging.Component(s.logger, "browser_service")
	return s, nil
}

// Start runs the idle reaper until Shutdown or ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.reaper.Start(ctx)
}

// Shutdown stops the reaper, closes every session and pool-owned process
// and stops the driver. Attached browsers, including those started by
// LaunchVisibleChrome, are disconnected and left running.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.reaper.Stop()
		for _, rec := range s.registry.List() {
			_ = s.registry.Unregister(rec.ID)
		}
		err = s.pool.ShutdownAll(ctx)
		s.launcher.detach()
		if cerr := s.cache.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		s.logger.Info("browser service stopped")
	})
	return err
}

// Registry exposes the session table.
func (s *Service) Registry() *session.Registry { return s.registry }

// Reaper exposes the idle reaper.
func (s *Service) Reaper() *session.Reaper { return s.reaper }

// CreateOptions configures CreateSession.
type CreateOptions struct {
	SessionID   string           `json:"session_id,omitempty"`
	BrowserType string           `json:"browser_type,omitempty"`
	Headless    *bool            `json:"headless,omitempty"`
	Viewport    *driver.Viewport `json:"viewport,omitempty"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	SessionID        string           `json:"session_id"`
	State            session.State    `json:"state"`
	Ownership        string           `json:"ownership"`
	BrowserType      string           `json:"browser_type,omitempty"`
	Headless         bool             `json:"headless"`
	Endpoint         string           `json:"endpoint,omitempty"`
	ProcessID        string           `json:"process_id,omitempty"`
	Viewport         *driver.Viewport `json:"viewport,omitempty"`
	CurrentURL       string           `json:"current_url"`
	CreatedAt        time.Time        `json:"created_at"`
	LastActivity     time.Time        `json:"last_activity"`
	LastActivityKind string           `json:"last_activity_kind,omitempty"`
	ActivityCount    int              `json:"activity_count"`
}

// CreateSession places a new session on a pool-owned browser.
func (s *Service) CreateSession(ctx context.Context, opts CreateOptions) (info *SessionInfo, err error) {
	defer s.observe("create_session", time.Now(), &err)

	id := opts.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	lease, err := s.pool.Acquire(ctx, pool.Placement{
		SessionID: id,
		Flavor:    opts.BrowserType,
		Headless:  opts.Headless,
		Viewport:  opts.Viewport,
	})
	if err != nil {
		return nil, err
	}
	return s.register(ctx, lease)
}

// AttachOptions configures AttachSession.
type AttachOptions struct {
	SessionID         string `json:"session_id,omitempty"`
	Endpoint          string `json:"endpoint,omitempty"`
	ReuseExistingPage bool   `json:"reuse_existing_page,omitempty"`
}

// AttachSession binds a session to a browser that someone else started.
func (s *Service) AttachSession(ctx context.Context, opts AttachOptions) (info *SessionInfo, err error) {
	defer s.observe("attach_session", time.Now(), &err)

	id := opts.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = s.cfg.CDPEndpoint
	}
	lease, err := s.pool.AttachExternal(ctx, id, endpoint, opts.ReuseExistingPage)
	if err != nil {
		return nil, err
	}
	return s.register(ctx, lease)
}

func (s *Service) register(ctx context.Context, lease *pool.Lease) (*SessionInfo, error) {
	meta := session.Metadata{
		Ownership:   lease.Ownership.String(),
		BrowserType: lease.Flavor,
		Headless:    lease.Headless,
		Endpoint:    lease.Endpoint,
		ProcessID:   lease.ProcessID,
		Viewport:    lease.Viewport,
		Page:        lease.Page,
	}
	if err := s.registry.Register(lease.SessionID, meta); err != nil {
		if rerr := s.pool.Release(ctx, lease.SessionID); rerr != nil {
			s.logger.Warn("failed to roll back lease", zap.String("session_id", lease.SessionID), zap.Error(rerr))
		}
		return nil, err
	}
	rec, _ := s.registry.Get(lease.SessionID)
	s.logger.Info("session ready",
		zap.String("session_id", lease.SessionID),
		zap.String("ownership", meta.Ownership),
		zap.String("process_id", lease.ProcessID),
	)
	return s.info(rec), nil
}

// CloseSession unregisters the session, drops its cache and releases its
// browser resources.
func (s *Service) CloseSession(ctx context.Context, id string) (err error) {
	defer s.observe("close_session", time.Now(), &err)
	if err := s.closeSession(ctx, id); err != nil {
		return err
	}
	s.metrics.IncSessionClosed("explicit")
	return nil
}

// closeIdle tears id down unless it was touched since the reaper selected it.
func (s *Service) closeIdle(ctx context.Context, id string) error {
	if err := s.registry.UnregisterIfIdle(id, s.reaper.Config().IdleTimeout); err != nil {
		return err
	}
	return s.release(ctx, id)
}

func (s *Service) closeSession(ctx context.Context, id string) error {
	if err := s.registry.Unregister(id); err != nil {
		return err
	}
	return s.release(ctx, id)
}

func (s *Service) release(ctx context.Context, id string) error {
	if err := s.pool.Release(ctx, id); err != nil && !errors.Is(err, browsererr.ErrSessionNotFound) {
		return err
	}
	return nil
}

// ListSessions returns every live session ordered by creation.
func (s *Service) ListSessions() []SessionInfo {
	recs := s.registry.List()
	out := make([]SessionInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *s.info(rec))
	}
	return out
}

// SessionInfo returns the state of one session.
func (s *Service) SessionInfo(ctx context.Context, id string) (*SessionInfo, error) {
	if _, err := s.page(ctx, id); err != nil {
		return nil, err
	}
	s.registry.Touch(id, "get_info", nil)
	rec, ok := s.registry.Get(id)
	if !ok {
		return nil, browsererr.NotFound(id)
	}
	return s.info(rec), nil
}

func (s *Service) info(rec session.Record) *SessionInfo {
	info := &SessionInfo{
		SessionID:        rec.ID,
		State:            rec.State,
		Ownership:        rec.Metadata.Ownership,
		BrowserType:      rec.Metadata.BrowserType,
		Headless:         rec.Metadata.Headless,
		Endpoint:         rec.Metadata.Endpoint,
		ProcessID:        rec.Metadata.ProcessID,
		Viewport:         rec.Metadata.Viewport,
		CreatedAt:        rec.CreatedAt,
		LastActivity:     rec.LastActivity,
		LastActivityKind: rec.LastActivityKind,
		ActivityCount:    rec.ActivityCount,
	}
	if rec.Metadata.Page != nil {
		info.CurrentURL = rec.Metadata.Page.URL()
	}
	return info
}

// Stats combines pool occupancy with registry counts.
type Stats struct {
	Pool     pool.Stats `json:"pool"`
	Sessions int        `json:"sessions"`
	Reaper   string     `json:"reaper"`
}

// Stats returns a snapshot of resource usage.
func (s *Service) Stats() Stats {
	return Stats{
		Pool:     s.pool.Stats(),
		Sessions: s.registry.Len(),
		Reaper:   s.reaper.State().String(),
	}
}

// page resolves a live session to its page, failing fast for unknown ids.
func (s *Service) page(ctx context.Context, id string) (driver.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, map[string]any{"session_id": id})
	}
	if _, ok := s.registry.Get(id); !ok {
		return nil, browsererr.NotFound(id)
	}
	p, ok := s.pool.Page(id)
	if !ok {
		return nil, browsererr.NotFound(id)
	}
	return p, nil
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = browsererr.KindOf(*errp).String()
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start))
}

func (s *Service) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return s.pool.Config().ActionTimeout
}
