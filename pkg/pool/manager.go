// Package pool owns browser processes, their contexts and the page bound to
// each session. It enforces the process and per-process context caps and
// reclaims processes once their last context closes.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver"
	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/metrics"
)

// shutdownParallelism bounds concurrent releases during ShutdownAll.
const shutdownParallelism = 8

// Manager is the resource pool. All bookkeeping happens under mu; driver
// calls never run with mu held.
type Manager struct {
	drv     driver.Driver
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
	newID   func() string
	now     func() time.Time

	mu       sync.RWMutex
	procs    []*Process
	pending  int
	leases   map[string]*Lease
	inflight map[string]struct{}
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithIDGenerator overrides process id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// New creates a pool over drv.
func New(drv driver.Driver, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		drv:      drv,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
		leases:   make(map[string]*Lease),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.Component(m.logger, "browser_pool")
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Acquire places a session on a pool-owned process and opens its context
// and page. It fails with CapacityExceeded instead of waiting for room.
func (m *Manager) Acquire(ctx context.Context, pl Placement) (*Lease, error) {
	if pl.SessionID == "" {
		return nil, browsererr.New(browsererr.GenericAutomationFailure, "session id is required", nil)
	}
	flavor := pl.Flavor
	if flavor == "" {
		flavor = m.cfg.DefaultFlavor
	}
	headless := m.cfg.Headless
	if pl.Headless != nil {
		headless = *pl.Headless
	}
	viewport := pl.Viewport
	if viewport == nil {
		vp := m.cfg.Viewport
		viewport = &vp
	}
	// A mode that conflicts with the default gets its own process
	preferNew := headless != m.cfg.Headless

	details := map[string]any{"session_id": pl.SessionID, "browser_type": flavor, "headless": headless}

	m.mu.Lock()
	if err := m.admitLocked(pl.SessionID); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	proc, launch := m.placeLocked(flavor, headless, preferNew)
	if proc == nil && !launch {
		details["max_processes"] = m.cfg.MaxProcesses
		details["max_contexts_per_process"] = m.cfg.MaxContextsPerProcess
		m.mu.Unlock()
		m.metrics.IncCapacityRejection()
		m.logger.Warn("pool at capacity", zap.String("session_id", pl.SessionID), zap.Bool("headless", headless))
		return nil, browsererr.Capacity(details)
	}
	m.inflight[pl.SessionID] = struct{}{}
	if launch {
		m.pending++
	} else {
		proc.reserved++
	}
	m.mu.Unlock()

	if launch {
		b, err := m.drv.Launch(ctx, driver.LaunchOptions{Flavor: flavor, Headless: headless})
		m.mu.Lock()
		m.pending--
		if err != nil {
			delete(m.inflight, pl.SessionID)
			m.mu.Unlock()
			return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, details)
		}
		proc = &Process{
			ID:        m.newID(),
			Flavor:    flavor,
			Headless:  headless,
			Ownership: PoolOwned,
			CreatedAt: m.now(),
			browser:   b,
			leases:    make(map[string]*Lease),
			reserved:  1,
		}
		m.procs = append(m.procs, proc)
		m.reportLocked()
		m.mu.Unlock()
		m.logger.Info("launched browser process",
			zap.String("process_id", proc.ID),
			zap.String("browser_type", flavor),
			zap.Bool("headless", headless),
		)
	}

	bctx, page, err := m.openSurface(ctx, proc.browser, viewport)
	if err != nil {
		m.abandon(proc, pl.SessionID)
		return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, details)
	}

	lease := &Lease{
		SessionID:  pl.SessionID,
		ProcessID:  proc.ID,
		Ownership:  PoolOwned,
		Flavor:     flavor,
		Headless:   headless,
		Viewport:   viewport,
		AcquiredAt: m.now(),
		Context:    bctx,
		Page:       page,
		ownsPage:   true,
	}
	if err := m.commit(proc, lease); err != nil {
		_ = page.Close()
		_ = bctx.Close()
		m.abandon(proc, pl.SessionID)
		return nil, err
	}
	return lease, nil
}

// AttachExternal binds a session to a caller-managed browser reachable at
// endpoint. The browser's first context is reused; the page is reused when
// reuseExistingPage is set and one exists.
func (m *Manager) AttachExternal(ctx context.Context, sessionID, endpoint string, reuseExistingPage bool) (*Lease, error) {
	if sessionID == "" {
		return nil, browsererr.New(browsererr.GenericAutomationFailure, "session id is required", nil)
	}
	details := map[string]any{"session_id": sessionID, "endpoint": endpoint}

	m.mu.Lock()
	if err := m.admitLocked(sessionID); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.inflight[sessionID] = struct{}{}
	proc := m.attachedLocked(endpoint)
	if proc != nil {
		proc.reserved++
	}
	m.mu.Unlock()

	if proc == nil {
		b, err := m.drv.Connect(ctx, endpoint)
		if err != nil {
			m.mu.Lock()
			delete(m.inflight, sessionID)
			m.mu.Unlock()
			return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, details)
		}

		m.mu.Lock()
		if existing := m.attachedLocked(endpoint); existing != nil {
			// Lost a race with another attach to the same endpoint
			existing.reserved++
			proc = existing
			m.mu.Unlock()
			_ = b.Close()
		} else {
			proc = &Process{
				ID:        m.newID(),
				Flavor:    driver.Chromium,
				Headless:  false,
				Ownership: ExternallyAttached,
				Endpoint:  endpoint,
				CreatedAt: m.now(),
				browser:   b,
				leases:    make(map[string]*Lease),
				reserved:  1,
			}
			m.procs = append(m.procs, proc)
			m.reportLocked()
			m.mu.Unlock()
			m.logger.Info("attached external browser",
				zap.String("process_id", proc.ID),
				zap.String("endpoint", endpoint),
				zap.String("version", b.Version()),
			)
		}
	}

	var bctx driver.Context
	if contexts := proc.browser.Contexts(); len(contexts) > 0 {
		bctx = contexts[0]
	} else {
		c, err := proc.browser.NewContext(ctx, driver.ContextOptions{})
		if err != nil {
			m.abandon(proc, sessionID)
			return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, details)
		}
		bctx = c
	}

	var (
		page     driver.Page
		ownsPage = true
	)
	if pages := bctx.Pages(); reuseExistingPage && len(pages) > 0 {
		page = pages[0]
		ownsPage = false
	} else {
		p, err := bctx.NewPage(ctx)
		if err != nil {
			m.abandon(proc, sessionID)
			return nil, browsererr.Classify(err, browsererr.GenericAutomationFailure, details)
		}
		page = p
	}
	page.SetDefaultTimeout(m.cfg.ActionTimeout)

	lease := &Lease{
		SessionID:  sessionID,
		ProcessID:  proc.ID,
		Ownership:  ExternallyAttached,
		Flavor:     proc.Flavor,
		Endpoint:   endpoint,
		AcquiredAt: m.now(),
		Context:    bctx,
		Page:       page,
		ownsPage:   ownsPage,
	}
	if err := m.commit(proc, lease); err != nil {
		if ownsPage {
			_ = page.Close()
		}
		m.abandon(proc, sessionID)
		return nil, err
	}
	return lease, nil
}

// Release closes the session's page and, for pool-owned processes, its
// context. A pool-owned process left without contexts is terminated; an
// attached one is disconnected.
func (m *Manager) Release(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	lease, ok := m.leases[sessionID]
	if !ok {
		m.mu.Unlock()
		return browsererr.NotFound(sessionID)
	}
	delete(m.leases, sessionID)
	proc := m.processLocked(lease.ProcessID)
	m.mu.Unlock()

	// The lease still counts against its process until the driver calls finish
	if lease.ownsPage {
		if err := lease.Page.Close(); err != nil {
			m.logger.Warn("failed to close page", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	if lease.Ownership == PoolOwned {
		if err := lease.Context.Close(); err != nil {
			m.logger.Warn("failed to close context", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	m.mu.Lock()
	var reclaim bool
	if proc != nil {
		delete(proc.leases, sessionID)
		reclaim = m.retireIfEmptyLocked(proc)
	}
	m.reportLocked()
	m.mu.Unlock()

	if reclaim {
		m.closeProcess(proc)
	}
	m.logger.Debug("released session", zap.String("session_id", sessionID), zap.String("ownership", lease.Ownership.String()))
	return nil
}

// ShutdownAll releases every session, closes what is left and stops the
// driver runtime. New acquires fail once shutdown has begun.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.leases))
	for id := range m.leases {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shutdownParallelism)
	for _, id := range ids {
		g.Go(func() error {
			err := m.Release(gctx, id)
			if errors.Is(err, browsererr.ErrSessionNotFound) {
				return nil
			}
			return err
		})
	}
	releaseErr := g.Wait()

	m.mu.Lock()
	rest := make([]*Process, 0, len(m.procs))
	for _, p := range m.procs {
		if !p.closing {
			p.closing = true
			rest = append(rest, p)
		}
	}
	m.procs = nil
	m.reportLocked()
	m.mu.Unlock()

	for _, p := range rest {
		m.closeProcess(p)
	}

	var stopErr error
	if err := m.drv.Stop(); err != nil {
		stopErr = err
		m.logger.Error("failed to stop driver", zap.Error(err))
	}
	m.logger.Info("pool shut down", zap.Int("released", len(ids)))
	return errors.Join(releaseErr, stopErr)
}

// Lease returns the lease held by sessionID.
func (m *Manager) Lease(sessionID string) (*Lease, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leases[sessionID]
	return l, ok
}

// Page returns the page bound to sessionID.
func (m *Manager) Page(sessionID string) (driver.Page, bool) {
	l, ok := m.Lease(sessionID)
	if !ok {
		return nil, false
	}
	return l.Page, true
}

// Stats returns a snapshot of pool occupancy.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		PendingProcesses:      m.pending,
		Leases:                len(m.leases),
		MaxProcesses:          m.cfg.MaxProcesses,
		MaxContextsPerProcess: m.cfg.MaxContextsPerProcess,
		Details:               make([]ProcessInfo, 0, len(m.procs)),
	}
	for _, p := range m.procs {
		if p.Ownership == PoolOwned {
			s.Processes++
		} else {
			s.AttachedProcesses++
		}
		s.Contexts += p.contextCount()
		s.Details = append(s.Details, ProcessInfo{
			ID:        p.ID,
			Flavor:    p.Flavor,
			Headless:  p.Headless,
			Ownership: p.Ownership.String(),
			Endpoint:  p.Endpoint,
			Contexts:  p.contextCount(),
			CreatedAt: p.CreatedAt,
		})
	}
	return s
}

func (m *Manager) admitLocked(sessionID string) error {
	if m.closed {
		return browsererr.New(browsererr.GenericAutomationFailure, "browser pool is shut down", nil)
	}
	_, leased := m.leases[sessionID]
	_, pending := m.inflight[sessionID]
	if leased || pending {
		return browsererr.New(browsererr.GenericAutomationFailure, "session already exists",
			map[string]any{"session_id": sessionID, "reason": "session_exists"})
	}
	return nil
}

// placeLocked picks a process for a new context. It returns launch=true when
// a new process should be started instead.
func (m *Manager) placeLocked(flavor string, headless, preferNew bool) (*Process, bool) {
	canLaunch := m.ownedLocked()+m.pending < m.cfg.MaxProcesses
	if preferNew && canLaunch {
		return nil, true
	}
	for _, p := range m.procs {
		if p.Ownership != PoolOwned || p.closing {
			continue
		}
		if p.Flavor != flavor || p.Headless != headless {
			continue
		}
		if p.contextCount() >= m.cfg.MaxContextsPerProcess {
			continue
		}
		return p, false
	}
	return nil, canLaunch
}

func (m *Manager) ownedLocked() int {
	n := 0
	for _, p := range m.procs {
		if p.Ownership == PoolOwned {
			n++
		}
	}
	return n
}

func (m *Manager) attachedLocked(endpoint string) *Process {
	for _, p := range m.procs {
		if p.Ownership == ExternallyAttached && p.Endpoint == endpoint && !p.closing {
			return p
		}
	}
	return nil
}

func (m *Manager) processLocked(id string) *Process {
	for _, p := range m.procs {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// retireIfEmptyLocked removes proc from the pool when it holds no contexts.
// It returns true exactly once per process.
func (m *Manager) retireIfEmptyLocked(proc *Process) bool {
	if proc.closing || proc.contextCount() > 0 {
		return false
	}
	proc.closing = true
	for i, p := range m.procs {
		if p == proc {
			m.procs = append(m.procs[:i], m.procs[i+1:]...)
			break
		}
	}
	return true
}

func (m *Manager) openSurface(ctx context.Context, b driver.Browser, viewport *driver.Viewport) (driver.Context, driver.Page, error) {
	c, err := b.NewContext(ctx, driver.ContextOptions{Viewport: viewport})
	if err != nil {
		return nil, nil, err
	}
	page, err := c.NewPage(ctx)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	page.SetDefaultTimeout(m.cfg.ActionTimeout)
	return c, page, nil
}

func (m *Manager) commit(proc *Process, lease *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return browsererr.New(browsererr.GenericAutomationFailure, "browser pool is shut down", nil)
	}
	proc.reserved--
	proc.leases[lease.SessionID] = lease
	m.leases[lease.SessionID] = lease
	delete(m.inflight, lease.SessionID)
	m.reportLocked()
	return nil
}

// abandon rolls back a reservation after a failed acquire or attach.
func (m *Manager) abandon(proc *Process, sessionID string) {
	m.mu.Lock()
	proc.reserved--
	delete(m.inflight, sessionID)
	reclaim := m.retireIfEmptyLocked(proc)
	m.reportLocked()
	m.mu.Unlock()
	if reclaim {
		m.closeProcess(proc)
	}
}

func (m *Manager) closeProcess(proc *Process) {
	if err := proc.browser.Close(); err != nil {
		m.logger.Warn("failed to close browser process", zap.String("process_id", proc.ID), zap.Error(err))
	}
	if proc.Ownership == PoolOwned {
		m.logger.Info("closed browser process", zap.String("process_id", proc.ID))
	} else {
		m.logger.Info("detached external browser", zap.String("process_id", proc.ID), zap.String("endpoint", proc.Endpoint))
	}
}

func (m *Manager) reportLocked() {
	if m.metrics == nil {
		return
	}
	owned, attached, contexts := 0, 0, 0
	for _, p := range m.procs {
		if p.Ownership == PoolOwned {
			owned++
		} else {
			attached++
		}
		contexts += p.contextCount()
	}
	m.metrics.SetProcesses(PoolOwned.String(), owned)
	m.metrics.SetProcesses(ExternallyAttached.String(), attached)
	m.metrics.SetContexts(contexts)
}
