package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/metrics"
)

// DefaultIdleTimeout closes sessions after an hour without activity.
const DefaultIdleTimeout = 60 * time.Minute

// Closer tears a session down through the same path as an explicit close.
// An implementation that finds the session active again returns ErrActive.
type Closer interface {
	CloseSession(ctx context.Context, id string) error
}

// CloserFunc adapts a function to Closer.
type CloserFunc func(ctx context.Context, id string) error

// CloseSession calls f.
func (f CloserFunc) CloseSession(ctx context.Context, id string) error {
	return f(ctx, id)
}

// ReaperState is the reaper's run state.
type ReaperState int

const (
	ReaperStopped ReaperState = iota
	ReaperRunning
)

func (s ReaperState) String() string {
	if s == ReaperRunning {
		return "running"
	}
	return "stopped"
}

// ReaperConfig configures idle eviction.
type ReaperConfig struct {
	// IdleTimeout is how long a session may go without activity.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// Interval between sweeps. Defaults to IdleTimeout.
	Interval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	// CloseTimeout bounds each teardown during a sweep.
	CloseTimeout time.Duration `yaml:"close_timeout" json:"close_timeout"`
}

func (c ReaperConfig) withDefaults() ReaperConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Interval <= 0 {
		c.Interval = c.IdleTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 30 * time.Second
	}
	return c
}

// Reaper periodically closes idle sessions. At most one loop runs at a time.
type Reaper struct {
	registry *Registry
	closer   Closer
	cfg      ReaperConfig
	logger   *zap.Logger
	metrics  *metrics.Collector

	mu     sync.Mutex
	state  ReaperState
	cancel context.CancelFunc
	done   chan struct{}
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperLogger sets the logger.
func WithReaperLogger(l *zap.Logger) ReaperOption {
	return func(r *Reaper) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReaperMetrics sets the metrics collector.
func WithReaperMetrics(c *metrics.Collector) ReaperOption {
	return func(r *Reaper) { r.metrics = c }
}

// NewReaper creates a stopped reaper.
func NewReaper(reg *Registry, closer Closer, cfg ReaperConfig, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		registry: reg,
		closer:   closer,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Component(r.logger, "idle_reaper")
	return r
}

// Config returns the effective configuration.
func (r *Reaper) Config() ReaperConfig {
	return r.cfg
}

// State returns the current run state.
func (r *Reaper) State() ReaperState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches the sweep loop. It returns false without doing anything if
// the loop is already running.
func (r *Reaper) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == ReaperRunning {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = ReaperRunning
	go r.loop(loopCtx, r.done)

	r.logger.Info("idle reaper started",
		zap.Duration("idle_timeout", r.cfg.IdleTimeout),
		zap.Duration("interval", r.cfg.Interval),
	)
	return true
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped reaper
// is a no-op.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if r.state != ReaperRunning {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
}

func (r *Reaper) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.state = ReaperStopped
		r.cancel = nil
		r.mu.Unlock()
		close(done)
		r.logger.Info("idle reaper stopped")
	}()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep closes every session idle past the timeout and returns how many
// were closed. Failures are logged and never returned.
func (r *Reaper) Sweep(ctx context.Context) int {
	r.metrics.IncReaperSweep()

	closed := 0
	for _, id := range r.registry.IdleSince(r.cfg.IdleTimeout) {
		if ctx.Err() != nil {
			break
		}
		// Earlier teardowns can be slow; activity since the snapshot wins.
		if !r.registry.IsIdle(id, r.cfg.IdleTimeout) {
			r.logger.Debug("idle session became active", zap.String("session_id", id))
			continue
		}
		closeCtx, cancel := context.WithTimeout(ctx, r.cfg.CloseTimeout)
		err := r.closer.CloseSession(closeCtx, id)
		cancel()
		if errors.Is(err, ErrActive) {
			r.logger.Debug("idle session became active", zap.String("session_id", id))
			continue
		}
		if err != nil {
			r.logger.Warn("failed to close idle session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		closed++
		r.metrics.IncSessionClosed("idle")
		r.logger.Info("closed idle session", zap.String("session_id", id))
	}
	return closed
}
