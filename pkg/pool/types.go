package pool

import (
	"time"

	"github.com/entrhq/browserd/pkg/driver"
)

// Ownership records who controls a browser process's lifetime.
type Ownership int

const (
	// PoolOwned processes are launched and terminated by the Manager.
	PoolOwned Ownership = iota
	// ExternallyAttached processes belong to the caller and are never terminated.
	ExternallyAttached
)

func (o Ownership) String() string {
	if o == ExternallyAttached {
		return "externally-attached"
	}
	return "pool-owned"
}

// Default pool configuration values.
const (
	DefaultMaxProcesses          = 2
	DefaultMaxContextsPerProcess = 10
	DefaultActionTimeout         = 30 * time.Second
	DefaultViewportWidth         = 1280
	DefaultViewportHeight        = 720
)

// Config bounds the pool.
type Config struct {
	MaxProcesses          int             `yaml:"max_processes" json:"max_processes"`
	MaxContextsPerProcess int             `yaml:"max_contexts_per_process" json:"max_contexts_per_process"`
	Headless              bool            `yaml:"headless" json:"headless"`
	DefaultFlavor         string          `yaml:"browser_type" json:"browser_type"`
	Viewport              driver.Viewport `yaml:"viewport" json:"viewport"`
	ActionTimeout         time.Duration   `yaml:"action_timeout" json:"action_timeout"`
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxProcesses:          DefaultMaxProcesses,
		MaxContextsPerProcess: DefaultMaxContextsPerProcess,
		Headless:              true,
		DefaultFlavor:         driver.Chromium,
		Viewport:              driver.Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		ActionTimeout:         DefaultActionTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = d.MaxProcesses
	}
	if c.MaxContextsPerProcess <= 0 {
		c.MaxContextsPerProcess = d.MaxContextsPerProcess
	}
	if c.DefaultFlavor == "" {
		c.DefaultFlavor = d.DefaultFlavor
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport = d.Viewport
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d.ActionTimeout
	}
	return c
}

// Placement describes where a new session should live.
type Placement struct {
	SessionID string
	Flavor    string
	// Headless overrides the pool default when set.
	Headless *bool
	Viewport *driver.Viewport
}

// Process is one browser process tracked by the pool.
type Process struct {
	ID        string
	Flavor    string
	Headless  bool
	Ownership Ownership
	Endpoint  string
	CreatedAt time.Time

	browser driver.Browser
	leases  map[string]*Lease
	// reserved counts context slots claimed by in-flight acquires.
	reserved int
	closing  bool
}

func (p *Process) contextCount() int {
	return len(p.leases) + p.reserved
}

// Lease binds one session to its context and page.
type Lease struct {
	SessionID  string
	ProcessID  string
	Ownership  Ownership
	Flavor     string
	Headless   bool
	Endpoint   string
	Viewport   *driver.Viewport
	AcquiredAt time.Time

	Context driver.Context
	Page    driver.Page

	// ownsPage is false when an attach reused a page the caller already had open.
	ownsPage bool
}

// ProcessInfo is a read-only view of a Process.
type ProcessInfo struct {
	ID        string    `json:"id"`
	Flavor    string    `json:"browser_type"`
	Headless  bool      `json:"headless"`
	Ownership string    `json:"ownership"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Contexts  int       `json:"contexts"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes pool occupancy.
type Stats struct {
	Processes             int           `json:"processes"`
	PendingProcesses      int           `json:"pending_processes"`
	AttachedProcesses     int           `json:"attached_processes"`
	Contexts              int           `json:"contexts"`
	Leases                int           `json:"leases"`
	MaxProcesses          int           `json:"max_processes"`
	MaxContextsPerProcess int           `json:"max_contexts_per_process"`
	Details               []ProcessInfo `json:"details"`
}
