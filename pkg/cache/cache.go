// Package cache memoizes expensive page extraction results per session.
//
// Entries are keyed by session, URL, selector and variant. Each entry records
// the page-state fingerprint it was computed against and is served only while
// it is fresh and that fingerprint still matches.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/metrics"
)

// DefaultExpiry is how long an entry is served after it is stored.
const DefaultExpiry = 5 * time.Minute

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Key identifies a cached payload.
type Key struct {
	SessionID string
	URL       string
	Selector  string
	Variant   string
}

// Hash digests everything but the session id, which stores keep as a
// separate scope for purges.
func (k Key) Hash() string {
	return Fingerprint(k.URL, k.Selector, k.Variant)
}

// Entry is a stored payload.
type Entry struct {
	Payload     []byte    `json:"payload"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store persists entries. Get reports a miss with ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Set(ctx context.Context, key Key, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr" envconfig:"ADDR"`
	Password  string `yaml:"password" json:"-" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" json:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" envconfig:"KEY_PREFIX"`
}

// Config configures the cache.
type Config struct {
	Expiry  time.Duration `yaml:"expiry" json:"expiry" envconfig:"EXPIRY"`
	Backend string        `yaml:"backend" json:"backend" envconfig:"BACKEND"`
	Redis   RedisConfig   `yaml:"redis" json:"redis" envconfig:"REDIS"`
}

// DefaultConfig returns an in-memory cache with a five minute expiry.
func DefaultConfig() Config {
	return Config{
		Expiry:  DefaultExpiry,
		Backend: BackendMemory,
		Redis:   RedisConfig{Addr: "localhost:6379", KeyPrefix: "browserd"},
	}
}

// Validate checks the backend selection.
func (c Config) Validate() error {
	if c.Expiry < 0 {
		return errors.New("cache expiry must not be negative")
	}
	switch c.Backend {
	case "", BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis cache backend requires an address")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Backend)
	}
	return nil
}

// Cache applies expiry and fingerprint rules on top of a Store.
type Cache struct {
	store   Store
	expiry  time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New wraps store. A nil store selects a MemoryStore.
func New(store Store, cfg Config, opts ...Option) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	c := &Cache{
		store:  store,
		expiry: cfg.Expiry,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Component(c.logger, "content_cache")
	return c
}

// Open builds the store selected by cfg.Backend and wraps it.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend != BackendRedis {
		return New(NewMemoryStore(), cfg, opts...), nil
	}
	store, err := NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	return New(store, cfg, opts...), nil
}

// Expiry returns the configured entry lifetime.
func (c *Cache) Expiry() time.Duration {
	return c.expiry
}

// Get returns the payload for key if it is fresh and was computed against
// fingerprint. Stale or mismatched entries are evicted.
func (c *Cache) Get(ctx context.Context, key Key, fingerprint string) ([]byte, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("session_id", key.SessionID), zap.Error(err))
		c.metrics.CacheLookup("error")
		return nil, false
	}
	if !ok {
		c.metrics.CacheLookup("miss")
		return nil, false
	}

	switch {
	case c.now().Sub(entry.StoredAt) > c.expiry:
		c.evict(ctx, key)
		c.metrics.CacheLookup("expired")
		return nil, false
	case entry.Fingerprint != "" && entry.Fingerprint != fingerprint:
		c.evict(ctx, key)
		c.metrics.CacheLookup("stale")
		return nil, false
	}

	c.metrics.CacheLookup("hit")
	return entry.Payload, true
}

// Set stores payload for key, recording fingerprint and the current time.
func (c *Cache) Set(ctx context.Context, key Key, payload []byte, fingerprint string) {
	entry := Entry{Payload: payload, Fingerprint: fingerprint, StoredAt: c.now()}
	if err := c.store.Set(ctx, key, entry, c.expiry); err != nil {
		c.logger.Warn("cache write failed", zap.String("session_id", key.SessionID), zap.Error(err))
	}
}

// InvalidateSession drops every entry scoped to sessionID.
func (c *Cache) InvalidateSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.DeleteSession(ctx, sessionID); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	c.logger.Debug("invalidated session cache", zap.String("session_id", sessionID))
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) evict(ctx context.Context, key Key) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache eviction failed", zap.String("session_id", key.SessionID), zap.Error(err))
	}
}

// Fingerprint returns the hex sha256 of parts joined with "|".
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
