package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntriesPerSession bounds one session's in-memory entries.
const DefaultMaxEntriesPerSession = 256

// MemoryStore keeps entries in process, grouped by session. Cache evicts
// expired entries on read; Set also drops the session's expired entries and
// keeps at most MaxEntriesPerSession, so keys that are never read again do
// not accumulate.
type MemoryStore struct {
	// MaxEntriesPerSession caps entries per session. Zero means
	// DefaultMaxEntriesPerSession.
	MaxEntriesPerSession int

	mu       sync.RWMutex
	sessions map[string]map[string]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[key.SessionID][key.Hash()]
	return entry, ok, nil
}

// Set stores entry. Entry.StoredAt is the reference time for expiring the
// session's other entries.
func (s *MemoryStore) Set(_ context.Context, key Key, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.sessions[key.SessionID]
	if !ok {
		entries = make(map[string]Entry)
		s.sessions[key.SessionID] = entries
	}
	if ttl > 0 {
		for h, e := range entries {
			if entry.StoredAt.Sub(e.StoredAt) > ttl {
				delete(entries, h)
			}
		}
	}
	hash := key.Hash()
	entries[hash] = entry

	limit := s.MaxEntriesPerSession
	if limit <= 0 {
		limit = DefaultMaxEntriesPerSession
	}
	for len(entries) > limit {
		evictOldest(entries, hash)
	}
	return nil
}

// evictOldest removes the entry with the earliest StoredAt, never keep.
func evictOldest(entries map[string]Entry, keep string) {
	var (
		oldest string
		at     time.Time
	)
	for h, e := range entries {
		if h == keep {
			continue
		}
		if oldest == "" || e.StoredAt.Before(at) {
			oldest, at = h, e.StoredAt
		}
	}
	delete(entries, oldest)
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.sessions[key.SessionID]
	if !ok {
		return nil
	}
	delete(entries, key.Hash())
	if len(entries) == 0 {
		delete(s.sessions, key.SessionID)
	}
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of entries held for sessionID.
func (s *MemoryStore) Len(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID])
}

func (s *MemoryStore) Close() error { return nil }
