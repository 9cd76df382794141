package cache

import (
	"sync"
	"time"

	"go.uber.org/fx"
)

// Store is a process-local best-effort cache. Entries are derivative state
// only: dropping any entry at any time must never change a caller's result,
// just its latency. A Store must never be used as a lock.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Clear()
}

type entry struct {
	value    any
	expireAt time.Time
}

type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory returns an in-memory Store. Expired entries are dropped lazily
// on read; there is no background sweeper.
func NewMemory() Store {
	return &memoryStore{entries: map[string]entry{}, now: time.Now}
}

func (s *memoryStore) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.now().After(e.expireAt) {
		s.mu.Lock()
		// re-check under write lock, another goroutine may have replaced it
		if cur, ok := s.entries[key]; ok && s.now().After(cur.expireAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (s *memoryStore) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.entries[key] = entry{value: value, expireAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

func (s *memoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *memoryStore) Clear() {
	s.mu.Lock()
	s.entries = map[string]entry{}
	s.mu.Unlock()
}

var Module = fx.Options(
	fx.Provide(NewMemory),
)
