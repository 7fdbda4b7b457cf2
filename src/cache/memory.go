package cache

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMaxEntries = 4096
	defaultTTL        = time.Hour
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
	seq       uint64
}

type queueItem struct {
	key string
	seq uint64
}

// MemoryStore is an in-process TTLStore with a hard entry bound. Expired
// entries are dropped lazily on read and swept on write; when the bound is
// hit the oldest insertion is evicted.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	queue      []queueItem
	maxEntries int
	ttl        time.Duration
	seq        uint64
	now        func() time.Time
}

func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepExpiredLocked()
	if _, exists := s.entries[key]; !exists {
		for len(s.entries) >= s.maxEntries {
			if !s.evictOldestLocked() {
				break
			}
		}
	}

	s.seq++
	s.entries[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl), seq: s.seq}
	s.queue = append(s.queue, queueItem{key: key, seq: s.seq})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
	s.queue = nil
	return nil
}

// Len reports the number of live entries; used by tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepExpiredLocked() {
	now := s.now()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// evictOldestLocked removes the oldest still-live insertion. Queue items
// whose seq no longer matches the live entry are leftovers of a re-set key
// and are skipped.
func (s *MemoryStore) evictOldestLocked() bool {
	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]
		entry, ok := s.entries[item.key]
		if !ok || entry.seq != item.seq {
			continue
		}
		delete(s.entries, item.key)
		return true
	}
	return false
}
