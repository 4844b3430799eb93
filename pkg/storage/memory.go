package storage

import (
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt *time.Time
}

// MemoryStore is the in-memory backend: bounded by an optional max entry
// count, guarded by a single RWMutex.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memEntry
	maxEntries int // 0 = unbounded
	now        func() time.Time
}

// NewMemoryStore returns an empty in-memory store. maxEntries <= 0 means
// unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (s *MemoryStore) expired(e memEntry) bool {
	return e.expiresAt != nil && s.now().After(*e.expiresAt)
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(e) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	return s.SetWithTTL(key, value, 0)
}

func (s *MemoryStore) SetWithTTL(key string, value []byte, ttlSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		return ErrMaxEntries
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt *time.Time
	if ttlSeconds > 0 {
		t := s.now().Add(time.Duration(ttlSeconds) * time.Second)
		expiresAt = &t
	}

	s.entries[key] = memEntry{value: stored, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Exists(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if s.expired(e) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) ListKeys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k, e := range s.entries {
		if s.expired(e) {
			continue
		}
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) GetBatch(keys []string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		e, ok := s.entries[k]
		if !ok {
			continue
		}
		if s.expired(e) {
			delete(s.entries, k)
			continue
		}
		v := make([]byte, len(e.value))
		copy(v, e.value)
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetBatch(entries map[string][]byte) error {
	for k, v := range entries {
		if err := s.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) DeleteBatch(keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) AtomicUpdate(key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, existed := s.entries[key]
	if existed && s.expired(e) {
		existed = false
	}

	next, err := fn(e.value, existed)
	if err != nil {
		return err
	}

	stored := make([]byte, len(next))
	copy(stored, next)
	s.entries[key] = memEntry{value: stored, expiresAt: e.expiresAt}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
