package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// memStore is a minimal in-memory Store for exercising the cache layer
// without a real backend.
type memStore struct {
	mu     sync.Mutex
	tables map[string]map[Key]memEntry
	closed bool

	failReads  bool
	failWrites bool
}

type memEntry struct {
	name      string
	value     string
	expiresAt time.Time
}

var errMemStore = errors.New("memstore failure")

func newMemStore() *memStore {
	return &memStore{tables: make(map[string]map[Key]memEntry)}
}

func (s *memStore) Type() string { return "memory" }

func (s *memStore) CreateRepository(ctx context.Context, settings RequestSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tables[settings.Name()]; !ok {
		s.tables[settings.Name()] = make(map[Key]memEntry)
	}
	return nil
}

func (s *memStore) Count(ctx context.Context, settings RequestSettings, includeExpired bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	count := 0
	for _, entry := range s.tables[settings.Name()] {
		if includeExpired || time.Now().Before(entry.expiresAt) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) Contains(ctx context.Context, settings RequestSettings, key Key) (bool, error) {
	_, found, err := s.Get(ctx, settings, key)
	return found, err
}

func (s *memStore) Get(ctx context.Context, settings RequestSettings, key Key) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	if s.failReads {
		return "", false, errMemStore
	}

	entry, ok := s.tables[settings.Name()][key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *memStore) Set(ctx context.Context, settings RequestSettings, key Key, name, value string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.failWrites {
		return errMemStore
	}

	table, ok := s.tables[settings.Name()]
	if !ok {
		table = make(map[Key]memEntry)
		s.tables[settings.Name()] = table
	}
	table[key] = memEntry{name: name, value: value, expiresAt: expiresAt}
	return nil
}

func (s *memStore) Delete(ctx context.Context, settings RequestSettings, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	table := s.tables[settings.Name()]
	if _, ok := table[key]; !ok {
		return false, nil
	}
	delete(table, key)
	return true, nil
}

func (s *memStore) Clear(ctx context.Context, settings RequestSettings, expiredOnly bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	table := s.tables[settings.Name()]
	removed := 0
	for key, entry := range table {
		if expiredOnly && time.Now().Before(entry.expiresAt) {
			continue
		}
		delete(table, key)
		removed++
	}
	return removed, nil
}

func (s *memStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
