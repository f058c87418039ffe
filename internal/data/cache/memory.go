package cache

import (
	"sync"
	"time"
)

// Memory is the in-process backend
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemory creates an empty in-process cache
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates an in-process cache driven by the given clock
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     now,
		stopCh:  make(chan struct{}),
	}
}

// Get returns a live entry. An expired entry is removed and reported absent.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expires) {
		m.expire(key)
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

// expire deletes key only if it is still expired; a concurrent Set wins
func (m *Memory) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && !m.now().Before(e.expires) {
		delete(m.entries, key)
	}
}

// Set replaces the entry for key
func (m *Memory) Set(key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	e := memoryEntry{
		value:   append([]byte(nil), val...),
		expires: m.now().Add(ttl),
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

// Delete removes key
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Exists reports whether key holds a live entry
func (m *Memory) Exists(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Clear drops every entry
func (m *Memory) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
}

// Len returns the number of stored entries, expired or not
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StartJanitor removes expired entries every interval until Stop is called
func (m *Memory) StartJanitor(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.removeExpired()
			}
		}
	}()
}

// Stop shuts down the janitor. It is safe to call more than once.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Memory) removeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}
