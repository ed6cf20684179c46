package kvstore

import (
	"context"
	"sync"
	"time"

	"sentinelgrid/internal/faults"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is the in-process Store used for development and tests, and as the
// fallback when no NATS deployment is configured. Expired entries are
// dropped on read and swept by a janitor goroutine.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryEntry

	subMu  sync.RWMutex
	subs   map[string]map[int]chan Message
	nextID int

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewMemory(cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	m := &Memory{
		items: make(map[string]memoryEntry),
		subs:  make(map[string]map[int]chan Message),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go m.janitor(cleanupInterval)
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, faults.NotFound("key", key)
	}
	if entry.expired(time.Now()) {
		m.mu.Lock()
		if cur, still := m.items[key]; still && cur.expired(time.Now()) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, faults.NotFound("key", key)
	}
	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{data: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Publish(_ context.Context, subject string, data []byte) error {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, ch := range m.subs[subject] {
		select {
		case ch <- Message{Subject: subject, Data: data}:
		default:
			// subscriber is not keeping up; at-most-once, drop
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, subject string) (<-chan Message, func(), error) {
	ch := make(chan Message, 64)
	m.subMu.Lock()
	if m.subs[subject] == nil {
		m.subs[subject] = make(map[int]chan Message)
	}
	id := m.nextID
	m.nextID++
	m.subs[subject][id] = ch
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		if set, ok := m.subs[subject]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}
			if len(set) == 0 {
				delete(m.subs, subject)
			}
		}
		m.subMu.Unlock()
	}
	return ch, cancel, nil
}

func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
	})
	return nil
}

func (m *Memory) janitor(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			m.mu.Lock()
			for key, entry := range m.items {
				if entry.expired(now) {
					delete(m.items, key)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}
