package cache

import (
	"sync"
	"time"
)

// MemCache is an in-process cache where every entry expires. Expired
// entries are invisible to Get and are swept by a background goroutine
// when NewMemCache is given a positive cleanupInterval.
type MemCache[V any] struct {
	mu    sync.RWMutex
	items map[string]item[V]
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// NewMemCache creates a cache whose entries live for ttl.
func NewMemCache[V any](ttl, cleanupInterval time.Duration) *MemCache[V] {
	m := &MemCache[V]{
		items: make(map[string]item[V]),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		m.wg.Add(1)
		go func() {
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()
			defer m.wg.Done()
			for {
				select {
				case <-ticker.C:
					m.cleanup()
				case <-m.stop:
					return
				}
			}
		}()
	}
	return m
}

func (m *MemCache[V]) Set(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = item[V]{
		value:     value,
		expiresAt: m.now().Add(m.ttl),
	}
}

func (m *MemCache[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()

	var zero V
	if !ok || m.expired(it) {
		return zero, false
	}
	return it.value, true
}

func (m *MemCache[V]) Close() {
	m.once.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

func (m *MemCache[V]) expired(it item[V]) bool {
	return !m.now().Before(it.expiresAt)
}

func (m *MemCache[V]) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, it := range m.items {
		if m.expired(it) {
			delete(m.items, k)
		}
	}
}
