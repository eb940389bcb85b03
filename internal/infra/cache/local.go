package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is one local-tier cache record.
type entry struct {
	key       string
	value     string
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// Local is a bounded in-process LRU cache with per-entry TTL.
//
// Expired entries stop being served by Get but stay resident until evicted
// at capacity, so GetStale can still satisfy degraded reads.
type Local struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element

	now func() time.Time
}

// NewLocal creates a local tier holding at most capacity entries.
func NewLocal(capacity int) *Local {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Local{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// SetClock replaces the wall clock, for tests.
func (l *Local) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Get returns the fresh value for key. Expired entries are a miss.
func (l *Local) Get(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return "", false
	}
	e := el.Value.(*entry)
	if e.expired(l.now()) {
		return "", false
	}
	l.order.MoveToFront(el)
	return e.value, true
}

// GetStale returns the value for key regardless of TTL. Supports the
// degraded-read path when every provider is down.
func (l *Local) GetStale(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return "", false
	}
	l.order.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// Set stores the value, evicting the least recently used entry at capacity.
func (l *Local) Set(key, value string, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if el, ok := l.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.createdAt = now
		e.ttl = ttl
		l.order.MoveToFront(el)
		return
	}

	// Prefer reclaiming an expired slot over evicting a live one.
	if l.order.Len() >= l.capacity {
		l.evict()
	}

	el := l.order.PushFront(&entry{key: key, value: value, createdAt: now, ttl: ttl})
	l.items[key] = el
}

// Delete removes one key. Idempotent.
func (l *Local) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		l.order.Remove(el)
		delete(l.items, key)
	}
}

// DeletePrefix removes every key with the given prefix and reports how many
// were dropped.
func (l *Local) DeletePrefix(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for el := l.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if len(e.key) >= len(prefix) && e.key[:len(prefix)] == prefix {
			l.order.Remove(el)
			delete(l.items, e.key)
			dropped++
		}
		el = next
	}
	return dropped
}

// Len reports resident entries, expired ones included.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

func (l *Local) evict() {
	now := l.now()

	// Scan from the back (least recently used) for an expired entry first.
	for el := l.order.Back(); el != nil; el = el.Prev() {
		if el.Value.(*entry).expired(now) {
			delete(l.items, el.Value.(*entry).key)
			l.order.Remove(el)
			return
		}
	}

	if el := l.order.Back(); el != nil {
		delete(l.items, el.Value.(*entry).key)
		l.order.Remove(el)
	}
}
