// ABOUTME: Thread-safe TTL cache of recently seen keys with size-bounded eviction
// ABOUTME: Suppresses repeated ephemeral signals such as typing indicators within a window

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// entry is the last time a key was marked and its position in the
// eviction order.
type entry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache remembers keys for a TTL. Once full, the least recently marked key
// is evicted first.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys, least recently marked at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and capacity and starts a
// background sweep of expired keys. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep(sweepInterval(ttl))
	return c
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	return ok && c.now().Sub(e.markedAt) < c.ttl
}

// CheckAndMark reports whether key is still live, marking it only when it
// is not. A steady stream of signals therefore lets one through per TTL.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[key]; ok && now.Sub(e.markedAt) < c.ttl {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Mark records key as seen now.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.now())
}

// Forget drops key so the next CheckAndMark treats it as new.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of keys held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string, now time.Time) {
	if e, ok := c.seen[key]; ok {
		e.markedAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	c.seen[key] = &entry{
		markedAt: now,
		element:  c.order.PushBack(key),
	}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired walks from the front since the order list is sorted by
// mark time.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.seen[key].markedAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return time.Minute
	case ttl < time.Second:
		return time.Second
	case ttl > time.Minute:
		return time.Minute
	default:
		return ttl
	}
}
