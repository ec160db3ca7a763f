// Package cache holds short-lived in-process caches keyed by secrets that must not be kept
// in clear text, such as authorization codes.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// SecretHashLen is the length of the hashed key (16 hex chars = 64-bit key space).
	SecretHashLen = 16

	// CleanupInterval controls how often stale entries are purged.
	CleanupInterval = 10 * time.Minute
)

type entry[V any] struct {
	value  V
	stored time.Time
}

// groupCache is one bucket, for example one OAuth provider.
type groupCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
}

// TTLCache maps (group, secret) pairs to values that expire ttl after being stored.
// Secrets are only kept as truncated SHA-256 hashes.
type TTLCache[V any] struct {
	ttl    time.Duration
	now    func() time.Time
	groups sync.Map // group -> *groupCache[V]

	stopOnce sync.Once
	stop     chan struct{}
}

// NewTTLCache creates a cache and starts its background purge.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	c := &TTLCache[V]{ttl: ttl, now: time.Now, stop: make(chan struct{})}
	go c.cleanupLoop()
	return c
}

// HashSecret creates a stable key from a secret.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])[:SecretHashLen]
}

func (c *TTLCache[V]) group(name string) *groupCache[V] {
	if val, ok := c.groups.Load(name); ok {
		return val.(*groupCache[V])
	}
	gc := &groupCache[V]{entries: make(map[string]entry[V])}
	actual, _ := c.groups.LoadOrStore(name, gc)
	return actual.(*groupCache[V])
}

// Put stores value for (group, secret).
func (c *TTLCache[V]) Put(group, secret string, value V) {
	gc := c.group(group)
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.entries[HashSecret(secret)] = entry[V]{value: value, stored: c.now()}
}

// Get returns the unexpired value for (group, secret).
func (c *TTLCache[V]) Get(group, secret string) (V, bool) {
	var zero V
	val, ok := c.groups.Load(group)
	if !ok {
		return zero, false
	}
	gc := val.(*groupCache[V])
	key := HashSecret(secret)

	gc.mu.Lock()
	defer gc.mu.Unlock()
	e, exists := gc.entries[key]
	if !exists {
		return zero, false
	}
	if c.now().Sub(e.stored) > c.ttl {
		delete(gc.entries, key)
		return zero, false
	}
	return e.value, true
}

// Clear drops one group, or all groups when group is empty.
func (c *TTLCache[V]) Clear(group string) {
	if group != "" {
		c.groups.Delete(group)
		return
	}
	c.groups.Range(func(key, _ any) bool {
		c.groups.Delete(key)
		return true
	})
}

// Close stops the background purge.
func (c *TTLCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *TTLCache[V]) cleanupLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

// purgeExpired removes expired entries and empty groups.
func (c *TTLCache[V]) purgeExpired() {
	now := c.now()
	c.groups.Range(func(key, value any) bool {
		gc := value.(*groupCache[V])
		gc.mu.Lock()
		for k, e := range gc.entries {
			if now.Sub(e.stored) > c.ttl {
				delete(gc.entries, k)
			}
		}
		isEmpty := len(gc.entries) == 0
		gc.mu.Unlock()
		if isEmpty {
			c.groups.Delete(key)
		}
		return true
	})
}
