package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedProber memoizes probe answers for a fixed TTL.
// Concurrent probes for the same filter share one engine invocation.
type CachedProber struct {
	Engine

	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]probeEntry
}

type probeEntry struct {
	supported bool
	expires   time.Time
}

// WithProbeCache wraps e so SupportsFilter answers are reused for ttl.
// A non-positive ttl returns e unchanged.
func WithProbeCache(e Engine, ttl time.Duration) Engine {
	if ttl <= 0 {
		return e
	}
	return &CachedProber{
		Engine:  e,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]probeEntry),
	}
}

// SupportsFilter returns the cached answer or probes the wrapped engine.
func (c *CachedProber) SupportsFilter(ctx context.Context, name string) bool {
	c.mu.Lock()
	entry, ok := c.entries[name]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expires) {
		return entry.supported
	}

	v, _, _ := c.group.Do(name, func() (any, error) {
		// Detached so one caller's cancellation does not poison the shared answer.
		supported := c.Engine.SupportsFilter(context.WithoutCancel(ctx), name)
		c.mu.Lock()
		c.entries[name] = probeEntry{supported: supported, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return supported, nil
	})
	return v.(bool)
}
