package mirror

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReadyInterval is the delay between readiness checks in WaitReady.
const DefaultReadyInterval = time.Second

// Logger is the logging interface used by mirrors.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// cache is the snapshot holder shared by Device and Core.
//
// snap is nil while unknown. seq numbers each fetch as it starts; applied is
// the sequence of the fetch whose result is currently cached (or cleared).
type cache[T any] struct {
	mu      sync.RWMutex
	snap    *T
	applied uint64

	seq   atomic.Uint64
	ready atomic.Bool

	// notifyMu serialises observer callbacks; notified is the newest
	// sequence reported so far.
	notifyMu sync.Mutex
	notified uint64
}

// begin reserves a sequence number for a fetch about to start.
func (c *cache[T]) begin() uint64 {
	return c.seq.Add(1)
}

// commit stores the outcome of fetch seq. A nil snap clears the cache.
// It reports false when a newer fetch has already been applied. Any
// successful fetch marks the cache ready, stale or not.
func (c *cache[T]) commit(seq uint64, snap *T) bool {
	if snap != nil {
		c.ready.Store(true)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq < c.applied {
		return false
	}
	c.applied = seq
	c.snap = snap
	return true
}

// notify runs fn for committed fetch seq unless a newer fetch has already
// been reported. Callbacks never run concurrently for one cache.
func (c *cache[T]) notify(seq uint64, fn func()) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if seq < c.notified {
		return false
	}
	c.notified = seq
	fn()
	return true
}

// load returns a copy of the cached snapshot.
func (c *cache[T]) load() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snap == nil {
		var zero T
		return zero, false
	}
	return *c.snap, true
}

func (c *cache[T]) available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap != nil
}

// waitReady polls ready every interval until it is set or ctx ends.
func waitReady(ctx context.Context, ready *atomic.Bool, interval time.Duration) error {
	if ready.Load() {
		return nil
	}
	if interval <= 0 {
		interval = DefaultReadyInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ready.Load() {
				return nil
			}
		}
	}
}
