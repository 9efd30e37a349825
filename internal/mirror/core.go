package mirror

import (
	"context"
	"time"

	"github.com/nerrad567/osm-bridge/internal/osm"
)

// CoreClient is the part of the OSM client a Core mirror needs.
type CoreClient interface {
	GetCoreState(ctx context.Context) (osm.CoreState, error)
	SetGridMargin(ctx context.Context, value float64) error
	SetSurplusMargin(ctx context.Context, value float64) error
	SetIdlePower(ctx context.Context, value float64) error
}

// Core mirrors the system-wide OSM state.
type Core struct {
	client CoreClient
	opts   options
	cache  cache[osm.CoreState]
}

// NewCore creates an unknown, not-ready core mirror.
func NewCore(client CoreClient, opts ...Option) *Core {
	return &Core{
		client: client,
		opts:   buildOptions(opts),
	}
}

// Refresh fetches the core state and replaces or clears the cached snapshot.
func (c *Core) Refresh(ctx context.Context) {
	seq := c.cache.begin()
	state, err := c.client.GetCoreState(ctx)

	var snap *osm.CoreState
	if err != nil {
		c.opts.logger.Warn("core refresh failed", "error", err)
	} else {
		snap = &state
	}

	if !c.cache.commit(seq, snap) {
		c.opts.logger.Debug("discarding stale core fetch")
		return
	}
	if c.opts.observer != nil {
		c.cache.notify(seq, func() { c.opts.observer.CoreRefreshed(ctx, snap) })
	}
}

// SetGridMargin forwards a grid margin write to OSM.
func (c *Core) SetGridMargin(ctx context.Context, value float64) error {
	return c.client.SetGridMargin(ctx, value)
}

// SetSurplusMargin forwards a surplus margin write to OSM.
func (c *Core) SetSurplusMargin(ctx context.Context, value float64) error {
	return c.client.SetSurplusMargin(ctx, value)
}

// SetIdlePower forwards an idle power write to OSM.
func (c *Core) SetIdlePower(ctx context.Context, value float64) error {
	return c.client.SetIdlePower(ctx, value)
}

// Snapshot returns the cached state; ok is false while unknown.
func (c *Core) Snapshot() (state osm.CoreState, ok bool) {
	return c.cache.load()
}

// Available reports whether a snapshot is cached.
func (c *Core) Available() bool {
	return c.cache.available()
}

// Ready reports whether any refresh has ever succeeded.
func (c *Core) Ready() bool {
	return c.cache.ready.Load()
}

// WaitReady blocks until Ready or ctx ends, checking every interval.
func (c *Core) WaitReady(ctx context.Context, interval time.Duration) error {
	return waitReady(ctx, &c.cache.ready, interval)
}

// Surplus returns the cached surplus in watts.
func (c *Core) Surplus() (float64, bool) {
	s, ok := c.cache.load()
	return s.Surplus, ok
}

// GridMargin returns the cached grid margin in watts.
func (c *Core) GridMargin() (float64, bool) {
	s, ok := c.cache.load()
	return s.GridMargin, ok
}

// SurplusMargin returns the cached surplus margin in watts.
func (c *Core) SurplusMargin() (float64, bool) {
	s, ok := c.cache.load()
	return s.SurplusMargin, ok
}

// IdlePower returns the cached idle power in watts.
func (c *Core) IdlePower() (float64, bool) {
	s, ok := c.cache.load()
	return s.IdlePower, ok
}
