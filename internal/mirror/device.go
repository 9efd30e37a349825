package mirror

import (
	"context"
	"time"

	"github.com/nerrad567/osm-bridge/internal/osm"
)

// DeviceClient is the part of the OSM client a Device mirror needs.
type DeviceClient interface {
	GetDevice(ctx context.Context, name string) (osm.DeviceState, error)
	SetDeviceMaxConsumption(ctx context.Context, name string, value float64) error
	SetDeviceExpectedConsumption(ctx context.Context, name string, value float64) error
	SetDeviceCooldown(ctx context.Context, name string, seconds int) error
}

// Device mirrors the state of one OSM device.
type Device struct {
	name   string
	client DeviceClient
	opts   options
	cache  cache[osm.DeviceState]
}

// NewDevice creates an unknown, not-ready mirror for the named device.
func NewDevice(name string, client DeviceClient, opts ...Option) *Device {
	return &Device{
		name:   name,
		client: client,
		opts:   buildOptions(opts),
	}
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Refresh fetches the device and replaces or clears the cached snapshot.
func (d *Device) Refresh(ctx context.Context) {
	seq := d.cache.begin()
	state, err := d.client.GetDevice(ctx, d.name)

	var snap *osm.DeviceState
	if err != nil {
		d.opts.logger.Warn("device refresh failed", "device", d.name, "error", err)
	} else {
		snap = &state
	}

	if !d.cache.commit(seq, snap) {
		d.opts.logger.Debug("discarding stale device fetch", "device", d.name)
		return
	}
	if d.opts.observer != nil {
		d.cache.notify(seq, func() { d.opts.observer.DeviceRefreshed(ctx, d.name, snap) })
	}
}

// SetMaxConsumption forwards a max consumption write to OSM.
func (d *Device) SetMaxConsumption(ctx context.Context, value float64) error {
	return d.client.SetDeviceMaxConsumption(ctx, d.name, value)
}

// SetExpectedConsumption forwards an expected consumption write to OSM.
func (d *Device) SetExpectedConsumption(ctx context.Context, value float64) error {
	return d.client.SetDeviceExpectedConsumption(ctx, d.name, value)
}

// SetCooldown forwards a cooldown write (seconds) to OSM.
func (d *Device) SetCooldown(ctx context.Context, seconds int) error {
	return d.client.SetDeviceCooldown(ctx, d.name, seconds)
}

// Snapshot returns the cached state; ok is false while unknown.
func (d *Device) Snapshot() (state osm.DeviceState, ok bool) {
	return d.cache.load()
}

// Available reports whether a snapshot is cached.
func (d *Device) Available() bool {
	return d.cache.available()
}

// Ready reports whether any refresh has ever succeeded.
func (d *Device) Ready() bool {
	return d.cache.ready.Load()
}

// WaitReady blocks until Ready or ctx ends, checking every interval.
func (d *Device) WaitReady(ctx context.Context, interval time.Duration) error {
	return waitReady(ctx, &d.cache.ready, interval)
}

// Consumption returns the cached consumption in watts.
func (d *Device) Consumption() (float64, bool) {
	s, ok := d.cache.load()
	return s.Consumption, ok
}

// Powered returns whether the device is currently drawing power.
func (d *Device) Powered() (bool, bool) {
	s, ok := d.cache.load()
	return s.Powered, ok
}

// Enabled returns whether OSM may control the device.
func (d *Device) Enabled() (bool, bool) {
	s, ok := d.cache.load()
	return s.Enabled, ok
}

// MaxConsumption returns the cached maximum consumption in watts.
func (d *Device) MaxConsumption() (float64, bool) {
	s, ok := d.cache.load()
	return s.MaxConsumption, ok
}

// ExpectedConsumption returns the cached expected consumption in watts.
func (d *Device) ExpectedConsumption() (float64, bool) {
	s, ok := d.cache.load()
	return s.ExpectedConsumption, ok
}

// Cooldown returns the cached cooldown in seconds.
func (d *Device) Cooldown() (int, bool) {
	s, ok := d.cache.load()
	return s.Cooldown, ok
}
