// Package telemetry fans mirror refresh outcomes out to metrics, snapshot
// history and InfluxDB.
package telemetry

import (
	"context"
	"sync"

	"github.com/nerrad567/osm-bridge/internal/history"
	"github.com/nerrad567/osm-bridge/internal/osm"
)

// Metrics receives every refresh outcome.
type Metrics interface {
	ObserveDevice(name string, s *osm.DeviceState)
	ObserveCore(s *osm.CoreState)
}

// HistoryStore persists changed snapshots.
type HistoryStore interface {
	Record(ctx context.Context, mirror, kind string, payload any) error
}

// PointWriter writes changed snapshots to a time-series store.
type PointWriter interface {
	WriteDeviceSnapshot(s osm.DeviceState)
	WriteCoreSnapshot(s osm.CoreState)
}

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Config wires the recorder's sinks. Any nil sink is skipped.
type Config struct {
	Metrics Metrics
	History HistoryStore
	Points  PointWriter
	Logger  Logger
}

// Recorder implements mirror.Observer.
//
// Metrics are updated on every refresh. History and points are written
// only when the outcome differs from the previous one for that mirror,
// including the transition to unknown.
type Recorder struct {
	cfg Config

	mu      sync.Mutex
	devices map[string]*osm.DeviceState
	core    *osm.CoreState
	seen    bool
}

func NewRecorder(cfg Config) *Recorder {
	return &Recorder{
		cfg:     cfg,
		devices: make(map[string]*osm.DeviceState),
	}
}

// DeviceRefreshed handles a device refresh outcome.
func (r *Recorder) DeviceRefreshed(ctx context.Context, name string, state *osm.DeviceState) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveDevice(name, state)
	}

	r.mu.Lock()
	prev, known := r.devices[name]
	changed := !known || !sameDevice(prev, state)
	if changed {
		r.devices[name] = cloneDevice(state)
	}
	r.mu.Unlock()

	if !changed {
		return
	}

	if state != nil && r.cfg.Points != nil {
		r.cfg.Points.WriteDeviceSnapshot(*state)
	}
	r.record(ctx, name, history.KindDevice, state)
}

// CoreRefreshed handles a core refresh outcome.
func (r *Recorder) CoreRefreshed(ctx context.Context, state *osm.CoreState) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveCore(state)
	}

	r.mu.Lock()
	changed := !r.seen || !sameCore(r.core, state)
	if changed {
		r.seen = true
		r.core = cloneCore(state)
	}
	r.mu.Unlock()

	if !changed {
		return
	}

	if state != nil && r.cfg.Points != nil {
		r.cfg.Points.WriteCoreSnapshot(*state)
	}
	r.record(ctx, history.CoreMirror, history.KindCore, state)
}

func (r *Recorder) record(ctx context.Context, mirror, kind string, state any) {
	if r.cfg.History == nil {
		return
	}

	var payload any
	switch s := state.(type) {
	case *osm.DeviceState:
		if s != nil {
			payload = *s
		}
	case *osm.CoreState:
		if s != nil {
			payload = *s
		}
	}

	if err := r.cfg.History.Record(ctx, mirror, kind, payload); err != nil && r.cfg.Logger != nil {
		r.cfg.Logger.Warn("recording snapshot history failed", "mirror", mirror, "error", err)
	}
}

func sameDevice(a, b *osm.DeviceState) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameCore(a, b *osm.CoreState) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneDevice(s *osm.DeviceState) *osm.DeviceState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneCore(s *osm.CoreState) *osm.CoreState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
