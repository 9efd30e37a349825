package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/osm-bridge/internal/history"
	"github.com/nerrad567/osm-bridge/internal/mirror"
	"github.com/nerrad567/osm-bridge/internal/osm"
	"github.com/nerrad567/osm-bridge/internal/osm/osmtest"
)

var _ mirror.Observer = (*Recorder)(nil)

type record struct {
	mirror    string
	kind      string
	available bool
}

type mockSinks struct {
	mu         sync.Mutex
	devObs     int
	coreObs    int
	records    []record
	devPoints  []osm.DeviceState
	corePoints []osm.CoreState
	recordErr  error
	warnings   int
}

func (m *mockSinks) ObserveDevice(string, *osm.DeviceState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devObs++
}

func (m *mockSinks) ObserveCore(*osm.CoreState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coreObs++
}

func (m *mockSinks) Record(_ context.Context, mirror, kind string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record{mirror: mirror, kind: kind, available: payload != nil})
	return m.recordErr
}

func (m *mockSinks) WriteDeviceSnapshot(s osm.DeviceState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devPoints = append(m.devPoints, s)
}

func (m *mockSinks) WriteCoreSnapshot(s osm.CoreState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corePoints = append(m.corePoints, s)
}

func (m *mockSinks) Warn(string, ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings++
}

func newRecorder() (*Recorder, *mockSinks) {
	sinks := &mockSinks{}
	return NewRecorder(Config{Metrics: sinks, History: sinks, Points: sinks, Logger: sinks}), sinks
}

func TestRecorder_DeviceChangeDetection(t *testing.T) {
	r, sinks := newRecorder()
	ctx := context.Background()
	heater := osmtest.Heater

	r.DeviceRefreshed(ctx, "heater", &heater)
	r.DeviceRefreshed(ctx, "heater", &heater)
	changed := heater
	changed.Consumption = 900
	r.DeviceRefreshed(ctx, "heater", &changed)
	r.DeviceRefreshed(ctx, "heater", nil)
	r.DeviceRefreshed(ctx, "heater", nil)

	if sinks.devObs != 5 {
		t.Errorf("metric observations = %d, want 5", sinks.devObs)
	}
	want := []record{
		{mirror: "heater", kind: history.KindDevice, available: true},
		{mirror: "heater", kind: history.KindDevice, available: true},
		{mirror: "heater", kind: history.KindDevice, available: false},
	}
	if len(sinks.records) != len(want) {
		t.Fatalf("records = %+v, want %+v", sinks.records, want)
	}
	for i := range want {
		if sinks.records[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, sinks.records[i], want[i])
		}
	}
	if len(sinks.devPoints) != 2 || sinks.devPoints[1].Consumption != 900 {
		t.Errorf("points = %+v, want two with the change last", sinks.devPoints)
	}
}

func TestRecorder_DevicesTrackedSeparately(t *testing.T) {
	r, sinks := newRecorder()
	ctx := context.Background()
	heater := osmtest.Heater
	pump := osmtest.Heater
	pump.Name = "pool pump"

	r.DeviceRefreshed(ctx, "heater", &heater)
	r.DeviceRefreshed(ctx, "pool pump", &pump)

	if len(sinks.records) != 2 {
		t.Errorf("records = %d, want 2", len(sinks.records))
	}
}

func TestRecorder_CoreChangeDetection(t *testing.T) {
	r, sinks := newRecorder()
	ctx := context.Background()
	core := osmtest.Core

	// The first outcome is always recorded, even when unknown.
	r.CoreRefreshed(ctx, nil)
	r.CoreRefreshed(ctx, &core)
	r.CoreRefreshed(ctx, &core)

	if sinks.coreObs != 3 {
		t.Errorf("metric observations = %d, want 3", sinks.coreObs)
	}
	if len(sinks.records) != 2 || sinks.records[0].available || !sinks.records[1].available {
		t.Errorf("records = %+v", sinks.records)
	}
	if len(sinks.corePoints) != 1 {
		t.Errorf("points = %d, want 1", len(sinks.corePoints))
	}
	if sinks.records[1].mirror != history.CoreMirror || sinks.records[1].kind != history.KindCore {
		t.Errorf("core record = %+v", sinks.records[1])
	}
}

func TestRecorder_HistoryErrorLogged(t *testing.T) {
	r, sinks := newRecorder()
	sinks.recordErr = errors.New("disk full")
	core := osmtest.Core

	r.CoreRefreshed(context.Background(), &core)

	if sinks.warnings != 1 {
		t.Errorf("warnings = %d, want 1", sinks.warnings)
	}
}

func TestRecorder_NilSinks(t *testing.T) {
	r := NewRecorder(Config{})
	heater := osmtest.Heater
	core := osmtest.Core

	r.DeviceRefreshed(context.Background(), "heater", &heater)
	r.CoreRefreshed(context.Background(), &core)
}

func TestRecorder_WithMirror(t *testing.T) {
	r, sinks := newRecorder()
	fake := osmtest.NewReference()
	d := mirror.NewDevice("heater", fake, mirror.WithObserver(r))

	d.Refresh(context.Background())
	fake.FailDevice("heater", errors.New("down"))
	d.Refresh(context.Background())

	if len(sinks.records) != 2 || sinks.records[1].available {
		t.Errorf("records = %+v", sinks.records)
	}
}
