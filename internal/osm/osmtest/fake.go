// Package osmtest provides an in-memory OSM client for tests.
package osmtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/osm-bridge/internal/osm"
)

// Fake is a scripted, concurrency-safe stand-in for *osm.Client.
//
// Setters update the stored state, so a refresh after a write observes it
// the way the real service would.
type Fake struct {
	mu sync.Mutex

	devices map[string]osm.DeviceState
	order   []string
	core    osm.CoreState

	healthy   bool
	healthErr error
	listErr   error
	deviceErr map[string]error
	coreErr   error
	setErr    error

	calls  []string
	closes int
}

// NewFake returns a healthy fake with no devices and a zero core state.
func NewFake() *Fake {
	return &Fake{
		devices:   make(map[string]osm.DeviceState),
		deviceErr: make(map[string]error),
		healthy:   true,
	}
}

// AddDevice registers or replaces a device.
func (f *Fake) AddDevice(s osm.DeviceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[s.Name]; !ok {
		f.order = append(f.order, s.Name)
	}
	f.devices[s.Name] = s
}

// SetCore replaces the core state.
func (f *Fake) SetCore(s osm.CoreState) {
	f.mu.Lock()
	f.core = s
	f.mu.Unlock()
}

// SetHealthy controls the health check result.
func (f *Fake) SetHealthy(ok bool, err error) {
	f.mu.Lock()
	f.healthy, f.healthErr = ok, err
	f.mu.Unlock()
}

// FailList makes ListDevices fail with err (nil clears it).
func (f *Fake) FailList(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

// FailDevice makes GetDevice(name) fail with err (nil clears it).
func (f *Fake) FailDevice(name string, err error) {
	f.mu.Lock()
	f.deviceErr[name] = err
	f.mu.Unlock()
}

// FailCore makes GetCoreState fail with err (nil clears it).
func (f *Fake) FailCore(err error) {
	f.mu.Lock()
	f.coreErr = err
	f.mu.Unlock()
}

// FailSetters makes every setter fail with err (nil clears it).
func (f *Fake) FailSetters(err error) {
	f.mu.Lock()
	f.setErr = err
	f.mu.Unlock()
}

// Calls returns every call made so far, oldest first.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CountCalls returns how many recorded calls equal call.
func (f *Fake) CountCalls(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// Closes returns how many times Close was called.
func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *Fake) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// HealthCheck implements the OSM client.
func (f *Fake) HealthCheck(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("health")
	return f.healthy, f.healthErr
}

// ListDevices implements the OSM client.
func (f *Fake) ListDevices(context.Context) ([]osm.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list devices")
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]osm.Device, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, osm.Device{Name: name})
	}
	return out, nil
}

// GetDevice implements the OSM client.
func (f *Fake) GetDevice(_ context.Context, name string) (osm.DeviceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get device %s", name)
	if err := f.deviceErr[name]; err != nil {
		return osm.DeviceState{}, err
	}
	s, ok := f.devices[name]
	if !ok {
		return osm.DeviceState{}, &osm.Error{Op: "get device", StatusCode: 404, Body: "not found"}
	}
	return s, nil
}

// GetCoreState implements the OSM client.
func (f *Fake) GetCoreState(context.Context) (osm.CoreState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get core")
	if f.coreErr != nil {
		return osm.CoreState{}, f.coreErr
	}
	return f.core, nil
}

func (f *Fake) updateDevice(name, field string, value any, apply func(*osm.DeviceState)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set %s %s %v", field, name, value)
	if f.setErr != nil {
		return f.setErr
	}
	s, ok := f.devices[name]
	if !ok {
		return &osm.Error{Op: "set device " + field, StatusCode: 404}
	}
	apply(&s)
	f.devices[name] = s
	return nil
}

// SetDeviceMaxConsumption implements the OSM client.
func (f *Fake) SetDeviceMaxConsumption(_ context.Context, name string, v float64) error {
	return f.updateDevice(name, osm.FieldMaxConsumption, v, func(s *osm.DeviceState) { s.MaxConsumption = v })
}

// SetDeviceExpectedConsumption implements the OSM client.
func (f *Fake) SetDeviceExpectedConsumption(_ context.Context, name string, v float64) error {
	return f.updateDevice(name, osm.FieldExpectedConsumption, v, func(s *osm.DeviceState) { s.ExpectedConsumption = v })
}

// SetDeviceCooldown implements the OSM client.
func (f *Fake) SetDeviceCooldown(_ context.Context, name string, v int) error {
	return f.updateDevice(name, osm.FieldCooldown, v, func(s *osm.DeviceState) { s.Cooldown = v })
}

func (f *Fake) updateCore(field string, v float64, apply func(*osm.CoreState)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set %s %v", field, v)
	if f.setErr != nil {
		return f.setErr
	}
	apply(&f.core)
	return nil
}

// SetGridMargin implements the OSM client.
func (f *Fake) SetGridMargin(_ context.Context, v float64) error {
	return f.updateCore(osm.FieldGridMargin, v, func(s *osm.CoreState) { s.GridMargin = v })
}

// SetSurplusMargin implements the OSM client.
func (f *Fake) SetSurplusMargin(_ context.Context, v float64) error {
	return f.updateCore(osm.FieldSurplusMargin, v, func(s *osm.CoreState) { s.SurplusMargin = v })
}

// SetIdlePower implements the OSM client.
func (f *Fake) SetIdlePower(_ context.Context, v float64) error {
	return f.updateCore(osm.FieldIdlePower, v, func(s *osm.CoreState) { s.IdlePower = v })
}

// Close implements the OSM client.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.record("close")
	if f.closes > 1 {
		return osm.ErrClosed
	}
	return nil
}

// DeviceNames returns the registered device names, sorted.
func (f *Fake) DeviceNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.devices))
	for n := range f.devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Heater is the reference device used across tests.
var Heater = osm.DeviceState{
	Name:                "heater",
	Consumption:         1200.0,
	Powered:             true,
	Enabled:             true,
	MaxConsumption:      2000.0,
	ExpectedConsumption: 1500.0,
	Cooldown:            60,
}

// Core is the reference core state used across tests.
var Core = osm.CoreState{Surplus: 350.5, GridMargin: 50.0, SurplusMargin: 20.0, IdlePower: 80.0}

// NewReference returns a fake holding Heater and Core.
func NewReference() *Fake {
	f := NewFake()
	f.AddDevice(Heater)
	f.SetCore(Core)
	return f
}
