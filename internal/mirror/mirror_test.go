package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/osm-bridge/internal/osm"
)

var errUnreachable = &osm.Error{Op: "get device", Err: errors.New("connection refused")}

var heater = osm.DeviceState{
	Name:                "heater",
	Consumption:         1200.0,
	Powered:             true,
	Enabled:             true,
	MaxConsumption:      2000.0,
	ExpectedConsumption: 1500.0,
	Cooldown:            60,
}

var coreState = osm.CoreState{Surplus: 350.5, GridMargin: 50.0, SurplusMargin: 20.0, IdlePower: 80.0}

// MockClient is a scripted OSM client recording every call.
type MockClient struct {
	mu      sync.Mutex
	devices map[string]osm.DeviceState
	devErr  map[string]error
	core    osm.CoreState
	coreErr error
	setErr  error
	calls   []string

	// gate, when set, is called before GetDevice returns.
	gate func(call int)
	gets int
}

func NewMockClient() *MockClient {
	return &MockClient{
		devices: map[string]osm.DeviceState{"heater": heater},
		devErr:  map[string]error{},
		core:    coreState,
	}
}

func (m *MockClient) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockClient) SetDevice(name string, s osm.DeviceState) {
	m.mu.Lock()
	m.devices[name] = s
	m.mu.Unlock()
}

func (m *MockClient) SetDeviceError(name string, err error) {
	m.mu.Lock()
	m.devErr[name] = err
	m.mu.Unlock()
}

func (m *MockClient) SetCoreError(err error) {
	m.mu.Lock()
	m.coreErr = err
	m.mu.Unlock()
}

func (m *MockClient) GetDevice(_ context.Context, name string) (osm.DeviceState, error) {
	m.record("get device " + name)

	m.mu.Lock()
	m.gets++
	call := m.gets
	s, ok := m.devices[name]
	err := m.devErr[name]
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		gate(call)
	}
	if err != nil {
		return osm.DeviceState{}, err
	}
	if !ok {
		return osm.DeviceState{}, &osm.Error{Op: "get device", StatusCode: 404}
	}
	return s, nil
}

func (m *MockClient) SetDeviceMaxConsumption(_ context.Context, name string, v float64) error {
	m.record(fmt.Sprintf("set max_consumption %s %v", name, v))
	return m.setErr
}

func (m *MockClient) SetDeviceExpectedConsumption(_ context.Context, name string, v float64) error {
	m.record(fmt.Sprintf("set expected_consumption %s %v", name, v))
	return m.setErr
}

func (m *MockClient) SetDeviceCooldown(_ context.Context, name string, v int) error {
	m.record(fmt.Sprintf("set cooldown %s %d", name, v))
	return m.setErr
}

func (m *MockClient) GetCoreState(context.Context) (osm.CoreState, error) {
	m.record("get core")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coreErr != nil {
		return osm.CoreState{}, m.coreErr
	}
	return m.core, nil
}

func (m *MockClient) SetGridMargin(_ context.Context, v float64) error {
	m.record(fmt.Sprintf("set grid_margin %v", v))
	return m.setErr
}

func (m *MockClient) SetSurplusMargin(_ context.Context, v float64) error {
	m.record(fmt.Sprintf("set surplus_margin %v", v))
	return m.setErr
}

func (m *MockClient) SetIdlePower(_ context.Context, v float64) error {
	m.record(fmt.Sprintf("set idle_power %v", v))
	return m.setErr
}

// assertDeviceConsistent checks that the six fields are all known or all unknown.
func assertDeviceConsistent(t *testing.T, d *Device) {
	t.Helper()

	_, a := d.Consumption()
	_, b := d.Powered()
	_, c := d.Enabled()
	_, e := d.MaxConsumption()
	_, f := d.ExpectedConsumption()
	_, g := d.Cooldown()
	if !(a == b && b == c && c == e && e == f && f == g) {
		t.Fatalf("partial snapshot: %v %v %v %v %v %v", a, b, c, e, f, g)
	}
	if a != d.Available() {
		t.Fatalf("Available() = %v disagrees with fields (%v)", d.Available(), a)
	}
}

func TestDevice_InitiallyUnknown(t *testing.T) {
	d := NewDevice("heater", NewMockClient())

	if d.Available() || d.Ready() {
		t.Fatalf("new mirror Available=%v Ready=%v, want false/false", d.Available(), d.Ready())
	}
	if _, ok := d.Snapshot(); ok {
		t.Error("Snapshot() ok = true before any refresh")
	}
	assertDeviceConsistent(t, d)
}

func TestDevice_HeaterScenario(t *testing.T) {
	client := NewMockClient()
	d := NewDevice("heater", client)
	ctx := context.Background()

	d.Refresh(ctx)

	if got, ok := d.Consumption(); !ok || got != 1200.0 {
		t.Errorf("Consumption() = %v, %v", got, ok)
	}
	if got, ok := d.Powered(); !ok || !got {
		t.Errorf("Powered() = %v, %v", got, ok)
	}
	if got, ok := d.Enabled(); !ok || !got {
		t.Errorf("Enabled() = %v, %v", got, ok)
	}
	if got, ok := d.MaxConsumption(); !ok || got != 2000.0 {
		t.Errorf("MaxConsumption() = %v, %v", got, ok)
	}
	if got, ok := d.ExpectedConsumption(); !ok || got != 1500.0 {
		t.Errorf("ExpectedConsumption() = %v, %v", got, ok)
	}
	if got, ok := d.Cooldown(); !ok || got != 60 {
		t.Errorf("Cooldown() = %v, %v", got, ok)
	}
	if !d.Available() {
		t.Error("Available() = false after successful refresh")
	}

	client.SetDeviceError("heater", errUnreachable)
	d.Refresh(ctx)

	if d.Available() {
		t.Error("Available() = true after failed refresh")
	}
	assertDeviceConsistent(t, d)
	if _, ok := d.Cooldown(); ok {
		t.Error("Cooldown() still known after failed refresh")
	}
}

func TestDevice_ReadinessMonotonic(t *testing.T) {
	client := NewMockClient()
	client.SetDeviceError("heater", errUnreachable)
	d := NewDevice("heater", client)
	ctx := context.Background()

	d.Refresh(ctx)
	if d.Ready() {
		t.Fatal("Ready() = true after only failed refreshes")
	}

	client.SetDeviceError("heater", nil)
	d.Refresh(ctx)
	if !d.Ready() {
		t.Fatal("Ready() = false after successful refresh")
	}

	client.SetDeviceError("heater", errUnreachable)
	d.Refresh(ctx)
	if !d.Ready() {
		t.Error("Ready() reverted to false after a later failure")
	}
	if d.Available() {
		t.Error("Available() = true after failure")
	}
}

func TestDevice_IdempotentRefresh(t *testing.T) {
	client := NewMockClient()
	d := NewDevice("heater", client)
	ctx := context.Background()

	d.Refresh(ctx)
	first, _ := d.Snapshot()
	d.Refresh(ctx)
	second, _ := d.Snapshot()

	if first != second {
		t.Errorf("snapshots differ: %+v vs %+v", first, second)
	}
	if n := len(client.Calls()); n != 2 {
		t.Errorf("client calls = %d, want 2 (no dedup window)", n)
	}
}

func TestDevice_AlwaysRefetches(t *testing.T) {
	client := NewMockClient()
	d := NewDevice("heater", client)
	ctx := context.Background()

	d.Refresh(ctx)
	updated := heater
	updated.Consumption = 800
	client.SetDevice("heater", updated)
	d.Refresh(ctx)

	if got, _ := d.Consumption(); got != 800 {
		t.Errorf("Consumption() = %v, want 800 after re-fetch", got)
	}
}

func TestDevice_SettersPassThrough(t *testing.T) {
	client := NewMockClient()
	d := NewDevice("heater", client)
	ctx := context.Background()
	d.Refresh(ctx)

	if err := d.SetCooldown(ctx, 30); err != nil {
		t.Fatalf("SetCooldown() error = %v", err)
	}
	if err := d.SetMaxConsumption(ctx, 2500); err != nil {
		t.Fatalf("SetMaxConsumption() error = %v", err)
	}
	if err := d.SetExpectedConsumption(ctx, 900); err != nil {
		t.Fatalf("SetExpectedConsumption() error = %v", err)
	}

	want := []string{
		"get device heater",
		"set cooldown heater 30",
		"set max_consumption heater 2500",
		"set expected_consumption heater 900",
	}
	got := client.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}

	// The cache is untouched until the next refresh.
	if v, _ := d.Cooldown(); v != 60 {
		t.Errorf("Cooldown() = %d after set, want cached 60", v)
	}
	if v, _ := d.MaxConsumption(); v != 2000 {
		t.Errorf("MaxConsumption() = %v after set, want cached 2000", v)
	}
}

func TestDevice_SetterErrorPropagates(t *testing.T) {
	client := NewMockClient()
	client.setErr = &osm.Error{Op: "set device cooldown", StatusCode: 500}
	d := NewDevice("heater", client)

	err := d.SetCooldown(context.Background(), 30)
	if !errors.Is(err, osm.ErrClient) {
		t.Errorf("SetCooldown() error = %v, want ErrClient", err)
	}
}

func TestDevice_FailureIsolation(t *testing.T) {
	client := NewMockClient()
	other := heater
	other.Name = "pool pump"
	client.SetDevice("pool pump", other)

	h := NewDevice("heater", client)
	p := NewDevice("pool pump", client)
	core := NewCore(client)
	ctx := context.Background()

	h.Refresh(ctx)
	p.Refresh(ctx)
	core.Refresh(ctx)

	client.SetDeviceError("heater", errUnreachable)
	h.Refresh(ctx)
	p.Refresh(ctx)
	core.Refresh(ctx)

	if h.Available() {
		t.Error("heater should be unknown after its fetch failed")
	}
	if !p.Available() {
		t.Error("pool pump should stay available")
	}
	if !core.Available() {
		t.Error("core should stay available")
	}
}

func TestDevice_WaitReady(t *testing.T) {
	client := NewMockClient()
	d := NewDevice("heater", client)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := d.WaitReady(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitReady() before refresh error = %v, want DeadlineExceeded", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- d.WaitReady(context.Background(), 5*time.Millisecond)
	}()

	time.Sleep(20 * time.Millisecond)
	d.Refresh(context.Background())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitReady() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitReady() did not return after first successful refresh")
	}

	// Already ready: returns immediately even with a cancelled context.
	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := d.WaitReady(cancelled, time.Hour); err != nil {
		t.Errorf("WaitReady() on ready mirror error = %v", err)
	}
}

func TestDevice_ConcurrentRefreshKeepsSnapshotWhole(t *testing.T) {
	client := NewMockClient()
	d := NewDevice("heater", client)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers check the invariant while writers alternate success and failure.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s, ok := d.Snapshot()
				if ok && s != heater {
					t.Errorf("torn snapshot %+v", s)
					return
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for w := 0; w < 8; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 50; i++ {
				if (i+w)%3 == 0 {
					client.SetDeviceError("heater", errUnreachable)
				} else {
					client.SetDeviceError("heater", nil)
				}
				d.Refresh(ctx)
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	assertDeviceConsistent(t, d)
}

func TestDevice_StaleFetchDiscarded(t *testing.T) {
	client := NewMockClient()
	release := make(chan struct{})
	firstStarted := make(chan struct{})
	client.gate = func(call int) {
		if call == 1 {
			close(firstStarted)
			<-release
		}
	}
	d := NewDevice("heater", client)
	ctx := context.Background()

	// The first fetch starts, then stalls.
	done := make(chan struct{})
	go func() {
		d.Refresh(ctx)
		close(done)
	}()
	<-firstStarted

	// A later fetch fails and completes first.
	client.SetDeviceError("heater", errUnreachable)
	d.Refresh(ctx)
	if d.Available() {
		t.Fatal("Available() = true after newer failed fetch")
	}

	// The older fetch read a good snapshot before stalling; its success
	// must not override the newer outcome.
	close(release)
	<-done

	if d.Available() {
		t.Error("stale fetch overwrote a newer result")
	}
	if !d.Ready() {
		t.Error("Ready() = false after a successful fetch")
	}
	if err := d.WaitReady(ctx, time.Millisecond); err != nil {
		t.Errorf("WaitReady() error = %v", err)
	}
}

func TestCache_NotifyDropsOlderSequence(t *testing.T) {
	var c cache[osm.CoreState]
	var got []uint64
	report := func(seq uint64) func() {
		return func() { got = append(got, seq) }
	}

	if !c.notify(2, report(2)) {
		t.Fatal("notify(2) dropped on empty cache")
	}
	if c.notify(1, report(1)) {
		t.Error("notify(1) ran after seq 2 was reported")
	}
	if !c.notify(3, report(3)) {
		t.Error("notify(3) dropped")
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("reported = %v, want [2 3]", got)
	}
}

func TestObserver_StaleNotificationDropped(t *testing.T) {
	client := NewMockClient()
	obs := &recordingObserver{}
	d := NewDevice("heater", client, WithObserver(obs))

	// Simulates two committed fetches whose callbacks race: seq 2 reports
	// first, so the late seq 1 callback must be skipped.
	first := d.cache.begin()
	second := d.cache.begin()
	good := heater
	d.cache.commit(first, &good)
	d.cache.commit(second, nil)
	d.cache.notify(second, func() { obs.DeviceRefreshed(context.Background(), "heater", nil) })
	d.cache.notify(first, func() { obs.DeviceRefreshed(context.Background(), "heater", &good) })

	if len(obs.devices) != 1 || obs.devices[0] != nil {
		t.Errorf("device notifications = %v, want [nil]", obs.devices)
	}

	// A regular refresh after the race is still reported.
	client.SetDeviceError("heater", nil)
	d.Refresh(context.Background())
	if len(obs.devices) != 2 || obs.devices[1] == nil {
		t.Errorf("device notifications = %v, want [nil, state]", obs.devices)
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	devices []*osm.DeviceState
	cores   []*osm.CoreState
}

func (r *recordingObserver) DeviceRefreshed(_ context.Context, _ string, s *osm.DeviceState) {
	r.mu.Lock()
	r.devices = append(r.devices, s)
	r.mu.Unlock()
}

func (r *recordingObserver) CoreRefreshed(_ context.Context, s *osm.CoreState) {
	r.mu.Lock()
	r.cores = append(r.cores, s)
	r.mu.Unlock()
}

func TestObserverNotified(t *testing.T) {
	client := NewMockClient()
	obs := &recordingObserver{}
	d := NewDevice("heater", client, WithObserver(obs))
	c := NewCore(client, WithObserver(obs))
	ctx := context.Background()

	d.Refresh(ctx)
	client.SetDeviceError("heater", errUnreachable)
	d.Refresh(ctx)
	c.Refresh(ctx)

	if len(obs.devices) != 2 || obs.devices[0] == nil || obs.devices[1] != nil {
		t.Errorf("device notifications = %v, want [state, nil]", obs.devices)
	}
	if len(obs.cores) != 1 || *obs.cores[0] != coreState {
		t.Errorf("core notifications = %v", obs.cores)
	}
}
