package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/osm-bridge/internal/infrastructure/config"
	"github.com/nerrad567/osm-bridge/internal/osm"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeWriter) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, write.PointToLineProtocol(p, time.Second))
	}
	return out
}

type fakePinger struct {
	healthy bool
	err     error
	closed  int
}

func (f *fakePinger) Ping(context.Context) (bool, error) { return f.healthy, f.err }
func (f *fakePinger) Close()                             { f.closed++ }

func newTestClient() (*Client, *fakeWriter, *fakePinger) {
	w := &fakeWriter{}
	p := &fakePinger{healthy: true}
	c := newClient(p, w, config.InfluxDBConfig{Enabled: true})
	c.now = func() time.Time { return time.Unix(1772366400, 0) }
	return c, w, p
}

func TestWriteDeviceSnapshot(t *testing.T) {
	c, w, _ := newTestClient()

	c.WriteDeviceSnapshot(osm.DeviceState{
		Name: "pool pump", Consumption: 1200, Powered: true, Enabled: false,
		MaxConsumption: 2000, ExpectedConsumption: 1500.5, Cooldown: 60,
	})

	lines := w.lines()
	if len(lines) != 1 {
		t.Fatalf("points = %d, want 1", len(lines))
	}
	line := lines[0]
	for _, want := range []string{
		`osm_device,device=pool\ pump `,
		"consumption=1200",
		"powered=true",
		"enabled=false",
		"expected_consumption=1500.5",
		"cooldown=60i",
		" 1772366400",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteCoreSnapshot(t *testing.T) {
	c, w, _ := newTestClient()

	c.WriteCoreSnapshot(osm.CoreState{Surplus: 350.5, GridMargin: 50, SurplusMargin: 20, IdlePower: 80})

	lines := w.lines()
	if len(lines) != 1 {
		t.Fatalf("points = %d, want 1", len(lines))
	}
	// Core points carry no tags. PointToLineProtocol renders that as
	// "osm_core, ..." so the measurement is checked on the point itself.
	w.mu.Lock()
	p := w.points[0]
	w.mu.Unlock()
	if p.Name() != "osm_core" {
		t.Errorf("measurement = %q, want osm_core", p.Name())
	}
	if tags := p.TagList(); len(tags) != 0 {
		t.Errorf("tags = %v, want none", tags)
	}
	for _, want := range []string{"surplus=350.5", "grid_margin=50", "surplus_margin=20", "idle_power=80"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
}

func TestClose_StopsWritesAndIsIdempotent(t *testing.T) {
	c, w, p := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if p.closed != 1 || w.flushes != 1 {
		t.Errorf("closed=%d flushes=%d, want 1/1", p.closed, w.flushes)
	}

	c.WriteCoreSnapshot(osm.CoreState{})
	c.Flush()
	if len(w.lines()) != 0 {
		t.Error("point written after Close()")
	}
	if w.flushes != 1 {
		t.Error("Flush() after Close() reached the write API")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		err     error
		wantErr bool
	}{
		{name: "healthy", healthy: true},
		{name: "not healthy", healthy: false, wantErr: true},
		{name: "ping error", err: errors.New("refused"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, p := newTestClient()
			p.healthy, p.err = tt.healthy, tt.err
			err := c.HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _, _ := newTestClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	ch := make(chan error, 1)
	ch <- errors.New("write failed")
	close(ch)
	c.handleWriteErrors(ch)

	select {
	case err := <-got:
		if err.Error() != "write failed" {
			t.Errorf("callback error = %v", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:59999",
		Token:   "t",
		Org:     "o",
		Bucket:  "b",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// TestConnect_Live runs against a local InfluxDB when RUN_INTEGRATION is set.
func TestConnect_Live(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("RUN_INTEGRATION not set")
	}

	c, err := Connect(config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "osmbridge-dev-token",
		Org:           "osmbridge",
		Bucket:        "osm",
		FlushInterval: 1,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	c.WriteCoreSnapshot(osm.CoreState{Surplus: 1})
	c.Flush()
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteOptions(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.InfluxDBConfig
		wantBatch uint
		wantFlush uint
	}{
		{"configured", config.InfluxDBConfig{BatchSize: 50, FlushInterval: 2}, 50, 2000},
		{"zero falls back", config.InfluxDBConfig{}, 100, 10000},
		{"negative falls back", config.InfluxDBConfig{BatchSize: -1, FlushInterval: -5}, 100, 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := writeOptions(tt.cfg)
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", got, tt.wantFlush)
			}
		})
	}
}

func TestPing(t *testing.T) {
	if err := ping(context.Background(), &fakePinger{healthy: true}); err != nil {
		t.Errorf("ping(healthy) error = %v", err)
	}
	if err := ping(context.Background(), &fakePinger{}); err == nil {
		t.Error("ping(unhealthy) should fail")
	}
	if err := ping(context.Background(), &fakePinger{err: errors.New("refused")}); err == nil {
		t.Error("ping(error) should fail")
	}
}
