package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/osm-bridge/internal/entity"
	"github.com/nerrad567/osm-bridge/internal/mirror"
	"github.com/nerrad567/osm-bridge/internal/osm"
)

// ErrUnhealthy is returned by Setup when OSM reports itself unhealthy or
// its health endpoint cannot be reached.
var ErrUnhealthy = errors.New("integration: osm is unhealthy")

const defaultMaxConcurrent = 4

// Client is the full OSM capability set an instance consumes.
type Client interface {
	mirror.DeviceClient
	mirror.CoreClient
	HealthCheck(ctx context.Context) (bool, error)
	ListDevices(ctx context.Context) ([]osm.Device, error)
	Close() error
}

// Logger is the logging interface used by the integration.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures Setup.
type Options struct {
	// Lock serialises setups sharing it. Nil means no serialisation.
	Lock *semaphore.Weighted

	// Observer receives refresh outcomes from every mirror.
	Observer mirror.Observer

	// ReadyInterval is the readiness poll delay for binary sensors.
	ReadyInterval time.Duration

	// MaxConcurrent bounds parallel fetches in RefreshAll. Defaults to 4.
	MaxConcurrent int

	Logger Logger
}

// Instance is one set-up bridge: its client, mirrors and entities.
type Instance struct {
	client  Client
	core    *mirror.Core
	devices []*mirror.Device
	byName  map[string]*mirror.Device
	entries []entity.Entity
	limit   int
	logger  Logger

	closeOnce sync.Once
	closeErr  error
}

// Setup performs the health check and builds the mirrors.
//
// Parameters:
//   - ctx: Bounds the health check, the device listing and waiting for Lock
//   - client: OSM client, owned by the returned instance on success
//   - opts: Setup options
//
// Returns:
//   - *Instance: The ready instance
//   - error: ErrUnhealthy if OSM is unhealthy, or a wrapped client error
func Setup(ctx context.Context, client Client, opts Options) (*Instance, error) {
	if client == nil {
		return nil, errors.New("integration: client is required")
	}
	if opts.Lock != nil {
		if err := opts.Lock.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("integration: waiting for setup lock: %w", err)
		}
		defer opts.Lock.Release(1)
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}

	healthy, err := client.HealthCheck(ctx)
	if err != nil {
		opts.Logger.Warn("osm health check failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	if !healthy {
		return nil, ErrUnhealthy
	}

	list, err := client.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("integration: listing devices: %w", err)
	}

	mopts := []mirror.Option{mirror.WithLogger(opts.Logger)}
	if opts.Observer != nil {
		mopts = append(mopts, mirror.WithObserver(opts.Observer))
	}
	eopts := []entity.Option{}
	if opts.ReadyInterval > 0 {
		eopts = append(eopts, entity.WithReadyInterval(opts.ReadyInterval))
	}

	inst := &Instance{
		client: client,
		core:   mirror.NewCore(client, mopts...),
		byName: make(map[string]*mirror.Device, len(list)),
		limit:  opts.MaxConcurrent,
		logger: opts.Logger,
	}

	for _, d := range list {
		if _, dup := inst.byName[d.Name]; dup {
			opts.Logger.Warn("duplicate device name from osm", "device", d.Name)
			continue
		}
		m := mirror.NewDevice(d.Name, client, mopts...)
		inst.devices = append(inst.devices, m)
		inst.byName[d.Name] = m
		inst.entries = append(inst.entries, entity.ForDevice(m, eopts...)...)
	}
	inst.entries = append(inst.entries, entity.ForCore(inst.core, eopts...)...)

	opts.Logger.Info("integration set up", "devices", len(inst.devices), "entities", len(inst.entries))
	return inst, nil
}

// Core returns the core mirror.
func (i *Instance) Core() *mirror.Core {
	return i.core
}

// Devices returns the device mirrors in OSM's listing order.
func (i *Instance) Devices() []*mirror.Device {
	out := make([]*mirror.Device, len(i.devices))
	copy(out, i.devices)
	return out
}

// Device returns the mirror for name.
func (i *Instance) Device(name string) (*mirror.Device, bool) {
	d, ok := i.byName[name]
	return d, ok
}

// Entities returns every entity adapter, device entities first.
func (i *Instance) Entities() []entity.Entity {
	out := make([]entity.Entity, len(i.entries))
	copy(out, i.entries)
	return out
}

// RefreshAll refreshes every mirror with bounded parallelism.
// Mirror failures are absorbed; only a context error is returned.
func (i *Instance) RefreshAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.limit)

	g.Go(func() error {
		i.core.Refresh(gctx)
		return nil
	})
	for _, d := range i.devices {
		g.Go(func() error {
			d.Refresh(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Unload closes the OSM client. Later calls return the first result.
func (i *Instance) Unload() error {
	i.closeOnce.Do(func() {
		i.closeErr = i.client.Close()
		if i.closeErr != nil {
			i.logger.Error("closing osm client", "error", i.closeErr)
			return
		}
		i.logger.Info("integration unloaded")
	})
	return i.closeErr
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
