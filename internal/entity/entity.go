package entity

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/osm-bridge/internal/mirror"
)

// Domain is the identifier namespace for devices created by this bridge.
const Domain = "opensurplusmanager"

// Manufacturer is reported in the device registry.
const Manufacturer = "Open Surplus Manager"

// Number limits shared by every number entity.
const (
	NumberMin  = 0
	NumberMax  = 10000
	NumberStep = 1
)

// Errors returned by Number.Set before anything reaches OSM.
var (
	ErrOutOfRange = errors.New("entity: value out of range")
	ErrNotInteger = errors.New("entity: value must be a whole number")
)

// Kind is a Home Assistant entity platform.
type Kind string

// Supported kinds.
const (
	KindSensor       Kind = "sensor"
	KindBinarySensor Kind = "binary_sensor"
	KindNumber       Kind = "number"
)

// DeviceInfo groups entities under one Home Assistant device.
type DeviceInfo struct {
	// Identifier is unique within Domain: the OSM device name, or "core".
	Identifier string
	Name       string
}

// Meta carries the presentation attributes of an entity.
type Meta struct {
	DeviceClass string
	Unit        string
	StateClass  string

	// Min, Max and Step apply to numbers only.
	Min  float64
	Max  float64
	Step float64
}

// Entity is the capability set shared by every adapter.
type Entity interface {
	UniqueID() string
	Name() string
	Kind() Kind
	Device() DeviceInfo
	Meta() Meta

	// Attach runs the first phase of the lifecycle. It only fails when ctx ends.
	Attach(ctx context.Context) error

	// Refresh re-fetches the backing mirror.
	Refresh(ctx context.Context)

	// State renders the current value. ok is false when unavailable.
	State() (value string, ok bool)
}

// Number is an entity that accepts writes.
type Number interface {
	Entity
	Set(ctx context.Context, value float64) error
}

// source is the mirror behaviour an adapter depends on.
type source interface {
	Refresh(ctx context.Context)
	WaitReady(ctx context.Context, interval time.Duration) error
}

// field is the single adapter implementation behind every kind.
type field struct {
	uid    string
	name   string
	kind   Kind
	device DeviceInfo
	meta   Meta

	src           source
	read          func() (string, bool)
	readyInterval time.Duration
}

func (f *field) UniqueID() string   { return f.uid }
func (f *field) Name() string       { return f.name }
func (f *field) Kind() Kind         { return f.kind }
func (f *field) Device() DeviceInfo { return f.device }
func (f *field) Meta() Meta         { return f.meta }

func (f *field) Attach(ctx context.Context) error {
	if f.kind == KindBinarySensor {
		return f.src.WaitReady(ctx, f.readyInterval)
	}
	f.src.Refresh(ctx)
	return ctx.Err()
}

func (f *field) Refresh(ctx context.Context) {
	f.src.Refresh(ctx)
}

func (f *field) State() (string, bool) {
	return f.read()
}

// number adds a validated setter to field.
type number struct {
	field
	integer bool
	set     func(ctx context.Context, value float64) error
}

func (n *number) Set(ctx context.Context, value float64) error {
	if math.IsNaN(value) || value < n.meta.Min || value > n.meta.Max {
		return ErrOutOfRange
	}
	if n.integer && value != math.Trunc(value) {
		return ErrNotInteger
	}
	return n.set(ctx, value)
}

// Option configures adapters built by ForDevice and ForCore.
type Option func(*options)

type options struct {
	readyInterval time.Duration
}

// WithReadyInterval sets the readiness poll delay used by binary sensors.
func WithReadyInterval(d time.Duration) Option {
	return func(o *options) { o.readyInterval = d }
}

func buildOptions(opts []Option) options {
	o := options{readyInterval: mirror.DefaultReadyInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func formatFloat(v float64, ok bool) (string, bool) {
	if !ok {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}

func formatBool(v bool, ok bool) (string, bool) {
	if !ok {
		return "", false
	}
	if v {
		return "ON", true
	}
	return "OFF", true
}

func formatInt(v int, ok bool) (string, bool) {
	if !ok {
		return "", false
	}
	return strconv.Itoa(v), true
}

func powerMeta() Meta {
	return Meta{DeviceClass: "power", Unit: "W"}
}

func measurementMeta() Meta {
	m := powerMeta()
	m.StateClass = "measurement"
	return m
}

func numberMeta(deviceClass, unit string) Meta {
	return Meta{
		DeviceClass: deviceClass,
		Unit:        unit,
		Min:         NumberMin,
		Max:         NumberMax,
		Step:        NumberStep,
	}
}
