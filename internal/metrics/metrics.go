// Package metrics exposes OSM mirror state as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/osm-bridge/internal/osm"
)

const metricPrefix = "osm_"

// Refresh results for the osm_refresh_total counter.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// CoreMirror is the mirror label used for the core state.
const CoreMirror = "core"

// Collector collects OSM mirror metrics.
type Collector struct {
	deviceConsumption *prometheus.GaugeVec
	devicePowered     *prometheus.GaugeVec
	deviceEnabled     *prometheus.GaugeVec
	deviceMax         *prometheus.GaugeVec
	deviceExpected    *prometheus.GaugeVec
	deviceCooldown    *prometheus.GaugeVec

	coreSurplus       prometheus.Gauge
	coreGridMargin    prometheus.Gauge
	coreSurplusMargin prometheus.Gauge
	coreIdlePower     prometheus.Gauge

	available *prometheus.GaugeVec
	refreshes *prometheus.CounterVec
}

func NewCollector() *Collector {
	deviceGauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + name,
			Help: help,
		}, []string{"device"})
	}
	coreGauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + name,
			Help: help,
		})
	}

	return &Collector{
		deviceConsumption: deviceGauge("device_consumption_watts", "Current device consumption in watts"),
		devicePowered:     deviceGauge("device_powered", "Device power state (1 on, 0 off)"),
		deviceEnabled:     deviceGauge("device_enabled", "Device enabled flag (1 enabled, 0 disabled)"),
		deviceMax:         deviceGauge("device_max_consumption_watts", "Configured maximum consumption in watts"),
		deviceExpected:    deviceGauge("device_expected_consumption_watts", "Configured expected consumption in watts"),
		deviceCooldown:    deviceGauge("device_cooldown_seconds", "Configured cooldown in seconds"),

		coreSurplus:       coreGauge("core_surplus_watts", "Current surplus in watts"),
		coreGridMargin:    coreGauge("core_grid_margin_watts", "Configured grid margin in watts"),
		coreSurplusMargin: coreGauge("core_surplus_margin_watts", "Configured surplus margin in watts"),
		coreIdlePower:     coreGauge("core_idle_power_watts", "Configured idle power in watts"),

		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "mirror_available",
			Help: "Whether the last refresh of a mirror succeeded",
		}, []string{"mirror"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "refresh_total",
			Help: "Total mirror refreshes by result",
		}, []string{"mirror", "result"}),
	}
}

// ObserveDevice records a device refresh. A nil state marks the device
// unavailable and drops its value series.
func (c *Collector) ObserveDevice(name string, s *osm.DeviceState) {
	if s == nil {
		c.available.WithLabelValues(name).Set(0)
		c.refreshes.WithLabelValues(name, ResultFailure).Inc()
		for _, g := range c.deviceVecs() {
			g.DeleteLabelValues(name)
		}
		return
	}

	c.available.WithLabelValues(name).Set(1)
	c.refreshes.WithLabelValues(name, ResultSuccess).Inc()
	c.deviceConsumption.WithLabelValues(name).Set(s.Consumption)
	c.devicePowered.WithLabelValues(name).Set(boolGauge(s.Powered))
	c.deviceEnabled.WithLabelValues(name).Set(boolGauge(s.Enabled))
	c.deviceMax.WithLabelValues(name).Set(s.MaxConsumption)
	c.deviceExpected.WithLabelValues(name).Set(s.ExpectedConsumption)
	c.deviceCooldown.WithLabelValues(name).Set(float64(s.Cooldown))
}

// ObserveCore records a core refresh. Core gauges keep their last value
// on failure; osm_mirror_available{mirror="core"} carries the state.
func (c *Collector) ObserveCore(s *osm.CoreState) {
	if s == nil {
		c.available.WithLabelValues(CoreMirror).Set(0)
		c.refreshes.WithLabelValues(CoreMirror, ResultFailure).Inc()
		return
	}

	c.available.WithLabelValues(CoreMirror).Set(1)
	c.refreshes.WithLabelValues(CoreMirror, ResultSuccess).Inc()
	c.coreSurplus.Set(s.Surplus)
	c.coreGridMargin.Set(s.GridMargin)
	c.coreSurplusMargin.Set(s.SurplusMargin)
	c.coreIdlePower.Set(s.IdlePower)
}

func (c *Collector) deviceVecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.deviceConsumption, c.devicePowered, c.deviceEnabled,
		c.deviceMax, c.deviceExpected, c.deviceCooldown,
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	out := []prometheus.Collector{
		c.coreSurplus, c.coreGridMargin, c.coreSurplusMargin, c.coreIdlePower,
		c.available, c.refreshes,
	}
	for _, g := range c.deviceVecs() {
		out = append(out, g)
	}
	return out
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

// Registry builds a registry holding the given collectors.
func Registry(collectors ...prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	for _, collector := range collectors {
		registry.MustRegister(collector)
	}
	return registry
}

// Handler exposes the registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
