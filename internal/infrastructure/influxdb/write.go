package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/osm-bridge/internal/osm"
)

// Measurement names.
const (
	MeasurementDevice = "osm_device"
	MeasurementCore   = "osm_core"
)

// WriteDeviceSnapshot records one device snapshot, tagged by device name.
func (c *Client) WriteDeviceSnapshot(s osm.DeviceState) {
	c.writePoint(MeasurementDevice,
		map[string]string{"device": s.Name},
		map[string]interface{}{
			"consumption":          s.Consumption,
			"powered":              s.Powered,
			"enabled":              s.Enabled,
			"max_consumption":      s.MaxConsumption,
			"expected_consumption": s.ExpectedConsumption,
			"cooldown":             int64(s.Cooldown),
		})
}

// WriteCoreSnapshot records one core snapshot.
func (c *Client) WriteCoreSnapshot(s osm.CoreState) {
	c.writePoint(MeasurementCore, nil,
		map[string]interface{}{
			"surplus":        s.Surplus,
			"grid_margin":    s.GridMargin,
			"surplus_margin": s.SurplusMargin,
			"idle_power":     s.IdlePower,
		})
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}
