// Package influxdb writes OSM mirror snapshots to InfluxDB v2.
//
// Two measurements are produced:
//   - osm_device, tagged by device, with consumption, powered, enabled,
//     max_consumption, expected_consumption and cooldown fields
//   - osm_core, with surplus, grid_margin, surplus_margin and idle_power
//
// Writes are non-blocking and batched. Async write failures are delivered
// through SetOnError; connection and health check errors are returned.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	client.WriteCoreSnapshot(core)
package influxdb
