// Package api implements the HTTP REST API of the OSM bridge.
//
// This package provides:
//   - Read endpoints for the cached device and core mirrors
//   - Setter endpoints that run the same validation as the Home Assistant numbers
//   - Snapshot history from the SQLite store
//   - A Prometheus scrape endpoint
//
// # Reads
//
// GET endpoints serve what the mirrors currently hold; they never call OSM.
// A mirror in the unknown state renders every field as null with
// "available": false. POST /api/v1/refresh forces a refresh of every mirror.
//
// # Writes
//
// PUT requests are forwarded to OSM and the affected mirror is refreshed
// afterwards, so the response reflects what OSM reports. Upstream failures map
// to 502 with code "upstream_error".
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
