// Package osm is the HTTP client for the Open Surplus Manager service.
//
// The client is the one component that talks to OSM. It exposes typed
// snapshot reads (devices and the core/system state), the six setters and
// a health check. Every failure it returns matches ErrClient, whatever the
// cause: transport error, non-2xx status or a malformed body.
//
// Endpoints used:
//
//	GET  /health
//	GET  /devices
//	GET  /devices/{name}
//	PUT  /devices/{name}/{max_consumption|expected_consumption|cooldown}
//	GET  /core
//	PUT  /core/{grid_margin|surplus_margin|idle_power}
//
// Setter bodies are {"value": n}.
//
// Thread Safety:
//   - A Client is safe for concurrent use. Requests share one http.Client
//     and no per-request state lives on the Client, so no lock is held
//     around network calls.
package osm
