// Package integration sets up and tears down one bridge instance.
//
// Setup checks OSM health, lists its devices and builds one Device mirror
// per device plus the Core mirror, together with their entity adapters.
// Unload closes the shared OSM client exactly once.
//
// Setups that share a *semaphore.Weighted are serialised. The handle is
// passed in by the caller; there is no package-level permit.
package integration
