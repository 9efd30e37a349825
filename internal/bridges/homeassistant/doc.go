// Package homeassistant publishes OSM entities to Home Assistant through
// MQTT discovery and runs their refresh lifecycle.
//
// For each entity the bridge publishes a retained discovery document, then
// retained state and availability whenever they change. Numbers listen on
// a command topic; each write is acknowledged with an AckMessage and
// followed by an immediate refresh. A HealthReporter publishes the bridge
// HealthMessage on a fixed interval.
package homeassistant
