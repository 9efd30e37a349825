// Package entity adapts mirror fields to Home Assistant entity kinds.
//
// Each adapter reads one field of a Device or Core mirror and renders it as
// a sensor, binary_sensor or number. Adapters follow a two-phase lifecycle:
//
//   - Attach performs the first read. Sensors and numbers refresh their
//     mirror once; binary sensors wait for the mirror to become ready.
//   - Refresh is the periodic phase: refresh the mirror, then read.
//
// A field that is unknown renders as unavailable. Numbers forward writes to
// the mirror's setter and return its error unchanged.
package entity
