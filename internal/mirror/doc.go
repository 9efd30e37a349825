// Package mirror holds the lazy-caching state mirrors for OSM resources.
//
// A mirror owns the last good snapshot of one remote resource: a Device
// mirror per OSM device and one Core mirror for the system-wide state.
//
// Contract shared by both mirrors:
//
//   - Refresh always re-fetches. A successful fetch replaces the whole
//     snapshot; a failed fetch clears it. Refresh never returns an error.
//   - Fields are either all known or all unknown. The snapshot is a single
//     record swapped under a per-mirror mutex.
//   - Setters forward to the client and return its error. They never touch
//     the cached snapshot; the next Refresh picks up the change.
//   - Ready flips to true after the first successful Refresh and never
//     reverts, even when later fetches fail.
//
// When two refreshes overlap, the result of the fetch that started later
// wins, whichever finishes first. Observers see refreshes in the same
// order: a callback for an older fetch is skipped once a newer one has run.
package mirror
