// Package metrics provides process-local counters for the health endpoint.
//
// Key counters:
//   - Frames broadcast and per-recipient drops
//   - Upstream frames decoded and unknown kinds dropped
//   - Upstream reconnect attempts and abandoned topics
//   - Downstream connects and disconnects
//
// Counters are plain atomics incremented from hot paths; there is no
// exporter, the relay's /health handler reads them on demand.
package metrics
