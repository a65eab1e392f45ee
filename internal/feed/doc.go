// Package feed implements the upstream WebSocket client.
//
// One client wraps one socket to an upstream feed (the per-topic market
// channel or the shared live-data comment channel):
//   - Dials with optional session credential headers
//   - Delivers raw frames with a local receipt timestamp
//   - Serializes writes through a single mutex
//   - Answers transport pings and detects stale connections
//
// Reconnect policy lives with the owning manager, not here; a client is
// dialed once and discarded after its socket dies.
package feed
