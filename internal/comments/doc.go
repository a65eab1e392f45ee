// Package comments owns the single shared connection to the upstream
// comment feed.
//
// Unlike market topics, comment topics multiplex over one WebSocket: the
// relay adds and removes per-event filters on the live connection instead
// of dialing per topic. Responsibilities:
//
//   - Maintain the singleton connection through a closed/connecting/open
//     state machine; connect() is idempotent.
//   - Replay the full current filter set whenever the connection (re)opens,
//     because the upstream keeps no session memory.
//   - Send incremental add/remove filter frames while open.
//   - Decode comment and reaction records, resolve the target topic from
//     the parent entity id, and fan out only to topics that still have
//     subscribers.
//   - After an unexpected close with topics remaining, schedule exactly one
//     reconnect on the injected clock.
//
// Whether the relay hangs up when its last topic disappears is a config
// policy (CloseWhenIdle); when disabled the socket stays warm for the next
// subscriber.
package comments
