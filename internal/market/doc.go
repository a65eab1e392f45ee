// Package market implements the upstream market connection manager.
//
// The manager owns at most one upstream connection per market topic:
//   - First subscriber dials the topic's feed and sends its handshake
//   - Frames are decoded, transformed and fanned out from the topic's
//     single read loop, preserving per-recipient delivery order
//   - Errors drive a per-topic state machine (idle, connecting, open,
//     backoff, abandoned) with a fixed reconnect delay and a consecutive
//     failure ceiling
//   - Last unsubscribe closes the connection and cancels any pending retry
//
// A topic abandoned at the failure ceiling stays silent until a fresh
// subscribe resets its retry budget. Failures never escape the topic; they
// silence only that topic's subscribers.
package market
