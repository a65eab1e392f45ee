// Package hub serves the downstream WebSocket clients and fans upstream
// frames out to them.
//
// Responsibilities:
//
//   - Upgrade downstream connections, assign monotonically increasing
//     client ids and run one read pump and one write pump per session.
//   - Dispatch control frames (subscribe/unsubscribe for market and
//     comment topics, ping, and the legacy {subscribe: tokenId}
//     shorthand) to the owning managers and acknowledge them.
//   - Broadcast transformed frames to every current subscriber of a topic
//     with a non-blocking per-recipient enqueue; a slow client drops
//     frames, it never stalls the rest.
//   - On disconnect, empty the registry for the client and hand every
//     topic that emptied to its owning manager's teardown.
//   - Ping all sessions on a fixed interval so dead transports fail their
//     read pump and enter the same disconnect path.
//
// Malformed client input is answered with an {error} frame; it never
// closes the connection.
package hub
