// Package events implements upstream event decoding and transformation.
//
// Upstream payloads are loosely typed JSON; Decode turns them into a tagged
// union with one variant per known kind plus an explicit unknown variant:
//   - Market feed: book, price_change, last_trade_price
//   - Comment feed: comment_created, comment_removed, reaction_created,
//     reaction_removed
//
// Transform is a pure mapping from a decoded event to the downstream wire
// frame. Numeric fields are carried as decimal strings end to end (no float
// round-trip, no rounding); the attached timestamp is the local receipt
// time, used only for staleness display.
package events
