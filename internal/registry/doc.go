// Package registry implements the topic membership store.
//
// The registry tracks which downstream client is subscribed to which topic
// across two independent domains (market topics and comment topics), keeping
// topic→clients and client→topics maps mutually consistent:
//   - Subscribe reports when a topic gains its first subscriber
//   - Unsubscribe reports when a topic loses its last subscriber
//   - RemoveClient cascades a disconnect across both domains and reports
//     every topic the removal emptied
//
// The registry performs no I/O and owns no connections. All mutation and
// broadcast snapshots are serialized through its internal mutex; callers
// never observe a topic mid-update.
package registry
