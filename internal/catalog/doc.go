// Package catalog maintains the in-memory market metadata cache.
//
// Responsibilities:
//   - Periodically list active markets from Gamma and replace the cache
//   - Serve token id lookups from memory, collapsing concurrent misses
//     into a single Gamma fetch
//   - Hand each refreshed entry set to the optional store mirror
//
// A failed refresh keeps the previous cache; the relay's fan-out path never
// depends on the catalog being populated.
package catalog
