// Package store persists catalog reference data to PostgreSQL.
//
// The store is optional: the relay runs fully in-memory when the database
// section is disabled. When enabled, MarketWriter receives catalog rows from
// each refresh and upserts them in batches keyed on token id. Write failures
// are logged and never reach the fan-out path.
package store
