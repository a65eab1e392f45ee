// Package model holds the shared domain types passed between the catalog,
// the store, and the debug surfaces.
//
// Conventions:
//   - Prices: float fractions of a dollar (0.0-1.0), as Gamma reports them
//   - Timestamps: time.Time, local receive time unless noted
//   - IDs: strings; CLOB token ids key the market topics
package model
