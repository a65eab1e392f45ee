// Package gamma provides the client for the Polymarket Gamma markets API.
//
// Endpoint:
//   - Production: https://gamma-api.polymarket.com
//
// The API is public (no credentials). Market rows carry a few quirks the
// client absorbs: numeric fields may arrive as numbers or numeric strings,
// and outcomes/outcomePrices/clobTokenIds arrive as JSON-encoded array
// strings.
package gamma
