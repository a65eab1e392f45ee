package model

import "time"

// CatalogEntry describes one tradeable outcome token known to the relay.
// One Gamma market yields one entry per outcome token.
type CatalogEntry struct {
	TokenID     string // CLOB token id, the market topic key
	ConditionID string // CLOB condition id, the "market" field on feed frames
	MarketID    string // Gamma market id
	Question    string // Market question
	Slug        string // URL slug
	Category    string
	Outcome     string // Outcome label this token trades (e.g. "Yes")

	Price  float64 // Outcome price at refresh time
	Volume float64 // Market volume at refresh time

	Active bool
	Closed bool

	UpdatedAt time.Time // Local refresh timestamp
}
