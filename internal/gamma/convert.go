package gamma

import (
	"time"

	"github.com/tony-42069/precedence-stream/internal/model"
)

// ToEntries expands a market into one catalog entry per outcome token,
// zipping clobTokenIds with outcomes and outcomePrices by position. Tokens
// whose outcome or price is missing get zero values rather than being
// dropped.
func (m *Market) ToEntries(now time.Time) []model.CatalogEntry {
	tokens := m.TokenIDs()
	outcomes := m.Outcomes()
	prices := m.OutcomePrices()

	entries := make([]model.CatalogEntry, 0, len(tokens))
	for i, token := range tokens {
		if token == "" {
			continue
		}

		entry := model.CatalogEntry{
			TokenID:     token,
			ConditionID: m.ConditionID,
			MarketID:    m.ID,
			Question:    m.Question,
			Slug:        m.Slug,
			Category:    m.Category,
			Volume:      float64(m.Volume),
			Active:      m.Active,
			Closed:      m.Closed,
			UpdatedAt:   now,
		}
		if i < len(outcomes) {
			entry.Outcome = outcomes[i]
		}
		if i < len(prices) {
			entry.Price = prices[i]
		}

		entries = append(entries, entry)
	}

	return entries
}
