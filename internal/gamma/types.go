package gamma

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Market represents a market row from the Gamma API.
type Market struct {
	ID          string `json:"id"`
	ConditionID string `json:"conditionId"`
	Question    string `json:"question"`
	Slug        string `json:"slug"`
	Category    string `json:"category"`
	Description string `json:"description"`

	Active   bool `json:"active"`
	Closed   bool `json:"closed"`
	Archived bool `json:"archived"`

	// Number or numeric string depending on the endpoint
	Volume    flexNumber `json:"volume"`
	Liquidity flexNumber `json:"liquidity"`

	// Timestamps (ISO 8601)
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`

	// JSON-encoded array strings, e.g. "[\"Yes\", \"No\"]"
	RawOutcomes      json.RawMessage `json:"outcomes"`
	RawOutcomePrices json.RawMessage `json:"outcomePrices"`
	RawTokenIDs      json.RawMessage `json:"clobTokenIds"`
}

// Outcomes returns the decoded outcome labels, or nil if unparseable.
func (m *Market) Outcomes() []string {
	return stringArray(m.RawOutcomes)
}

// TokenIDs returns the decoded CLOB token ids, or nil if unparseable.
func (m *Market) TokenIDs() []string {
	return stringArray(m.RawTokenIDs)
}

// OutcomePrices returns the decoded outcome prices. Entries that do not
// parse as numbers are skipped.
func (m *Market) OutcomePrices() []float64 {
	parts := stringArray(m.RawOutcomePrices)
	prices := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			continue
		}
		prices = append(prices, v)
	}
	return prices
}

// ListOptions configures a ListMarkets request. When TokenIDs is set the
// listing filters by exact CLOB token id and the status filters are not
// sent.
type ListOptions struct {
	Active   bool
	Closed   bool
	Archived bool
	Limit    int
	Offset   int
	TokenIDs []string
}

// flexNumber decodes a JSON number or a numeric string. Values that parse
// as neither become zero.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexNumber(v)
	return nil
}

// stringArray decodes a field that arrives either as a JSON array or as a
// JSON-encoded string holding an array. Bad input yields nil.
func stringArray(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return nil
	}
	return arr
}
