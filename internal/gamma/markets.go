package gamma

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// searchPageSize is how many active markets the search scans.
const searchPageSize = 100

// ListMarkets fetches a page of markets, sorted by volume descending.
func (c *Client) ListMarkets(ctx context.Context, opts ListOptions) ([]Market, error) {
	query := url.Values{}
	if len(opts.TokenIDs) > 0 {
		// Exact token filter; status filters would only hide the match
		query.Set("clob_token_ids", strings.Join(opts.TokenIDs, ","))
	} else {
		query.Set("active", strconv.FormatBool(opts.Active))
		query.Set("closed", strconv.FormatBool(opts.Closed))
		query.Set("archived", strconv.FormatBool(opts.Archived))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	// The listing is a bare JSON array, not a wrapped object
	var markets []Market
	if err := c.get(ctx, "/markets", query, &markets); err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	sortByVolume(markets)
	return markets, nil
}

// GetMarket fetches a single market by Gamma id.
func (c *Client) GetMarket(ctx context.Context, id string) (*Market, error) {
	var market Market
	if err := c.get(ctx, "/markets/"+id, nil, &market); err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return &market, nil
}

// SearchMarkets filters the active listing by a case-insensitive substring
// over question, slug, and category.
func (c *Client) SearchMarkets(ctx context.Context, query string, limit int) ([]Market, error) {
	markets, err := c.ListMarkets(ctx, ListOptions{Active: true, Limit: searchPageSize})
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	var matches []Market
	for _, m := range markets {
		if !marketMatches(&m, q) {
			continue
		}
		matches = append(matches, m)
		if limit > 0 && len(matches) >= limit {
			break
		}
	}

	return matches, nil
}

func marketMatches(m *Market, lowered string) bool {
	return strings.Contains(strings.ToLower(m.Question), lowered) ||
		strings.Contains(strings.ToLower(m.Slug), lowered) ||
		strings.Contains(strings.ToLower(m.Category), lowered)
}

// sortByVolume orders markets most active first.
func sortByVolume(markets []Market) {
	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Volume > markets[j].Volume
	})
}
