package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/tony-42069/precedence-stream/internal/gamma"
	"github.com/tony-42069/precedence-stream/internal/model"
)

// refreshLoop periodically replaces the cache from Gamma.
func (c *catalogImpl) refreshLoop(ctx context.Context) {
	ticker := c.clock.Ticker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refresh(ctx); err != nil {
				c.logger.Error("catalog refresh failed", "error", err)
			}
		}
	}
}

// refresh lists active markets and replaces the cache. The previous cache
// survives a failed listing untouched.
func (c *catalogImpl) refresh(ctx context.Context) error {
	start := time.Now()

	markets, err := c.client.ListMarkets(ctx, gamma.ListOptions{
		Active: true,
		Limit:  c.cfg.ListLimit,
	})
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}

	now := time.Now()
	entries := make(map[string]model.CatalogEntry)
	rows := make([]model.CatalogEntry, 0, len(markets)*2)
	for i := range markets {
		for _, e := range markets[i].ToEntries(now) {
			entries[e.TokenID] = e
			rows = append(rows, e)
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.lastRefresh = now
	c.mu.Unlock()

	c.logger.Debug("catalog refreshed",
		"markets", len(markets),
		"entries", len(rows),
		"duration", time.Since(start),
	)

	c.mirrorRows(ctx, rows)
	return nil
}

// mirrorRows hands refreshed rows to the store. Mirror failures never
// propagate.
func (c *catalogImpl) mirrorRows(ctx context.Context, rows []model.CatalogEntry) {
	if c.mirror == nil || len(rows) == 0 {
		return
	}
	if err := c.mirror.WriteEntries(ctx, rows); err != nil {
		c.logger.Warn("catalog mirror write failed",
			"error", err,
			"rows", len(rows),
		)
	}
}

// fetchToken resolves a single token id against Gamma and folds the result
// into the cache.
func (c *catalogImpl) fetchToken(ctx context.Context, tokenID string) (model.CatalogEntry, error) {
	markets, err := c.client.ListMarkets(ctx, gamma.ListOptions{
		TokenIDs: []string{tokenID},
		Limit:    1,
	})
	if err != nil {
		return model.CatalogEntry{}, fmt.Errorf("fetch token %s: %w", tokenID, err)
	}

	now := time.Now()
	var hit model.CatalogEntry
	found := false

	c.mu.Lock()
	for i := range markets {
		for _, e := range markets[i].ToEntries(now) {
			c.entries[e.TokenID] = e
			if e.TokenID == tokenID {
				hit = e
				found = true
			}
		}
	}
	c.mu.Unlock()

	if !found {
		return model.CatalogEntry{}, fmt.Errorf("token %s not in gamma listing", tokenID)
	}
	return hit, nil
}
