package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/tony-42069/precedence-stream/internal/gamma"
	"github.com/tony-42069/precedence-stream/internal/model"
)

// Config holds catalog configuration.
type Config struct {
	RefreshInterval time.Duration
	ListLimit       int

	// Clock drives the refresh ticker. Nil means the real clock.
	Clock clock.Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 5 * time.Minute,
		ListLimit:       100,
	}
}

// Mirror persists refreshed catalog entries. Implemented by the store's
// market writer; nil when persistence is disabled.
type Mirror interface {
	WriteEntries(ctx context.Context, entries []model.CatalogEntry) error
}

// Catalog serves market metadata keyed by CLOB token id.
type Catalog interface {
	// Start loads the catalog and begins the background refresh loop.
	Start(ctx context.Context) error

	// Stop gracefully shuts down.
	Stop(ctx context.Context) error

	// Lookup returns metadata for a token id. Cache misses fall back to a
	// Gamma fetch; concurrent misses for the same token share one request.
	Lookup(ctx context.Context, tokenID string) (model.CatalogEntry, bool)

	// Snapshot returns all current entries.
	Snapshot() []model.CatalogEntry

	// Size returns the number of cached entries.
	Size() int

	// LastRefresh returns when the cache was last replaced.
	LastRefresh() time.Time
}

// catalogImpl implements the Catalog interface.
type catalogImpl struct {
	cfg    Config
	client *gamma.Client
	mirror Mirror
	logger *slog.Logger
	clock  clock.Clock

	mu          sync.RWMutex
	entries     map[string]model.CatalogEntry
	lastRefresh time.Time

	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCatalog creates a catalog over the given Gamma client. mirror may be
// nil.
func NewCatalog(cfg Config, client *gamma.Client, mirror Mirror, logger *slog.Logger) Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &catalogImpl{
		cfg:     cfg,
		client:  client,
		mirror:  mirror,
		logger:  logger,
		clock:   clk,
		entries: make(map[string]model.CatalogEntry),
	}
}

// Start performs the first load and begins background refresh.
func (c *catalogImpl) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	// The first load is best-effort: the relay fans out fine without
	// metadata, and the loop retries on its own cadence.
	if err := c.refresh(c.ctx); err != nil {
		c.logger.Warn("initial catalog refresh failed", "error", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.refreshLoop(c.ctx)
	}()

	c.logger.Info("catalog started",
		"entries", c.Size(),
		"refresh_interval", c.cfg.RefreshInterval,
	)

	return nil
}

// Stop gracefully shuts down.
func (c *catalogImpl) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("catalog stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns metadata for a token id.
func (c *catalogImpl) Lookup(ctx context.Context, tokenID string) (model.CatalogEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[tokenID]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}

	v, err, _ := c.group.Do(tokenID, func() (any, error) {
		return c.fetchToken(ctx, tokenID)
	})
	if err != nil {
		c.logger.Debug("catalog lookup miss", "token_id", tokenID, "error", err)
		return model.CatalogEntry{}, false
	}

	return v.(model.CatalogEntry), true
}

// Snapshot returns a copy of all current entries.
func (c *catalogImpl) Snapshot() []model.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]model.CatalogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		result = append(result, e)
	}
	return result
}

// Size returns the number of cached entries.
func (c *catalogImpl) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LastRefresh returns when the cache was last replaced.
func (c *catalogImpl) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}
