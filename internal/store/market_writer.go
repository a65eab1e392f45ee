package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tony-42069/precedence-stream/internal/model"
)

// DB is the database surface the writer needs. *pgxpool.Pool satisfies it.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config contains configuration for the market writer.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Metrics holds counters for the market writer.
type Metrics struct {
	Upserts int64
	Errors  int64
	Flushes int64
}

// marketRow represents a row for the market_catalog table.
type marketRow struct {
	ID          string // UUID
	TokenID     string
	ConditionID string
	MarketID    string
	Question    string
	Slug        string
	Category    string
	Outcome     string
	Price       float64
	Volume      float64
	Active      bool
	Closed      bool
	UpdatedAt   time.Time
}

// MarketWriter upserts catalog rows into the market_catalog table.
// It satisfies the catalog mirror interface: entries are queued on write
// and flushed in batches on size or interval.
type MarketWriter struct {
	cfg    Config
	logger *slog.Logger

	// Database
	db DB

	// Batching
	batch       []marketRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// NewMarketWriter creates a new MarketWriter.
func NewMarketWriter(cfg Config, db DB, logger *slog.Logger) *MarketWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]marketRow, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush loop.
func (w *MarketWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("market writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing any queued rows.
func (w *MarketWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping market writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("market writer stopped")
	case <-ctx.Done():
		w.logger.Warn("market writer stop timed out")
	}

	// Final flush under the caller's deadline, not the canceled run context
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *MarketWriter) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// WriteEntries queues catalog entries for upsert. It never returns an error:
// flush failures are logged so store trouble cannot stall the caller.
func (w *MarketWriter) WriteEntries(ctx context.Context, entries []model.CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	w.batchMu.Lock()
	for _, e := range entries {
		w.batch = append(w.batch, w.transform(e))
	}
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
	return nil
}

// flushLoop periodically flushes the batch.
func (w *MarketWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// transform converts a catalog entry to a marketRow.
func (w *MarketWriter) transform(e model.CatalogEntry) marketRow {
	return marketRow{
		ID:          uuid.NewString(),
		TokenID:     e.TokenID,
		ConditionID: e.ConditionID,
		MarketID:    e.MarketID,
		Question:    e.Question,
		Slug:        e.Slug,
		Category:    e.Category,
		Outcome:     e.Outcome,
		Price:       e.Price,
		Volume:      e.Volume,
		Active:      e.Active,
		Closed:      e.Closed,
		UpdatedAt:   e.UpdatedAt,
	}
}

// flush writes the current batch to the database.
func (w *MarketWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]marketRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchUpsert(ctx, batch); err != nil {
		w.logger.Error("batch upsert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Upserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed market catalog",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchUpsert inserts rows using pgx.Batch with ON CONFLICT DO UPDATE keyed
// on token_id, so repeated refreshes overwrite rather than accumulate.
func (w *MarketWriter) batchUpsert(ctx context.Context, rows []marketRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO market_catalog (id, token_id, condition_id, market_id, question, slug, category, outcome, price, volume, active, closed, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (token_id) DO UPDATE SET
				condition_id = EXCLUDED.condition_id,
				market_id = EXCLUDED.market_id,
				question = EXCLUDED.question,
				slug = EXCLUDED.slug,
				category = EXCLUDED.category,
				outcome = EXCLUDED.outcome,
				price = EXCLUDED.price,
				volume = EXCLUDED.volume,
				active = EXCLUDED.active,
				closed = EXCLUDED.closed,
				updated_at = EXCLUDED.updated_at
		`, r.ID, r.TokenID, r.ConditionID, r.MarketID, r.Question, r.Slug, r.Category, r.Outcome, r.Price, r.Volume, r.Active, r.Closed, r.UpdatedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
