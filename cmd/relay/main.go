package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/tony-42069/precedence-stream/internal/auth"
	"github.com/tony-42069/precedence-stream/internal/catalog"
	"github.com/tony-42069/precedence-stream/internal/comments"
	"github.com/tony-42069/precedence-stream/internal/config"
	"github.com/tony-42069/precedence-stream/internal/feed"
	"github.com/tony-42069/precedence-stream/internal/gamma"
	"github.com/tony-42069/precedence-stream/internal/hub"
	"github.com/tony-42069/precedence-stream/internal/market"
	"github.com/tony-42069/precedence-stream/internal/metrics"
	"github.com/tony-42069/precedence-stream/internal/registry"
	"github.com/tony-42069/precedence-stream/internal/store"
	"github.com/tony-42069/precedence-stream/internal/version"
)

// broadcastProxy breaks the construction cycle between the hub and the
// upstream managers: managers are built against the proxy, the hub is built
// against the managers, then the proxy is bound before anything starts.
type broadcastProxy struct {
	hub hub.Hub
}

func (p *broadcastProxy) Broadcast(topic string, domain registry.Domain, frame []byte) {
	p.hub.Broadcast(topic, domain, frame)
}

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logging; rebuilt from config once it loads
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	instanceID := uuid.NewString()
	startedAt := time.Now()

	logger.Info("configuration loaded",
		"instance_id", instanceID,
		"market_url", cfg.Upstream.MarketURL,
		"comments_url", cfg.Upstream.CommentsURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Derive upstream session credentials when auth is enabled. The market
	// feed carries the headers on every dial; failure here is fatal.
	var dialHeaders http.Header
	if cfg.Auth.Enabled {
		creds, err := auth.LoadCredentials(cfg.Auth.APIKeyID, cfg.Auth.PrivateKeyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		session, err := creds.DeriveSession(ctx, cfg.Auth.Endpoint)
		if err != nil {
			logger.Error("failed to derive session credentials", "error", err)
			os.Exit(1)
		}
		dialHeaders = session.Headers()
		logger.Info("session credentials derived")
	}

	// Connect the optional catalog store
	var pool *pgxpool.Pool
	var writer *store.MarketWriter
	var mirror catalog.Mirror
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = store.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		writer = store.NewMarketWriter(store.Config{
			BatchSize:     cfg.Database.BatchSize,
			FlushInterval: cfg.Database.FlushInterval,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start market writer", "error", err)
			os.Exit(1)
		}
		defer stopComponent("market writer", writer.Stop, logger)
		mirror = writer

		logger.Info("database connected")
	}

	// Market catalog over the Gamma API
	gammaClient := gamma.NewClient(
		cfg.Gamma.BaseURL,
		gamma.WithLogger(logger),
		gamma.WithTimeout(cfg.Gamma.Timeout),
		gamma.WithRetries(cfg.Gamma.Retries, time.Second),
	)

	catalogCfg := catalog.DefaultConfig()
	catalogCfg.RefreshInterval = cfg.Catalog.RefreshInterval
	catalogCfg.ListLimit = cfg.Catalog.ListLimit
	cat := catalog.NewCatalog(catalogCfg, gammaClient, mirror, logger)
	if err := cat.Start(ctx); err != nil {
		logger.Error("failed to start catalog", "error", err)
		os.Exit(1)
	}
	defer stopComponent("catalog", cat.Stop, logger)

	// Shared topic registry and counters
	reg := registry.New()
	counters := &metrics.Counters{}

	// Upstream managers fan in through the proxy; the hub fans out.
	proxy := &broadcastProxy{}

	marketFeed := feed.DefaultConfig()
	marketFeed.URL = cfg.Upstream.MarketURL
	marketFeed.Headers = dialHeaders
	marketFeed.HandshakeTimeout = cfg.Upstream.HandshakeTimeout
	marketFeed.BufferSize = cfg.Upstream.MessageBuffer

	commentFeed := feed.DefaultConfig()
	commentFeed.URL = cfg.Upstream.CommentsURL
	commentFeed.HandshakeTimeout = cfg.Upstream.HandshakeTimeout
	commentFeed.BufferSize = cfg.Upstream.MessageBuffer

	mgr := market.NewManager(market.Config{
		Feed:           marketFeed,
		ReconnectDelay: cfg.Upstream.ReconnectDelay,
		MaxRetries:     cfg.Upstream.MaxRetries,
	}, reg, proxy, counters, logger)

	rly := comments.NewRelay(comments.Config{
		Feed:           commentFeed,
		ReconnectDelay: cfg.Upstream.ReconnectDelay,
		CloseWhenIdle:  cfg.Upstream.IdleClose(),
	}, reg, proxy, counters, logger)

	hubCfg := hub.DefaultConfig()
	hubCfg.PingInterval = cfg.Liveness.PingInterval
	hubCfg.PongWait = 3 * cfg.Liveness.PingInterval
	h := hub.NewHub(hubCfg, reg, mgr, rly, counters, logger)
	proxy.hub = h

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start market manager", "error", err)
		os.Exit(1)
	}
	defer stopComponent("market manager", mgr.Stop, logger)

	if err := rly.Start(ctx); err != nil {
		logger.Error("failed to start comment relay", "error", err)
		os.Exit(1)
	}
	defer stopComponent("comment relay", rly.Stop, logger)

	if err := h.Start(ctx); err != nil {
		logger.Error("failed to start hub", "error", err)
		os.Exit(1)
	}
	defer stopComponent("hub", h.Stop, logger)

	// HTTP server: WebSocket endpoint plus health and debug routes
	deps := serverDeps{
		hub:        h,
		registry:   reg,
		markets:    mgr,
		comments:   rly,
		catalog:    cat,
		pool:       pool,
		counters:   counters,
		instanceID: instanceID,
		startedAt:  startedAt,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: createHandler(cfg.Server.WSPath, deps),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening",
			"addr", addr,
			"ws_path", cfg.Server.WSPath,
			"health_url", fmt.Sprintf("http://%s/health", addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down...")
}

// buildLogger constructs the slog handler described by the logging config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// stopComponent runs one component's Stop under a bounded timeout. Deferred
// registration makes shutdown run in reverse start order.
func stopComponent(name string, stop func(context.Context) error, logger *slog.Logger) {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := stop(stopCtx); err != nil {
		logger.Warn("component stop failed", "component", name, "error", err)
	}
}

// serverDeps carries everything the HTTP routes read.
type serverDeps struct {
	hub        hub.Hub
	registry   *registry.Registry
	markets    market.Manager
	comments   comments.Relay
	catalog    catalog.Catalog
	pool       *pgxpool.Pool
	counters   *metrics.Counters
	instanceID string
	startedAt  time.Time
}

// createHandler builds the HTTP mux: the WebSocket endpoint, the health
// check and the topic debug view.
func createHandler(wsPath string, deps serverDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(wsPath, deps.hub.HandleWS)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		_, marketTopics, commentTopics := deps.registry.Counts()

		health := struct {
			Status        string           `json:"status"`
			InstanceID    string           `json:"instanceId"`
			Version       string           `json:"version"`
			Uptime        string           `json:"uptime"`
			Clients       int              `json:"clients"`
			MarketTopics  int              `json:"marketTopics"`
			CommentTopics int              `json:"commentTopics"`
			Components    map[string]any   `json:"components"`
			Counters      map[string]int64 `json:"counters"`
		}{
			Status:        "healthy",
			InstanceID:    deps.instanceID,
			Version:       version.Version,
			Uptime:        time.Since(deps.startedAt).Round(time.Second).String(),
			Clients:       deps.hub.ClientCount(),
			MarketTopics:  marketTopics,
			CommentTopics: commentTopics,
			Components:    make(map[string]any),
			Counters:      deps.counters.Snapshot(),
		}

		// Check store
		if deps.pool == nil {
			health.Components["store"] = "disabled"
		} else if err := deps.pool.Ping(ctx); err != nil {
			health.Status = "degraded"
			health.Components["store"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["store"] = "connected"
		}

		// Upstream connections
		stats := deps.markets.Stats()
		health.Components["markets"] = map[string]int{
			"topics":    stats.Topics,
			"open":      stats.Open,
			"backoff":   stats.Backoff,
			"abandoned": stats.Abandoned,
		}
		health.Components["comments"] = deps.comments.State()

		// Catalog freshness
		last := deps.catalog.LastRefresh()
		catalogInfo := map[string]any{"entries": deps.catalog.Size()}
		if last.IsZero() {
			health.Status = "degraded"
			catalogInfo["age"] = "never"
		} else {
			catalogInfo["age"] = time.Since(last).Round(time.Second).String()
		}
		health.Components["catalog"] = catalogInfo

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/topics", func(w http.ResponseWriter, r *http.Request) {
		// Catalog metadata keyed by token id, one snapshot per request
		known := make(map[string]string)
		for _, e := range deps.catalog.Snapshot() {
			known[e.TokenID] = e.Question
		}

		connStates := deps.markets.Snapshot()

		type marketTopic struct {
			Subscribers int    `json:"subscribers"`
			State       string `json:"state,omitempty"`
			RetryCount  int    `json:"retryCount,omitempty"`
			Question    string `json:"question,omitempty"`
		}
		type commentTopic struct {
			Subscribers int `json:"subscribers"`
		}

		marketTopics := make(map[string]marketTopic)
		for _, topic := range deps.registry.Topics(registry.DomainMarket) {
			mt := marketTopic{
				Subscribers: deps.registry.SubscriberCount(topic, registry.DomainMarket),
				Question:    known[topic],
			}
			if status, ok := connStates[topic]; ok {
				mt.State = status.State
				mt.RetryCount = status.RetryCount
			}
			marketTopics[topic] = mt
		}

		commentTopics := make(map[string]commentTopic)
		for _, topic := range deps.registry.Topics(registry.DomainComment) {
			commentTopics[topic] = commentTopic{
				Subscribers: deps.registry.SubscriberCount(topic, registry.DomainComment),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"market":  marketTopics,
			"comment": commentTopics,
			"catalog": map[string]any{
				"entries":     deps.catalog.Size(),
				"lastRefresh": deps.catalog.LastRefresh(),
			},
		})
	})

	return mux
}
