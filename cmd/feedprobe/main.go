// feedprobe connects directly to the Polymarket feeds and prints decoded
// events to the console, bypassing the relay's fan-out path.
// Usage: go run ./cmd/feedprobe --config configs/relay.local.yaml \
//
//	--tokens 7132104567925221259462638553270691275033272857194253228963137931245558399256 \
//	--event 903193
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tony-42069/precedence-stream/internal/config"
	"github.com/tony-42069/precedence-stream/internal/events"
	"github.com/tony-42069/precedence-stream/internal/feed"
)

var (
	marketFrames  atomic.Int64
	commentFrames atomic.Int64
	decodeErrors  atomic.Int64
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	tokens := flag.String("tokens", "", "comma-separated CLOB token ids to watch")
	eventID := flag.String("event", "", "event id whose comments to watch")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *tokens == "" && *eventID == "" {
		logger.Error("nothing to probe: pass --tokens and/or --event")
		os.Exit(1)
	}

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var clients []feed.Client

	if *tokens != "" {
		ids := strings.Split(*tokens, ",")
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}

		feedCfg := feed.DefaultConfig()
		feedCfg.URL = cfg.Upstream.MarketURL
		feedCfg.HandshakeTimeout = cfg.Upstream.HandshakeTimeout
		feedCfg.BufferSize = cfg.Upstream.MessageBuffer

		client := feed.NewClient(feedCfg, logger.With("feed", "market"))
		logger.Info("dialing market feed", "url", feedCfg.URL, "tokens", len(ids))
		if err := client.Connect(ctx); err != nil {
			logger.Error("market feed dial failed", "error", err)
			os.Exit(1)
		}
		clients = append(clients, client)

		sub, _ := json.Marshal(struct {
			Type      string   `json:"type"`
			AssetsIDs []string `json:"assets_ids"`
		}{Type: "MARKET", AssetsIDs: ids})
		if err := client.Send(sub); err != nil {
			logger.Error("market subscribe failed", "error", err)
			os.Exit(1)
		}

		go printMarket(ctx, client, *verbose, logger)
	}

	if *eventID != "" {
		feedCfg := feed.DefaultConfig()
		feedCfg.URL = cfg.Upstream.CommentsURL
		feedCfg.HandshakeTimeout = cfg.Upstream.HandshakeTimeout
		feedCfg.BufferSize = cfg.Upstream.MessageBuffer

		client := feed.NewClient(feedCfg, logger.With("feed", "comments"))
		logger.Info("dialing comment feed", "url", feedCfg.URL, "event", *eventID)
		if err := client.Connect(ctx); err != nil {
			logger.Error("comment feed dial failed", "error", err)
			os.Exit(1)
		}
		clients = append(clients, client)

		sub, _ := json.Marshal(commentSubscribe(*eventID))
		if err := client.Send(sub); err != nil {
			logger.Error("comment subscribe failed", "error", err)
			os.Exit(1)
		}

		go printComments(ctx, client, *verbose, logger)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats",
					"market_frames", marketFrames.Load(),
					"comment_frames", commentFrames.Load(),
					"decode_errors", decodeErrors.Load(),
				)
			}
		}
	}()

	logger.Info("probe started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	for _, c := range clients {
		c.Close()
	}

	logger.Info("shutdown complete")
}

// commentSubscribe builds the live-data filter frame for one event id.
func commentSubscribe(eventID string) any {
	type filter struct {
		ParentEntityID   json.RawMessage `json:"parentEntityID"`
		ParentEntityType string          `json:"parentEntityType"`
	}
	type entry struct {
		Topic   string `json:"topic"`
		Type    string `json:"type"`
		Filters filter `json:"filters"`
	}

	id := json.RawMessage(eventID)
	if !json.Valid(id) {
		id, _ = json.Marshal(eventID)
	}
	return struct {
		Action        string  `json:"action"`
		Subscriptions []entry `json:"subscriptions"`
	}{
		Action: "subscribe",
		Subscriptions: []entry{{
			Topic:   "comments",
			Type:    "*",
			Filters: filter{ParentEntityID: id, ParentEntityType: "Event"},
		}},
	}
}

func printMarket(ctx context.Context, client feed.Client, verbose bool, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-client.Errors():
			logger.Error("market feed error", "error", err)
			return
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			for _, part := range events.Split(msg.Data) {
				marketFrames.Add(1)
				evt, err := events.DecodeMarket(part)
				if err != nil {
					decodeErrors.Add(1)
					logger.Warn("decode failed", "error", err)
					continue
				}

				if verbose {
					data, _ := json.MarshalIndent(json.RawMessage(part), "", "  ")
					fmt.Printf("[%s] %s\n", strings.ToUpper(string(evt.Kind())), data)
					continue
				}

				switch e := evt.(type) {
				case *events.BookEvent:
					fmt.Printf("[BOOK] asset=%s bids=%d asks=%d hash=%s\n",
						e.AssetID, len(e.Bids), len(e.Asks), e.Hash)
				case *events.PriceChangeEvent:
					first := e.Changes[0]
					fmt.Printf("[PRICE] asset=%s changes=%d side=%s price=%s size=%s\n",
						e.AssetID, len(e.Changes), first.Side, first.Price, first.Size)
				case *events.LastTradeEvent:
					fmt.Printf("[TRADE] asset=%s price=%s size=%s side=%s\n",
						e.AssetID, e.Price, e.Size, e.Side)
				case *events.UnknownEvent:
					fmt.Printf("[?] type=%s\n", e.EventType)
				}
			}
		}
	}
}

func printComments(ctx context.Context, client feed.Client, verbose bool, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-client.Errors():
			logger.Error("comment feed error", "error", err)
			return
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			commentFrames.Add(1)
			evt, err := events.DecodeComment(msg.Data)
			if err != nil {
				decodeErrors.Add(1)
				logger.Warn("decode failed", "error", err)
				continue
			}

			switch e := evt.(type) {
			case *events.CommentEvent:
				if verbose {
					data, _ := json.MarshalIndent(e.Payload, "", "  ")
					fmt.Printf("[%s] %s\n", strings.ToUpper(string(e.EventKind)), data)
				} else {
					fmt.Printf("[%s] parent=%s type=%s bytes=%d\n",
						e.EventKind, e.ParentEntityID, e.ParentEntityType, len(e.Payload))
				}
			case *events.UnknownEvent:
				if verbose {
					fmt.Printf("[?] type=%s\n", e.EventType)
				}
			}
		}
	}
}
