package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/tony-42069/precedence-stream/internal/metrics"
	"github.com/tony-42069/precedence-stream/internal/registry"
)

// MarketSubscriptions is the market-topic side the hub drives.
type MarketSubscriptions interface {
	Subscribe(clientID int64, topicID string) error
	Unsubscribe(clientID int64, topicID string)
	TeardownTopic(topicID string)
}

// CommentSubscriptions is the comment-topic side the hub drives.
type CommentSubscriptions interface {
	SubscribeTopic(clientID int64, eventID string) error
	UnsubscribeTopic(clientID int64, eventID string)
	TopicEmptied(eventID string)
}

// Hub owns the downstream sessions and the fan-out path.
type Hub interface {
	// Start launches the liveness monitor.
	Start(ctx context.Context) error

	// Stop closes every session and waits for the pumps to drain.
	Stop(ctx context.Context) error

	// HandleWS upgrades one downstream connection and runs its session.
	HandleWS(w http.ResponseWriter, r *http.Request)

	// Broadcast delivers one frame to every current subscriber of the
	// topic. Slow recipients drop the frame; nobody blocks.
	Broadcast(topic string, domain registry.Domain, frame []byte)

	// ClientCount reports connected sessions for the health endpoint.
	ClientCount() int
}

// hub implements the Hub interface.
type hub struct {
	cfg      Config
	registry *registry.Registry
	market   MarketSubscriptions
	comments CommentSubscriptions
	counters *metrics.Counters
	logger   *slog.Logger
	clock    clock.Clock

	upgrader websocket.Upgrader
	nextID   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[int64]*session
	started  bool
}

// NewHub creates the downstream hub.
func NewHub(cfg Config, reg *registry.Registry, market MarketSubscriptions, comments CommentSubscriptions, counters *metrics.Counters, logger *slog.Logger) Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = &metrics.Counters{}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &hub{
		cfg:      cfg,
		registry: reg,
		market:   market,
		comments: comments,
		counters: counters,
		logger:   logger,
		clock:    clk,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[int64]*session),
	}
}

// Start launches the liveness monitor.
func (h *hub) Start(ctx context.Context) error {
	h.mu.Lock()
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.started = true
	h.mu.Unlock()

	h.wg.Add(1)
	go h.livenessLoop()

	h.logger.Info("hub started",
		"send_buffer", h.cfg.SendBuffer,
		"ping_interval", h.cfg.PingInterval,
	)
	return nil
}

// Stop closes every session and waits for the pumps.
func (h *hub) Stop(ctx context.Context) error {
	h.logger.Info("stopping hub")

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.started = false
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub stopped")
	case <-ctx.Done():
		h.logger.Warn("hub stop timed out")
	}

	return nil
}

// HandleWS upgrades one downstream connection and runs its session.
func (h *hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if !started {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := h.nextID.Add(1)
	s := newSession(id, conn, h.cfg.SendBuffer, h.logger.With("client", id))

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()

	h.counters.ClientConnects.Add(1)
	h.logger.Info("client connected", "client", id, "remote", r.RemoteAddr)

	// Queued before the pumps start so it is always the first frame out.
	h.sendJSON(s, connectedFrame{Type: "connected", ClientID: id})

	h.wg.Add(2)
	go h.writePump(s)
	go h.readPump(s)
}

// Broadcast delivers one frame to every current subscriber of the topic.
func (h *hub) Broadcast(topic string, domain registry.Domain, frame []byte) {
	subscribers := h.registry.SubscribersOf(topic, domain)
	if len(subscribers) == 0 {
		return
	}

	h.mu.RLock()
	for _, id := range subscribers {
		s, ok := h.sessions[id]
		if !ok {
			continue
		}
		if !s.enqueue(frame) {
			h.counters.RecipientDrops.Add(1)
			h.logger.Warn("send queue full, dropping frame", "client", id, "topic", topic)
		}
	}
	h.mu.RUnlock()

	h.counters.FramesBroadcast.Add(1)
}

// ClientCount reports connected sessions.
func (h *hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// handleControl dispatches one client frame.
func (h *hub) handleControl(s *session, data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.sendJSON(s, errorFrame{Error: "invalid json"})
		return
	}

	switch frame.Type {
	case "subscribe":
		h.subscribeMarket(s, rawString(frame.MarketID))

	case "unsubscribe":
		h.unsubscribeMarket(s, rawString(frame.MarketID))

	case "subscribe_comments":
		eventID := rawString(frame.EventID)
		if eventID == "" {
			h.sendJSON(s, errorFrame{Error: "missing eventId"})
			return
		}
		if err := h.comments.SubscribeTopic(s.id, eventID); err != nil {
			h.logger.Warn("comment subscribe failed", "client", s.id, "event", eventID, "error", err)
			h.sendJSON(s, errorFrame{Error: "subscribe failed"})
			return
		}
		h.sendJSON(s, statusFrame{Status: "subscribed", TokenID: eventID})

	case "unsubscribe_comments":
		eventID := rawString(frame.EventID)
		if eventID == "" {
			h.sendJSON(s, errorFrame{Error: "missing eventId"})
			return
		}
		h.comments.UnsubscribeTopic(s.id, eventID)
		h.sendJSON(s, statusFrame{Status: "unsubscribed", TokenID: eventID})

	case "ping":
		h.sendJSON(s, pongFrame{
			Type:      "pong",
			Timestamp: h.clock.Now().Format(time.RFC3339Nano),
		})

	case "":
		// Legacy shorthand {subscribe: tokenId} / {unsubscribe: tokenId}.
		switch {
		case len(frame.Subscribe) > 0:
			h.subscribeMarket(s, rawString(frame.Subscribe))
		case len(frame.Unsubscribe) > 0:
			h.unsubscribeMarket(s, rawString(frame.Unsubscribe))
		default:
			h.sendJSON(s, errorFrame{Error: "missing message type"})
		}

	default:
		h.sendJSON(s, errorFrame{Error: "unknown message type"})
	}
}

func (h *hub) subscribeMarket(s *session, tokenID string) {
	if tokenID == "" {
		h.sendJSON(s, errorFrame{Error: "missing marketId"})
		return
	}
	if err := h.market.Subscribe(s.id, tokenID); err != nil {
		h.logger.Warn("market subscribe failed", "client", s.id, "topic", tokenID, "error", err)
		h.sendJSON(s, errorFrame{Error: "subscribe failed"})
		return
	}
	h.sendJSON(s, statusFrame{Status: "subscribed", TokenID: tokenID})
}

func (h *hub) unsubscribeMarket(s *session, tokenID string) {
	if tokenID == "" {
		h.sendJSON(s, errorFrame{Error: "missing marketId"})
		return
	}
	h.market.Unsubscribe(s.id, tokenID)
	h.sendJSON(s, statusFrame{Status: "unsubscribed", TokenID: tokenID})
}

// sendJSON marshals and enqueues one control response.
func (h *hub) sendJSON(s *session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal control response", "error", err)
		return
	}
	if !s.enqueue(data) {
		h.counters.RecipientDrops.Add(1)
		h.logger.Warn("send queue full, dropping control response", "client", s.id)
	}
}

// dropSession removes the session and runs the teardown cascade: empty the
// registry for this client, then hand every topic that emptied to its
// owning manager. Runs once per session no matter how many paths race here.
func (h *hub) dropSession(s *session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.id)
	h.mu.Unlock()

	s.close()

	emptied := h.registry.RemoveClient(s.id)
	for _, topic := range emptied[registry.DomainMarket] {
		h.market.TeardownTopic(topic)
	}
	for _, topic := range emptied[registry.DomainComment] {
		h.comments.TopicEmptied(topic)
	}

	h.counters.ClientDisconnects.Add(1)
	h.logger.Info("client disconnected",
		"client", s.id,
		"market_topics", len(emptied[registry.DomainMarket]),
		"comment_topics", len(emptied[registry.DomainComment]),
	)
}
