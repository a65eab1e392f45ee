package market

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/tony-42069/precedence-stream/internal/events"
	"github.com/tony-42069/precedence-stream/internal/feed"
	"github.com/tony-42069/precedence-stream/internal/metrics"
	"github.com/tony-42069/precedence-stream/internal/registry"
)

// Broadcaster delivers one transformed frame to every current subscriber of
// a topic. Implemented by the downstream hub.
type Broadcaster interface {
	Broadcast(topic string, domain registry.Domain, frame []byte)
}

// Manager owns the per-topic upstream market connections.
type Manager interface {
	// Start prepares the manager. Connections are dialed on demand.
	Start(ctx context.Context) error

	// Stop closes every connection and cancels pending retries.
	Stop(ctx context.Context) error

	// Subscribe registers the client and dials the topic's connection if
	// it is the first subscriber. A subscribe to an abandoned topic
	// resets its retry budget and dials again.
	Subscribe(clientID int64, topicID string) error

	// Unsubscribe removes the registration; the last subscriber tears
	// the connection down and discards retry state.
	Unsubscribe(clientID int64, topicID string)

	// TeardownTopic tears down a topic whose registry membership was
	// already emptied elsewhere (client disconnect cascade).
	TeardownTopic(topicID string)

	// Snapshot returns per-topic state for the debug endpoint.
	Snapshot() map[string]TopicStatus

	// Stats summarizes connection counts for the health endpoint.
	Stats() Stats
}

// topicConn is one topic's connection state. Mutations happen under the
// manager mutex; the live client pointer doubles as a staleness guard for
// read-loop callbacks.
type topicConn struct {
	topicID    string
	state      topicState
	client     feed.Client
	retryCount int
	retryTimer *clock.Timer
}

// manager implements the Manager interface.
type manager struct {
	cfg         Config
	registry    *registry.Registry
	broadcaster Broadcaster
	counters    *metrics.Counters
	logger      *slog.Logger
	clock       clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	topics  map[string]*topicConn
	started bool
}

// NewManager creates a market connection manager.
func NewManager(cfg Config, reg *registry.Registry, b Broadcaster, counters *metrics.Counters, logger *slog.Logger) Manager {
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

	return &manager{
		cfg:         cfg,
		registry:    reg,
		broadcaster: b,
		counters:    counters,
		logger:      logger,
		clock:       clk,
		topics:      make(map[string]*topicConn),
	}
}

// Start prepares the manager.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
	m.mu.Unlock()

	m.logger.Info("market connection manager started",
		"url", m.cfg.Feed.URL,
		"reconnect_delay", m.cfg.ReconnectDelay,
		"max_retries", m.cfg.MaxRetries,
	)
	return nil
}

// Stop closes every connection and cancels pending retries.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping market connection manager")

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.started = false
	clients := make([]feed.Client, 0, len(m.topics))
	for _, tc := range m.topics {
		if tc.retryTimer != nil {
			tc.retryTimer.Stop()
			tc.retryTimer = nil
		}
		if tc.client != nil {
			clients = append(clients, tc.client)
			tc.client = nil
		}
		tc.state = stateIdle
	}
	m.topics = make(map[string]*topicConn)
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	// Wait for read loops with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("market connection manager stopped")
	case <-ctx.Done():
		m.logger.Warn("market connection manager stop timed out")
	}

	return nil
}

// Subscribe registers the client and dials on first subscriber.
func (m *manager) Subscribe(clientID int64, topicID string) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.mu.Unlock()

	first := m.registry.Subscribe(clientID, topicID, registry.DomainMarket)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ErrNotStarted
	}

	tc, exists := m.topics[topicID]
	switch {
	case !exists:
		// First subscriber (or first after a full teardown).
		tc = &topicConn{topicID: topicID, state: stateIdle}
		m.topics[topicID] = tc
		m.dialLocked(tc)

	case tc.state == stateAbandoned:
		// A fresh subscribe resets an abandoned topic regardless of
		// whether the registry considered it active.
		m.logger.Info("resubscribe resets abandoned topic", "topic", topicID)
		tc.retryCount = 0
		m.dialLocked(tc)

	case first && tc.state == stateIdle:
		m.dialLocked(tc)
	}

	return nil
}

// Unsubscribe removes the registration and tears down on last subscriber.
func (m *manager) Unsubscribe(clientID int64, topicID string) {
	last := m.registry.Unsubscribe(clientID, topicID, registry.DomainMarket)
	if last {
		m.TeardownTopic(topicID)
	}
}

// TeardownTopic closes the topic's connection, cancels any pending retry
// and discards all retry state unconditionally.
func (m *manager) TeardownTopic(topicID string) {
	m.mu.Lock()
	tc, ok := m.topics[topicID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.topics, topicID)
	if tc.retryTimer != nil {
		tc.retryTimer.Stop()
		tc.retryTimer = nil
	}
	client := tc.client
	tc.client = nil
	tc.state = stateIdle
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}
	m.logger.Info("market topic torn down", "topic", topicID)
}

// Snapshot returns per-topic state for the debug endpoint.
func (m *manager) Snapshot() map[string]TopicStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]TopicStatus, len(m.topics))
	for id, tc := range m.topics {
		out[id] = TopicStatus{State: tc.state.String(), RetryCount: tc.retryCount}
	}
	return out
}

// Stats summarizes connection counts.
func (m *manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Topics: len(m.topics)}
	for _, tc := range m.topics {
		switch tc.state {
		case stateOpen:
			s.Open++
		case stateBackoff:
			s.Backoff++
		case stateAbandoned:
			s.Abandoned++
		}
	}
	return s
}

// dialLocked transitions the topic to connecting and dials asynchronously.
// Caller must hold the manager mutex.
func (m *manager) dialLocked(tc *topicConn) {
	tc.state = stateConnecting

	client := feed.NewClient(m.cfg.Feed, m.logger.With("topic", tc.topicID))
	tc.client = client

	m.wg.Add(1)
	go m.connectTopic(tc, client)
}

// connectTopic dials the upstream, sends the handshake and starts the read
// loop. Any failure on the way counts against the topic's retry budget.
func (m *manager) connectTopic(tc *topicConn, client feed.Client) {
	defer m.wg.Done()

	err := client.Connect(m.ctx)

	m.mu.Lock()
	if !m.currentLocked(tc, client) {
		m.mu.Unlock()
		client.Close()
		return
	}
	if err != nil {
		m.logger.Warn("market feed dial failed", "topic", tc.topicID, "error", err)
		m.handleFailureLocked(tc)
		m.mu.Unlock()
		return
	}
	tc.state = stateOpen
	m.mu.Unlock()

	frame, _ := json.Marshal(subscribeFrame{Type: "MARKET", AssetsIDs: []string{tc.topicID}})
	if err := client.Send(frame); err != nil {
		m.logger.Warn("market subscribe handshake failed", "topic", tc.topicID, "error", err)
		m.mu.Lock()
		if m.currentLocked(tc, client) {
			m.handleFailureLocked(tc)
		}
		m.mu.Unlock()
		client.Close()
		return
	}

	m.logger.Info("market topic connected", "topic", tc.topicID)

	m.wg.Add(1)
	go m.readLoop(tc, client)
}

// readLoop is the topic's single reader: decode, transform and broadcast
// happen inline so one recipient sees one topic's frames in arrival order.
func (m *manager) readLoop(tc *topicConn, client feed.Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-client.Errors():
			m.logger.Warn("market feed connection error", "topic", tc.topicID, "error", err)
			m.handleDisconnect(tc, client)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				// Closed without a surfaced error; deliberate
				// teardown no-ops via the staleness check.
				m.handleDisconnect(tc, client)
				return
			}
			m.handleMessage(tc.topicID, msg)
		}
	}
}

// handleMessage decodes and fans out one upstream frame.
func (m *manager) handleMessage(topicID string, msg feed.TimestampedMessage) {
	for _, part := range events.Split(msg.Data) {
		m.counters.UpstreamFrames.Add(1)

		evt, err := events.DecodeMarket(part)
		if err != nil {
			m.logger.Warn("failed to decode market frame", "topic", topicID, "error", err)
			continue
		}
		if evt.Kind() == events.KindUnknown {
			m.counters.UnknownFrames.Add(1)
			m.logger.Debug("skipping market event kind",
				"topic", topicID,
				"kind", evt.(*events.UnknownEvent).EventType,
			)
			continue
		}

		frame, ok := events.Transform(evt, msg.ReceivedAt)
		if !ok {
			continue
		}

		topic := evt.Topic()
		if topic == "" {
			topic = topicID
		}
		m.broadcaster.Broadcast(topic, registry.DomainMarket, frame)
	}
}

// handleDisconnect routes a dead connection into the retry state machine.
func (m *manager) handleDisconnect(tc *topicConn, client feed.Client) {
	client.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil || !m.currentLocked(tc, client) {
		return
	}
	m.handleFailureLocked(tc)
}

// handleFailureLocked counts one failure and either schedules a retry or
// abandons the topic. Caller must hold the manager mutex.
func (m *manager) handleFailureLocked(tc *topicConn) {
	tc.retryCount++
	tc.client = nil

	subscribers := m.registry.SubscriberCount(tc.topicID, registry.DomainMarket)
	if tc.retryCount < m.cfg.MaxRetries && subscribers > 0 {
		tc.state = stateBackoff
		m.counters.Reconnects.Add(1)
		m.logger.Info("market reconnect scheduled",
			"topic", tc.topicID,
			"attempt", tc.retryCount,
			"delay", m.cfg.ReconnectDelay,
		)
		topicID := tc.topicID
		tc.retryTimer = m.clock.AfterFunc(m.cfg.ReconnectDelay, func() {
			m.retryDial(topicID, tc)
		})
		return
	}

	tc.state = stateAbandoned
	tc.retryTimer = nil
	m.counters.AbandonedTopics.Add(1)
	m.logger.Warn("market topic abandoned",
		"topic", tc.topicID,
		"attempts", tc.retryCount,
		"subscribers", subscribers,
	)
}

// retryDial redials a topic still waiting in backoff.
func (m *manager) retryDial(topicID string, tc *topicConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.topics[topicID]
	if !ok || current != tc || tc.state != stateBackoff {
		return
	}
	if m.ctx.Err() != nil {
		return
	}
	m.dialLocked(tc)
}

// currentLocked reports whether the (topic, client) pair is still the live
// one; teardown or resubscribe replaces either. Caller must hold the mutex.
func (m *manager) currentLocked(tc *topicConn, client feed.Client) bool {
	current, ok := m.topics[tc.topicID]
	return ok && current == tc && tc.client == client
}
