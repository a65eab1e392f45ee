package comments

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

// Relay owns the shared upstream comment connection.
type Relay interface {
	// Start prepares the relay. The connection is dialed on demand.
	Start(ctx context.Context) error

	// Stop closes the connection and cancels a pending reconnect.
	Stop(ctx context.Context) error

	// SubscribeTopic registers the client for an event's comments. The
	// first subscriber of the first topic dials the connection; while
	// open, a new topic sends an incremental add filter.
	SubscribeTopic(clientID int64, eventID string) error

	// UnsubscribeTopic removes the registration. Emptying a topic sends
	// a remove filter; emptying the last topic applies the idle policy.
	UnsubscribeTopic(clientID int64, eventID string)

	// TopicEmptied applies filter and idle handling for a topic whose
	// registry membership was already emptied elsewhere (client
	// disconnect cascade).
	TopicEmptied(eventID string)

	// State reports the connection state for the health endpoint.
	State() string
}

// relay implements the Relay interface.
type relay struct {
	cfg         Config
	registry    *registry.Registry
	broadcaster Broadcaster
	counters    *metrics.Counters
	logger      *slog.Logger
	clock       clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	state          relayState
	client         feed.Client
	reconnectTimer *clock.Timer
	retryPending   bool
	started        bool
}

// NewRelay creates the comment relay.
func NewRelay(cfg Config, reg *registry.Registry, b Broadcaster, counters *metrics.Counters, logger *slog.Logger) Relay {
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

	return &relay{
		cfg:         cfg,
		registry:    reg,
		broadcaster: b,
		counters:    counters,
		logger:      logger,
		clock:       clk,
	}
}

// Start prepares the relay.
func (r *relay) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.mu.Unlock()

	r.logger.Info("comment relay started",
		"url", r.cfg.Feed.URL,
		"reconnect_delay", r.cfg.ReconnectDelay,
		"close_when_idle", r.cfg.CloseWhenIdle,
	)
	return nil
}

// Stop closes the connection and cancels a pending reconnect.
func (r *relay) Stop(ctx context.Context) error {
	r.logger.Info("stopping comment relay")

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.started = false
	if r.reconnectTimer != nil {
		r.reconnectTimer.Stop()
		r.reconnectTimer = nil
	}
	r.retryPending = false
	client := r.client
	r.client = nil
	r.state = stateClosed
	r.mu.Unlock()

	if client != nil {
		client.Close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("comment relay stopped")
	case <-ctx.Done():
		r.logger.Warn("comment relay stop timed out")
	}

	return nil
}

// SubscribeTopic registers the client and dials or extends the filter set.
func (r *relay) SubscribeTopic(clientID int64, eventID string) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}

	first := r.registry.Subscribe(clientID, eventID, registry.DomainComment)

	var addOn feed.Client
	switch {
	case r.state == stateClosed:
		// The new topic rides the connect replay.
		r.connectLocked()
	case r.state == stateOpen && first:
		addOn = r.client
	}
	r.mu.Unlock()

	if addOn != nil {
		r.sendFilter(addOn, "subscribe", []string{eventID})
	}
	return nil
}

// UnsubscribeTopic removes the registration and updates the filter set when
// the topic empties.
func (r *relay) UnsubscribeTopic(clientID int64, eventID string) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	last := r.registry.Unsubscribe(clientID, eventID, registry.DomainComment)
	if !last {
		r.mu.Unlock()
		return
	}
	removeOn, closeOut := r.topicEmptiedLocked()
	r.mu.Unlock()

	r.finishTeardown(eventID, removeOn, closeOut)
}

// TopicEmptied applies filter and idle handling after the session manager
// emptied the topic via RemoveClient. No registry mutation happens here.
func (r *relay) TopicEmptied(eventID string) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	removeOn, closeOut := r.topicEmptiedLocked()
	r.mu.Unlock()

	r.finishTeardown(eventID, removeOn, closeOut)
}

// State reports the connection state.
func (r *relay) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.String()
}

// topicEmptiedLocked decides what a just-emptied topic means for the
// connection: an incremental remove filter, a full idle hang-up, or nothing.
// Caller must hold the mutex; returned clients are acted on outside it.
func (r *relay) topicEmptiedLocked() (removeOn, closeOut feed.Client) {
	idle := len(r.registry.Topics(registry.DomainComment)) == 0

	if idle && r.cfg.CloseWhenIdle {
		if r.reconnectTimer != nil {
			r.reconnectTimer.Stop()
			r.reconnectTimer = nil
		}
		r.retryPending = false
		closeOut = r.client
		r.client = nil
		if r.state != stateClosed {
			r.logger.Info("comment relay closed", "reason", "idle")
		}
		r.state = stateClosed
		return nil, closeOut
	}

	if r.state == stateOpen {
		removeOn = r.client
	}
	return removeOn, nil
}

func (r *relay) finishTeardown(eventID string, removeOn, closeOut feed.Client) {
	if removeOn != nil {
		r.sendFilter(removeOn, "unsubscribe", []string{eventID})
	}
	if closeOut != nil {
		closeOut.Close()
	}
	r.logger.Debug("comment topic emptied", "event", eventID)
}

// connectLocked starts a dial if the relay is closed; connecting and open
// states make it a no-op. Caller must hold the mutex.
func (r *relay) connectLocked() {
	if r.state != stateClosed || r.ctx.Err() != nil {
		return
	}
	if r.reconnectTimer != nil {
		r.reconnectTimer.Stop()
		r.reconnectTimer = nil
	}
	r.retryPending = false
	r.state = stateConnecting

	client := feed.NewClient(r.cfg.Feed, r.logger.With("feed", "comments"))
	r.client = client

	r.wg.Add(1)
	go r.run(client)
}

// run dials the upstream, replays the current filter set and reads until
// the connection dies.
func (r *relay) run(client feed.Client) {
	defer r.wg.Done()

	err := client.Connect(r.ctx)

	r.mu.Lock()
	if r.ctx.Err() != nil || r.client != client {
		r.mu.Unlock()
		client.Close()
		return
	}
	if err != nil {
		r.logger.Warn("comment relay dial failed", "error", err)
		r.downLocked()
		r.mu.Unlock()
		return
	}
	r.state = stateOpen
	// Snapshot inside the critical section that flips to open: topics
	// registered before this moment ride the replay, topics after it send
	// their own add filter. Nothing falls between.
	topics := r.registry.Topics(registry.DomainComment)
	r.mu.Unlock()

	r.logger.Info("comment relay connected", "topics", len(topics))
	if len(topics) > 0 {
		r.sendFilter(client, "subscribe", topics)
	}

	r.readLoop(client)
}

// readLoop is the relay's single reader.
func (r *relay) readLoop(client feed.Client) {
	for {
		select {
		case <-r.ctx.Done():
			return

		case err := <-client.Errors():
			r.logger.Warn("comment relay connection error", "error", err)
			r.handleDisconnect(client)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				r.handleDisconnect(client)
				return
			}
			r.handleMessage(msg)
		}
	}
}

// handleMessage decodes one comment feed frame and fans it out to the
// parent event's subscribers, if any.
func (r *relay) handleMessage(msg feed.TimestampedMessage) {
	r.counters.UpstreamFrames.Add(1)

	evt, err := events.DecodeComment(msg.Data)
	if err != nil {
		r.logger.Warn("failed to decode comment frame", "error", err)
		return
	}
	if evt.Kind() == events.KindUnknown {
		r.counters.UnknownFrames.Add(1)
		return
	}

	topic := evt.Topic()
	if r.registry.SubscriberCount(topic, registry.DomainComment) == 0 {
		return
	}

	frame, ok := events.Transform(evt, msg.ReceivedAt)
	if !ok {
		return
	}
	r.broadcaster.Broadcast(topic, registry.DomainComment, frame)
}

// handleDisconnect routes a dead connection into reconnect scheduling.
func (r *relay) handleDisconnect(client feed.Client) {
	client.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil || r.client != client {
		return
	}
	r.downLocked()
}

// downLocked records the connection loss and schedules a single reconnect
// while topics remain. Caller must hold the mutex.
func (r *relay) downLocked() {
	r.client = nil
	r.state = stateClosed

	topics := len(r.registry.Topics(registry.DomainComment))
	if topics == 0 && r.cfg.CloseWhenIdle {
		r.logger.Info("comment relay closed", "reason", "idle")
		return
	}
	if r.retryPending {
		return
	}

	r.retryPending = true
	r.counters.Reconnects.Add(1)
	r.logger.Info("comment relay reconnect scheduled",
		"delay", r.cfg.ReconnectDelay,
		"topics", topics,
	)
	r.reconnectTimer = r.clock.AfterFunc(r.cfg.ReconnectDelay, r.redial)
}

// redial is the reconnect timer callback. The replay in run() picks up
// whatever the topic set is by then, not what it was at scheduling time.
func (r *relay) redial() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.retryPending || r.ctx.Err() != nil {
		return
	}
	r.retryPending = false
	r.reconnectTimer = nil
	r.connectLocked()
}

// sendFilter marshals and sends one filter mutation frame.
func (r *relay) sendFilter(client feed.Client, action string, eventIDs []string) {
	data, err := json.Marshal(newFilterFrame(action, eventIDs))
	if err != nil {
		r.logger.Error("failed to marshal filter frame", "error", err)
		return
	}
	if err := client.Send(data); err != nil {
		// The read loop notices the dying socket and reconnects.
		r.logger.Warn("failed to send filter frame", "action", action, "error", err)
	}
}
