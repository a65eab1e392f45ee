package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/tony-42069/precedence-stream/internal/metrics"
	"github.com/tony-42069/precedence-stream/internal/registry"
)

// mockBroadcaster records broadcast frames.
type mockBroadcaster struct {
	mu     sync.Mutex
	frames []broadcastCall
}

type broadcastCall struct {
	topic  string
	domain registry.Domain
	frame  []byte
}

func (b *mockBroadcaster) Broadcast(topic string, domain registry.Domain, frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, broadcastCall{topic: topic, domain: domain, frame: frame})
}

func (b *mockBroadcaster) calls() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broadcastCall, len(b.frames))
	copy(out, b.frames)
	return out
}

// mockUpstream is a WebSocket server standing in for the market feed. It
// records upgrades and handshake frames and can push events downstream.
type mockUpstream struct {
	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	upgrades int
	frames   []string
	conns    []*websocket.Conn
}

func newMockUpstream(t *testing.T) *mockUpstream {
	u := &mockUpstream{t: t}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}

		u.mu.Lock()
		u.upgrades++
		u.conns = append(u.conns, conn)
		u.mu.Unlock()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			u.mu.Lock()
			u.frames = append(u.frames, string(msg))
			u.mu.Unlock()
		}
	}))

	return u
}

func (u *mockUpstream) url() string {
	return "ws" + strings.TrimPrefix(u.server.URL, "http")
}

func (u *mockUpstream) upgradeCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.upgrades
}

func (u *mockUpstream) lastFrame() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.frames) == 0 {
		return ""
	}
	return u.frames[len(u.frames)-1]
}

func (u *mockUpstream) push(data string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range u.conns {
		c.WriteMessage(websocket.TextMessage, []byte(data))
	}
}

func (u *mockUpstream) close() {
	u.server.Close()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func newTestManager(url string, clk clock.Clock) (Manager, *registry.Registry, *mockBroadcaster, *metrics.Counters) {
	cfg := DefaultConfig()
	cfg.Feed.URL = url
	cfg.Feed.BufferSize = 100
	cfg.ReconnectDelay = 5 * time.Second
	cfg.MaxRetries = 3
	cfg.Clock = clk

	reg := registry.New()
	b := &mockBroadcaster{}
	counters := &metrics.Counters{}
	mgr := NewManager(cfg, reg, b, counters, nil)
	return mgr, reg, b, counters
}

func TestManager_SubscribeBeforeStart(t *testing.T) {
	mgr, _, _, _ := newTestManager("ws://localhost:12345", nil)

	if err := mgr.Subscribe(1, "tok"); err != ErrNotStarted {
		t.Errorf("Subscribe before Start = %v, want ErrNotStarted", err)
	}
}

func TestManager_FirstSubscriberDials(t *testing.T) {
	upstream := newMockUpstream(t)
	defer upstream.close()

	mgr, _, _, _ := newTestManager(upstream.url(), nil)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	if err := mgr.Subscribe(1, "tok-1"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return upstream.lastFrame() != ""
	}, "waiting for subscribe handshake")

	var frame subscribeFrame
	if err := json.Unmarshal([]byte(upstream.lastFrame()), &frame); err != nil {
		t.Fatalf("handshake not valid JSON: %v", err)
	}
	if frame.Type != "MARKET" {
		t.Errorf("handshake type = %q, want MARKET", frame.Type)
	}
	if len(frame.AssetsIDs) != 1 || frame.AssetsIDs[0] != "tok-1" {
		t.Errorf("handshake assets_ids = %v, want [tok-1]", frame.AssetsIDs)
	}

	// Second subscriber on the same topic must not dial again.
	if err := mgr.Subscribe(2, "tok-1"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := upstream.upgradeCount(); n != 1 {
		t.Errorf("upgrade count = %d, want 1 connection per topic", n)
	}
}

func TestManager_FanoutFromUpstream(t *testing.T) {
	upstream := newMockUpstream(t)
	defer upstream.close()

	mgr, _, b, counters := newTestManager(upstream.url(), nil)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	mgr.Subscribe(1, "tok-1")
	waitFor(t, 2*time.Second, func() bool {
		return upstream.lastFrame() != ""
	}, "waiting for handshake")

	upstream.push(`{"event_type":"book","asset_id":"tok-1","bids":[{"price":"0.48","size":"10"}],"asks":[]}`)

	waitFor(t, 2*time.Second, func() bool {
		return len(b.calls()) == 1
	}, "waiting for broadcast")

	call := b.calls()[0]
	if call.topic != "tok-1" {
		t.Errorf("broadcast topic = %q, want tok-1", call.topic)
	}
	if call.domain != registry.DomainMarket {
		t.Errorf("broadcast domain = %v, want market", call.domain)
	}
	if !strings.Contains(string(call.frame), `"type":"book"`) {
		t.Errorf("frame = %s, want a book frame", call.frame)
	}
	if counters.UpstreamFrames.Load() != 1 {
		t.Errorf("UpstreamFrames = %d, want 1", counters.UpstreamFrames.Load())
	}
}

func TestManager_BatchedSnapshotFrames(t *testing.T) {
	upstream := newMockUpstream(t)
	defer upstream.close()

	mgr, _, b, _ := newTestManager(upstream.url(), nil)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	mgr.Subscribe(1, "tok-1")
	waitFor(t, 2*time.Second, func() bool {
		return upstream.lastFrame() != ""
	}, "waiting for handshake")

	// Fresh subscriptions answer with an array of book snapshots.
	upstream.push(`[{"event_type":"book","asset_id":"tok-1","bids":[],"asks":[]},` +
		`{"event_type":"last_trade_price","asset_id":"tok-1","price":"0.55"}]`)

	waitFor(t, 2*time.Second, func() bool {
		return len(b.calls()) == 2
	}, "waiting for both broadcasts")
}

func TestManager_UnknownKindDropped(t *testing.T) {
	upstream := newMockUpstream(t)
	defer upstream.close()

	mgr, _, b, counters := newTestManager(upstream.url(), nil)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	mgr.Subscribe(1, "tok-1")
	waitFor(t, 2*time.Second, func() bool {
		return upstream.lastFrame() != ""
	}, "waiting for handshake")

	upstream.push(`{"event_type":"tick_size_change","asset_id":"tok-1"}`)

	waitFor(t, 2*time.Second, func() bool {
		return counters.UnknownFrames.Load() == 1
	}, "waiting for unknown frame counter")

	if len(b.calls()) != 0 {
		t.Errorf("broadcast calls = %d, want 0 for unknown kind", len(b.calls()))
	}
}

func TestManager_LastUnsubscribeClosesConnection(t *testing.T) {
	upstream := newMockUpstream(t)
	defer upstream.close()

	mgr, reg, _, _ := newTestManager(upstream.url(), nil)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	mgr.Subscribe(1, "tok-1")
	mgr.Subscribe(2, "tok-1")
	waitFor(t, 2*time.Second, func() bool {
		return mgr.Stats().Open == 1
	}, "waiting for open connection")

	mgr.Unsubscribe(1, "tok-1")
	if got := mgr.Stats().Topics; got != 1 {
		t.Errorf("Topics after first unsubscribe = %d, want 1", got)
	}

	mgr.Unsubscribe(2, "tok-1")
	if got := mgr.Stats().Topics; got != 0 {
		t.Errorf("Topics after last unsubscribe = %d, want 0", got)
	}
	if subs := reg.SubscribersOf("tok-1", registry.DomainMarket); len(subs) != 0 {
		t.Errorf("registry subscribers = %v, want empty", subs)
	}
}

func TestManager_DuplicateSubscribeThenSingleUnsubscribe(t *testing.T) {
	upstream := newMockUpstream(t)
	defer upstream.close()

	mgr, reg, _, _ := newTestManager(upstream.url(), nil)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	// Subscribe twice, unsubscribe once: set semantics, one connection,
	// one teardown.
	mgr.Subscribe(1, "tok-1")
	mgr.Subscribe(1, "tok-1")
	waitFor(t, 2*time.Second, func() bool {
		return mgr.Stats().Open == 1
	}, "waiting for open connection")

	if n := upstream.upgradeCount(); n != 1 {
		t.Errorf("upgrade count = %d, want 1", n)
	}

	mgr.Unsubscribe(1, "tok-1")
	if got := mgr.Stats().Topics; got != 0 {
		t.Errorf("Topics = %d, want 0 after single unsubscribe", got)
	}
	if tops := reg.TopicsOf(1, registry.DomainMarket); len(tops) != 0 {
		t.Errorf("TopicsOf = %v, want empty", tops)
	}
}

// failingUpstream counts dial attempts and rejects each one.
func failingUpstream() (*httptest.Server, *atomic.Int64) {
	var dials atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	return server, &dials
}

func TestManager_RetryThenAbandon(t *testing.T) {
	server, dials := failingUpstream()
	defer server.Close()

	clk := clock.NewMock()
	mgr, _, _, counters := newTestManager("ws"+strings.TrimPrefix(server.URL, "http"), clk)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	mgr.Subscribe(1, "tok-1")

	// Failure 1 puts the topic in backoff.
	waitFor(t, 2*time.Second, func() bool {
		return mgr.Snapshot()["tok-1"].State == "backoff"
	}, "waiting for first backoff")
	if got := dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}

	// Virtual 5s triggers retry; failure 2 backs off again.
	clk.Add(5 * time.Second)
	waitFor(t, 2*time.Second, func() bool {
		return dials.Load() == 2 && mgr.Snapshot()["tok-1"].State == "backoff"
	}, "waiting for second failure")

	// Failure 3 hits the ceiling: abandoned.
	clk.Add(5 * time.Second)
	waitFor(t, 2*time.Second, func() bool {
		return mgr.Snapshot()["tok-1"].State == "abandoned"
	}, "waiting for abandonment")
	if got := dials.Load(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
	if got := counters.AbandonedTopics.Load(); got != 1 {
		t.Errorf("AbandonedTopics = %d, want 1", got)
	}

	// No further attempts without a fresh subscribe.
	clk.Add(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != 3 {
		t.Errorf("dials after abandonment = %d, want 3", got)
	}
}

func TestManager_ResubscribeResetsAbandonedTopic(t *testing.T) {
	server, dials := failingUpstream()
	defer server.Close()

	clk := clock.NewMock()
	mgr, _, _, _ := newTestManager("ws"+strings.TrimPrefix(server.URL, "http"), clk)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	mgr.Subscribe(1, "tok-1")
	for i := 0; i < 2; i++ {
		waitFor(t, 2*time.Second, func() bool {
			return mgr.Snapshot()["tok-1"].State == "backoff"
		}, "waiting for backoff")
		clk.Add(5 * time.Second)
	}
	waitFor(t, 2*time.Second, func() bool {
		return mgr.Snapshot()["tok-1"].State == "abandoned"
	}, "waiting for abandonment")

	// A fresh subscribe (even from a second client) resets the budget and
	// dials again.
	before := dials.Load()
	mgr.Subscribe(2, "tok-1")
	waitFor(t, 2*time.Second, func() bool {
		return mgr.Snapshot()["tok-1"].RetryCount == 1
	}, "waiting for redial after resubscribe")

	if got := dials.Load(); got != before+1 {
		t.Errorf("dials after resubscribe = %d, want %d", got, before+1)
	}
}

func TestManager_UnsubscribeCancelsPendingRetry(t *testing.T) {
	server, dials := failingUpstream()
	defer server.Close()

	clk := clock.NewMock()
	mgr, _, _, _ := newTestManager("ws"+strings.TrimPrefix(server.URL, "http"), clk)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	mgr.Subscribe(1, "tok-1")
	waitFor(t, 2*time.Second, func() bool {
		return mgr.Snapshot()["tok-1"].State == "backoff"
	}, "waiting for backoff")

	// Last unsubscribe discards retry state; the pending timer must not fire.
	mgr.Unsubscribe(1, "tok-1")
	if got := mgr.Stats().Topics; got != 0 {
		t.Fatalf("Topics = %d, want 0", got)
	}

	before := dials.Load()
	clk.Add(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != before {
		t.Errorf("dials after teardown = %d, want %d (cancelled retry)", got, before)
	}
}

func TestManager_TeardownTopicCascade(t *testing.T) {
	upstream := newMockUpstream(t)
	defer upstream.close()

	mgr, reg, _, _ := newTestManager(upstream.url(), nil)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, mgr)

	mgr.Subscribe(7, "tok-1")
	waitFor(t, 2*time.Second, func() bool {
		return mgr.Stats().Open == 1
	}, "waiting for open connection")

	// Disconnect cascade: the session manager empties the registry first,
	// then hands the emptied topics to TeardownTopic.
	emptied := reg.RemoveClient(7)
	for _, topic := range emptied[registry.DomainMarket] {
		mgr.TeardownTopic(topic)
	}

	if got := mgr.Stats().Topics; got != 0 {
		t.Errorf("Topics = %d, want 0 after cascade", got)
	}
}

func stopManager(t *testing.T, mgr Manager) {
	t.Helper()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
