package market

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tony-42069/precedence-stream/internal/feed"
)

// Errors
var (
	ErrNotStarted = errors.New("manager not started")
)

// topicState is one position in the per-topic connection state machine.
type topicState int

const (
	stateIdle topicState = iota
	stateConnecting
	stateOpen
	stateBackoff
	stateAbandoned
)

// String returns the state name used in logs and the debug endpoint.
func (s topicState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateBackoff:
		return "backoff"
	case stateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Config configures the market connection manager.
type Config struct {
	// Feed carries the upstream URL, dial headers and per-connection
	// tuning shared by every topic connection.
	Feed feed.Config

	// ReconnectDelay is the fixed wait before redialing a failed topic.
	ReconnectDelay time.Duration

	// MaxRetries is the consecutive failure ceiling per topic; at the
	// ceiling the topic is abandoned until a fresh subscribe.
	MaxRetries int

	// Clock drives the reconnect timers. Nil selects the wall clock;
	// tests inject a mock to fast-forward the delay.
	Clock clock.Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Feed:           feed.DefaultConfig(),
		ReconnectDelay: 5 * time.Second,
		MaxRetries:     3,
	}
}

// TopicStatus describes one topic's connection for the debug endpoint.
type TopicStatus struct {
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
}

// Stats summarizes manager state for the health endpoint.
type Stats struct {
	Topics    int
	Open      int
	Backoff   int
	Abandoned int
}

// subscribeFrame is the per-topic handshake sent once the socket opens.
type subscribeFrame struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}
