package comments

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tony-42069/precedence-stream/internal/feed"
)

// ErrNotStarted is returned when SubscribeTopic is called before Start.
var ErrNotStarted = errors.New("comment relay not started")

// relayState is the singleton connection's state machine position.
type relayState int

const (
	stateClosed relayState = iota
	stateConnecting
	stateOpen
)

func (s relayState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	default:
		return "invalid"
	}
}

// Config holds comment relay settings.
type Config struct {
	// Feed carries the upstream URL, dial headers and connection tuning.
	Feed feed.Config

	// ReconnectDelay is the fixed wait before redialing after an
	// unexpected close.
	ReconnectDelay time.Duration

	// CloseWhenIdle hangs the connection up when the last comment topic
	// disappears. When false the socket stays open for the next
	// subscriber.
	CloseWhenIdle bool

	// Clock drives the reconnect timer; nil means the real clock.
	Clock clock.Clock
}

// DefaultConfig returns relay settings with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Feed:           feed.DefaultConfig(),
		ReconnectDelay: 5 * time.Second,
		CloseWhenIdle:  true,
	}
}

// filterFrame is the upstream filter mutation message.
type filterFrame struct {
	Action        string              `json:"action"`
	Subscriptions []subscriptionEntry `json:"subscriptions"`
}

type subscriptionEntry struct {
	Topic   string        `json:"topic"`
	Type    string        `json:"type"`
	Filters commentFilter `json:"filters"`
}

type commentFilter struct {
	ParentEntityID   json.RawMessage `json:"parentEntityID"`
	ParentEntityType string          `json:"parentEntityType"`
}

// newFilterFrame builds one subscribe or unsubscribe frame covering the
// given event ids.
func newFilterFrame(action string, eventIDs []string) filterFrame {
	subs := make([]subscriptionEntry, 0, len(eventIDs))
	for _, id := range eventIDs {
		subs = append(subs, subscriptionEntry{
			Topic: "comments",
			Type:  "*",
			Filters: commentFilter{
				ParentEntityID:   entityID(id),
				ParentEntityType: "Event",
			},
		})
	}
	return filterFrame{Action: action, Subscriptions: subs}
}

// entityID renders a numeric event id as a JSON number and anything else
// as a JSON string, mirroring the tolerance applied on the way in.
func entityID(id string) json.RawMessage {
	if id != "" {
		if _, err := strconv.ParseUint(id, 10, 64); err == nil {
			return json.RawMessage(id)
		}
	}
	quoted, _ := json.Marshal(id)
	return quoted
}
