package hub

import (
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
)

// Config holds downstream hub settings.
type Config struct {
	// SendBuffer is the per-session outbound queue depth. A full queue
	// drops frames for that recipient only.
	SendBuffer int

	// WriteTimeout bounds a single frame write to a client.
	WriteTimeout time.Duration

	// PingInterval is how often the liveness monitor pings every session.
	PingInterval time.Duration

	// PongWait is how long a session may stay silent before its read
	// pump gives up. Any pong or data frame resets it.
	PongWait time.Duration

	// Clock drives the liveness ticker; nil means the real clock.
	Clock clock.Clock
}

// DefaultConfig returns hub settings with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:   256,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     90 * time.Second,
	}
}

// controlFrame is any client→server message. Ids are raw so string and
// numeric forms both pass through; the legacy shorthand has no type.
type controlFrame struct {
	Type        string          `json:"type"`
	MarketID    json.RawMessage `json:"marketId"`
	EventID     json.RawMessage `json:"eventId"`
	Subscribe   json.RawMessage `json:"subscribe"`
	Unsubscribe json.RawMessage `json:"unsubscribe"`
}

type connectedFrame struct {
	Type     string `json:"type"`
	ClientID int64  `json:"clientId"`
}

type statusFrame struct {
	Status  string `json:"status"`
	TokenID string `json:"tokenID"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// rawString extracts a topic id that may be a JSON string or number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
