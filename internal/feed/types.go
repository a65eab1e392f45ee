package feed

import (
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw frame bytes with the local receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the socket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Config configures one upstream client.
type Config struct {
	URL              string        // Feed URL (e.g. wss://ws-subscriptions-clob.polymarket.com/ws/market)
	Headers          http.Header   // Extra dial headers (session credentials), may be nil
	HandshakeTimeout time.Duration // Dial handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping cadence
	PingTimeout      time.Duration // Max quiet time before the connection counts as stale
	BufferSize       int           // Message channel capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     10 * time.Second,
		PingTimeout:      60 * time.Second,
		BufferSize:       1000,
	}
}
