package stream

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Errors
var (
	ErrUnsupportedChannel = errors.New("unsupported channel")
	ErrMissingEntity      = errors.New("entity id is required")
	ErrClosed             = errors.New("multiplexer closed")
	ErrStreamDropped      = errors.New("stream dropped after reconnect attempts")
)

// DefaultURL is the Binance raw stream endpoint.
const DefaultURL = "wss://stream.binance.com:9443/ws"

// Listener receives one upstream payload. It runs on the handle's read goroutine.
type Listener func(payload json.RawMessage)

// Config holds multiplexer configuration.
type Config struct {
	URL                  string            // Base URL; the stream name is appended as a path segment
	Channels             map[string]string // channel -> stream suffix, e.g. "depth" -> "depth5@100ms"
	HeartbeatInterval    time.Duration     // Ping period (default: 30s)
	PongTimeout          time.Duration     // Connection is considered dead after this long without a pong (default: 2x heartbeat)
	HandshakeTimeout     time.Duration     // Dial timeout (default: 10s)
	WriteTimeout         time.Duration     // Control frame deadline (default: 5s)
	ReconnectBaseDelay   time.Duration     // First retry delay (default: 1s)
	ReconnectMaxDelay    time.Duration     // Retry delay cap (default: 60s)
	MaxReconnectAttempts int               // Consecutive failures before the handle is dropped (default: 10)
	EventBufferSize      int               // Events() capacity (default: 256)
}

// DefaultChannels maps supported channels to Binance stream suffixes.
func DefaultChannels() map[string]string {
	return map[string]string{
		"ticker":     "ticker",
		"miniTicker": "miniTicker",
		"trade":      "trade",
		"aggTrade":   "aggTrade",
		"bookTicker": "bookTicker",
		"depth":      "depth5@100ms",
	}
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                  DefaultURL,
		Channels:             DefaultChannels(),
		HeartbeatInterval:    30 * time.Second,
		PongTimeout:          60 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectAttempts: 10,
		EventBufferSize:      256,
	}
}

// EventType classifies multiplexer events.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventReconnecting    EventType = "reconnecting"
	EventReconnectFailed EventType = "reconnect_failed"
	EventStreamError     EventType = "stream_error"
	EventListenerError   EventType = "listener_error"
	EventClosed          EventType = "closed"
)

// Event is a handle-scoped notification.
type Event struct {
	Type    EventType
	Key     string
	Attempt int
	Err     error
	At      time.Time
}

// State is a handle's connection state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats provides statistics about the multiplexer.
type Stats struct {
	Handles       int   `json:"handles"`
	Open          int   `json:"open"`
	Listeners     int   `json:"listeners"`
	Messages      int64 `json:"messages"`
	Reconnects    int64 `json:"reconnects"`
	DroppedEvents int64 `json:"droppedEvents"`
}
