package fanout

import (
	"encoding/json"

	"github.com/rickgao/marketfeed/internal/model"
)

// Message types.
const (
	TypeConnectionAck = "connection_ack"
	TypeSnapshot      = "snapshot"
	TypeUpdate        = "update"
	TypeWarning       = "warning"
	TypeError         = "error"
	TypeSubscribe     = "subscribe"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribe   = "unsubscribe"
	TypeUnsubscribed  = "unsubscribed"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeData          = "data"
	TypeHistory       = "history"
	TypeMetrics       = "metrics"
)

// Inbound is a client request. EntityID is accepted as an alias for Symbol.
type Inbound struct {
	Type     string `json:"type"`
	Channel  string `json:"channel,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	EntityID string `json:"entityId,omitempty"`
}

func (in Inbound) symbol() string {
	if in.Symbol != "" {
		return in.Symbol
	}
	return in.EntityID
}

// Outbound is every message the hub sends.
type Outbound struct {
	Type              string          `json:"type"`
	ClientID          string          `json:"clientId,omitempty"`
	SupportedChannels []string        `json:"supportedChannels,omitempty"`
	Channel           string          `json:"channel,omitempty"`
	Symbol            string          `json:"symbol,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Timestamp         int64           `json:"timestamp,omitempty"`
	Error             string          `json:"error,omitempty"`
	Message           string          `json:"message,omitempty"`
	Data              any             `json:"data,omitempty"`
}

// SnapshotData is the body of snapshot and update messages.
type SnapshotData struct {
	LastUpdated  int64         `json:"lastUpdated"`
	Assets       []model.Asset `json:"assets"`
	Source       string        `json:"source"`
	UsedFallback bool          `json:"usedFallback"`
}

// WarningData is the body of a fallback warning broadcast.
type WarningData struct {
	Message     string `json:"message"`
	LastUpdated int64  `json:"lastUpdated"`
	Source      string `json:"source"`
}

func encode(msg Outbound) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Only reachable with an unencodable Data value.
		data, _ = json.Marshal(Outbound{Type: TypeError, Error: "internal encoding error"})
	}
	return data
}
