package fanout

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rickgao/marketfeed/internal/ingest"
	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/stream"
)

// Conn is one client connection as seen by the hub. Send must not block.
type Conn interface {
	ID() string
	Send(msg []byte) bool
	Close()
}

// SnapshotReader serves query messages. *ingest.Pipeline implements it.
type SnapshotReader interface {
	Snapshot() (model.Snapshot, bool)
	History(id string) []model.HistorySample
}

// Subscription releases one stream registration. Done is closed when the
// registration ends; Err is non-nil if it ended without Unsubscribe.
type Subscription interface {
	Unsubscribe()
	Done() <-chan struct{}
	Err() error
}

// Subscriber opens stream registrations for clients.
type Subscriber interface {
	Subscribe(entityID, channel string, listener stream.Listener) (Subscription, error)
	SupportedChannels() []string
}

// FromMultiplexer adapts a stream multiplexer to Subscriber.
func FromMultiplexer(m *stream.Multiplexer) Subscriber {
	return multiplexerSubscriber{m: m}
}

type multiplexerSubscriber struct {
	m *stream.Multiplexer
}

func (s multiplexerSubscriber) Subscribe(entityID, channel string, l stream.Listener) (Subscription, error) {
	sub, err := s.m.Subscribe(entityID, channel, l)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s multiplexerSubscriber) SupportedChannels() []string {
	return s.m.SupportedChannels()
}

// MetricsFunc produces the body of a periodic metrics broadcast.
// Returning false skips the tick.
type MetricsFunc func() (any, bool)

// Option configures a Hub.
type Option func(*Hub)

// WithClock sets the time source used for pong timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// WithMetrics enables a metrics broadcast every interval.
func WithMetrics(interval time.Duration, fn MetricsFunc) Option {
	return func(h *Hub) {
		h.metricsInterval = interval
		h.metrics = fn
	}
}

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Clients       int   `json:"clients"`
	Subscriptions int   `json:"subscriptions"`
	Sent          int64 `json:"sent"`
	Rejected      int64 `json:"rejected"`
}

type client struct {
	conn Conn

	mu     sync.Mutex
	subs   map[string]Subscription
	closed bool
}

// Hub tracks client registrations and routes messages between clients,
// the stream multiplexer and the ingestion pipeline.
type Hub struct {
	reader     SnapshotReader
	subscriber Subscriber
	logger     *zap.Logger
	now        func() time.Time

	channels  []string
	supported map[string]struct{}

	metrics         MetricsFunc
	metricsInterval time.Duration

	mu      sync.RWMutex
	clients map[string]*client

	sent     atomic.Int64
	rejected atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

var _ ingest.Observer = (*Hub)(nil)

// NewHub creates a hub. subscriber may be nil, in which case every
// subscribe request is rejected.
func NewHub(reader SnapshotReader, subscriber Subscriber, logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Hub{
		reader:     reader,
		subscriber: subscriber,
		logger:     logger.Named("hub"),
		now:        time.Now,
		supported:  make(map[string]struct{}),
		clients:    make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}

	if subscriber != nil {
		h.channels = subscriber.SupportedChannels()
	}
	for _, ch := range h.channels {
		h.supported[ch] = struct{}{}
	}
	return h
}

// Connect registers conn, acknowledges it and sends the current snapshot.
func (h *Hub) Connect(conn Conn) {
	c := &client{conn: conn, subs: make(map[string]Subscription)}

	// Held across the initial sends so no broadcast lands before the ack.
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[conn.ID()] = c
	h.send(conn, Outbound{
		Type:              TypeConnectionAck,
		ClientID:          conn.ID(),
		SupportedChannels: h.channels,
	})
	if snap, ok := h.snapshot(); ok {
		h.send(conn, Outbound{Type: TypeSnapshot, Data: snapshotData(snap)})
	}

	h.logger.Debug("client connected", zap.String("client", conn.ID()))
}

// Disconnect drops conn's registration and releases all of its subscriptions.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	c, ok := h.clients[conn.ID()]
	if ok && c.conn == conn {
		delete(h.clients, conn.ID())
	}
	h.mu.Unlock()
	if !ok || c.conn != conn {
		return
	}

	c.mu.Lock()
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	h.logger.Debug("client disconnected",
		zap.String("client", conn.ID()),
		zap.Int("released", len(subs)),
	)
}

// HandleMessage processes one raw client message. Errors are reported to the
// client; the connection is never closed for a bad message.
func (h *Hub) HandleMessage(conn Conn, raw []byte) {
	c := h.lookup(conn)
	if c == nil {
		return
	}

	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		h.sendError(conn, "Invalid JSON payload")
		return
	}

	switch in.Type {
	case TypeSubscribe:
		h.subscribe(c, in)
	case TypeUnsubscribe:
		h.unsubscribe(c, in)
	case TypePing:
		h.send(conn, Outbound{Type: TypePong, Timestamp: h.now().UnixMilli()})
	case TypeSnapshot:
		h.querySnapshot(conn, in)
	case TypeHistory:
		h.queryHistory(conn, in)
	default:
		h.sendError(conn, "Unknown message type: "+in.Type)
	}
}

func (h *Hub) lookup(conn Conn) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[conn.ID()]
	if !ok || c.conn != conn {
		return nil
	}
	return c
}

func (h *Hub) subscribe(c *client, in Inbound) {
	channel := strings.TrimSpace(in.Channel)
	symbol := strings.TrimSpace(in.symbol())
	if channel == "" || symbol == "" {
		h.sendError(c.conn, "channel and symbol are required")
		return
	}
	if _, ok := h.supported[channel]; !ok {
		h.sendError(c.conn, "Unsupported channel: "+channel)
		return
	}

	key := stream.Key(symbol, channel)
	display := strings.ToUpper(symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if _, dup := c.subs[key]; dup {
		h.send(c.conn, Outbound{Type: TypeWarning, Message: "Already subscribed to " + key})
		return
	}

	// Payloads arriving before the subscribed reply are dropped.
	var ready atomic.Bool
	conn := c.conn
	sub, err := h.subscriber.Subscribe(symbol, channel, func(payload json.RawMessage) {
		if !ready.Load() {
			return
		}
		h.send(conn, Outbound{
			Type:    TypeData,
			Channel: channel,
			Symbol:  display,
			Payload: payload,
		})
	})
	if err != nil {
		h.logger.Debug("subscribe rejected",
			zap.String("client", conn.ID()),
			zap.String("key", key),
			zap.Error(err),
		)
		h.sendError(conn, err.Error())
		return
	}

	c.subs[key] = sub
	h.send(conn, Outbound{Type: TypeSubscribed, Channel: channel, Symbol: display})
	ready.Store(true)

	go h.watch(c, key, channel, display, sub)
}

// watch releases key when the upstream ends the subscription on its own, so
// the client is told and may subscribe again.
func (h *Hub) watch(c *client, key, channel, display string, sub Subscription) {
	<-sub.Done()
	err := sub.Err()
	if err == nil {
		return
	}

	c.mu.Lock()
	current, ok := c.subs[key]
	stale := ok && current == sub && !c.closed
	if stale {
		delete(c.subs, key)
	}
	c.mu.Unlock()
	if !stale {
		return
	}

	h.logger.Info("subscription ended by upstream",
		zap.String("client", c.conn.ID()),
		zap.String("key", key),
		zap.Error(err),
	)
	h.send(c.conn, Outbound{
		Type:    TypeError,
		Channel: channel,
		Symbol:  display,
		Error:   "Stream ended for " + key + ": " + err.Error(),
	})
}

func (h *Hub) unsubscribe(c *client, in Inbound) {
	channel := strings.TrimSpace(in.Channel)
	symbol := strings.TrimSpace(in.symbol())
	if channel == "" || symbol == "" {
		h.sendError(c.conn, "channel and symbol are required")
		return
	}
	key := stream.Key(symbol, channel)

	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	sub.Unsubscribe()
	h.send(c.conn, Outbound{Type: TypeUnsubscribed, Channel: channel, Symbol: strings.ToUpper(symbol)})
}

func (h *Hub) querySnapshot(conn Conn, in Inbound) {
	snap, _ := h.snapshot()

	symbol := strings.TrimSpace(in.symbol())
	if symbol == "" {
		h.send(conn, Outbound{Type: TypeSnapshot, Data: snapshotData(snap)})
		return
	}

	id := strings.ToLower(symbol)
	for _, a := range snap.Assets {
		if a.ID == id {
			h.send(conn, Outbound{Type: TypeSnapshot, Symbol: id, Data: a})
			return
		}
	}
	h.sendError(conn, "Unknown asset: "+id)
}

func (h *Hub) queryHistory(conn Conn, in Inbound) {
	symbol := strings.TrimSpace(in.symbol())
	if symbol == "" {
		h.sendError(conn, "symbol is required")
		return
	}

	id := strings.ToLower(symbol)
	var samples []model.HistorySample
	if h.reader != nil {
		samples = h.reader.History(id)
	}
	if len(samples) == 0 && !h.known(id) {
		h.sendError(conn, "Unknown asset: "+id)
		return
	}
	if samples == nil {
		samples = []model.HistorySample{}
	}
	h.send(conn, Outbound{Type: TypeHistory, Symbol: id, Data: samples})
}

func (h *Hub) known(id string) bool {
	snap, _ := h.snapshot()
	for _, a := range snap.Assets {
		if a.ID == id {
			return true
		}
	}
	return false
}

func (h *Hub) snapshot() (model.Snapshot, bool) {
	if h.reader == nil {
		return model.Snapshot{Assets: []model.Asset{}}, false
	}
	snap, ok := h.reader.Snapshot()
	if snap.Assets == nil {
		snap.Assets = []model.Asset{}
	}
	return snap, ok
}

func snapshotData(s model.Snapshot) SnapshotData {
	return SnapshotData{
		LastUpdated:  s.UpdatedAt,
		Assets:       s.Assets,
		Source:       s.Source,
		UsedFallback: s.UsedFallback,
	}
}

// OnAssetsUpdated broadcasts a published cycle to every client.
func (h *Hub) OnAssetsUpdated(e ingest.AssetsUpdated) {
	h.Broadcast(Outbound{
		Type: TypeUpdate,
		Data: SnapshotData{
			LastUpdated:  e.UpdatedAt,
			Assets:       e.Assets,
			Source:       e.Source,
			UsedFallback: e.UsedFallback,
		},
	})
}

// OnFallback broadcasts a degraded-data warning to every client.
func (h *Hub) OnFallback(f ingest.Fallback) {
	h.Broadcast(Outbound{
		Type: TypeWarning,
		Data: WarningData{
			Message:     f.Message,
			LastUpdated: f.UpdatedAt,
			Source:      f.Source,
		},
	})
}

// Broadcast encodes msg once and queues it on every connected client.
func (h *Hub) Broadcast(msg Outbound) {
	data := encode(msg)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.sendRaw(c.conn, data)
	}
}

func (h *Hub) send(conn Conn, msg Outbound) {
	h.sendRaw(conn, encode(msg))
}

func (h *Hub) sendRaw(conn Conn, data []byte) {
	if conn.Send(data) {
		h.sent.Add(1)
		return
	}
	h.rejected.Add(1)
}

func (h *Hub) sendError(conn Conn, text string) {
	h.send(conn, Outbound{Type: TypeError, Error: text})
}

// Start begins the metrics broadcast loop. It is a no-op when metrics are
// not configured.
func (h *Hub) Start(ctx context.Context) error {
	if h.metrics == nil || h.metricsInterval <= 0 {
		return nil
	}
	if h.cancel != nil {
		return errors.New("hub already started")
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.metricsLoop(ctx)

	h.logger.Info("metrics broadcast started", zap.Duration("interval", h.metricsInterval))
	return nil
}

// Stop ends the metrics loop and closes every client connection.
func (h *Hub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.Disconnect(conn)
		conn.Close()
	}
	return nil
}

func (h *Hub) metricsLoop(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.BroadcastMetrics()
		}
	}
}

// BroadcastMetrics sends one metrics message to every client.
func (h *Hub) BroadcastMetrics() {
	if h.metrics == nil {
		return
	}
	body, ok := h.metrics()
	if !ok {
		return
	}
	h.Broadcast(Outbound{Type: TypeMetrics, Data: body})
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	subs := 0
	for _, c := range clients {
		c.mu.Lock()
		subs += len(c.subs)
		c.mu.Unlock()
	}

	return Stats{
		Clients:       len(clients),
		Subscriptions: subs,
		Sent:          h.sent.Load(),
		Rejected:      h.rejected.Load(),
	}
}
