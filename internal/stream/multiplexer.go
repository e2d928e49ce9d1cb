package stream

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Multiplexer shares upstream connections between local listeners.
type Multiplexer struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool

	nextID  atomic.Uint64
	events  chan Event
	dropped atomic.Int64

	wg sync.WaitGroup
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	m    *Multiplexer
	h    *handle
	id   uint64
	key  string
	once sync.Once

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// Key returns the subscription's stream key.
func (s *Subscription) Key() string { return s.key }

// Unsubscribe removes the listener. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.m.unsubscribe(s.h, s.id)
		s.finish(nil)
	})
}

// Done is closed when the subscription ends, either through Unsubscribe or
// because the upstream handle was torn down underneath it.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns nil while the subscription is live or after Unsubscribe.
// It returns ErrStreamDropped or ErrClosed when the multiplexer ended it.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) finish(err error) {
	s.doneOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

// New creates a multiplexer. Zero config fields take DefaultConfig values.
func New(cfg Config, logger *zap.Logger) *Multiplexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)

	return &Multiplexer{
		cfg:     cfg,
		logger:  logger.Named("stream"),
		handles: make(map[string]*handle),
		events:  make(chan Event, cfg.EventBufferSize),
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = def.Channels
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = 2 * cfg.HeartbeatInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	return cfg
}

// NormalizeEntity upper-cases id and removes "-", "/" and "_" separators.
func NormalizeEntity(id string) string {
	id = strings.TrimSpace(id)
	id = strings.NewReplacer("-", "", "/", "", "_", "").Replace(id)
	return strings.ToUpper(id)
}

// Key returns the handle key for (entityID, channel).
func Key(entityID, channel string) string {
	return NormalizeEntity(entityID) + ":" + channel
}

// SupportedChannels returns the configured channel names, sorted.
func (m *Multiplexer) SupportedChannels() []string {
	out := make([]string, 0, len(m.cfg.Channels))
	for ch := range m.cfg.Channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether channel is configured.
func (m *Multiplexer) Supports(channel string) bool {
	_, ok := m.cfg.Channels[channel]
	return ok
}

// StreamURL builds the upstream URL for (entityID, channel).
func (m *Multiplexer) StreamURL(entityID, channel string) (string, error) {
	suffix, ok := m.cfg.Channels[channel]
	if !ok {
		return "", errors.Wrapf(ErrUnsupportedChannel, "%q", channel)
	}
	entity := strings.ToLower(NormalizeEntity(entityID))
	if entity == "" {
		return "", ErrMissingEntity
	}
	return strings.TrimRight(m.cfg.URL, "/") + "/" + entity + "@" + suffix, nil
}

// Subscribe registers listener for (entityID, channel), opening the upstream
// connection if this is the first listener for the key.
func (m *Multiplexer) Subscribe(entityID, channel string, listener Listener) (*Subscription, error) {
	if listener == nil {
		return nil, errors.New("listener is required")
	}
	url, err := m.StreamURL(entityID, channel)
	if err != nil {
		return nil, err
	}
	key := Key(entityID, channel)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	h, ok := m.handles[key]
	if !ok {
		h = newHandle(m, key, url)
		m.handles[key] = h
		m.wg.Add(1)
		go h.run()
		m.logger.Debug("stream handle created", zap.String("key", key))
	}

	sub := &Subscription{m: m, h: h, id: m.nextID.Add(1), key: key, done: make(chan struct{})}
	h.addListener(sub.id, listener, sub)

	return sub, nil
}

func (m *Multiplexer) unsubscribe(h *handle, id uint64) {
	m.mu.Lock()
	empty := h.removeListener(id)
	if empty && m.handles[h.key] == h {
		delete(m.handles, h.key)
	}
	m.mu.Unlock()

	if empty {
		h.close()
		m.logger.Debug("stream handle destroyed", zap.String("key", h.key))
	}
}

// dropHandle forgets h after its reconnect attempts ran out and ends every
// subscription still attached to it.
func (m *Multiplexer) dropHandle(h *handle) {
	m.mu.Lock()
	if m.handles[h.key] == h {
		delete(m.handles, h.key)
	}
	m.mu.Unlock()
	h.cancel()

	// Collected after the map delete so a racing Subscribe is included.
	for _, sub := range h.detachAll() {
		sub.finish(ErrStreamDropped)
	}
}

func (m *Multiplexer) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case m.events <- e:
	default:
		m.dropped.Add(1)
	}
}

// Events returns the event channel. Events are dropped when it is full.
func (m *Multiplexer) Events() <-chan Event {
	return m.events
}

// Stats returns current statistics.
func (m *Multiplexer) Stats() Stats {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	s := Stats{Handles: len(handles), DroppedEvents: m.dropped.Load()}
	for _, h := range handles {
		if h.currentState() == StateOpen {
			s.Open++
		}
		s.Listeners += h.listenerCount()
		s.Messages += h.messages.Load()
		s.Reconnects += h.reconnects.Load()
	}
	return s
}

// Close tears down every handle and waits for their goroutines.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	handles := m.handles
	m.handles = make(map[string]*handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.close()
		for _, sub := range h.detachAll() {
			sub.finish(ErrClosed)
		}
	}
	m.wg.Wait()
	m.logger.Info("stream multiplexer closed", zap.Int("handles", len(handles)))
}
