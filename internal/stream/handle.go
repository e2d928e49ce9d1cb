package stream

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// handle owns one upstream connection and the listeners sharing it.
type handle struct {
	key    string
	url    string
	m      *Multiplexer
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[uint64]Listener
	subs      map[uint64]*Subscription
	conn      *websocket.Conn
	state     State
	lastPong  time.Time

	messages   atomic.Int64
	reconnects atomic.Int64
}

func newHandle(m *Multiplexer, key, url string) *handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &handle{
		key:       key,
		url:       url,
		m:         m,
		logger:    m.logger.With(zap.String("key", key)),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[uint64]Listener),
		subs:      make(map[uint64]*Subscription),
		state:     StateConnecting,
	}
}

func (h *handle) addListener(id uint64, l Listener, sub *Subscription) {
	h.mu.Lock()
	h.listeners[id] = l
	h.subs[id] = sub
	h.mu.Unlock()
}

// removeListener reports whether the listener set is now empty.
func (h *handle) removeListener(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
	delete(h.subs, id)
	return len(h.listeners) == 0
}

// detachAll clears the listener set and returns the subscriptions it held.
func (h *handle) detachAll() []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	clear(h.listeners)
	clear(h.subs)
	return subs
}

func (h *handle) listenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *handle) currentState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// close cancels the retry loop and closes the live connection, if any.
func (h *handle) close() {
	h.cancel()

	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
}

// run connects, reads until the connection drops, and retries with backoff
// until the handle is closed or the reconnect attempts are used up.
func (h *handle) run() {
	defer h.m.wg.Done()
	defer h.setState(StateClosed)

	b := &backoff.Backoff{
		Min:    h.m.cfg.ReconnectBaseDelay,
		Max:    h.m.cfg.ReconnectMaxDelay,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := h.connectAndRead()
		if h.ctx.Err() != nil {
			h.m.emit(Event{Type: EventClosed, Key: h.key})
			return
		}

		if errors.Is(err, errConnectionLost) {
			// The connection was open; reset the attempt count.
			b.Reset()
		}

		attempt := int(b.Attempt()) + 1
		if attempt > h.m.cfg.MaxReconnectAttempts {
			h.logger.Error("giving up on stream",
				zap.Int("attempts", h.m.cfg.MaxReconnectAttempts),
				zap.Error(err),
			)
			h.m.emit(Event{Type: EventReconnectFailed, Key: h.key, Attempt: attempt - 1, Err: err})
			h.m.dropHandle(h)
			return
		}

		delay := b.Duration()
		h.reconnects.Add(1)
		h.logger.Warn("stream disconnected, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		h.m.emit(Event{Type: EventReconnecting, Key: h.key, Attempt: attempt, Err: err})

		select {
		case <-h.ctx.Done():
			h.m.emit(Event{Type: EventClosed, Key: h.key})
			return
		case <-time.After(delay):
		}
	}
}

var errConnectionLost = errors.New("connection lost")

// connectAndRead dials and blocks in the read loop. A dial failure is returned
// as is; a drop after a successful open wraps errConnectionLost.
func (h *handle) connectAndRead() error {
	h.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: h.m.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(h.ctx, h.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}

	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		conn.Close()
		return h.ctx.Err()
	}
	h.conn = conn
	h.state = StateOpen
	h.lastPong = time.Now()
	h.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		h.mu.Lock()
		h.lastPong = time.Now()
		h.mu.Unlock()
		return nil
	})

	h.logger.Debug("stream connected", zap.String("url", h.url))
	h.m.emit(Event{Type: EventConnected, Key: h.key})

	done := make(chan struct{})
	go h.heartbeatLoop(conn, done)

	err = h.readLoop(conn)
	close(done)

	h.mu.Lock()
	h.conn = nil
	h.mu.Unlock()
	conn.Close()

	if h.ctx.Err() == nil {
		h.m.emit(Event{Type: EventDisconnected, Key: h.key, Err: err})
	}
	return errors.Wrap(errConnectionLost, err.Error())
}

// readLoop delivers every inbound message to the listeners until a read fails.
func (h *handle) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		h.messages.Add(1)

		if !json.Valid(data) {
			h.m.emit(Event{
				Type: EventStreamError,
				Key:  h.key,
				Err:  errors.Errorf("malformed payload (%d bytes)", len(data)),
			})
			continue
		}

		h.deliver(json.RawMessage(data))
	}
}

func (h *handle) deliver(payload json.RawMessage) {
	h.mu.Lock()
	listeners := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.Unlock()

	for _, l := range listeners {
		h.safeCall(l, payload)
	}
}

func (h *handle) safeCall(l Listener, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("listener panicked", zap.Any("panic", r))
			h.m.emit(Event{
				Type: EventListenerError,
				Key:  h.key,
				Err:  errors.Errorf("listener panic: %v", r),
			})
		}
	}()
	l(payload)
}

// heartbeatLoop pings while the connection is open and closes it when pongs stop.
func (h *handle) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.m.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				h.logger.Debug("failed to send ping", zap.Error(err))
			}

			h.mu.Lock()
			lastPong := h.lastPong
			h.mu.Unlock()

			if h.m.cfg.PongTimeout > 0 && time.Since(lastPong) > h.m.cfg.PongTimeout {
				h.logger.Warn("no pong received, connection stale",
					zap.Time("last_pong", lastPong),
					zap.Duration("timeout", h.m.cfg.PongTimeout),
				)
				conn.Close()
				return
			}
		}
	}
}
