package fanout

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TransportConfig tunes the websocket adapter.
type TransportConfig struct {
	OutboxSize     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

// DefaultTransportConfig returns the adapter defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		OutboxSize:     256,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

func (c TransportConfig) withDefaults() TransportConfig {
	def := DefaultTransportConfig()
	if c.OutboxSize <= 0 {
		c.OutboxSize = def.OutboxSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 2 * c.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	return c
}

// Handler upgrades HTTP requests to websocket connections attached to a Hub.
type Handler struct {
	hub      *Hub
	cfg      TransportConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler for hub.
func NewHandler(hub *Hub, cfg TransportConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:    hub,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP runs one client connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := &wsConn{
		id:     uuid.NewString(),
		ws:     ws,
		cfg:    h.cfg,
		out:    NewOutbox[[]byte](h.cfg.OutboxSize),
		done:   make(chan struct{}),
		logger: h.logger,
	}

	h.hub.Connect(c)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.pingLoop()
	}()

	c.readPump(func(msg []byte) {
		h.hub.HandleMessage(c, msg)
	})

	h.hub.Disconnect(c)
	c.Close()
	wg.Wait()

	stats := c.out.Stats()
	h.logger.Debug("connection closed",
		zap.String("client", c.id),
		zap.Int64("sent", stats.TotalSent),
		zap.Int64("dropped", stats.Dropped),
	)
}

// wsConn is a Conn backed by a gorilla websocket.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	cfg    TransportConfig
	out    *Outbox[[]byte]
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) ID() string { return c.id }

// Send queues msg. A slow reader loses its oldest messages.
func (c *wsConn) Send(msg []byte) bool {
	return c.out.Send(msg)
}

// Close stops the writer after it flushes queued messages.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		c.out.Close()
		close(c.done)
	})
}

func (c *wsConn) readPump(handle func([]byte)) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		handle(msg)
	}
}

func (c *wsConn) writePump() {
	defer func() {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		c.ws.Close()
	}()

	for {
		msg, ok := c.out.Receive()
		if !ok {
			return
		}

		// One deadline covers everything already queued.
		c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		for ok {
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write error", zap.String("client", c.id), zap.Error(err))
				return
			}
			msg, ok = c.out.TryReceive()
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
