package fanout

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketfeed/internal/ingest"
	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/stream"
)

// fakeConn records every message sent to it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   []map[string]any
	closed bool
	refuse bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		panic(err)
	}
	c.msgs = append(c.msgs, m)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *fakeConn) last() map[string]any {
	msgs := c.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (c *fakeConn) ofType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range c.messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
}

// fakeSubscriber keeps listeners per key and lets tests push payloads.
type fakeSubscriber struct {
	mu        sync.Mutex
	listeners map[string]map[int]stream.Listener
	subs      map[string]map[int]*fakeSub
	nextID    int
	err       error
}

type fakeSub struct {
	s   *fakeSubscriber
	key string
	id  int

	once sync.Once
	done chan struct{}
	err  error
}

func (f *fakeSub) Unsubscribe() {
	f.s.mu.Lock()
	delete(f.s.listeners[f.key], f.id)
	if len(f.s.listeners[f.key]) == 0 {
		delete(f.s.listeners, f.key)
	}
	f.s.mu.Unlock()
	f.end(nil)
}

func (f *fakeSub) end(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *fakeSub) Done() <-chan struct{} { return f.done }

func (f *fakeSub) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		listeners: make(map[string]map[int]stream.Listener),
		subs:      make(map[string]map[int]*fakeSub),
	}
}

func (s *fakeSubscriber) Subscribe(entityID, channel string, l stream.Listener) (Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	key := stream.Key(entityID, channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[int]stream.Listener)
	}
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]*fakeSub)
	}
	s.nextID++
	s.listeners[key][s.nextID] = l
	sub := &fakeSub{s: s, key: key, id: s.nextID, done: make(chan struct{})}
	s.subs[key][s.nextID] = sub
	return sub, nil
}

// drop ends every registration for key the way a multiplexer does when
// the upstream gives up.
func (s *fakeSubscriber) drop(key string, err error) {
	s.mu.Lock()
	subs := s.subs[key]
	delete(s.subs, key)
	delete(s.listeners, key)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.end(err)
	}
}

func (s *fakeSubscriber) SupportedChannels() []string {
	return []string{"depth", "ticker", "trade"}
}

func (s *fakeSubscriber) push(key, payload string) {
	s.mu.Lock()
	ls := make([]stream.Listener, 0, len(s.listeners[key]))
	for _, l := range s.listeners[key] {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l(json.RawMessage(payload))
	}
}

func (s *fakeSubscriber) active(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[key])
}

// fakeReader serves a fixed snapshot and history.
type fakeReader struct {
	snap    model.Snapshot
	ok      bool
	history map[string][]model.HistorySample
}

func (r *fakeReader) Snapshot() (model.Snapshot, bool) { return r.snap.Copy(), r.ok }

func (r *fakeReader) History(id string) []model.HistorySample { return r.history[id] }

func publishedReader() *fakeReader {
	return &fakeReader{
		ok: true,
		snap: model.Snapshot{
			Assets: []model.Asset{
				{ID: "btc-usdt", Rank: 1, Symbol: "BTC", Quote: "USDT", PriceUSD: 60000},
				{ID: "eth-usdt", Rank: 2, Symbol: "ETH", Quote: "USDT", PriceUSD: 3000},
			},
			Source:    model.SourceBinance,
			UpdatedAt: 1700000000000,
		},
		history: map[string][]model.HistorySample{
			"btc-usdt": {
				{Timestamp: 1, PriceUSD: 59000},
				{Timestamp: 2, PriceUSD: 60000},
			},
		},
	}
}

func newTestHub(t *testing.T) (*Hub, *fakeSubscriber) {
	t.Helper()
	sub := newFakeSubscriber()
	h := NewHub(publishedReader(), sub, nil, WithClock(func() time.Time { return time.UnixMilli(42) }))
	return h, sub
}

func send(h *Hub, c Conn, msg string) {
	h.HandleMessage(c, []byte(msg))
}

func TestHub_ConnectSendsAckThenSnapshot(t *testing.T) {
	h, _ := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)

	msgs := c.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, TypeConnectionAck, msgs[0]["type"])
	assert.Equal(t, "c1", msgs[0]["clientId"])
	assert.Equal(t, []any{"depth", "ticker", "trade"}, msgs[0]["supportedChannels"])

	assert.Equal(t, TypeSnapshot, msgs[1]["type"])
	data := msgs[1]["data"].(map[string]any)
	assert.Equal(t, model.SourceBinance, data["source"])
	assert.EqualValues(t, 1700000000000, data["lastUpdated"])
	assert.Len(t, data["assets"], 2)
}

func TestHub_ConnectWithoutSnapshot(t *testing.T) {
	h := NewHub(&fakeReader{}, newFakeSubscriber(), nil)
	c := newFakeConn("c1")
	h.Connect(c)

	msgs := c.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeConnectionAck, msgs[0]["type"])
}

func TestHub_SubscribeAndForward(t *testing.T) {
	h, sub := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)
	c.reset()

	send(h, c, `{"type":"subscribe","channel":"ticker","symbol":"btcusdt"}`)
	last := c.last()
	assert.Equal(t, TypeSubscribed, last["type"])
	assert.Equal(t, "ticker", last["channel"])
	assert.Equal(t, "BTCUSDT", last["symbol"])

	sub.push("BTCUSDT:ticker", `{"c":"60000.5"}`)
	last = c.last()
	assert.Equal(t, TypeData, last["type"])
	assert.Equal(t, "ticker", last["channel"])
	assert.Equal(t, "BTCUSDT", last["symbol"])
	assert.Equal(t, map[string]any{"c": "60000.5"}, last["payload"])
}

func TestHub_EntityIDAlias(t *testing.T) {
	h, sub := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)

	send(h, c, `{"type":"subscribe","channel":"trade","entityId":"ETH-USDT"}`)
	assert.Equal(t, TypeSubscribed, c.last()["type"])
	assert.Equal(t, 1, sub.active("ETHUSDT:trade"))
}

func TestHub_SubscribeValidation(t *testing.T) {
	h, sub := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"missing symbol", `{"type":"subscribe","channel":"ticker"}`, "channel and symbol are required"},
		{"missing channel", `{"type":"subscribe","symbol":"BTCUSDT"}`, "channel and symbol are required"},
		{"unsupported channel", `{"type":"subscribe","channel":"kline","symbol":"BTCUSDT"}`, "Unsupported channel: kline"},
		{"malformed", `{not json`, "Invalid JSON payload"},
		{"unknown type", `{"type":"dance"}`, "Unknown message type: dance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(h, c, tt.msg)
			last := c.last()
			assert.Equal(t, TypeError, last["type"])
			assert.Equal(t, tt.want, last["error"])
		})
	}

	sub.mu.Lock()
	assert.Empty(t, sub.listeners)
	sub.mu.Unlock()

	// Still usable after errors.
	send(h, c, `{"type":"ping"}`)
	assert.Equal(t, TypePong, c.last()["type"])
}

func TestHub_SubscribeUpstreamError(t *testing.T) {
	h, sub := newTestHub(t)
	sub.err = errors.New("multiplexer closed")
	c := newFakeConn("c1")
	h.Connect(c)

	send(h, c, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	last := c.last()
	assert.Equal(t, TypeError, last["type"])
	assert.Equal(t, "multiplexer closed", last["error"])
	assert.Equal(t, 0, h.Stats().Subscriptions)
}

func TestHub_DuplicateSubscribeWarns(t *testing.T) {
	h, sub := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)

	send(h, c, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	send(h, c, `{"type":"subscribe","channel":"ticker","symbol":"btc-usdt"}`)

	last := c.last()
	assert.Equal(t, TypeWarning, last["type"])
	assert.Equal(t, "Already subscribed to BTCUSDT:ticker", last["message"])
	assert.Equal(t, 1, sub.active("BTCUSDT:ticker"))

	// One payload, one data message.
	sub.push("BTCUSDT:ticker", `{}`)
	assert.Len(t, c.ofType(TypeData), 1)
}

func TestHub_UpstreamDropReleasesSubscription(t *testing.T) {
	h, sub := newTestHub(t)
	a := newFakeConn("a")
	b := newFakeConn("b")
	h.Connect(a)
	h.Connect(b)

	send(h, a, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	send(h, b, `{"type":"subscribe","channel":"ticker","symbol":"ETHUSDT"}`)
	require.Equal(t, 2, h.Stats().Subscriptions)

	sub.drop("BTCUSDT:ticker", stream.ErrStreamDropped)

	require.Eventually(t, func() bool { return len(a.ofType(TypeError)) == 1 }, time.Second, 5*time.Millisecond)
	msg := a.ofType(TypeError)[0]
	assert.Equal(t, "ticker", msg["channel"])
	assert.Equal(t, "BTCUSDT", msg["symbol"])
	assert.Contains(t, msg["error"], "BTCUSDT:ticker")
	assert.Empty(t, b.ofType(TypeError))
	require.Eventually(t, func() bool { return h.Stats().Subscriptions == 1 }, time.Second, 5*time.Millisecond)

	// The key is free again.
	send(h, a, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	assert.Equal(t, TypeSubscribed, a.last()["type"])
	assert.Equal(t, 1, sub.active("BTCUSDT:ticker"))

	sub.push("BTCUSDT:ticker", `{}`)
	assert.Len(t, a.ofType(TypeData), 1)
}

func TestHub_Unsubscribe(t *testing.T) {
	h, sub := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)

	send(h, c, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	send(h, c, `{"type":"unsubscribe","channel":"ticker","symbol":"btcusdt"}`)

	last := c.last()
	assert.Equal(t, TypeUnsubscribed, last["type"])
	assert.Equal(t, "BTCUSDT", last["symbol"])
	assert.Equal(t, 0, sub.active("BTCUSDT:ticker"))

	// Not subscribed: silent.
	n := len(c.messages())
	send(h, c, `{"type":"unsubscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	assert.Len(t, c.messages(), n)

	sub.push("BTCUSDT:ticker", `{}`)
	assert.Empty(t, c.ofType(TypeData))
}

func TestHub_ClientIsolation(t *testing.T) {
	h, sub := newTestHub(t)
	a := newFakeConn("a")
	b := newFakeConn("b")
	h.Connect(a)
	h.Connect(b)

	send(h, a, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	send(h, b, `{"type":"subscribe","channel":"ticker","symbol":"ETHUSDT"}`)

	sub.push("BTCUSDT:ticker", `{"s":"BTCUSDT"}`)
	sub.push("ETHUSDT:ticker", `{"s":"ETHUSDT"}`)

	aData := a.ofType(TypeData)
	bData := b.ofType(TypeData)
	require.Len(t, aData, 1)
	require.Len(t, bData, 1)
	assert.Equal(t, "BTCUSDT", aData[0]["symbol"])
	assert.Equal(t, "ETHUSDT", bData[0]["symbol"])
}

func TestHub_SharedKeyAcrossClients(t *testing.T) {
	h, sub := newTestHub(t)
	a := newFakeConn("a")
	b := newFakeConn("b")
	h.Connect(a)
	h.Connect(b)

	send(h, a, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	send(h, b, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	assert.Equal(t, 2, sub.active("BTCUSDT:ticker"))

	sub.push("BTCUSDT:ticker", `{}`)
	assert.Len(t, a.ofType(TypeData), 1)
	assert.Len(t, b.ofType(TypeData), 1)

	send(h, a, `{"type":"unsubscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	sub.push("BTCUSDT:ticker", `{}`)
	assert.Len(t, a.ofType(TypeData), 1)
	assert.Len(t, b.ofType(TypeData), 2)
}

func TestHub_DisconnectReleasesSubscriptions(t *testing.T) {
	h, sub := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)

	send(h, c, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	send(h, c, `{"type":"subscribe","channel":"depth","symbol":"ETHUSDT"}`)
	assert.Equal(t, Stats{Clients: 1, Subscriptions: 2, Sent: h.Stats().Sent}, h.Stats())

	h.Disconnect(c)
	assert.Equal(t, 0, sub.active("BTCUSDT:ticker"))
	assert.Equal(t, 0, sub.active("ETHUSDT:depth"))
	assert.Equal(t, 0, h.Stats().Clients)

	// Messages after disconnect are ignored.
	n := len(c.messages())
	send(h, c, `{"type":"ping"}`)
	assert.Len(t, c.messages(), n)

	// Second disconnect is a no-op.
	h.Disconnect(c)
}

func TestHub_Ping(t *testing.T) {
	h, _ := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)

	send(h, c, `{"type":"ping"}`)
	last := c.last()
	assert.Equal(t, TypePong, last["type"])
	assert.EqualValues(t, 42, last["timestamp"])
}

func TestHub_SnapshotQuery(t *testing.T) {
	h, _ := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)
	c.reset()

	send(h, c, `{"type":"snapshot"}`)
	last := c.last()
	assert.Equal(t, TypeSnapshot, last["type"])
	assert.Len(t, last["data"].(map[string]any)["assets"], 2)

	send(h, c, `{"type":"snapshot","symbol":"ETH-USDT"}`)
	last = c.last()
	assert.Equal(t, "eth-usdt", last["symbol"])
	assert.Equal(t, "ETH", last["data"].(map[string]any)["symbol"])

	send(h, c, `{"type":"snapshot","symbol":"doge-usdt"}`)
	assert.Equal(t, "Unknown asset: doge-usdt", c.last()["error"])
}

func TestHub_SnapshotQueryBeforePublish(t *testing.T) {
	h := NewHub(&fakeReader{}, nil, nil)
	c := newFakeConn("c1")
	h.Connect(c)

	send(h, c, `{"type":"snapshot"}`)
	data := c.last()["data"].(map[string]any)
	assert.Equal(t, []any{}, data["assets"])
}

func TestHub_HistoryQuery(t *testing.T) {
	h, _ := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)

	send(h, c, `{"type":"history","symbol":"BTC-USDT"}`)
	last := c.last()
	assert.Equal(t, TypeHistory, last["type"])
	assert.Equal(t, "btc-usdt", last["symbol"])
	samples := last["data"].([]any)
	require.Len(t, samples, 2)
	assert.EqualValues(t, 1, samples[0].(map[string]any)["timestamp"])

	// Known asset without samples yet.
	send(h, c, `{"type":"history","symbol":"eth-usdt"}`)
	assert.Equal(t, []any{}, c.last()["data"])

	send(h, c, `{"type":"history","symbol":"xyz-usdt"}`)
	assert.Equal(t, "Unknown asset: xyz-usdt", c.last()["error"])

	send(h, c, `{"type":"history"}`)
	assert.Equal(t, "symbol is required", c.last()["error"])
}

func TestHub_NoSubscriberRejectsSubscribe(t *testing.T) {
	h := NewHub(publishedReader(), nil, nil)
	c := newFakeConn("c1")
	h.Connect(c)

	send(h, c, `{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}`)
	assert.Equal(t, "Unsupported channel: ticker", c.last()["error"])
}

func TestHub_BroadcastsPipelineEvents(t *testing.T) {
	h, _ := newTestHub(t)
	a := newFakeConn("a")
	b := newFakeConn("b")
	h.Connect(a)
	h.Connect(b)

	h.OnFallback(ingest.Fallback{Message: "source binance: timeout", Source: model.SourceSynthetic, UpdatedAt: 99})
	h.OnAssetsUpdated(ingest.AssetsUpdated{
		Assets:       []model.Asset{{ID: "btc-usdt", PriceUSD: 1}},
		Source:       model.SourceSynthetic,
		UsedFallback: true,
		UpdatedAt:    99,
	})

	for _, c := range []*fakeConn{a, b} {
		msgs := c.messages()
		require.Len(t, msgs, 4)

		warn := msgs[2]
		assert.Equal(t, TypeWarning, warn["type"])
		assert.Equal(t, map[string]any{
			"message":     "source binance: timeout",
			"lastUpdated": float64(99),
			"source":      model.SourceSynthetic,
		}, warn["data"])

		upd := msgs[3]
		assert.Equal(t, TypeUpdate, upd["type"])
		data := upd["data"].(map[string]any)
		assert.Equal(t, true, data["usedFallback"])
		assert.Equal(t, model.SourceSynthetic, data["source"])
		assert.Len(t, data["assets"], 1)
	}
}

func TestHub_RejectedSendsAreCounted(t *testing.T) {
	h, _ := newTestHub(t)
	c := newFakeConn("c1")
	h.Connect(c)
	c.refuse = true

	h.Broadcast(Outbound{Type: TypeMetrics})
	assert.EqualValues(t, 1, h.Stats().Rejected)
}

func TestHub_MetricsBroadcast(t *testing.T) {
	sub := newFakeSubscriber()
	h := NewHub(publishedReader(), sub, nil, WithMetrics(10*time.Millisecond, func() (any, bool) {
		return map[string]int{"assets": 2}, true
	}))

	c := newFakeConn("c1")
	h.Connect(c)

	require.NoError(t, h.Start(t.Context()))
	require.Error(t, h.Start(t.Context()))

	require.Eventually(t, func() bool { return len(c.ofType(TypeMetrics)) >= 2 }, 2*time.Second, 5*time.Millisecond)
	m := c.ofType(TypeMetrics)[0]
	assert.Equal(t, map[string]any{"assets": float64(2)}, m["data"])

	require.NoError(t, h.Stop(t.Context()))
	c.mu.Lock()
	assert.True(t, c.closed)
	c.mu.Unlock()
	assert.Equal(t, 0, h.Stats().Clients)
}

func TestHub_StartWithoutMetricsIsNoop(t *testing.T) {
	h, _ := newTestHub(t)
	require.NoError(t, h.Start(t.Context()))
	require.NoError(t, h.Stop(t.Context()))
}

func TestHub_MetricsSkip(t *testing.T) {
	h := NewHub(publishedReader(), nil, nil, WithMetrics(time.Second, func() (any, bool) { return nil, false }))
	c := newFakeConn("c1")
	h.Connect(c)
	c.reset()

	h.BroadcastMetrics()
	assert.Empty(t, c.messages())
}
