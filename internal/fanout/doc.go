// Package fanout implements the client-facing hub.
//
// The hub tracks one registration per connected client, maps subscribe and
// unsubscribe requests onto the stream multiplexer, answers query messages
// from the last published snapshot, and broadcasts pipeline updates to every
// client. It is transport-agnostic: anything implementing Conn can be
// attached. Handler adapts it to gorilla websocket connections.
//
// Client messages (JSON, one per frame):
//
//	{"type":"subscribe","channel":"ticker","symbol":"BTCUSDT"}
//	{"type":"unsubscribe","channel":"ticker","symbol":"BTCUSDT"}
//	{"type":"ping"}
//	{"type":"snapshot"}
//	{"type":"history","symbol":"btc-usdt"}
package fanout
