// Package stream multiplexes upstream market-data websockets.
//
// The Multiplexer:
//   - Opens at most one upstream connection per (entity, channel) key
//   - Ref-counts local listeners; the last Unsubscribe closes the connection
//   - Pings every HeartbeatInterval while a connection is open
//   - Reconnects after an unexpected close with jittered exponential backoff,
//     giving up after MaxReconnectAttempts consecutive failures
//   - Reports malformed payloads, listener panics and connection changes on Events()
//
// Keys are the upper-cased entity id with separators removed, a colon, and the
// channel name: "BTCUSDT:ticker".
package stream
