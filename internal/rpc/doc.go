// Package rpc is a persistent JSON-RPC 2.0 client over a single WebSocket.
//
// A Client owns one connection at a time. It dials lazily on the first send,
// logs in when credentials are configured, correlates replies with requests
// by id, answers heartbeat challenges from the reader goroutine, routes
// subscription pushes to per-channel observers and to a notify.Bus, and
// reconnects with exponential backoff after unexpected closes.
//
// Every request is sent with a Delivery mode: a Callback invoked from the
// reader goroutine when the reply arrives, or Await, in which case Send
// blocks until every awaited reply arrived or the request timeout elapsed
// and returns whatever answers it has, in request order.
//
// Concurrency model: one reader goroutine per connection, any number of
// sending goroutines. Writes are serialized by the transport; the pending
// table and subscription registry are mutex guarded.
package rpc
