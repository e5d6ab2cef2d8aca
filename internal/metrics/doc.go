// Package metrics provides Prometheus metrics for the RPC client.
//
// Key metrics:
//   - Requests sent and replies received, by method
//   - Late replies, partial waits and batch retries
//   - Reconnects, connection state and heartbeat challenges
//   - Push notifications by kind and decode errors
//   - Pending request table size
//   - Tape writer batch sizes and failures
//
// All recording methods are safe on a nil *Metrics so callers can run
// without instrumentation.
package metrics
