// Package notify fans unsolicited push notifications out to observers.
//
// Every push received by the RPC client is classified by its channel name into
// one of a handful of process-wide kinds (quotes, orderbooks, trades, indices,
// announcements) and published on a Bus. Observers register per kind and are
// called synchronously on the publishing goroutine, so they must not block;
// observers that do slow work (database writes) should hand notifications off
// to a Buffer and drain it elsewhere.
package notify
