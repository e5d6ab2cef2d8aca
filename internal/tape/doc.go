// Package tape records subscription pushes into TimescaleDB.
//
// The writer attaches to a notify.Bus, copies every notification into a
// growable buffer on the publishing goroutine, and inserts them in
// batches from its own goroutine. The tape is append-only.
package tape
