// Package database manages the TimescaleDB pool that backs the
// notification tape, and the schema the tape writes into.
//
// The tape is an outer observer of subscription pushes. The RPC client
// itself keeps no persistent state.
package database
