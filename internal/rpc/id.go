package rpc

import "sync/atomic"

// IDGenerator hands out correlation ids. Ids are strictly increasing from 1
// so an id is never reused while an earlier request can still be pending.
type IDGenerator struct {
	last atomic.Uint64
}

// Next returns a fresh id.
func (g *IDGenerator) Next() uint64 {
	return g.last.Add(1)
}
