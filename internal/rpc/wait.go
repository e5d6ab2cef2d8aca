package rpc

import (
	"context"
	"time"
)

// Wait blocks until every id has an answer, timeout elapses or ctx is done,
// then returns the answers that arrived in the order of ids. A short result
// is a partial timeout, not an error. Every id is released from the table
// on return, answered or not.
func (t *PendingTable) Wait(ctx context.Context, ids []uint64, timeout time.Duration) []Frame {
	if len(ids) == 0 {
		return nil
	}
	defer t.Release(ids...)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		t.mu.Lock()
		complete := true
		for _, id := range ids {
			if _, ok := t.answers[id]; !ok {
				complete = false
				break
			}
		}
		changed := t.changed
		if complete {
			out := t.collectLocked(ids)
			t.mu.Unlock()
			return out
		}
		t.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return t.collect(ids)
		case <-ctx.Done():
			return t.collect(ids)
		}
	}
}

func (t *PendingTable) collect(ids []uint64) []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collectLocked(ids)
}

// collectLocked must be called with lock held.
func (t *PendingTable) collectLocked(ids []uint64) []Frame {
	out := make([]Frame, 0, len(ids))
	for _, id := range ids {
		if f, ok := t.answers[id]; ok {
			out = append(out, f)
		}
	}
	return out
}
