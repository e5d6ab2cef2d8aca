package rpc

import (
	"fmt"
	"sync"
	"time"
)

// Delivery says how the reply to a request reaches the caller.
// It is either a Callback or Await.
type Delivery interface {
	delivery()
}

// Callback is invoked from the reader goroutine with the reply. It must
// not block: every other inbound frame waits behind it.
type Callback func(Frame)

// Await parks the reply in the answers map for a blocking waiter.
type Await struct{}

func (Callback) delivery() {}
func (Await) delivery()    {}

// PendingEntry is a request awaiting its reply.
type PendingEntry struct {
	Request   Request
	Delivery  Delivery
	CreatedAt time.Time
}

// Outcome is what Resolve did with a reply.
type Outcome int

const (
	// OutcomeLate means no entry matched (late or duplicate reply).
	OutcomeLate Outcome = iota
	// OutcomeCallback means the entry was removed and its callback returned.
	OutcomeCallback
	// OutcomeDeposited means the reply was stored for a waiter.
	OutcomeDeposited
)

// PendingTable maps in-flight request ids to their entries and holds
// answers for blocking waiters. It is shared by senders and the reader.
type PendingTable struct {
	mu      sync.Mutex
	entries map[uint64]*PendingEntry
	answers map[uint64]Frame

	// changed is closed and replaced on every deposit to wake waiters.
	changed chan struct{}

	now func() time.Time
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		entries: make(map[uint64]*PendingEntry),
		answers: make(map[uint64]Frame),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Register records req before it is written. A nil delivery means Await.
func (t *PendingTable) Register(req Request, d Delivery) error {
	if d == nil {
		d = Await{}
	}
	if cb, ok := d.(Callback); ok && cb == nil {
		d = Await{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[req.ID]; exists {
		return fmt.Errorf("register %d: %w", req.ID, ErrDuplicateID)
	}
	t.entries[req.ID] = &PendingEntry{
		Request:   req,
		Delivery:  d,
		CreatedAt: t.now(),
	}
	return nil
}

// Resolve matches a reply to its entry. For callback entries the entry is
// removed and the callback returned for the caller to invoke outside the
// lock. For awaited entries the reply is deposited and the entry left for
// the waiter to release.
func (t *PendingTable) Resolve(f Frame) (Outcome, Callback) {
	if f.ID == nil {
		return OutcomeLate, nil
	}
	id := *f.ID

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return OutcomeLate, nil
	}

	switch d := entry.Delivery.(type) {
	case Callback:
		delete(t.entries, id)
		return OutcomeCallback, d
	default:
		if _, dup := t.answers[id]; dup {
			return OutcomeLate, nil
		}
		t.answers[id] = f
		close(t.changed)
		t.changed = make(chan struct{})
		return OutcomeDeposited, nil
	}
}

// Release removes the entries and answers for ids.
func (t *PendingTable) Release(ids ...uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.entries, id)
		delete(t.answers, id)
	}
}

// Expire removes entries older than ttl and returns their ids. Answers
// still parked for them are dropped too.
func (t *PendingTable) Expire(ttl time.Duration) []uint64 {
	cutoff := t.now().Add(-ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []uint64
	for id, e := range t.entries {
		if e.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(t.entries, id)
			delete(t.answers, id)
		}
	}
	return expired
}

// Has reports whether id is pending.
func (t *PendingTable) Has(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Len returns the number of pending entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Answered returns the number of parked answers.
func (t *PendingTable) Answered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.answers)
}
