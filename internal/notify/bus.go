package notify

import (
	"log/slog"
	"sync"
)

// Observer receives notifications. It runs on the publishing goroutine.
type Observer func(Notification)

// Default is the process-wide bus. RPC clients publish here unless given
// their own bus.
var Default = NewBus(nil)

// allKinds is the registration key for observers of every stream.
const allKinds Kind = "*"

// Bus is a set of observers keyed by Kind. Safe for concurrent use.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	nextID    uint64
	observers map[Kind]map[uint64]Observer
	published map[Kind]int64
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:    logger,
		observers: make(map[Kind]map[uint64]Observer),
		published: make(map[Kind]int64),
	}
}

// Observe registers fn for notifications of the given kind. The returned
// function removes the registration and may be called more than once.
func (b *Bus) Observe(kind Kind, fn Observer) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	set, ok := b.observers[kind]
	if !ok {
		set = make(map[uint64]Observer)
		b.observers[kind] = set
	}
	set[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.observers[kind], id)
			if len(b.observers[kind]) == 0 {
				delete(b.observers, kind)
			}
		})
	}
}

// ObserveAll registers fn for every kind.
func (b *Bus) ObserveAll(fn Observer) (cancel func()) {
	return b.Observe(allKinds, fn)
}

// Publish delivers n to the observers of n.Kind and to catch-all observers.
// A panicking observer is logged and does not prevent delivery to the rest.
func (b *Bus) Publish(n Notification) {
	if n.Kind == "" {
		n.Kind = KindOf(n.Channel)
	}

	b.mu.Lock()
	b.published[n.Kind]++
	targets := make([]Observer, 0, len(b.observers[n.Kind])+len(b.observers[allKinds]))
	for _, fn := range b.observers[n.Kind] {
		targets = append(targets, fn)
	}
	for _, fn := range b.observers[allKinds] {
		targets = append(targets, fn)
	}
	b.mu.Unlock()

	for _, fn := range targets {
		b.deliver(fn, n)
	}
}

func (b *Bus) deliver(fn Observer, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification observer panicked",
				"channel", n.Channel,
				"kind", n.Kind,
				"panic", r,
			)
		}
	}()
	fn(n)
}

// Len returns the number of observers registered for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers[kind])
}

// Published returns how many notifications of kind were published.
func (b *Bus) Published(kind Kind) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published[kind]
}
