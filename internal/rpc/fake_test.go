package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport. Each written request is
// decoded and handed to respond, which plays the server.
type fakeTransport struct {
	mu        sync.Mutex
	sent      []Request
	failAfter int // writes that succeed before Send starts failing (0 = never fail)
	respond   func(ft *fakeTransport, req Request)

	messages  chan Inbound
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(respond func(ft *fakeTransport, req Request)) *fakeTransport {
	return &fakeTransport{
		respond:  respond,
		messages: make(chan Inbound, 256),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (ft *fakeTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-ft.done:
		return ErrNotConnected
	default:
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("fake transport: %w", err)
	}

	ft.mu.Lock()
	if ft.failAfter > 0 && len(ft.sent) >= ft.failAfter {
		ft.mu.Unlock()
		ft.Close()
		return errors.New("write: broken pipe")
	}
	ft.sent = append(ft.sent, req)
	respond := ft.respond
	ft.mu.Unlock()

	if respond != nil {
		respond(ft, req)
	}
	return nil
}

func (ft *fakeTransport) Messages() <-chan Inbound { return ft.messages }
func (ft *fakeTransport) Errors() <-chan error     { return ft.errors }
func (ft *fakeTransport) Done() <-chan struct{}    { return ft.done }

func (ft *fakeTransport) Close() error {
	ft.closeOnce.Do(func() { close(ft.done) })
	return nil
}

// push queues a raw inbound frame.
func (ft *fakeTransport) push(raw string) {
	ft.messages <- Inbound{Data: []byte(raw), ReceivedAt: time.Now()}
}

// reply queues a result for id.
func (ft *fakeTransport) reply(id uint64, result any) {
	data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	ft.push(string(data))
}

// fail queues an error reply for id.
func (ft *fakeTransport) fail(id uint64, code int, message string) {
	data, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
	ft.push(string(data))
}

// drop simulates the peer going away.
func (ft *fakeTransport) drop() {
	select {
	case ft.errors <- errors.New("unexpected EOF"):
	default:
	}
	ft.Close()
}

func (ft *fakeTransport) requests() []Request {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]Request(nil), ft.sent...)
}

func (ft *fakeTransport) methods() []string {
	var out []string
	for _, req := range ft.requests() {
		out = append(out, req.Method)
	}
	return out
}

// fakeDialer hands out transports built by next, failing the first
// failures dials.
type fakeDialer struct {
	mu         sync.Mutex
	next       func(n int) *fakeTransport
	failures   int
	attempts   int
	transports []*fakeTransport
}

func (d *fakeDialer) dial(ctx context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.attempts <= d.failures {
		return nil, errors.New("dial tcp: connection refused")
	}
	ft := d.next(len(d.transports))
	d.transports = append(d.transports, ft)
	return ft, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.transports) {
		return nil
	}
	return d.transports[i]
}

// echo answers every request with its method name.
func echo(ft *fakeTransport, req Request) {
	ft.reply(req.ID, req.Method)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
