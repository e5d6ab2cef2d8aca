package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/deribit-rpc/internal/metrics"
	"github.com/rickgao/deribit-rpc/internal/notify"
)

const tracerName = "github.com/rickgao/deribit-rpc/internal/rpc"

// Call is one request of a batch.
type Call struct {
	Method   string
	Params   any
	Delivery Delivery // nil = Await
}

// Client is a persistent JSON-RPC connection manager.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	bus        *notify.Bus
	classifier Classifier
	dial       Dialer

	ids     IDGenerator
	pending *PendingTable
	subs    *SubscriptionRegistry
	router  *router
	backoff *Backoff

	// dialMu serializes connection establishment.
	dialMu sync.Mutex

	mu      sync.Mutex
	conn    *connection
	gen     uint64
	state   State
	session Session
	authErr error
	closed  bool

	reconnecting atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// connection is one physical socket and its login progress.
type connection struct {
	gen       uint64
	transport Transport

	// secured is closed once the session may carry requests, or once the
	// connection is gone so waiters stop waiting.
	secured    chan struct{}
	secureOnce sync.Once
	lostOnce   sync.Once

	refresh *time.Timer // guarded by Client.mu
}

func (cn *connection) markSecured() {
	cn.secureOnce.Do(func() { close(cn.secured) })
}

// New creates a client. No connection is opened until the first send or
// an explicit Connect. Zero timeouts fall back to DefaultConfig values.
func New(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = def.StartupTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ChallengeResponseTimeout <= 0 {
		cfg.ChallengeResponseTimeout = def.ChallengeResponseTimeout
	}
	if cfg.MaxBatchRetries < 0 {
		cfg.MaxBatchRetries = 0
	}
	if cfg.Transport.URL == "" {
		cfg.Transport.URL = cfg.URL
	}
	if cfg.Transport.WriteTimeout <= 0 {
		cfg.Transport.WriteTimeout = def.Transport.WriteTimeout
	}

	c := &Client{
		cfg:        cfg,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		bus:        notify.Default,
		classifier: DeribitClassifier{},
		pending:    NewPendingTable(),
		subs:       NewSubscriptionRegistry(),
		backoff:    NewBackoff(cfg.ReconnectMinDelay, cfg.ReconnectMaxDelay),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = WebSocketDialer(cfg.Transport, c.logger)
	}

	c.router = &router{
		pending:          c.pending,
		subs:             c.subs,
		bus:              c.bus,
		classifier:       c.classifier,
		ids:              &c.ids,
		metrics:          c.metrics,
		logger:           c.logger,
		challengeTimeout: cfg.ChallengeResponseTimeout,
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.metrics.SetState(int(StateDisconnected))

	if cfg.PendingTTL > 0 {
		c.wg.Add(1)
		go c.expireLoop()
	}

	return c
}

// Connect opens the connection and waits, up to StartupTimeout, for the
// session to be secured. Calling it is optional: sends connect lazily.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.ensureConnected(ctx)
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case <-conn.secured:
	case <-timer.C:
		return fmt.Errorf("connect: %w", ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.authErr != nil:
		return c.authErr
	case c.closed:
		return ErrClosed
	case c.conn != conn:
		return ErrNotConnected
	}
	return nil
}

// Close shuts the client down. It is terminal: no reconnect follows and
// later sends fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.setStateLocked(StateClosing)
	conn := c.conn
	c.conn = nil
	if conn != nil && conn.refresh != nil {
		conn.refresh.Stop()
	}
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.markSecured()
		conn.transport.Close()
	}
	c.wg.Wait()

	c.setState(StateDisconnected)
	c.logger.Info("client closed")
	return nil
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the current login session.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Pending returns the number of requests awaiting a reply.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// Subscriptions returns the registered channels.
func (c *Client) Subscriptions() []string {
	return c.subs.Channels()
}

// Send writes calls in order and returns the answers to the awaited ones,
// in call order. Calls with a Callback return nothing here; their replies
// reach the callback from the reader goroutine.
//
// If the transport fails mid-batch the whole batch is resent on a fresh
// connection with fresh ids, up to MaxBatchRetries times. A short result
// means some awaited replies did not arrive within RequestTimeout.
func (c *Client) Send(ctx context.Context, calls ...Call) ([]Frame, error) {
	method := ""
	if len(calls) > 0 {
		method = calls[0].Method
	}
	ctx, span := c.tracer.Start(ctx, "rpc.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
			attribute.Int("rpc.batch_size", len(calls)),
		),
	)
	defer span.End()

	frames, err := c.send(ctx, calls)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rpc.answers", len(frames)))
	return frames, nil
}

// Call sends one awaited request and returns its result.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	frames, err := c.Send(ctx, Call{Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
	}
	if frames[0].Error != nil {
		return nil, frames[0].Error
	}
	return frames[0].Result, nil
}

func (c *Client) send(ctx context.Context, calls []Call) ([]Frame, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	for i, call := range calls {
		if call.Method == "" {
			return nil, fmt.Errorf("call %d: empty method", i)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxBatchRetries; attempt++ {
		if attempt > 0 {
			c.metrics.BatchRetry()
			c.logger.Warn("retrying batch",
				"attempt", attempt,
				"size", len(calls),
				"error", lastErr,
			)
			if err := sleep(ctx, c.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}

		awaited, err := c.sendOnce(ctx, calls)
		if err == nil {
			return c.wait(ctx, awaited), nil
		}
		if !isTransportError(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.cfg.MaxBatchRetries+1, lastErr)
}

// sendOnce makes one attempt at writing the batch and returns the awaited
// ids. On failure every id of the attempt is released.
func (c *Client) sendOnce(ctx context.Context, calls []Call) ([]uint64, error) {
	conn, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.awaitSecured(ctx, conn); err != nil {
		return nil, err
	}

	reqs := make([]Request, len(calls))
	payloads := make([][]byte, len(calls))
	ids := make([]uint64, len(calls))
	for i, call := range calls {
		reqs[i] = Request{
			JSONRPC: ProtocolVersion,
			ID:      c.ids.Next(),
			Method:  call.Method,
			Params:  call.Params,
		}
		ids[i] = reqs[i].ID
		if payloads[i], err = Encode(reqs[i]); err != nil {
			return nil, err
		}
	}

	var awaited []uint64
	for i, call := range calls {
		if err := c.pending.Register(reqs[i], call.Delivery); err != nil {
			c.pending.Release(ids[:i]...)
			return nil, err
		}
		if awaits(call.Delivery) {
			awaited = append(awaited, ids[i])
		}
	}
	c.metrics.SetPending(c.pending.Len())

	gentle := c.cfg.GentleThreshold > 0 && len(reqs) > c.cfg.GentleThreshold
	for i := range reqs {
		if gentle && i > 0 {
			if err := sleep(ctx, c.cfg.GentleDelay); err != nil {
				c.pending.Release(ids...)
				return nil, err
			}
		}
		if err := conn.transport.Send(ctx, payloads[i]); err != nil {
			c.pending.Release(ids...)
			c.lost(conn, err)
			return nil, &transportError{err: fmt.Errorf("send %s: %w", reqs[i].Method, err)}
		}
		c.metrics.RequestSent(reqs[i].Method)
	}

	return awaited, nil
}

// wait blocks for the awaited ids. Closing the client ends the wait early.
func (c *Client) wait(ctx context.Context, ids []uint64) []Frame {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	start := time.Now()
	frames := c.pending.Wait(ctx, ids, c.cfg.RequestTimeout)
	partial := len(frames) < len(ids)

	c.metrics.WaitFinished(time.Since(start).Seconds(), partial)
	c.metrics.SetPending(c.pending.Len())
	if partial {
		c.logger.Warn("partial answers",
			"awaited", len(ids),
			"received", len(frames),
			"timeout", c.cfg.RequestTimeout,
		)
	}
	return frames
}

// awaitSecured waits, up to StartupTimeout, for conn to be secured. On
// timeout it lets the caller proceed in degraded mode.
func (c *Client) awaitSecured(ctx context.Context, conn *connection) error {
	timer := time.NewTimer(c.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case <-conn.secured:
	case <-timer.C:
		c.logger.Warn("connection not secured in time, sending anyway",
			"conn", conn.gen,
			"timeout", c.cfg.StartupTimeout,
		)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authErr != nil {
		return c.authErr
	}
	if c.closed {
		return ErrClosed
	}
	return nil
}

// ensureConnected returns the live connection, dialing one if needed.
func (c *Client) ensureConnected(ctx context.Context) (*connection, error) {
	if conn, err := c.current(); conn != nil || err != nil {
		return conn, err
	}

	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if conn, err := c.current(); conn != nil || err != nil {
		return conn, err
	}
	return c.connect(ctx)
}

func (c *Client) current() (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.authErr != nil {
		return nil, c.authErr
	}
	return c.conn, nil
}

// connect dials and starts the login. Must be called with dialMu held.
func (c *Client) connect(ctx context.Context) (*connection, error) {
	c.setState(StateConnecting)

	t, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return nil, &transportError{err: fmt.Errorf("dial: %w", err)}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Close()
		return nil, ErrClosed
	}
	c.gen++
	conn := &connection{
		gen:       c.gen,
		transport: t,
		secured:   make(chan struct{}),
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Info("connected", "conn", conn.gen, "url", c.cfg.URL)

	if c.cfg.Auth == nil {
		c.onSecured(conn)
		return conn, nil
	}

	c.setState(StateAuthPending)
	if err := c.login(conn); err != nil {
		c.lost(conn, err)
		return nil, err
	}
	return conn, nil
}

// readLoop drives the router for one connection.
func (c *Client) readLoop(conn *connection) {
	defer c.wg.Done()

	t := conn.transport
	reply := func(ctx context.Context, req Request) error {
		return c.write(ctx, conn, req)
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case in := <-t.Messages():
			c.router.dispatch(in, reply)
		case err := <-t.Errors():
			c.drain(t, reply)
			c.lost(conn, err)
			return
		case <-t.Done():
			c.drain(t, reply)
			c.lost(conn, nil)
			return
		}
	}
}

// drain dispatches frames that were buffered before the socket went away.
func (c *Client) drain(t Transport, reply replyFunc) {
	for {
		select {
		case in := <-t.Messages():
			c.router.dispatch(in, reply)
		default:
			return
		}
	}
}

// lost tears conn down once and, unless the client is closed or the login
// was rejected, starts reconnecting.
func (c *Client) lost(conn *connection, cause error) {
	conn.lostOnce.Do(func() {
		c.mu.Lock()
		current := c.conn == conn
		if current {
			c.conn = nil
		}
		if conn.refresh != nil {
			conn.refresh.Stop()
		}
		closed := c.closed
		fatal := c.authErr != nil
		if current && !closed {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()

		conn.markSecured()
		conn.transport.Close()

		if closed || fatal || !current {
			return
		}

		c.logger.Warn("connection lost", "conn", conn.gen, "error", cause)
		c.startReconnect()
	})
}

func (c *Client) startReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.reconnecting.Store(false)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		c.reconnect()
		c.reconnecting.Store(false)

		// A connection lost between the last attempt and the flag reset
		// would otherwise never be picked up.
		if !c.needsReconnect() || !c.reconnecting.CompareAndSwap(false, true) {
			return
		}
	}
}

// reconnect retries until a connection is up or the client is done.
func (c *Client) reconnect() {
	for {
		delay := c.backoff.Next()
		c.logger.Info("attempting reconnection", "delay", delay)

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		c.metrics.Reconnect()
		conn, err := c.ensureConnected(c.ctx)
		if err == nil {
			c.logger.Info("reconnected", "conn", conn.gen)
			return
		}
		if !isTransportError(err) {
			return
		}
		c.logger.Warn("reconnection failed", "error", err)
	}
}

func (c *Client) needsReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.authErr == nil && c.conn == nil
}

// write encodes and writes a request on conn.
func (c *Client) write(ctx context.Context, conn *connection, req Request) error {
	data, err := Encode(req)
	if err != nil {
		return err
	}
	if err := conn.transport.Send(ctx, data); err != nil {
		return &transportError{err: fmt.Errorf("send %s: %w", req.Method, err)}
	}
	c.metrics.RequestSent(req.Method)
	return nil
}

// post registers cb for req and writes it on conn. Used for the session
// traffic the client issues on its own behalf.
func (c *Client) post(conn *connection, req Request, cb Callback) error {
	if req.ID == 0 {
		req.ID = c.ids.Next()
	}
	if req.JSONRPC == "" {
		req.JSONRPC = ProtocolVersion
	}
	if err := c.pending.Register(req, cb); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Transport.WriteTimeout)
	defer cancel()

	if err := c.write(ctx, conn, req); err != nil {
		c.pending.Release(req.ID)
		return err
	}
	return nil
}

func (c *Client) setState(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(to)
}

// setStateLocked must be called with mu held.
func (c *Client) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		c.logger.Debug("ignoring state transition", "from", from, "to", to)
		return
	}
	c.state = to
	c.metrics.SetState(int(to))
	c.logger.Debug("state changed", "from", from, "to", to)
}

// expireLoop sweeps pending entries whose reply never came.
func (c *Client) expireLoop() {
	defer c.wg.Done()

	interval := c.cfg.PendingTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if ids := c.pending.Expire(c.cfg.PendingTTL); len(ids) > 0 {
				c.metrics.Expired(len(ids))
				c.metrics.SetPending(c.pending.Len())
				c.logger.Warn("expired pending requests", "count", len(ids), "ttl", c.cfg.PendingTTL)
			}
		}
	}
}

func awaits(d Delivery) bool {
	switch v := d.(type) {
	case nil:
		return true
	case Callback:
		return v == nil
	default:
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
