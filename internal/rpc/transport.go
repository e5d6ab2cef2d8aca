package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Inbound is a raw frame with the local time it was read.
type Inbound struct {
	Data       []byte
	ReceivedAt time.Time
}

// Transport is one physical connection.
type Transport interface {
	// Send writes one text frame. The write deadline is taken from ctx
	// when it has one.
	Send(ctx context.Context, data []byte) error

	// Messages returns a channel of inbound frames.
	Messages() <-chan Inbound

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// Done is closed once the connection stopped reading, for any reason.
	Done() <-chan struct{}

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// Dialer opens a Transport.
type Dialer func(ctx context.Context) (Transport, error)

// TransportConfig configures a WebSocket transport.
type TransportConfig struct {
	URL              string        // e.g. wss://www.deribit.com/ws/api/v2
	Header           http.Header   // extra handshake headers
	HandshakeTimeout time.Duration // dial handshake timeout
	WriteTimeout     time.Duration // write deadline when the caller gives none
	PingInterval     time.Duration // client ping cadence (0 disables)
	PingTimeout      time.Duration // max time without ping/pong before the connection is stale
	BufferSize       int           // inbound channel buffer size
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		BufferSize:       1024,
	}
}

// WebSocketDialer returns a Dialer for gorilla WebSocket transports.
func WebSocketDialer(cfg TransportConfig, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return DialWebSocket(ctx, cfg, logger)
	}
}

// wsTransport implements Transport over a gorilla websocket.
type wsTransport struct {
	cfg    TransportConfig
	logger *slog.Logger
	conn   *websocket.Conn

	messages chan Inbound
	errors   chan error
	closing  chan struct{}
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu         sync.Mutex
	lastPingAt time.Time
	closeOnce  sync.Once
}

// DialWebSocket connects to cfg.URL and starts the read and ping loops.
func DialWebSocket(ctx context.Context, cfg TransportConfig, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultTransportConfig().BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultTransportConfig().WriteTimeout
	}

	header := http.Header{}
	for k, v := range cfg.Header {
		header[k] = v
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, err
	}

	t := &wsTransport{
		cfg:        cfg,
		logger:     logger,
		conn:       conn,
		messages:   make(chan Inbound, cfg.BufferSize),
		errors:     make(chan error, 1),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		lastPingAt: time.Now(),
	}

	// Server pings: answer with a pong and count as liveness.
	conn.SetPingHandler(func(data string) error {
		t.touch()
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})

	go t.readLoop()
	if cfg.PingInterval > 0 {
		go t.pingLoop()
	}

	logger.Debug("websocket connected", "url", cfg.URL)
	return t, nil
}

// Send writes one text frame.
func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrNotConnected
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.cfg.WriteTimeout)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Messages() <-chan Inbound { return t.messages }
func (t *wsTransport) Errors() <-chan error     { return t.errors }
func (t *wsTransport) Done() <-chan struct{}    { return t.done }

// Close sends a close frame and tears the socket down.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closing)

		t.writeMu.Lock()
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastPingAt = time.Now()
	t.mu.Unlock()
}

// readLoop reads frames until the socket fails or is closed.
func (t *wsTransport) readLoop() {
	defer close(t.done)

	for {
		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after Close() are expected.
			select {
			case <-t.closing:
			default:
				select {
				case t.errors <- err:
				default:
				}
			}
			return
		}

		select {
		case t.messages <- Inbound{Data: data, ReceivedAt: receivedAt}:
		case <-t.closing:
			return
		}
	}
}

// pingLoop keeps the connection alive and detects stale peers.
func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}

			if t.cfg.PingTimeout <= 0 {
				continue
			}

			t.mu.Lock()
			lastPing := t.lastPingAt
			t.mu.Unlock()

			if time.Since(lastPing) > t.cfg.PingTimeout {
				t.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", t.cfg.PingTimeout,
				)
				select {
				case t.errors <- ErrStaleConnection:
				default:
				}
				t.conn.Close()
				return
			}
		}
	}
}
