package rpc

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/deribit-rpc/internal/metrics"
	"github.com/rickgao/deribit-rpc/internal/notify"
)

// Authenticator supplies public/auth params. *auth.Credentials implements it.
type Authenticator interface {
	LoginParams() map[string]any
	RefreshParams(refreshToken string) map[string]any
}

// Config configures a Client.
type Config struct {
	URL  string        // WebSocket URL
	Auth Authenticator // nil = unauthenticated session

	StartupTimeout           time.Duration // max wait for the secured signal before sending anyway
	RequestTimeout           time.Duration // blocking wait ceiling for awaited replies
	MaxBatchRetries          int           // batch resends after transport failures
	RetryDelay               time.Duration // pause between batch attempts
	ReconnectMinDelay        time.Duration // first reconnect delay
	ReconnectMaxDelay        time.Duration // reconnect delay cap
	HeartbeatInterval        time.Duration // interval requested with public/set_heartbeat (0 disables)
	ChallengeResponseTimeout time.Duration // write deadline for heartbeat acknowledgements
	PendingTTL               time.Duration // pending entries older than this are swept
	GentleDelay              time.Duration // pause between messages of large batches
	GentleThreshold          int           // batch size above which GentleDelay applies
	RefreshTokens            bool          // renew the session at 90% of token lifetime

	Transport TransportConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StartupTimeout:           2 * time.Second,
		RequestTimeout:           5 * time.Second,
		MaxBatchRetries:          10,
		RetryDelay:               10 * time.Millisecond,
		ReconnectMinDelay:        250 * time.Millisecond,
		ReconnectMaxDelay:        10 * time.Second,
		HeartbeatInterval:        30 * time.Second,
		ChallengeResponseTimeout: 2 * time.Second,
		PendingTTL:               time.Minute,
		GentleDelay:              50 * time.Millisecond,
		GentleThreshold:          50,
		RefreshTokens:            true,
		Transport:                DefaultTransportConfig(),
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records client activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithBus publishes pushes on bus instead of notify.Default.
func WithBus(bus *notify.Bus) Option {
	return func(c *Client) {
		if bus != nil {
			c.bus = bus
		}
	}
}

// WithClassifier replaces the push routing strategy.
func WithClassifier(cl Classifier) Option {
	return func(c *Client) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

// WithTracerProvider sets the tracer provider used for send spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}
