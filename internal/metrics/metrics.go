package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "deribit").
	Namespace string

	// Subsystem is the metrics subsystem (default: "rpc").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	requestsSent    *prometheus.CounterVec
	repliesReceived *prometheus.CounterVec
	lateReplies     prometheus.Counter
	partialWaits    prometheus.Counter
	batchRetries    prometheus.Counter
	reconnects      prometheus.Counter
	challenges      prometheus.Counter
	pushes          *prometheus.CounterVec
	unexpected      prometheus.Counter
	decodeErrors    prometheus.Counter
	expired         prometheus.Counter
	pending         prometheus.Gauge
	state           prometheus.Gauge
	waitDuration    prometheus.Histogram

	tapeRows     prometheus.Counter
	tapeFailures prometheus.Counter
	tapeBatch    prometheus.Histogram
}

// New registers the collectors.
func New(opts ...Option) *Metrics {
	config := Config{
		Namespace: "deribit",
		Subsystem: "rpc",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		requestsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_sent_total",
			Help:        "Requests written to the socket by method",
			ConstLabels: config.ConstLabels,
		}, []string{"method"}),

		repliesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "replies_received_total",
			Help:        "Correlated replies by delivery mode and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"delivery", "outcome"}),

		lateReplies:  counter("late_replies_total", "Replies whose id was no longer pending"),
		partialWaits: counter("partial_waits_total", "Blocking waits that returned before every answer arrived"),
		batchRetries: counter("batch_retries_total", "Batches resent after a transport failure"),
		reconnects:   counter("reconnects_total", "Reconnection attempts after unexpected closes"),
		challenges:   counter("heartbeat_challenges_total", "test_request challenges answered"),
		unexpected:   counter("unexpected_pushes_total", "Pushes that could not be classified"),
		decodeErrors: counter("decode_errors_total", "Inbound frames that failed to decode"),
		expired:      counter("pending_expired_total", "Pending requests swept without a reply"),

		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pushes_total",
			Help:        "Subscription pushes by notification kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pending_requests",
			Help:        "Requests awaiting a reply",
			ConstLabels: config.ConstLabels,
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_state",
			Help:        "Connection state (0 disconnected, 1 connecting, 2 auth pending, 3 authenticated, 4 closing)",
			ConstLabels: config.ConstLabels,
		}),

		waitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "wait_duration_seconds",
			Help:        "Time callers spent blocked waiting for answers",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		tapeRows:     counter("tape_rows_total", "Notifications written to the tape"),
		tapeFailures: counter("tape_failures_total", "Tape batches that failed to write"),

		tapeBatch: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tape_batch_size",
			Help:        "Rows per tape batch",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// RequestSent records a request written to the socket.
func (m *Metrics) RequestSent(method string) {
	if m == nil {
		return
	}
	m.requestsSent.WithLabelValues(method).Inc()
}

// ReplyReceived records a correlated reply. delivery is "callback" or
// "await"; failed is true when the reply carried an error payload.
func (m *Metrics) ReplyReceived(delivery string, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.repliesReceived.WithLabelValues(delivery, outcome).Inc()
}

// LateReply records a reply for an id that is no longer pending.
func (m *Metrics) LateReply() {
	if m == nil {
		return
	}
	m.lateReplies.Inc()
}

// WaitFinished records a blocking wait. partial is true when it timed out
// before every answer arrived.
func (m *Metrics) WaitFinished(seconds float64, partial bool) {
	if m == nil {
		return
	}
	m.waitDuration.Observe(seconds)
	if partial {
		m.partialWaits.Inc()
	}
}

// BatchRetry records a batch resend.
func (m *Metrics) BatchRetry() {
	if m == nil {
		return
	}
	m.batchRetries.Inc()
}

// Reconnect records a reconnection attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Challenge records an answered heartbeat challenge.
func (m *Metrics) Challenge() {
	if m == nil {
		return
	}
	m.challenges.Inc()
}

// Push records a subscription push of the given kind.
func (m *Metrics) Push(kind string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(kind).Inc()
}

// UnexpectedPush records a push that matched no route.
func (m *Metrics) UnexpectedPush() {
	if m == nil {
		return
	}
	m.unexpected.Inc()
}

// DecodeError records a frame that failed to decode.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// Expired records pending entries swept without a reply.
func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

// SetPending sets the pending table size.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// SetState sets the connection state gauge.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

// TapeBatch records a tape write of n rows.
func (m *Metrics) TapeBatch(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.tapeFailures.Inc()
		return
	}
	m.tapeRows.Add(float64(n))
	m.tapeBatch.Observe(float64(n))
}
