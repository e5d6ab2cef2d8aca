package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/deribit-rpc/internal/api"
	"github.com/rickgao/deribit-rpc/internal/metrics"
	"github.com/rickgao/deribit-rpc/internal/notify"
)

// Route is where a push (a frame without id) goes.
type Route int

const (
	RouteUnknown Route = iota
	RouteHeartbeat
	RouteChallenge
	RouteSubscription
)

func (r Route) String() string {
	switch r {
	case RouteHeartbeat:
		return "heartbeat"
	case RouteChallenge:
		return "challenge"
	case RouteSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// Classifier decides the route of a push.
type Classifier interface {
	Classify(f Frame) Route
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(Frame) Route

func (fn ClassifierFunc) Classify(f Frame) Route { return fn(f) }

// DeribitClassifier routes Deribit pushes: heartbeat pushes by params.type,
// subscription pushes by method.
type DeribitClassifier struct{}

func (DeribitClassifier) Classify(f Frame) Route {
	switch f.Method {
	case api.PushSubscription:
		return RouteSubscription
	case api.PushHeartbeat:
		p, err := f.Push()
		if err != nil {
			return RouteUnknown
		}
		switch p.Type {
		case api.HeartbeatTypeHeartbeat:
			return RouteHeartbeat
		case api.HeartbeatTypeTestRequest:
			return RouteChallenge
		}
	}
	return RouteUnknown
}

// replyFunc writes a request on the connection the challenge arrived on.
type replyFunc func(ctx context.Context, req Request) error

// router dispatches inbound frames. It runs on the reader goroutine only.
type router struct {
	pending    *PendingTable
	subs       *SubscriptionRegistry
	bus        *notify.Bus
	classifier Classifier
	ids        *IDGenerator
	metrics    *metrics.Metrics
	logger     *slog.Logger

	challengeTimeout time.Duration
}

// dispatch decodes and routes one inbound frame. It never panics on bad
// input: decode failures are logged and skipped.
func (r *router) dispatch(in Inbound, reply replyFunc) {
	f, err := Decode(in.Data)
	if err != nil {
		r.metrics.DecodeError()
		r.logger.Warn("failed to decode frame", "error", err, "size", len(in.Data))
		return
	}
	f.ReceivedAt = in.ReceivedAt

	if f.HasID() {
		r.resolve(f)
		return
	}

	switch route := r.classifier.Classify(f); route {
	case RouteHeartbeat:
		r.logger.Debug("heartbeat")
	case RouteChallenge:
		r.answerChallenge(reply)
	case RouteSubscription:
		r.deliverPush(f)
	default:
		r.metrics.UnexpectedPush()
		r.logger.Warn("unexpected push", "method", f.Method, "params", string(f.Params))
	}
}

func (r *router) resolve(f Frame) {
	outcome, cb := r.pending.Resolve(f)
	switch outcome {
	case OutcomeCallback:
		r.metrics.ReplyReceived("callback", f.Failed())
		r.invoke(cb, f)
	case OutcomeDeposited:
		r.metrics.ReplyReceived("await", f.Failed())
	default:
		r.metrics.LateReply()
		r.logger.Debug("dropping late reply", "id", *f.ID)
	}
	r.metrics.SetPending(r.pending.Len())
}

func (r *router) invoke(cb Callback, f Frame) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reply callback panicked", "id", *f.ID, "panic", p)
		}
	}()
	cb(f)
}

// answerChallenge writes a public/test acknowledgement before the reader
// moves on to the next frame, so its latency never depends on callers.
func (r *router) answerChallenge(reply replyFunc) {
	req := Request{
		JSONRPC: ProtocolVersion,
		ID:      r.ids.Next(),
		Method:  api.MethodTest,
	}
	// The acknowledgement's own reply is correlated like any other.
	ack := Callback(func(f Frame) {
		if f.Failed() {
			r.logger.Warn("heartbeat acknowledgement rejected", "error", f.Error)
		}
	})
	if err := r.pending.Register(req, ack); err != nil {
		r.logger.Error("failed to register heartbeat acknowledgement", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.challengeTimeout)
	defer cancel()

	if err := reply(ctx, req); err != nil {
		r.pending.Release(req.ID)
		r.logger.Warn("failed to answer heartbeat challenge", "error", err)
		return
	}
	r.metrics.Challenge()
	r.logger.Debug("answered heartbeat challenge", "id", req.ID)
}

// deliverPush hands a subscription push to the channel observer and to
// the process-wide bus.
func (r *router) deliverPush(f Frame) {
	p, err := f.Push()
	if err != nil || p.Channel == "" {
		r.metrics.UnexpectedPush()
		r.logger.Warn("malformed subscription push", "error", err, "params", string(f.Params))
		return
	}

	n := notify.New(p.Channel, p.Data, f.ReceivedAt)
	r.metrics.Push(string(n.Kind))

	if fn, ok := r.subs.Lookup(p.Channel); ok && fn != nil {
		r.observe(fn, n)
	}
	r.bus.Publish(n)
}

func (r *router) observe(fn notify.Observer, n notify.Notification) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("subscription observer panicked", "channel", n.Channel, "panic", p)
		}
	}()
	fn(n)
}
