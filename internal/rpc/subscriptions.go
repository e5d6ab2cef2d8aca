package rpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/deribit-rpc/internal/api"
	"github.com/rickgao/deribit-rpc/internal/notify"
)

// SubscriptionRegistry maps channel names to the observer that receives
// their pushes. One observer per channel: subscribing again replaces it,
// so pushes are never delivered twice to the same channel.
//
// A channel is restorable once a Subscribe call has finished with it.
// Only restorable channels are replayed on a new connection; channels
// still in flight are sent by their own Subscribe call.
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

type subscription struct {
	observer notify.Observer
	restore  bool
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs: make(map[string]*subscription),
	}
}

// Add registers fn for channel and reports whether the channel is new.
// A nil fn registers the channel for bus-only delivery. Re-adding keeps
// the channel's restorable mark.
func (r *SubscriptionRegistry) Add(channel string, fn notify.Observer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[channel]; ok {
		sub.observer = fn
		return false
	}
	r.subs[channel] = &subscription{observer: fn}
	return true
}

// MarkRestorable flags registered channels for replay on reconnect.
func (r *SubscriptionRegistry) MarkRestorable(channels ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range channels {
		if sub, ok := r.subs[ch]; ok {
			sub.restore = true
		}
	}
}

// Remove drops channel and reports whether it was registered.
func (r *SubscriptionRegistry) Remove(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.subs[channel]
	delete(r.subs, channel)
	return existed
}

// Lookup returns the observer for channel.
func (r *SubscriptionRegistry) Lookup(channel string) (notify.Observer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[channel]
	if !ok {
		return nil, false
	}
	return sub.observer, true
}

// Channels returns the registered channels, sorted.
func (r *SubscriptionRegistry) Channels() []string {
	return r.list(false)
}

// Restorable returns the channels to replay on a new connection, sorted.
func (r *SubscriptionRegistry) Restorable() []string {
	return r.list(true)
}

func (r *SubscriptionRegistry) list(restorableOnly bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for ch, sub := range r.subs {
		if restorableOnly && !sub.restore {
			continue
		}
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered channels.
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Subscribe registers fn for channels and subscribes them on the server.
// fn may be nil when pushes are consumed from the bus only. It returns the
// channels the server confirmed.
//
// Channels the server rejects are unregistered unless an earlier call
// registered them. On a timeout the registrations are kept so the next
// reconnect retries them.
func (c *Client) Subscribe(ctx context.Context, channels []string, fn notify.Observer) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "rpc.Subscribe",
		trace.WithAttributes(attribute.Int("rpc.channels", len(channels))),
	)
	defer span.End()

	confirmed, err := c.subscribe(ctx, unique(channels), fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return confirmed, err
}

func (c *Client) subscribe(ctx context.Context, channels []string, fn notify.Observer) ([]string, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	added := make(map[string]bool, len(channels))
	for _, ch := range channels {
		added[ch] = c.subs.Add(ch, fn)
	}

	var (
		confirmed []string
		errs      []error
	)
	public, private := api.SplitChannels(channels)
	for _, group := range [][]string{public, private} {
		if len(group) == 0 {
			continue
		}

		method := api.SubscribeMethod(group)
		frames, err := c.Send(ctx, Call{Method: method, Params: api.ChannelParams(group)})
		switch {
		case err != nil:
			c.unregister(group, added)
			errs = append(errs, fmt.Errorf("%s: %w", method, err))
			continue
		case len(frames) == 0:
			c.subs.MarkRestorable(group...)
			errs = append(errs, fmt.Errorf("%s: %w", method, ErrTimeout))
			continue
		case frames[0].Failed():
			c.unregister(group, added)
			errs = append(errs, fmt.Errorf("%s: %w", method, frames[0].Error))
			continue
		}

		var accepted []string
		if err := frames[0].Unmarshal(&accepted); err != nil {
			c.subs.MarkRestorable(group...)
			errs = append(errs, fmt.Errorf("%s: decode result: %w", method, err))
			continue
		}
		ok := make(map[string]bool, len(accepted))
		for _, ch := range accepted {
			ok[ch] = true
		}
		for _, ch := range group {
			if ok[ch] {
				confirmed = append(confirmed, ch)
				continue
			}
			if added[ch] {
				c.subs.Remove(ch)
			}
			c.logger.Warn("channel not subscribed by server", "channel", ch)
		}
		c.subs.MarkRestorable(group...)
	}

	c.logger.Debug("subscribed", "requested", len(channels), "confirmed", len(confirmed))
	return confirmed, errors.Join(errs...)
}

// Unsubscribe unregisters channels and unsubscribes them on the server.
// Local registrations are removed even if the server call fails.
func (c *Client) Unsubscribe(ctx context.Context, channels []string) error {
	channels = unique(channels)
	if len(channels) == 0 {
		return nil
	}
	for _, ch := range channels {
		c.subs.Remove(ch)
	}

	var errs []error
	public, private := api.SplitChannels(channels)
	for _, group := range [][]string{public, private} {
		if len(group) == 0 {
			continue
		}
		method := api.UnsubscribeMethod(group)
		frames, err := c.Send(ctx, Call{Method: method, Params: api.ChannelParams(group)})
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", method, err))
		case len(frames) == 0:
			errs = append(errs, fmt.Errorf("%s: %w", method, ErrTimeout))
		case frames[0].Failed():
			errs = append(errs, fmt.Errorf("%s: %w", method, frames[0].Error))
		}
	}
	return errors.Join(errs...)
}

// unregister removes the channels of group this call added.
func (c *Client) unregister(group []string, added map[string]bool) {
	for _, ch := range group {
		if added[ch] {
			c.subs.Remove(ch)
		}
	}
}

func unique(channels []string) []string {
	seen := make(map[string]bool, len(channels))
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}
