package api

import (
	"strings"
	"time"
)

// DefaultHeartbeatInterval is the interval requested with public/set_heartbeat.
const DefaultHeartbeatInterval = 30 * time.Second

// minHeartbeatInterval is the smallest interval the exchange accepts.
const minHeartbeatInterval = 10 * time.Second

// HeartbeatParams returns the params of a public/set_heartbeat request.
// Intervals below the exchange minimum are raised to it.
func HeartbeatParams(interval time.Duration) map[string]any {
	if interval < minHeartbeatInterval {
		interval = minHeartbeatInterval
	}
	return map[string]any{"interval": int(interval / time.Second)}
}

// ChannelParams returns the params of a subscribe or unsubscribe request.
func ChannelParams(channels []string) map[string]any {
	return map[string]any{"channels": channels}
}

// IsPrivateChannel reports whether channel requires an authenticated session.
func IsPrivateChannel(channel string) bool {
	return strings.HasPrefix(channel, "user.")
}

// SubscribeMethod picks the subscribe endpoint for channels. Any private
// channel in the set requires private/subscribe.
func SubscribeMethod(channels []string) string {
	for _, ch := range channels {
		if IsPrivateChannel(ch) {
			return MethodPrivateSubscribe
		}
	}
	return MethodSubscribe
}

// UnsubscribeMethod picks the unsubscribe endpoint for channels.
func UnsubscribeMethod(channels []string) string {
	if SubscribeMethod(channels) == MethodPrivateSubscribe {
		return MethodPrivateUnsubscribe
	}
	return MethodUnsubscribe
}

// SplitChannels partitions channels into public and private sets, keeping
// their relative order.
func SplitChannels(channels []string) (public, private []string) {
	for _, ch := range channels {
		if IsPrivateChannel(ch) {
			private = append(private, ch)
		} else {
			public = append(public, ch)
		}
	}
	return public, private
}
