package notify

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind identifies one of the process-wide push streams.
type Kind string

const (
	KindQuotes        Kind = "quotes"
	KindOrderbooks    Kind = "orderbooks"
	KindTrades        Kind = "trades"
	KindIndices       Kind = "indices"
	KindAnnouncements Kind = "announcements"

	// KindOther covers channels that map to none of the streams above
	// (user orders, portfolio, platform state...).
	KindOther Kind = "other"
)

// Kinds lists the classified streams in a stable order.
var Kinds = []Kind{KindQuotes, KindOrderbooks, KindTrades, KindIndices, KindAnnouncements, KindOther}

// Notification is a single push received from the exchange.
type Notification struct {
	Channel    string
	Kind       Kind
	Data       json.RawMessage
	ReceivedAt time.Time
}

// New builds a Notification for channel, classifying it with KindOf.
func New(channel string, data json.RawMessage, receivedAt time.Time) Notification {
	return Notification{
		Channel:    channel,
		Kind:       KindOf(channel),
		Data:       data,
		ReceivedAt: receivedAt,
	}
}

// KindOf maps a subscription channel name to its stream.
//
//	quote.BTC-PERPETUAL              -> quotes
//	ticker.BTC-PERPETUAL.100ms       -> quotes
//	book.BTC-PERPETUAL.100ms         -> orderbooks
//	trades.BTC-PERPETUAL.raw         -> trades
//	user.trades.BTC-PERPETUAL.raw    -> trades
//	deribit_price_index.btc_usd      -> indices
//	announcements                    -> announcements
func KindOf(channel string) Kind {
	prefix, rest, _ := strings.Cut(channel, ".")
	switch prefix {
	case "quote", "ticker", "incremental_ticker":
		return KindQuotes
	case "book":
		return KindOrderbooks
	case "trades":
		return KindTrades
	case "deribit_price_index", "deribit_price_ranking", "deribit_volatility_index", "estimated_expiration_price", "markprice":
		return KindIndices
	case "announcements":
		return KindAnnouncements
	case "user":
		if next, _, _ := strings.Cut(rest, "."); next == "trades" {
			return KindTrades
		}
	}
	return KindOther
}

// Instrument extracts the instrument (or index) name from a channel, or ""
// when the channel is not instrument-scoped.
func Instrument(channel string) string {
	parts := strings.Split(channel, ".")
	switch {
	case len(parts) >= 3 && parts[0] == "user":
		return parts[2]
	case len(parts) >= 2 && parts[0] != "user":
		return parts[1]
	}
	return ""
}
