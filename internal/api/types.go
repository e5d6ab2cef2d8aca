package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Millis is a Unix timestamp in milliseconds as sent by the exchange.
type Millis int64

// Time converts the timestamp to a time.Time in UTC.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// AuthResult is the result of public/auth.
type AuthResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// Lifetime returns the token lifetime.
func (r AuthResult) Lifetime() time.Duration {
	return time.Duration(r.ExpiresIn) * time.Second
}

// TestResult is the result of public/test.
type TestResult struct {
	Version string `json:"version"`
}

// Quote from quote.{instrument} pushes.
type Quote struct {
	InstrumentName string          `json:"instrument_name"`
	Timestamp      Millis          `json:"timestamp"`
	BestBidPrice   decimal.Decimal `json:"best_bid_price"`
	BestBidAmount  decimal.Decimal `json:"best_bid_amount"`
	BestAskPrice   decimal.Decimal `json:"best_ask_price"`
	BestAskAmount  decimal.Decimal `json:"best_ask_amount"`
}

// Mid returns the bid/ask midpoint, or zero when either side is empty.
func (q Quote) Mid() decimal.Decimal {
	if q.BestBidPrice.IsZero() || q.BestAskPrice.IsZero() {
		return decimal.Zero
	}
	return q.BestBidPrice.Add(q.BestAskPrice).Div(decimal.NewFromInt(2))
}

// Spread returns ask minus bid, or zero when either side is empty.
func (q Quote) Spread() decimal.Decimal {
	if q.BestBidPrice.IsZero() || q.BestAskPrice.IsZero() {
		return decimal.Zero
	}
	return q.BestAskPrice.Sub(q.BestBidPrice)
}

// Ticker from ticker.{instrument}.{interval} pushes and public/ticker.
type Ticker struct {
	InstrumentName string          `json:"instrument_name"`
	Timestamp      Millis          `json:"timestamp"`
	State          string          `json:"state"`
	BestBidPrice   decimal.Decimal `json:"best_bid_price"`
	BestBidAmount  decimal.Decimal `json:"best_bid_amount"`
	BestAskPrice   decimal.Decimal `json:"best_ask_price"`
	BestAskAmount  decimal.Decimal `json:"best_ask_amount"`
	LastPrice      decimal.Decimal `json:"last_price"`
	MarkPrice      decimal.Decimal `json:"mark_price"`
	IndexPrice     decimal.Decimal `json:"index_price"`
	OpenInterest   decimal.Decimal `json:"open_interest"`

	// Options only
	MarkIV *decimal.Decimal `json:"mark_iv,omitempty"`
	BidIV  *decimal.Decimal `json:"bid_iv,omitempty"`
	AskIV  *decimal.Decimal `json:"ask_iv,omitempty"`
}

// Trade from trades.{instrument}.{interval} and user.trades pushes.
type Trade struct {
	TradeID        string           `json:"trade_id"`
	TradeSeq       int64            `json:"trade_seq"`
	InstrumentName string           `json:"instrument_name"`
	Timestamp      Millis           `json:"timestamp"`
	Price          decimal.Decimal  `json:"price"`
	Amount         decimal.Decimal  `json:"amount"`
	Direction      string           `json:"direction"` // "buy" or "sell"
	IndexPrice     decimal.Decimal  `json:"index_price"`
	MarkPrice      decimal.Decimal  `json:"mark_price"`
	TickDirection  int              `json:"tick_direction"`
	IV             *decimal.Decimal `json:"iv,omitempty"`
}

// IndexPrice from deribit_price_index.{index} pushes.
type IndexPrice struct {
	IndexName string          `json:"index_name"`
	Price     decimal.Decimal `json:"price"`
	Timestamp Millis          `json:"timestamp"`
}

// Announcement from the announcements channel.
type Announcement struct {
	ID                   int64  `json:"id"`
	Title                string `json:"title"`
	Body                 string `json:"body"`
	Important            bool   `json:"important"`
	PublicationTimestamp Millis `json:"publication_timestamp"`
}

// BookLevel is one [action?, price, amount] entry of an order book push.
type BookLevel struct {
	Action string
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// UnmarshalJSON accepts both ["new", price, amount] and [price, amount].
func (l *BookLevel) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("book level: %w", err)
	}

	switch len(raw) {
	case 3:
		if err := json.Unmarshal(raw[0], &l.Action); err != nil {
			return fmt.Errorf("book level action: %w", err)
		}
		raw = raw[1:]
	case 2:
	default:
		return fmt.Errorf("book level: want 2 or 3 elements, got %d", len(raw))
	}

	if err := l.Price.UnmarshalJSON(raw[0]); err != nil {
		return fmt.Errorf("book level price: %w", err)
	}
	if err := l.Amount.UnmarshalJSON(raw[1]); err != nil {
		return fmt.Errorf("book level amount: %w", err)
	}
	return nil
}

// BookUpdate from book.{instrument}.{interval} pushes.
type BookUpdate struct {
	Type           string      `json:"type"` // "snapshot" or "change"
	InstrumentName string      `json:"instrument_name"`
	Timestamp      Millis      `json:"timestamp"`
	ChangeID       int64       `json:"change_id"`
	PrevChangeID   int64       `json:"prev_change_id,omitempty"`
	Bids           []BookLevel `json:"bids"`
	Asks           []BookLevel `json:"asks"`
}

// Decode unmarshals a push payload or result into T.
func Decode[T any](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
