package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion is the JSON-RPC version sent on every request.
const ProtocolVersion = "2.0"

// Request is an outgoing JSON-RPC call. It is immutable once sent.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Frame is any inbound message: a reply (ID set) or a push (ID nil).
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`

	// Server timing in microseconds, present on replies.
	UsIn    int64 `json:"usIn,omitempty"`
	UsOut   int64 `json:"usOut,omitempty"`
	UsDiff  int64 `json:"usDiff,omitempty"`
	Testnet bool  `json:"testnet,omitempty"`

	// ReceivedAt is stamped locally when the frame was read.
	ReceivedAt time.Time `json:"-"`
}

// HasID reports whether the frame is a reply.
func (f Frame) HasID() bool {
	return f.ID != nil
}

// Failed reports whether the reply carries an error payload.
func (f Frame) Failed() bool {
	return f.Error != nil
}

// Unmarshal decodes the result into v, or returns the reply's error payload.
func (f Frame) Unmarshal(v any) error {
	if f.Error != nil {
		return f.Error
	}
	if len(f.Result) == 0 {
		return fmt.Errorf("frame has no result")
	}
	return json.Unmarshal(f.Result, v)
}

// Push is the params of a subscription push or a heartbeat push.
type Push struct {
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Type    string          `json:"type,omitempty"`
}

// Push decodes the frame params.
func (f Frame) Push() (Push, error) {
	var p Push
	if len(f.Params) == 0 {
		return p, fmt.Errorf("push has no params")
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return p, fmt.Errorf("decode push params: %w", err)
	}
	return p, nil
}

// Error is a JSON-RPC error payload returned by the peer for a request.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

var emptyParams = struct{}{}

// Encode serializes a request. Missing protocol version and params are
// filled in; an empty method is rejected.
func Encode(req Request) ([]byte, error) {
	if req.Method == "" {
		return nil, errors.New("encode request: empty method")
	}
	if req.JSONRPC == "" {
		req.JSONRPC = ProtocolVersion
	}
	if req.Params == nil {
		req.Params = emptyParams
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", req.Method, err)
	}
	return data, nil
}

// Decode parses an inbound frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.ID == nil && f.Method == "" {
		return Frame{}, errors.New("decode frame: neither id nor method")
	}
	return f, nil
}
