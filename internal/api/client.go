package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client performs one-shot JSON-RPC calls over HTTP. It is used for
// reachability checks and simple queries that do not need the persistent
// WebSocket session.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new HTTP JSON-RPC client for baseURL
// (e.g. https://www.deribit.com/api/v2).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAccessToken authenticates private calls with a bearer token obtained
// from public/auth.
func WithAccessToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Call invokes method with params and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, queryValue(v))
	}

	body, err := c.doWithRetry(ctx, http.MethodGet, "/"+strings.TrimLeft(method, "/"), query)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if env.Error != nil {
		return nil, env.Error
	}
	return env.Result, nil
}

// GetTime returns the exchange clock.
func (c *Client) GetTime(ctx context.Context) (time.Time, error) {
	raw, err := c.Call(ctx, MethodGetTime, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("get time: %w", err)
	}
	ms, err := Decode[Millis](raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("get time: %w", err)
	}
	return ms.Time(), nil
}

// Test calls public/test and returns the API version.
func (c *Client) Test(ctx context.Context) (string, error) {
	raw, err := c.Call(ctx, MethodTest, nil)
	if err != nil {
		return "", fmt.Errorf("test: %w", err)
	}
	res, err := Decode[TestResult](raw)
	if err != nil {
		return "", fmt.Errorf("test: %w", err)
	}
	return res.Version, nil
}

// GetIndexPrice returns the current value of an index (e.g. btc_usd).
func (c *Client) GetIndexPrice(ctx context.Context, index string) (IndexPrice, error) {
	raw, err := c.Call(ctx, MethodGetIndexPrice, map[string]any{"index_name": index})
	if err != nil {
		return IndexPrice{}, fmt.Errorf("get index price: %w", err)
	}
	res, err := Decode[struct {
		IndexPrice decimal.Decimal `json:"index_price"`
	}](raw)
	if err != nil {
		return IndexPrice{}, fmt.Errorf("get index price: %w", err)
	}
	return IndexPrice{
		IndexName: index,
		Price:     res.IndexPrice,
		Timestamp: Millis(time.Now().UnixMilli()),
	}, nil
}

// envelope is the JSON-RPC response wrapper.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	UsIn    int64           `json:"usIn"`
	UsOut   int64           `json:"usOut"`
}

// RPCError is a JSON-RPC error payload returned over HTTP.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("deribit rpc error %d: %s", e.Code, e.Message)
}

func queryValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
