package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/deribit-rpc/internal/api"
	"github.com/rickgao/deribit-rpc/internal/metrics"
	"github.com/rickgao/deribit-rpc/internal/notify"
)

type authStub struct{}

func (authStub) LoginParams() map[string]any {
	return map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     "test-id",
		"client_secret": "test-secret",
	}
}

func (authStub) RefreshParams(token string) map[string]any {
	return map[string]any{"grant_type": "refresh_token", "refresh_token": token}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "wss://test.deribit.com/ws/api/v2"
	cfg.StartupTimeout = time.Second
	cfg.RequestTimeout = time.Second
	cfg.ReconnectMinDelay = 5 * time.Millisecond
	cfg.ReconnectMaxDelay = 20 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	cfg.PendingTTL = 0
	return cfg
}

func newTestClient(t *testing.T, cfg Config, d *fakeDialer, opts ...Option) (*Client, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	base := []Option{
		WithDialer(d.dial),
		WithLogger(discardLogger()),
		WithBus(notify.NewBus(discardLogger())),
		WithMetrics(metrics.New(metrics.WithRegistry(reg))),
	}
	c := New(cfg, append(base, opts...)...)
	t.Cleanup(func() { c.Close() })
	return c, reg
}

func echoDialer() *fakeDialer {
	return &fakeDialer{next: func(int) *fakeTransport { return newFakeTransport(echo) }}
}

// subscribeResponder confirms every requested channel and echoes the rest.
func subscribeResponder(ft *fakeTransport, req Request) {
	switch req.Method {
	case api.MethodSubscribe, api.MethodPrivateSubscribe, api.MethodUnsubscribe, api.MethodPrivateUnsubscribe:
		params, _ := req.Params.(map[string]any)
		ft.reply(req.ID, params["channels"])
	default:
		echo(ft, req)
	}
}

func authResponder(expiresIn int) func(*fakeTransport, Request) {
	return func(ft *fakeTransport, req Request) {
		if req.Method != api.MethodAuth {
			echo(ft, req)
			return
		}
		ft.reply(req.ID, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    expiresIn,
			"scope":         "connection mainaccount",
			"token_type":    "bearer",
		})
	}
}

func resultString(t *testing.T, f Frame) string {
	t.Helper()
	var s string
	if err := f.Unmarshal(&s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return s
}

func TestClient_LazyConnect(t *testing.T) {
	d := echoDialer()
	c, _ := newTestClient(t, testConfig(), d)

	if d.dials() != 0 {
		t.Fatal("New should not dial")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", c.State())
	}

	res, err := c.Call(context.Background(), api.MethodTest, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(res) != `"public/test"` {
		t.Errorf("result = %s", res)
	}
	if d.dials() != 1 {
		t.Errorf("dials = %d, want 1", d.dials())
	}
	if c.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", c.State())
	}

	methods := d.transport(0).methods()
	if len(methods) != 2 || methods[0] != api.MethodSetHeartbeat || methods[1] != api.MethodTest {
		t.Errorf("sent = %v, want [set_heartbeat test]", methods)
	}
}

func TestClient_SendOrder(t *testing.T) {
	d := echoDialer()
	c, _ := newTestClient(t, testConfig(), d)

	calls := []Call{
		{Method: api.MethodGetTime},
		{Method: api.MethodTest},
		{Method: api.MethodGetIndexPrice, Params: map[string]any{"index_name": "btc_usd"}},
	}
	frames, err := c.Send(context.Background(), calls...)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(frames) != len(calls) {
		t.Fatalf("frames = %d, want %d", len(frames), len(calls))
	}
	for i, f := range frames {
		if got := resultString(t, f); got != calls[i].Method {
			t.Errorf("frame %d = %q, want %q", i, got, calls[i].Method)
		}
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestClient_MixedDelivery(t *testing.T) {
	d := echoDialer()
	c, _ := newTestClient(t, testConfig(), d)

	got := make(chan Frame, 2)
	frames, err := c.Send(context.Background(),
		Call{Method: "public/a"},
		Call{Method: "public/b", Delivery: Callback(func(f Frame) { got <- f })},
		Call{Method: "public/c", Delivery: Await{}},
	)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if resultString(t, frames[0]) != "public/a" || resultString(t, frames[1]) != "public/c" {
		t.Error("awaited frames out of order")
	}

	select {
	case f := <-got:
		if resultString(t, f) != "public/b" {
			t.Errorf("callback frame = %s", f.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	time.Sleep(20 * time.Millisecond)
	if len(got) != 0 {
		t.Error("callback invoked more than once")
	}
}

func TestClient_PartialTimeout(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport {
		return newFakeTransport(func(ft *fakeTransport, req Request) {
			if req.Method != "public/b" {
				echo(ft, req)
			}
		})
	}}
	cfg := testConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	c, reg := newTestClient(t, cfg, d)

	start := time.Now()
	frames, err := c.Send(context.Background(),
		Call{Method: "public/a"},
		Call{Method: "public/b"},
		Call{Method: "public/c"},
	)
	if err != nil {
		t.Fatalf("partial timeout should not be an error: %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("Send returned before the request timeout")
	}
	if len(frames) != 2 || resultString(t, frames[0]) != "public/a" || resultString(t, frames[1]) != "public/c" {
		t.Fatalf("frames = %v, want [a c]", frames)
	}
	eventually(t, "empty pending table", func() bool { return c.Pending() == 0 })

	// B's reply shows up late and is dropped.
	var bID uint64
	for _, req := range d.transport(0).requests() {
		if req.Method == "public/b" {
			bID = req.ID
		}
	}
	d.transport(0).reply(bID, "public/b")
	eventually(t, "late reply", func() bool {
		return metricSum(t, reg, "deribit_rpc_late_replies_total") == 1
	})
	if got := metricSum(t, reg, "deribit_rpc_partial_waits_total"); got != 1 {
		t.Errorf("partial waits = %v, want 1", got)
	}
}

func TestClient_BatchRetryResendsWholeBatch(t *testing.T) {
	d := &fakeDialer{next: func(n int) *fakeTransport {
		ft := newFakeTransport(echo)
		if n == 0 {
			// The first socket dies after two messages of the batch.
			ft.failAfter = 2
		}
		return ft
	}}
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	c, reg := newTestClient(t, cfg, d)

	calls := []Call{
		{Method: "public/m0"},
		{Method: "public/m1"},
		{Method: "public/m2"},
		{Method: "public/m3"},
		{Method: "public/m4"},
	}
	frames, err := c.Send(context.Background(), calls...)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(frames) != 5 {
		t.Fatalf("frames = %d, want 5", len(frames))
	}
	for i, f := range frames {
		if got := resultString(t, f); got != calls[i].Method {
			t.Errorf("frame %d = %q, want %q", i, got, calls[i].Method)
		}
	}

	if d.dials() != 2 {
		t.Fatalf("dials = %d, want 2", d.dials())
	}
	first, second := d.transport(0).requests(), d.transport(1).requests()
	if len(first) != 2 {
		t.Errorf("first socket got %d messages, want 2", len(first))
	}
	if len(second) != 5 {
		t.Fatalf("second socket got %d messages, want 5", len(second))
	}
	for i, req := range second {
		if req.Method != calls[i].Method {
			t.Errorf("resent %d = %s, want %s", i, req.Method, calls[i].Method)
		}
		if req.ID <= first[len(first)-1].ID {
			t.Errorf("resent id %d reuses an earlier id", req.ID)
		}
	}
	if got := metricSum(t, reg, "deribit_rpc_batch_retries_total"); got != 1 {
		t.Errorf("batch retries = %v, want 1", got)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	d := &fakeDialer{failures: 100, next: func(int) *fakeTransport { return newFakeTransport(echo) }}
	cfg := testConfig()
	cfg.MaxBatchRetries = 2
	c, _ := newTestClient(t, cfg, d)

	_, err := c.Send(context.Background(), Call{Method: api.MethodTest})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Send = %v, want ErrRetriesExhausted", err)
	}
	d.mu.Lock()
	attempts := d.attempts
	d.mu.Unlock()
	if attempts != 3 {
		t.Errorf("dial attempts = %d, want 3", attempts)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", c.State())
	}
}

func TestClient_DialRecovers(t *testing.T) {
	d := &fakeDialer{failures: 2, next: func(int) *fakeTransport { return newFakeTransport(echo) }}
	c, _ := newTestClient(t, testConfig(), d)

	if _, err := c.Call(context.Background(), api.MethodTest, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
}

func TestClient_EmptyMethod(t *testing.T) {
	d := echoDialer()
	c, _ := newTestClient(t, testConfig(), d)

	if _, err := c.Send(context.Background(), Call{}); err == nil {
		t.Error("expected error for empty method")
	}
	if d.dials() != 0 {
		t.Error("invalid calls should not dial")
	}
	if frames, err := c.Send(context.Background()); frames != nil || err != nil {
		t.Errorf("empty Send = %v, %v", frames, err)
	}
}

func TestClient_AuthFlow(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return newFakeTransport(authResponder(900)) }}
	cfg := testConfig()
	cfg.Auth = authStub{}
	c, _ := newTestClient(t, cfg, d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", c.State())
	}

	s := c.Session()
	if s.AccessToken != "access-1" || s.RefreshToken != "refresh-1" {
		t.Errorf("Session = %+v", s)
	}
	if !s.Valid(time.Now()) || s.Valid(time.Now().Add(time.Hour)) {
		t.Error("session validity should follow expires_in")
	}

	reqs := d.transport(0).requests()
	if len(reqs) == 0 || reqs[0].Method != api.MethodAuth {
		t.Fatalf("first request = %v, want public/auth", reqs)
	}
	params, _ := reqs[0].Params.(map[string]any)
	if params["grant_type"] != "client_credentials" {
		t.Errorf("login params = %v", params)
	}
}

func TestClient_AuthRejected(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport {
		return newFakeTransport(func(ft *fakeTransport, req Request) {
			if req.Method == api.MethodAuth {
				ft.fail(req.ID, 13004, "invalid_credentials")
				return
			}
			echo(ft, req)
		})
	}}
	cfg := testConfig()
	cfg.Auth = authStub{}
	c, _ := newTestClient(t, cfg, d)

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Connect = %v, want ErrAuth", err)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Reply.Code != 13004 {
		t.Errorf("error = %v, want AuthError with code 13004", err)
	}

	if _, err := c.Send(context.Background(), Call{Method: api.MethodTest}); !errors.Is(err, ErrAuth) {
		t.Errorf("Send after rejection = %v, want ErrAuth", err)
	}

	time.Sleep(50 * time.Millisecond)
	if d.dials() != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after fatal auth)", d.dials())
	}
}

func TestClient_DegradedStartup(t *testing.T) {
	// The server never answers public/auth.
	d := &fakeDialer{next: func(int) *fakeTransport {
		return newFakeTransport(func(ft *fakeTransport, req Request) {
			if req.Method != api.MethodAuth {
				echo(ft, req)
			}
		})
	}}
	cfg := testConfig()
	cfg.Auth = authStub{}
	cfg.StartupTimeout = 50 * time.Millisecond
	c, _ := newTestClient(t, cfg, d)

	start := time.Now()
	res, err := c.Call(context.Background(), api.MethodGetTime, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(res) != `"public/get_time"` {
		t.Errorf("result = %s", res)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("send should wait for the startup timeout first")
	}
	if c.State() != StateAuthPending {
		t.Errorf("State() = %s, want auth_pending", c.State())
	}
}

func TestClient_TokenRefresh(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return newFakeTransport(authResponder(1)) }}
	cfg := testConfig()
	cfg.Auth = authStub{}
	c, _ := newTestClient(t, cfg, d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	eventually(t, "refresh request", func() bool {
		for _, req := range d.transport(0).requests() {
			params, _ := req.Params.(map[string]any)
			if req.Method == api.MethodAuth && params["grant_type"] == "refresh_token" {
				return params["refresh_token"] == "refresh-1"
			}
		}
		return false
	})
	if d.dials() != 1 {
		t.Errorf("refresh should reuse the connection, dials = %d", d.dials())
	}
}

func TestClient_ReconnectResubscribe(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return newFakeTransport(subscribeResponder) }}
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	c, reg := newTestClient(t, cfg, d)

	pushes := make(chan notify.Notification, 4)
	confirmed, err := c.Subscribe(context.Background(), []string{"quote.BTC-PERPETUAL"}, func(n notify.Notification) {
		pushes <- n
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0] != "quote.BTC-PERPETUAL" {
		t.Fatalf("confirmed = %v", confirmed)
	}

	push := `{"jsonrpc":"2.0","method":"subscription","params":{"channel":"quote.BTC-PERPETUAL","data":{"best_bid_price":1}}}`
	d.transport(0).push(push)
	select {
	case n := <-pushes:
		if n.Kind != notify.KindQuotes {
			t.Errorf("Kind = %s, want quotes", n.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("push not delivered")
	}

	d.transport(0).drop()

	eventually(t, "resubscribe on new connection", func() bool {
		ft := d.transport(1)
		if ft == nil {
			return false
		}
		for _, req := range ft.requests() {
			if req.Method == api.MethodSubscribe {
				return true
			}
		}
		return false
	})
	eventually(t, "authenticated state", func() bool { return c.State() == StateAuthenticated })

	d.transport(1).push(push)
	select {
	case <-pushes:
	case <-time.After(time.Second):
		t.Fatal("push not delivered after reconnect")
	}
	if got := metricSum(t, reg, "deribit_rpc_reconnects_total"); got < 1 {
		t.Errorf("reconnects = %v, want >= 1", got)
	}
}

func TestClient_SubscribePublicAndPrivate(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return newFakeTransport(subscribeResponder) }}
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	c, _ := newTestClient(t, cfg, d)

	channels := []string{"user.orders.any.any.raw", "trades.BTC-PERPETUAL.raw", "trades.BTC-PERPETUAL.raw"}
	confirmed, err := c.Subscribe(context.Background(), channels, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if len(confirmed) != 2 {
		t.Errorf("confirmed = %v, want 2 channels", confirmed)
	}

	methods := d.transport(0).methods()
	if len(methods) != 2 || methods[0] != api.MethodSubscribe || methods[1] != api.MethodPrivateSubscribe {
		t.Errorf("sent = %v, want [public/subscribe private/subscribe]", methods)
	}
	if got := c.Subscriptions(); len(got) != 2 {
		t.Errorf("Subscriptions() = %v", got)
	}
}

func TestClient_SubscribeRejected(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport {
		return newFakeTransport(func(ft *fakeTransport, req Request) {
			if req.Method == api.MethodSubscribe {
				ft.fail(req.ID, 11050, "bad_request")
				return
			}
			echo(ft, req)
		})
	}}
	c, _ := newTestClient(t, testConfig(), d)

	if _, err := c.Subscribe(context.Background(), []string{"book.BTC-PERPETUAL.100ms"}, nil); err == nil {
		t.Fatal("expected error for rejected subscribe")
	}
	if got := c.Subscriptions(); len(got) != 0 {
		t.Errorf("Subscriptions() = %v, want none", got)
	}
}

func TestClient_SubscribePartiallyConfirmed(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport {
		return newFakeTransport(func(ft *fakeTransport, req Request) {
			if req.Method == api.MethodSubscribe {
				ft.reply(req.ID, []string{"ticker.BTC-PERPETUAL.100ms"})
				return
			}
			echo(ft, req)
		})
	}}
	c, _ := newTestClient(t, testConfig(), d)

	confirmed, err := c.Subscribe(context.Background(),
		[]string{"ticker.BTC-PERPETUAL.100ms", "ticker.NOPE.100ms"}, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if len(confirmed) != 1 {
		t.Errorf("confirmed = %v, want 1", confirmed)
	}
	if got := c.Subscriptions(); len(got) != 1 || got[0] != "ticker.BTC-PERPETUAL.100ms" {
		t.Errorf("Subscriptions() = %v", got)
	}
}

func TestClient_SubscribeAuthenticated(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport {
		login := authResponder(900)
		return newFakeTransport(func(ft *fakeTransport, req Request) {
			if req.Method == api.MethodAuth {
				login(ft, req)
				return
			}
			subscribeResponder(ft, req)
		})
	}}
	cfg := testConfig()
	cfg.Auth = authStub{}
	cfg.HeartbeatInterval = 0
	c, _ := newTestClient(t, cfg, d)

	channels := []string{"user.portfolio.btc", "deribit_price_index.btc_usd"}
	confirmed, err := c.Subscribe(context.Background(), channels, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if len(confirmed) != 2 {
		t.Errorf("confirmed = %v, want 2 channels", confirmed)
	}

	// Give a racing login handler time to send anything extra.
	time.Sleep(30 * time.Millisecond)

	counts := make(map[string]int)
	for _, m := range d.transport(0).methods() {
		counts[m]++
	}
	if counts[api.MethodSubscribe] != 1 || counts[api.MethodPrivateSubscribe] != 1 {
		t.Errorf("sent = %v, want one public/subscribe and one private/subscribe", d.transport(0).methods())
	}
	if counts[api.MethodAuth] != 1 {
		t.Errorf("public/auth sent %d times, want 1", counts[api.MethodAuth])
	}
}

func TestClient_SubscribeTwiceDeliversOnce(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return newFakeTransport(subscribeResponder) }}
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	c, _ := newTestClient(t, cfg, d)

	var mu sync.Mutex
	deliveries := 0
	observer := func(notify.Notification) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return deliveries
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Subscribe(ctx, []string{"trades.BTC-PERPETUAL.raw"}, observer); err != nil {
			t.Fatalf("Subscribe #%d failed: %v", i+1, err)
		}
	}

	d.transport(0).push(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"trades.BTC-PERPETUAL.raw","data":[]}}`)
	eventually(t, "push delivery", func() bool { return count() >= 1 })

	time.Sleep(30 * time.Millisecond)
	if n := count(); n != 1 {
		t.Errorf("deliveries = %d, want 1", n)
	}
}

func TestClient_SubscribePartialKeepsEarlierChannels(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport {
		return newFakeTransport(func(ft *fakeTransport, req Request) {
			if req.Method != api.MethodSubscribe {
				echo(ft, req)
				return
			}
			params, _ := req.Params.(map[string]any)
			if chans, _ := params["channels"].([]any); len(chans) == 2 {
				ft.reply(req.ID, []string{"ticker.ETH-PERPETUAL.100ms"})
				return
			}
			ft.reply(req.ID, params["channels"])
		})
	}}
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	c, _ := newTestClient(t, cfg, d)

	ctx := context.Background()
	if _, err := c.Subscribe(ctx, []string{"ticker.BTC-PERPETUAL.100ms"}, nil); err != nil {
		t.Fatalf("first Subscribe failed: %v", err)
	}
	confirmed, err := c.Subscribe(ctx, []string{"ticker.BTC-PERPETUAL.100ms", "ticker.ETH-PERPETUAL.100ms"}, nil)
	if err != nil {
		t.Fatalf("second Subscribe failed: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0] != "ticker.ETH-PERPETUAL.100ms" {
		t.Errorf("confirmed = %v", confirmed)
	}

	got := c.Subscriptions()
	if len(got) != 2 || got[0] != "ticker.BTC-PERPETUAL.100ms" || got[1] != "ticker.ETH-PERPETUAL.100ms" {
		t.Errorf("Subscriptions() = %v, want both channels kept", got)
	}
}

func TestClient_Unsubscribe(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport { return newFakeTransport(subscribeResponder) }}
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	c, _ := newTestClient(t, cfg, d)

	ctx := context.Background()
	if _, err := c.Subscribe(ctx, []string{"trades.ETH-PERPETUAL.raw"}, nil); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := c.Unsubscribe(ctx, []string{"trades.ETH-PERPETUAL.raw"}); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if got := c.Subscriptions(); len(got) != 0 {
		t.Errorf("Subscriptions() = %v, want none", got)
	}
	methods := d.transport(0).methods()
	if methods[len(methods)-1] != api.MethodUnsubscribe {
		t.Errorf("last method = %s, want public/unsubscribe", methods[len(methods)-1])
	}
}

func TestClient_HeartbeatChallenge(t *testing.T) {
	d := echoDialer()
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	c, _ := newTestClient(t, cfg, d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ft := d.transport(0)
	ft.push(`{"jsonrpc":"2.0","method":"heartbeat","params":{"type":"heartbeat"}}`)
	ft.push(`{"jsonrpc":"2.0","method":"heartbeat","params":{"type":"test_request"}}`)

	countTests := func() int {
		n := 0
		for _, m := range ft.methods() {
			if m == api.MethodTest {
				n++
			}
		}
		return n
	}
	eventually(t, "challenge answer", func() bool { return countTests() == 1 })

	time.Sleep(30 * time.Millisecond)
	if n := countTests(); n != 1 {
		t.Errorf("public/test sent %d times, want 1", n)
	}
	eventually(t, "ack reply consumed", func() bool { return c.Pending() == 0 })
}

func TestClient_ChallengeWhileCallerBlocked(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport {
		return newFakeTransport(func(ft *fakeTransport, req Request) {
			if req.Method != "public/slow" {
				echo(ft, req)
			}
		})
	}}
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	cfg.RequestTimeout = 5 * time.Second
	c, _ := newTestClient(t, cfg, d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	blocked := make(chan struct{})
	go func() {
		defer close(blocked)
		c.Send(context.Background(), Call{Method: "public/slow"})
	}()
	eventually(t, "blocked caller", func() bool { return c.Pending() == 1 })

	ft := d.transport(0)
	start := time.Now()
	ft.push(`{"jsonrpc":"2.0","method":"heartbeat","params":{"type":"test_request"}}`)

	eventually(t, "challenge answer", func() bool {
		for _, m := range ft.methods() {
			if m == api.MethodTest {
				return true
			}
		}
		return false
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("challenge answered after %v", elapsed)
	}

	select {
	case <-blocked:
		t.Fatal("caller returned before its timeout")
	default:
	}

	c.Close()
	<-blocked
}

func TestClient_BackoffResetAfterReconnect(t *testing.T) {
	d := echoDialer()
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	c, reg := newTestClient(t, cfg, d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		d.transport(i).drop()
		eventually(t, "re-authenticated connection", func() bool {
			return d.dials() == i+2 &&
				c.State() == StateAuthenticated &&
				c.backoff.Current() == cfg.ReconnectMinDelay
		})
	}

	if got := metricSum(t, reg, "deribit_rpc_reconnects_total"); got != 3 {
		t.Errorf("reconnects = %v, want 3", got)
	}
	if _, err := c.Call(context.Background(), api.MethodTest, nil); err != nil {
		t.Errorf("Call after reconnects failed: %v", err)
	}
}

func TestClient_Close(t *testing.T) {
	d := echoDialer()
	c, _ := newTestClient(t, testConfig(), d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if c.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", c.State())
	}
	select {
	case <-d.transport(0).Done():
	default:
		t.Error("transport not closed")
	}

	if _, err := c.Send(context.Background(), Call{Method: api.MethodTest}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	time.Sleep(30 * time.Millisecond)
	if d.dials() != 1 {
		t.Errorf("dials = %d, want no reconnect after Close", d.dials())
	}
}

func TestClient_CloseReleasesWaiters(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport {
		return newFakeTransport(func(ft *fakeTransport, req Request) {
			if req.Method != "public/slow" {
				echo(ft, req)
			}
		})
	}}
	cfg := testConfig()
	cfg.RequestTimeout = 10 * time.Second
	c, _ := newTestClient(t, cfg, d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var frames []Frame
	go func() {
		defer wg.Done()
		frames, _ = c.Send(context.Background(), Call{Method: "public/slow"})
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	c.Close()
	wg.Wait()

	if time.Since(start) > time.Second {
		t.Error("Close did not release the waiter")
	}
	if len(frames) != 0 {
		t.Errorf("frames = %d, want 0", len(frames))
	}
}

func TestClient_GentleBatch(t *testing.T) {
	d := echoDialer()
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	cfg.GentleThreshold = 2
	cfg.GentleDelay = 20 * time.Millisecond
	c, _ := newTestClient(t, cfg, d)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	start := time.Now()
	frames, err := c.Send(context.Background(),
		Call{Method: "public/a"}, Call{Method: "public/b"}, Call{Method: "public/c"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(frames) != 3 {
		t.Errorf("frames = %d, want 3", len(frames))
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("batch took %v, want paced messages", elapsed)
	}
}

func TestClient_PendingExpiry(t *testing.T) {
	d := &fakeDialer{next: func(int) *fakeTransport {
		return newFakeTransport(func(ft *fakeTransport, req Request) {})
	}}
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	cfg.PendingTTL = 10 * time.Millisecond
	c, reg := newTestClient(t, cfg, d)

	_, err := c.Send(context.Background(), Call{Method: "public/never", Delivery: Callback(func(Frame) {})})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	eventually(t, "expired entry", func() bool { return c.Pending() == 0 })
	if got := metricSum(t, reg, "deribit_rpc_pending_expired_total"); got != 1 {
		t.Errorf("expired = %v, want 1", got)
	}
}

func TestClient_WebSocketIntegration(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		challenged := false
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req Request
			if err := json.Unmarshal(data, &req); err != nil {
				t.Logf("bad request: %v", err)
				return
			}
			resp, _ := json.Marshal(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  req.Method,
				"usIn":    1,
				"usOut":   2,
				"usDiff":  1,
				"testnet": true,
			})
			if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
				return
			}
			if !challenged && req.Method == api.MethodGetTime {
				challenged = true
				conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"jsonrpc":"2.0","method":"heartbeat","params":{"type":"test_request"}}`))
			}
		}
	})
	defer server.Close()

	cfg := testConfig()
	cfg.URL = wsURL(server)
	c := New(cfg, WithLogger(discardLogger()), WithBus(notify.NewBus(discardLogger())))
	defer c.Close()

	res, err := c.Call(context.Background(), api.MethodGetTime, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(res) != `"public/get_time"` {
		t.Errorf("result = %s", res)
	}

	// The challenge ack round-trips through the server and leaves nothing pending.
	eventually(t, "ack reply", func() bool { return c.Pending() == 0 })
}
