package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/deribit-rpc/internal/api"
	"github.com/rickgao/deribit-rpc/internal/metrics"
	"github.com/rickgao/deribit-rpc/internal/notify"
	"github.com/rickgao/deribit-rpc/internal/rpc"
	"github.com/rickgao/deribit-rpc/internal/version"
)

// newClient builds the RPC client from config. m may be nil.
func (a *app) newClient(bus *notify.Bus, m *metrics.Metrics) (*rpc.Client, error) {
	creds, err := a.cfg.Credentials()
	if err != nil {
		return nil, err
	}
	if creds == nil {
		a.logger.Info("no api.client_id configured, using an unauthenticated session")
	}

	cfg := a.cfg.Client(creds)
	cfg.Transport.Header = http.Header{"User-Agent": {version.UserAgent()}}

	opts := []rpc.Option{
		rpc.WithLogger(a.logger.With("component", "rpc")),
		rpc.WithBus(bus),
		rpc.WithMetrics(m),
	}
	return rpc.New(cfg, opts...), nil
}

// newREST builds the one-shot HTTP client.
func (a *app) newREST() *api.Client {
	return api.NewClient(a.cfg.API.RestURL,
		api.WithLogger(a.logger.With("component", "rest")),
		api.WithTimeout(a.cfg.API.Timeout),
		api.WithRetries(a.cfg.API.MaxRetries, 500*time.Millisecond),
		api.WithUserAgent(version.UserAgent()),
	)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
