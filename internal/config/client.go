package config

import (
	"github.com/rickgao/deribit-rpc/internal/auth"
	"github.com/rickgao/deribit-rpc/internal/rpc"
)

// Credentials builds API credentials. It returns nil without error when
// no client id is configured, which means an unauthenticated session.
func (c *Config) Credentials() (*auth.Credentials, error) {
	if c.API.ClientID == "" {
		return nil, nil
	}
	creds, err := auth.LoadCredentials(c.API.ClientID, c.API.ClientSecret, c.API.SecretFile)
	if err != nil {
		return nil, err
	}
	creds.UseSignature = c.API.UseSignature
	return creds, nil
}

// Client maps the connection settings onto an rpc.Config. A nil creds
// leaves the session unauthenticated.
func (c *Config) Client(creds *auth.Credentials) rpc.Config {
	cc := c.Connection

	cfg := rpc.DefaultConfig()
	cfg.URL = c.API.WSURL
	if creds != nil {
		cfg.Auth = creds
	}
	cfg.StartupTimeout = cc.StartupTimeout
	cfg.RequestTimeout = cc.RequestTimeout
	cfg.MaxBatchRetries = cc.MaxBatchRetries
	cfg.RetryDelay = cc.RetryDelay
	cfg.ReconnectMinDelay = cc.ReconnectMinDelay
	cfg.ReconnectMaxDelay = cc.ReconnectMaxDelay
	cfg.HeartbeatInterval = cc.HeartbeatInterval
	cfg.ChallengeResponseTimeout = cc.ChallengeResponseTimeout
	cfg.PendingTTL = cc.PendingTTL
	cfg.GentleDelay = cc.GentleDelay
	cfg.GentleThreshold = cc.GentleThreshold

	cfg.Transport.URL = c.API.WSURL
	cfg.Transport.WriteTimeout = cc.WriteTimeout
	cfg.Transport.PingInterval = cc.PingInterval
	cfg.Transport.PingTimeout = cc.PingTimeout
	return cfg
}
