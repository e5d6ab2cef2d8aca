package rpc

import (
	"time"

	"github.com/rickgao/deribit-rpc/internal/api"
)

// Session is the state of a successful login.
type Session struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

// Valid reports whether the access token is set and unexpired at now.
func (s Session) Valid(now time.Time) bool {
	return s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// login sends public/auth on a freshly opened connection. The reply is
// handled by onLogin, never by a caller.
func (c *Client) login(conn *connection) error {
	req := Request{
		ID:     c.ids.Next(),
		Method: api.MethodAuth,
		Params: c.cfg.Auth.LoginParams(),
	}
	return c.post(conn, req, func(f Frame) {
		c.onLogin(conn, f, false)
	})
}

// onLogin handles a public/auth reply. A rejected login is fatal; a
// rejected refresh is only logged since the next reconnect logs in again.
func (c *Client) onLogin(conn *connection, f Frame, refreshing bool) {
	if f.Failed() {
		if refreshing {
			c.logger.Warn("session refresh rejected", "conn", conn.gen, "error", f.Error)
			return
		}

		c.mu.Lock()
		if c.conn != conn {
			c.mu.Unlock()
			return
		}
		c.authErr = &AuthError{Reply: f.Error}
		c.setStateLocked(StateClosing)
		c.mu.Unlock()

		c.logger.Error("authentication rejected", "conn", conn.gen, "error", f.Error)
		conn.markSecured()
		conn.transport.Close()
		return
	}

	var res api.AuthResult
	if err := f.Unmarshal(&res); err != nil {
		c.logger.Warn("failed to decode auth result", "conn", conn.gen, "error", err)
	}

	c.mu.Lock()
	if c.conn != conn || c.closed {
		c.mu.Unlock()
		return
	}
	c.session = Session{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Scope:        res.Scope,
		ExpiresAt:    time.Now().Add(res.Lifetime()),
	}
	c.scheduleRefreshLocked(conn, res.Lifetime())
	c.mu.Unlock()

	if refreshing {
		c.logger.Debug("session refreshed", "conn", conn.gen, "expires_in", res.Lifetime())
		return
	}

	c.logger.Info("authenticated",
		"conn", conn.gen,
		"scope", res.Scope,
		"expires_in", res.Lifetime(),
	)
	c.onSecured(conn)
}

// onSecured runs once a connection may carry requests: it releases waiting
// senders, resets the reconnect backoff, starts server heartbeats and
// restores subscriptions.
func (c *Client) onSecured(conn *connection) {
	c.setState(StateAuthenticated)
	c.backoff.Reset()
	conn.markSecured()

	c.setHeartbeat(conn)
	c.resubscribe(conn)
}

// setHeartbeat asks the server for periodic heartbeat pushes.
func (c *Client) setHeartbeat(conn *connection) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	req := Request{
		Method: api.MethodSetHeartbeat,
		Params: api.HeartbeatParams(c.cfg.HeartbeatInterval),
	}
	err := c.post(conn, req, func(f Frame) {
		if f.Failed() {
			c.logger.Warn("set heartbeat rejected", "conn", conn.gen, "error", f.Error)
		}
	})
	if err != nil {
		c.logger.Warn("failed to set heartbeat", "conn", conn.gen, "error", err)
	}
}

// resubscribe restores the restorable channels on a new connection.
func (c *Client) resubscribe(conn *connection) {
	channels := c.subs.Restorable()
	if len(channels) == 0 {
		return
	}

	public, private := api.SplitChannels(channels)
	for _, group := range [][]string{public, private} {
		if len(group) == 0 {
			continue
		}
		req := Request{
			Method: api.SubscribeMethod(group),
			Params: api.ChannelParams(group),
		}
		count := len(group)
		err := c.post(conn, req, func(f Frame) {
			if f.Failed() {
				c.logger.Warn("resubscribe rejected", "conn", conn.gen, "error", f.Error)
				return
			}
			c.logger.Info("resubscribed", "conn", conn.gen, "channels", count)
		})
		if err != nil {
			c.logger.Warn("failed to resubscribe", "conn", conn.gen, "error", err)
		}
	}
}

// scheduleRefreshLocked arms the token refresh at 90% of the lifetime.
// Must be called with mu held.
func (c *Client) scheduleRefreshLocked(conn *connection, lifetime time.Duration) {
	if !c.cfg.RefreshTokens || c.cfg.Auth == nil || lifetime <= 0 {
		return
	}
	if conn.refresh != nil {
		conn.refresh.Stop()
	}
	conn.refresh = time.AfterFunc(lifetime*9/10, func() {
		c.refresh(conn)
	})
}

// refresh renews the session with the refresh token over conn.
func (c *Client) refresh(conn *connection) {
	c.mu.Lock()
	token := c.session.RefreshToken
	live := c.conn == conn && !c.closed
	c.mu.Unlock()

	if !live || token == "" {
		return
	}

	req := Request{
		Method: api.MethodAuth,
		Params: c.cfg.Auth.RefreshParams(token),
	}
	err := c.post(conn, req, func(f Frame) {
		c.onLogin(conn, f, true)
	})
	if err != nil {
		c.logger.Warn("failed to refresh session", "conn", conn.gen, "error", err)
	}
}
