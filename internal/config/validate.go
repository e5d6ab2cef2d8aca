package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("api.ws_url", c.API.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if c.API.ClientID == "" && (c.API.ClientSecret != "" || c.API.SecretFile != "") {
		return errors.New("api.client_id is required when a secret is set")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if err := c.Connection.validate("connection"); err != nil {
		return err
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ValidateRecorder checks the settings the record command needs on top of
// Validate.
func (c *Config) ValidateRecorder() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.Database.Timescale.validate("database.timescale"); err != nil {
		return err
	}
	if len(c.Recorder.Channels) == 0 {
		return errors.New("recorder.channels must list at least one channel")
	}
	if c.Recorder.BatchSize < 1 {
		return errors.New("recorder.batch_size must be >= 1")
	}
	if c.Recorder.BufferSize < 1 {
		return errors.New("recorder.buffer_size must be >= 1")
	}
	if c.Recorder.FlushInterval <= 0 {
		return errors.New("recorder.flush_interval must be > 0")
	}
	return nil
}

func (cc *ConnectionConfig) validate(prefix string) error {
	if cc.MaxBatchRetries < 0 {
		return fmt.Errorf("%s.max_batch_retries must be >= 0", prefix)
	}
	if cc.ReconnectMinDelay <= 0 {
		return fmt.Errorf("%s.reconnect_min_delay must be > 0", prefix)
	}
	if cc.ReconnectMaxDelay < cc.ReconnectMinDelay {
		return fmt.Errorf("%s.reconnect_max_delay (%s) cannot be less than reconnect_min_delay (%s)",
			prefix, cc.ReconnectMaxDelay, cc.ReconnectMinDelay)
	}
	if cc.RequestTimeout <= 0 {
		return fmt.Errorf("%s.request_timeout must be > 0", prefix)
	}
	if cc.GentleThreshold < 0 {
		return fmt.Errorf("%s.gentle_threshold must be >= 0", prefix)
	}
	if cc.PendingTTL > 0 && cc.PendingTTL <= cc.RequestTimeout {
		return fmt.Errorf("%s.pending_ttl (%s) must exceed request_timeout (%s)",
			prefix, cc.PendingTTL, cc.RequestTimeout)
	}
	if cc.PingTimeout > 0 && cc.PingInterval > 0 && cc.PingTimeout <= cc.PingInterval {
		return fmt.Errorf("%s.ping_timeout (%s) must exceed ping_interval (%s)",
			prefix, cc.PingTimeout, cc.PingInterval)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use scheme %v, got %q", field, schemes, u.Scheme)
}
