package config

import (
	"time"

	"github.com/rickgao/deribit-rpc/internal/api"
)

// Default values for optional configuration fields.
const (
	DefaultInstanceID               = "rpcctl"
	DefaultWSURL                    = api.ProductionWSURL
	DefaultRestURL                  = api.ProductionRESTURL
	DefaultAPITimeout               = 10 * time.Second
	DefaultMaxRetries               = 3
	DefaultStartupTimeout           = 2 * time.Second
	DefaultRequestTimeout           = 5 * time.Second
	DefaultMaxBatchRetries          = 10
	DefaultRetryDelay               = 10 * time.Millisecond
	DefaultReconnectMinDelay        = 250 * time.Millisecond
	DefaultReconnectMaxDelay        = 10 * time.Second
	DefaultHeartbeatInterval        = api.DefaultHeartbeatInterval
	DefaultChallengeResponseTimeout = 2 * time.Second
	DefaultWriteTimeout             = 5 * time.Second
	DefaultPingInterval             = 30 * time.Second
	DefaultPingTimeout              = 90 * time.Second
	DefaultPendingTTL               = time.Minute
	DefaultGentleDelay              = 50 * time.Millisecond
	DefaultGentleThreshold          = 50
	DefaultDBPort                   = 5432
	DefaultDBSSLMode                = "prefer"
	DefaultMaxConns                 = 10
	DefaultMinConns                 = 2
	DefaultBatchSize                = 1000
	DefaultFlushInterval            = 1 * time.Second
	DefaultBufferSize               = 10000
	DefaultMetricsPort              = 9090
	DefaultMetricsPath              = "/metrics"
	DefaultLogLevel                 = "info"
	DefaultLogFormat                = "text"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// API defaults
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	applyConnectionDefaults(&c.Connection)
	applyDBDefaults(&c.Database.Timescale)

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyConnectionDefaults(cc *ConnectionConfig) {
	if cc.StartupTimeout == 0 {
		cc.StartupTimeout = DefaultStartupTimeout
	}
	if cc.RequestTimeout == 0 {
		cc.RequestTimeout = DefaultRequestTimeout
	}
	if cc.MaxBatchRetries == 0 {
		cc.MaxBatchRetries = DefaultMaxBatchRetries
	}
	if cc.RetryDelay == 0 {
		cc.RetryDelay = DefaultRetryDelay
	}
	if cc.ReconnectMinDelay == 0 {
		cc.ReconnectMinDelay = DefaultReconnectMinDelay
	}
	if cc.ReconnectMaxDelay == 0 {
		cc.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if cc.HeartbeatInterval == 0 {
		cc.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cc.ChallengeResponseTimeout == 0 {
		cc.ChallengeResponseTimeout = DefaultChallengeResponseTimeout
	}
	if cc.WriteTimeout == 0 {
		cc.WriteTimeout = DefaultWriteTimeout
	}
	if cc.PingInterval == 0 {
		cc.PingInterval = DefaultPingInterval
	}
	if cc.PingTimeout == 0 {
		cc.PingTimeout = DefaultPingTimeout
	}
	if cc.PendingTTL == 0 {
		cc.PendingTTL = DefaultPendingTTL
	}
	if cc.GentleDelay == 0 {
		cc.GentleDelay = DefaultGentleDelay
	}
	if cc.GentleThreshold == 0 {
		cc.GentleThreshold = DefaultGentleThreshold
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
