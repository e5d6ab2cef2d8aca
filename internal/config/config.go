package config

import "time"

// Config is the root configuration of an rpcctl process.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Connection ConnectionConfig `yaml:"connection"`
	Database   DatabaseConfig   `yaml:"database"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InstanceConfig identifies this process in logs and metrics.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds Deribit endpoint and credential settings.
type APIConfig struct {
	WSURL        string        `yaml:"ws_url"`
	RestURL      string        `yaml:"rest_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	SecretFile   string        `yaml:"secret_file"`   // file holding the client secret; wins over client_secret
	UseSignature bool          `yaml:"use_signature"` // log in with client_signature instead of sending the secret
	Timeout      time.Duration `yaml:"timeout"`       // REST request timeout
	MaxRetries   int           `yaml:"max_retries"`   // REST retries
}

// ConnectionConfig holds WebSocket connection manager settings.
type ConnectionConfig struct {
	StartupTimeout           time.Duration `yaml:"startup_timeout"`
	RequestTimeout           time.Duration `yaml:"request_timeout"`
	MaxBatchRetries          int           `yaml:"max_batch_retries"`
	RetryDelay               time.Duration `yaml:"retry_delay"`
	ReconnectMinDelay        time.Duration `yaml:"reconnect_min_delay"`
	ReconnectMaxDelay        time.Duration `yaml:"reconnect_max_delay"`
	HeartbeatInterval        time.Duration `yaml:"heartbeat_interval"`
	ChallengeResponseTimeout time.Duration `yaml:"challenge_response_timeout"`
	WriteTimeout             time.Duration `yaml:"write_timeout"`
	PingInterval             time.Duration `yaml:"ping_interval"`
	PingTimeout              time.Duration `yaml:"ping_timeout"`
	PendingTTL               time.Duration `yaml:"pending_ttl"`
	GentleDelay              time.Duration `yaml:"gentle_delay"`
	GentleThreshold          int           `yaml:"gentle_threshold"`
}

// DatabaseConfig holds the TimescaleDB connection for the notification tape.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds the channels to record and tape writer settings.
type RecorderConfig struct {
	Channels      []string      `yaml:"channels"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
