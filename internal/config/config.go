package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Liveness LivenessConfig `yaml:"liveness"`
	Auth     AuthConfig     `yaml:"auth"`
	Gamma    GammaConfig    `yaml:"gamma"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the downstream WebSocket server settings.
type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	WSPath string `yaml:"ws_path"`
}

// UpstreamConfig holds the Polymarket feed endpoints and connection policy.
type UpstreamConfig struct {
	MarketURL        string        `yaml:"market_url"`
	CommentsURL      string        `yaml:"comments_url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MessageBuffer    int           `yaml:"message_buffer"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	MaxRetries       int           `yaml:"max_retries"`

	// CloseCommentsWhenIdle is a pointer so an explicit `false` survives
	// default application. Use IdleClose() to read it.
	CloseCommentsWhenIdle *bool `yaml:"close_comments_when_idle"`
}

// IdleClose reports whether the comment connection should hang up once the
// last comment topic is gone. Unset means true.
func (u *UpstreamConfig) IdleClose() bool {
	if u.CloseCommentsWhenIdle == nil {
		return DefaultCloseCommentsWhenIdle
	}
	return *u.CloseCommentsWhenIdle
}

// LivenessConfig holds downstream client keepalive settings.
type LivenessConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
}

// AuthConfig holds optional CLOB API credentials for upstream dials.
type AuthConfig struct {
	Enabled        bool   `yaml:"enabled"`
	APIKeyID       string `yaml:"api_key_id"`       // API key ID (for POLY-API-KEY header)
	PrivateKeyPath string `yaml:"private_key_path"` // Path to RSA private key PEM file
	Endpoint       string `yaml:"endpoint"`
}

// GammaConfig holds Gamma REST API settings.
type GammaConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// CatalogConfig holds market catalog refresh settings.
type CatalogConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ListLimit       int           `yaml:"list_limit"`
}

// DatabaseConfig holds the optional Postgres mirror for catalog rows.
// The relay runs fully in-memory when Enabled is false.
type DatabaseConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Name           string        `yaml:"name"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	SSLMode        string        `yaml:"ssl_mode"`
	MaxConns       int           `yaml:"max_conns"`
	MinConns       int           `yaml:"min_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
}

// LoggingConfig holds slog handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
