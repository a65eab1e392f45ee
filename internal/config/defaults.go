package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerHost            = "0.0.0.0"
	DefaultServerPort            = 8000
	DefaultWSPath                = "/ws"
	DefaultMarketURL             = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	DefaultCommentsURL           = "wss://ws-live-data.polymarket.com"
	DefaultHandshakeTimeout      = 10 * time.Second
	DefaultMessageBuffer         = 1000
	DefaultReconnectDelay        = 5 * time.Second
	DefaultMaxRetries            = 3
	DefaultCloseCommentsWhenIdle = true
	DefaultPingInterval          = 30 * time.Second
	DefaultAuthEndpoint          = "https://clob.polymarket.com/auth/derive-api-key"
	DefaultGammaURL              = "https://gamma-api.polymarket.com"
	DefaultGammaTimeout          = 10 * time.Second
	DefaultGammaRetries          = 3
	DefaultRefreshInterval       = 5 * time.Minute
	DefaultListLimit             = 100
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 10
	DefaultMinConns              = 2
	DefaultConnectTimeout        = 5 * time.Second
	DefaultBatchSize             = 500
	DefaultFlushInterval         = 1 * time.Second
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
)

func (c *RelayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}

	// Upstream defaults
	if c.Upstream.MarketURL == "" {
		c.Upstream.MarketURL = DefaultMarketURL
	}
	if c.Upstream.CommentsURL == "" {
		c.Upstream.CommentsURL = DefaultCommentsURL
	}
	if c.Upstream.HandshakeTimeout == 0 {
		c.Upstream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Upstream.MessageBuffer == 0 {
		c.Upstream.MessageBuffer = DefaultMessageBuffer
	}
	if c.Upstream.ReconnectDelay == 0 {
		c.Upstream.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = DefaultMaxRetries
	}
	if c.Upstream.CloseCommentsWhenIdle == nil {
		v := DefaultCloseCommentsWhenIdle
		c.Upstream.CloseCommentsWhenIdle = &v
	}

	// Liveness defaults
	if c.Liveness.PingInterval == 0 {
		c.Liveness.PingInterval = DefaultPingInterval
	}

	// Auth defaults
	if c.Auth.Endpoint == "" {
		c.Auth.Endpoint = DefaultAuthEndpoint
	}

	// Gamma defaults
	if c.Gamma.BaseURL == "" {
		c.Gamma.BaseURL = DefaultGammaURL
	}
	if c.Gamma.Timeout == 0 {
		c.Gamma.Timeout = DefaultGammaTimeout
	}
	if c.Gamma.Retries == 0 {
		c.Gamma.Retries = DefaultGammaRetries
	}

	// Catalog defaults
	if c.Catalog.RefreshInterval == 0 {
		c.Catalog.RefreshInterval = DefaultRefreshInterval
	}
	if c.Catalog.ListLimit == 0 {
		c.Catalog.ListLimit = DefaultListLimit
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Database.BatchSize == 0 {
		c.Database.BatchSize = DefaultBatchSize
	}
	if c.Database.FlushInterval == 0 {
		c.Database.FlushInterval = DefaultFlushInterval
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
