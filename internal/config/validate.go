package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.WSPath == "" || c.Server.WSPath[0] != '/' {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}

	if c.Upstream.MarketURL == "" {
		return errors.New("upstream.market_url is required")
	}
	if c.Upstream.CommentsURL == "" {
		return errors.New("upstream.comments_url is required")
	}
	if c.Upstream.MessageBuffer < 1 {
		return errors.New("upstream.message_buffer must be >= 1")
	}
	if c.Upstream.ReconnectDelay <= 0 {
		return errors.New("upstream.reconnect_delay must be positive")
	}
	if c.Upstream.MaxRetries < 1 {
		return errors.New("upstream.max_retries must be >= 1")
	}

	if c.Liveness.PingInterval <= 0 {
		return errors.New("liveness.ping_interval must be positive")
	}

	if c.Auth.Enabled {
		if c.Auth.APIKeyID == "" {
			return errors.New("auth.api_key_id is required when auth is enabled")
		}
		if c.Auth.PrivateKeyPath == "" {
			return errors.New("auth.private_key_path is required when auth is enabled")
		}
	}

	if c.Gamma.BaseURL == "" {
		return errors.New("gamma.base_url is required")
	}
	if c.Catalog.ListLimit < 1 {
		return errors.New("catalog.list_limit must be >= 1")
	}

	if err := c.Database.validate("database"); err != nil {
		return err
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

func (db *DatabaseConfig) validate(prefix string) error {
	if !db.Enabled {
		return nil
	}
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
	if db.BatchSize < 1 {
		return fmt.Errorf("%s.batch_size must be >= 1", prefix)
	}
	return nil
}
